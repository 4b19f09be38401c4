// Package simulation runs a coordinator, an observer and a set of workers
// inside one process over loopback TCP.
//
// Every role gets an ephemeral listener bound before any role starts, so
// ports are known up front and early documents wait in the accept backlog.
// The run ends with a regular shutdown document sent to the coordinator,
// either once every generated item has been accounted for or when the
// caller's context is canceled.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/smsalert/internal/coordinator"
	"github.com/dreamware/smsalert/internal/observer"
	"github.com/dreamware/smsalert/internal/protocol"
	"github.com/dreamware/smsalert/internal/stats"
	"github.com/dreamware/smsalert/internal/transport"
	"github.com/dreamware/smsalert/internal/worker"
	"github.com/dreamware/smsalert/internal/workload"
)

// ErrNoWorkers is returned when a simulation is configured without workers.
var ErrNoWorkers = errors.New("simulation needs at least one worker")

const (
	watchInterval = 20 * time.Millisecond
	// stragglerTimeout bounds how long roles may keep serving after the
	// coordinator has stopped.
	stragglerTimeout = time.Second
)

// Config describes one simulation run.
type Config struct {
	Host        string
	Workers     int
	Items       int
	MeanTime    time.Duration
	Spread      time.Duration
	FailureRate float64
	Interval    time.Duration // observer polling interval
	GracePeriod time.Duration
	DialTimeout time.Duration
	ReadTimeout time.Duration
	Seed        uint64 // Zero picks time-based seeds
}

// Result is what the run observed at the end.
type Result struct {
	Coordinator coordinator.State
	Observed    stats.Snapshot // last report rendered by the observer
	Reports     int            // number of reports the observer received
}

// Run executes a simulation and blocks until every role has stopped.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) (res Result, err error) {
	if cfg.Workers < 1 {
		return Result{}, ErrNoWorkers
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	coordLn, err := listen(cfg, logger, "coordinator")
	if err != nil {
		return Result{}, err
	}
	defer func() { err = multierr.Append(err, coordLn.Close()) }()

	obsLn, err := listen(cfg, logger, "observer")
	if err != nil {
		return Result{}, err
	}
	defer func() { err = multierr.Append(err, obsLn.Close()) }()

	workerLns := make([]*transport.Listener, 0, cfg.Workers)
	defer func() {
		for _, ln := range workerLns {
			err = multierr.Append(err, ln.Close())
		}
	}()
	for range cfg.Workers {
		ln, err := listen(cfg, logger, "worker")
		if err != nil {
			return Result{}, err
		}
		workerLns = append(workerLns, ln)
	}

	client := transport.NewClient(cfg.Host, cfg.DialTimeout)

	var reports int
	obsLogger := logger.Named("observer").With(zap.Int("port", obsLn.Port()))
	render := observer.LogRenderer(obsLogger)
	obs := observer.New(observer.Config{
		Host:            cfg.Host,
		Port:            obsLn.Port(),
		CoordinatorPort: coordLn.Port(),
		Interval:        cfg.Interval,
		ReadTimeout:     cfg.ReadTimeout,
	}, client,
		observer.WithLogger(obsLogger),
		observer.WithRenderer(func(s stats.Snapshot) {
			reports++
			render(s)
		}))

	coordOpts := []coordinator.Option{
		coordinator.WithLogger(logger.Named("coordinator").With(zap.Int("port", coordLn.Port()))),
	}
	if cfg.Seed != 0 {
		coordOpts = append(coordOpts, coordinator.WithGenerator(workload.NewRandom(cfg.Seed)))
	}
	coord := coordinator.New(coordinator.Config{
		Host:         cfg.Host,
		Port:         coordLn.Port(),
		ObserverPort: obsLn.Port(),
		Items:        cfg.Items,
		GracePeriod:  cfg.GracePeriod,
		ReadTimeout:  cfg.ReadTimeout,
	}, client, coordOpts...)

	// Roles are served on a context detached from ctx so that cancellation
	// turns into a shutdown document instead of abruptly closed sockets.
	serveCtx, cancelServe := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelServe()
	g, gctx := errgroup.WithContext(serveCtx)

	g.Go(func() error { return obs.Serve(gctx, obsLn) })
	g.Go(func() error {
		defer time.AfterFunc(stragglerTimeout, cancelServe)
		return coord.Serve(gctx, coordLn)
	})
	for i, ln := range workerLns {
		var seed uint64
		if cfg.Seed != 0 {
			seed = cfg.Seed + uint64(i) + 1
		}
		w := worker.New(worker.Config{
			Host:            cfg.Host,
			Port:            ln.Port(),
			CoordinatorPort: coordLn.Port(),
			MeanTime:        cfg.MeanTime,
			Spread:          cfg.Spread,
			FailureRate:     cfg.FailureRate,
			ReadTimeout:     cfg.ReadTimeout,
			Seed:            seed,
		}, client, worker.WithLogger(logger.Named("worker").With(zap.Int("port", ln.Port()))))
		g.Go(func() error { return w.Serve(gctx, ln) })
	}
	g.Go(func() error {
		return watch(ctx, gctx, cfg, coord, client, coordLn.Port(), cancelServe, logger)
	})

	err = g.Wait()
	last, _ := obs.Last()
	return Result{Coordinator: coord.Snapshot(), Observed: last, Reports: reports}, err
}

// watch sends shutdown to the coordinator once every item is folded and
// every worker has registered, or as soon as ctx ends.
func watch(ctx, gctx context.Context, cfg Config, coord *coordinator.Coordinator,
	sender transport.Sender, coordPort int, cancelServe context.CancelFunc, logger *zap.Logger,
) error {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gctx.Done():
			return nil
		case <-ctx.Done():
			logger.Info("simulation interrupted")
			return requestShutdown(gctx, sender, coordPort, cancelServe)
		case <-ticker.C:
		}

		state := coord.Snapshot()
		if state.Phase == coordinator.PhaseShutDown {
			return nil
		}
		if state.Stats.Sent+state.Stats.Failed >= cfg.Items && len(state.Members) >= cfg.Workers {
			logger.Info("all work accounted for",
				zap.Int("sent", state.Stats.Sent), zap.Int("failed", state.Stats.Failed))
			return requestShutdown(gctx, sender, coordPort, cancelServe)
		}
	}
}

func requestShutdown(ctx context.Context, sender transport.Sender, port int, cancelServe context.CancelFunc) error {
	if err := sender.Send(ctx, port, protocol.Shutdown{}); err != nil {
		cancelServe()
		return fmt.Errorf("send shutdown: %w", err)
	}
	return nil
}

func listen(cfg Config, logger *zap.Logger, role string) (*transport.Listener, error) {
	return transport.Listen(net.JoinHostPort(cfg.Host, "0"),
		transport.WithLogger(logger.Named(role)),
		transport.WithRole(role),
		transport.WithReadTimeout(cfg.ReadTimeout))
}

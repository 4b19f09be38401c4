// Package observer implements the monitoring role of the SMS alert simulator.
// This file contains the observer's message handling and polling loop.
package observer

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/smsalert/internal/metrics"
	"github.com/dreamware/smsalert/internal/protocol"
	"github.com/dreamware/smsalert/internal/stats"
	"github.com/dreamware/smsalert/internal/transport"
)

// DefaultInterval is how often the coordinator is polled.
const DefaultInterval = 15 * time.Second

// Renderer displays one status snapshot.
type Renderer func(stats.Snapshot)

// Config describes the observer.
type Config struct {
	Host            string        // Listen host (default "localhost")
	Port            int           // Port the observer listens on
	CoordinatorPort int           // Port status requests are sent to
	Interval        time.Duration // Time between status requests
	ReadTimeout     time.Duration
}

// Observer polls the coordinator for status once told to start, and renders
// the reports it pushes back.
//
// The polling loop runs on its own goroutine, started at most once by the
// first start document. The shutdown flag is shared between that loop and
// the listener, so it is atomic; the poller's lifecycle fields are guarded
// by mu.
type Observer struct {
	sender   transport.Sender
	logger   *zap.Logger
	render   Renderer
	cancel   context.CancelFunc
	last     *stats.Snapshot
	cfg      Config
	wg       sync.WaitGroup
	mu       sync.Mutex
	polling  bool
	shutdown atomic.Bool
}

// Option configures an Observer.
type Option func(*Observer)

// WithLogger sets the observer's logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Observer) { o.logger = l }
}

// WithRenderer replaces the default log-based renderer.
func WithRenderer(r Renderer) Option {
	return func(o *Observer) { o.render = r }
}

// New creates an observer that sends through sender.
func New(cfg Config, sender transport.Sender, opts ...Option) *Observer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	o := &Observer{
		cfg:    cfg,
		sender: sender,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.render == nil {
		o.render = LogRenderer(o.logger)
	}
	return o
}

// Run binds the configured port and serves until shutdown or ctx ends.
func (o *Observer) Run(ctx context.Context) error {
	host := o.cfg.Host
	if host == "" {
		host = transport.DefaultHost
	}
	ln, err := transport.Listen(net.JoinHostPort(host, strconv.Itoa(o.cfg.Port)),
		transport.WithLogger(o.logger),
		transport.WithRole("observer"),
		transport.WithReadTimeout(o.cfg.ReadTimeout))
	if err != nil {
		return err
	}
	defer ln.Close()
	return o.Serve(ctx, ln)
}

// Serve processes documents from ln until a shutdown document arrives or
// ctx ends, then waits for the polling loop to exit.
func (o *Observer) Serve(ctx context.Context, ln *transport.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer o.Stop()

	o.logger.Info("observer listening", zap.Stringer("addr", ln.Addr()))
	err := ln.Serve(ctx, func(ctx context.Context, msg protocol.Message) {
		o.Handle(ctx, msg)
		if o.ShutDown() {
			cancel()
		}
	})
	o.logger.Info("observer stopped")
	return err
}

// Handle processes one inbound document.
func (o *Observer) Handle(ctx context.Context, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Start:
		o.startPolling(ctx)
	case protocol.StatusReport:
		snap := stats.FromReport(m)
		o.mu.Lock()
		o.last = &snap
		o.mu.Unlock()
		o.render(snap)
	case protocol.Shutdown:
		o.shutdown.Store(true)
		o.logger.Info("shutdown received")
		o.stopPolling()
	default:
		o.logger.Debug("ignoring message", zap.String("type", string(msg.Kind())))
	}
}

// startPolling launches the polling loop unless it already runs or the
// observer has shut down.
func (o *Observer) startPolling(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.polling || o.ShutDown() {
		o.logger.Debug("ignoring start", zap.Bool("polling", o.polling))
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	o.polling = true
	o.cancel = cancel

	o.wg.Add(1)
	go o.poll(pollCtx)
	o.logger.Info("polling started", zap.Duration("interval", o.cfg.Interval))
}

// poll requests status immediately and then on every tick until canceled
// or shut down.
func (o *Observer) poll(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		if o.ShutDown() {
			return
		}
		o.requestStatus(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (o *Observer) requestStatus(ctx context.Context) {
	metrics.RecordPoll()
	if err := o.sender.Send(ctx, o.cfg.CoordinatorPort, protocol.StatusRequest{}); err != nil {
		o.logger.Warn("status request not delivered",
			zap.Int("coordinator_port", o.cfg.CoordinatorPort), zap.Error(err))
	}
}

func (o *Observer) stopPolling() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop ends the polling loop, if any, and waits for it.
func (o *Observer) Stop() {
	o.stopPolling()
	o.wg.Wait()
}

// Polling reports whether the polling loop has been started.
func (o *Observer) Polling() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.polling
}

// Last returns the most recent snapshot received, if any.
func (o *Observer) Last() (stats.Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return stats.Snapshot{}, false
	}
	return *o.last, true
}

// ShutDown reports whether a shutdown document has been received.
func (o *Observer) ShutDown() bool {
	return o.shutdown.Load()
}

// LogRenderer returns a Renderer writing each snapshot to logger.
func LogRenderer(logger *zap.Logger) Renderer {
	return func(s stats.Snapshot) {
		logger.Info("status",
			zap.Int("sent", s.Sent),
			zap.Int("failed", s.Failed),
			zap.Duration("total_time", s.TotalLatency),
			zap.Duration("average_time", s.AverageLatency))
	}
}

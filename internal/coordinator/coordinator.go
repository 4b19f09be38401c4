// Package coordinator implements the dispatching role of the SMS alert simulator.
// See doc.go for complete package documentation.
package coordinator

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dreamware/smsalert/internal/metrics"
	"github.com/dreamware/smsalert/internal/protocol"
	"github.com/dreamware/smsalert/internal/stats"
	"github.com/dreamware/smsalert/internal/transport"
	"github.com/dreamware/smsalert/internal/workload"
)

// DefaultGracePeriod is how long the coordinator lingers after fanning out
// shutdown so the notices can land before its listener closes.
const DefaultGracePeriod = time.Second

// Phase names where the coordinator is in its lifecycle.
type Phase string

const (
	// PhaseIdle: no worker has registered yet.
	PhaseIdle Phase = "idle"
	// PhaseDispatching: workers are registered and items are still pending.
	PhaseDispatching Phase = "dispatching"
	// PhaseDraining: the pending queue is empty; in-flight items may still report.
	PhaseDraining Phase = "draining"
	// PhaseShutDown: terminal, shutdown has been fanned out.
	PhaseShutDown Phase = "shutdown"
)

// Config holds the coordinator's addressing and workload size.
type Config struct {
	Host         string        // Listen host (default "localhost")
	Port         int           // Port the coordinator listens on
	ObserverPort int           // Port of the observer receiving start, status and shutdown
	Items        int           // Number of work items generated at startup
	GracePeriod  time.Duration // Pause after shutdown fan-out
	ReadTimeout  time.Duration // Per-connection read bound
}

// State is a point-in-time view of the coordinator for tests and operators.
type State struct {
	Phase   Phase
	Stats   stats.Snapshot
	Idle    []int // availability queue, head first
	Busy    []int // ports holding an assignment, sorted
	Members []int // registration order
	Pending int
}

// Coordinator owns the pending work queue, the worker registry and the
// aggregate statistics. All of its state is mutated only by Handle, which
// the listener loop calls for one document at a time.
//
// Thread Safety:
// Handle is meant to be called from a single loop. The mutex keeps
// Snapshot safe to call from any goroutine.
type Coordinator struct {
	sender    transport.Sender
	generator workload.Generator
	logger    *zap.Logger
	workers   *workerRegistry
	sleep     func(ctx context.Context, d time.Duration)
	pending   []workload.Item
	cfg       Config
	stats     stats.Stats
	mu        sync.Mutex
	shutdown  bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithGenerator replaces the random work item generator.
func WithGenerator(g workload.Generator) Option {
	return func(c *Coordinator) { c.generator = g }
}

// withSleep overrides the grace-period sleep in tests.
func withSleep(f func(ctx context.Context, d time.Duration)) Option {
	return func(c *Coordinator) { c.sleep = f }
}

// New creates a coordinator that sends through sender.
// No work is generated until Start.
func New(cfg Config, sender transport.Sender, opts ...Option) *Coordinator {
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}
	c := &Coordinator{
		cfg:       cfg,
		sender:    sender,
		generator: workload.NewRandom(uint64(time.Now().UnixNano())),
		logger:    zap.NewNop(),
		workers:   newWorkerRegistry(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run binds the configured port and serves until shutdown or ctx ends.
func (c *Coordinator) Run(ctx context.Context) error {
	host := c.cfg.Host
	if host == "" {
		host = transport.DefaultHost
	}
	ln, err := transport.Listen(net.JoinHostPort(host, strconv.Itoa(c.cfg.Port)),
		transport.WithLogger(c.logger),
		transport.WithRole("coordinator"),
		transport.WithReadTimeout(c.cfg.ReadTimeout))
	if err != nil {
		return err
	}
	defer ln.Close()
	return c.Serve(ctx, ln)
}

// Serve starts the coordinator on an already bound listener: it generates
// the work items, tells the observer to start polling, then processes
// documents until a shutdown document has been handled or ctx ends.
//
// The listener is bound before generation, so registrations that arrive
// early wait in the accept backlog and are handled after the queue is full.
func (c *Coordinator) Serve(ctx context.Context, ln *transport.Listener) error {
	c.Start(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.logger.Info("coordinator listening", zap.Stringer("addr", ln.Addr()))
	err := ln.Serve(ctx, func(ctx context.Context, msg protocol.Message) {
		c.Handle(ctx, msg)
		if c.ShutDown() {
			cancel()
		}
	})
	c.logger.Info("coordinator stopped", zap.Stringer("phase", c.Phase()))
	return err
}

// Start fills the pending queue and then notifies the observer. The order
// matters: an observer polling an empty queue would report final-looking
// statistics.
func (c *Coordinator) Start(ctx context.Context) {
	items := c.generator.Generate(c.cfg.Items)

	c.mu.Lock()
	c.pending = append(c.pending, items...)
	c.publishLocked()
	c.mu.Unlock()

	c.logger.Info("work generated", zap.Int("items", len(items)))

	if err := c.sender.Send(ctx, c.cfg.ObserverPort, protocol.Start{}); err != nil {
		c.logger.Warn("observer did not receive start",
			zap.Int("observer_port", c.cfg.ObserverPort), zap.Error(err))
	}
}

// Handle processes one inbound document. Documents that the coordinator
// does not act on are ignored, as is everything after shutdown.
func (c *Coordinator) Handle(ctx context.Context, msg protocol.Message) {
	if c.ShutDown() {
		c.logger.Debug("ignoring message after shutdown", zap.String("type", string(msg.Kind())))
		return
	}

	switch m := msg.(type) {
	case protocol.Register:
		c.handleRegister(ctx, m)
	case protocol.Finished:
		c.handleFinished(ctx, m)
	case protocol.StatusRequest:
		c.handleStatus(ctx)
	case protocol.Shutdown:
		c.handleShutdown(ctx)
	default:
		c.logger.Debug("ignoring message", zap.String("type", string(msg.Kind())))
	}
}

func (c *Coordinator) handleRegister(ctx context.Context, m protocol.Register) {
	c.mu.Lock()
	isNew := c.workers.register(m.SenderPort)
	c.mu.Unlock()

	c.logger.Info("worker registered",
		zap.Int("worker_port", m.SenderPort), zap.Bool("new", isNew))
	c.dispatch(ctx)
}

func (c *Coordinator) handleFinished(ctx context.Context, m protocol.Finished) {
	latency := m.Latency()

	c.mu.Lock()
	if !c.workers.release(m.SenderPort) {
		c.mu.Unlock()
		c.logger.Warn("dropping completion from worker without an assignment",
			zap.Int("worker_port", m.SenderPort))
		return
	}
	c.stats.Fold(m.Success, latency)
	c.mu.Unlock()

	metrics.RecordCompletion(m.Success, latency)
	c.logger.Debug("completion folded",
		zap.Int("worker_port", m.SenderPort),
		zap.Bool("success", m.Success),
		zap.Duration("latency", latency))
	c.dispatch(ctx)
}

func (c *Coordinator) handleStatus(ctx context.Context) {
	c.mu.Lock()
	snap := c.stats.Snapshot()
	c.mu.Unlock()

	if err := c.sender.Send(ctx, c.cfg.ObserverPort, snap.Report()); err != nil {
		c.logger.Warn("status report not delivered",
			zap.Int("observer_port", c.cfg.ObserverPort), zap.Error(err))
	}
}

// handleShutdown sends shutdown to every registered worker and to the
// observer, then waits out the grace period. Delivery is best effort.
func (c *Coordinator) handleShutdown(ctx context.Context) {
	c.mu.Lock()
	c.shutdown = true
	members := c.workers.memberPorts()
	c.mu.Unlock()

	c.logger.Info("shutting down", zap.Int("workers", len(members)))

	var errs error
	for _, port := range members {
		if err := c.sender.Send(ctx, port, protocol.Shutdown{}); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("worker %d: %w", port, err))
		}
	}
	if err := c.sender.Send(ctx, c.cfg.ObserverPort, protocol.Shutdown{}); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("observer %d: %w", c.cfg.ObserverPort, err))
	}
	if errs != nil {
		c.logger.Warn("shutdown not delivered to every peer",
			zap.Int("failed", len(multierr.Errors(errs))), zap.Error(errs))
	}

	c.sleep(ctx, c.cfg.GracePeriod)
}

// dispatch pairs the oldest idle worker with the oldest pending item until
// either side runs out. A sendmsg that cannot be delivered loses its item
// and leaves the worker marked busy; there is no retry.
func (c *Coordinator) dispatch(ctx context.Context) {
	type assignment struct {
		item workload.Item
		port int
	}

	c.mu.Lock()
	var batch []assignment
	for len(c.pending) > 0 {
		port, ok := c.workers.acquire()
		if !ok {
			break
		}
		batch = append(batch, assignment{item: c.pending[0], port: port})
		c.pending = c.pending[1:]
	}
	c.publishLocked()
	c.mu.Unlock()

	for _, a := range batch {
		err := c.sender.Send(ctx, a.port, a.item.Message())
		metrics.RecordDispatch(err)
		if err != nil {
			c.logger.Warn("work item lost: sendmsg not delivered",
				zap.Int("msg_id", a.item.ID), zap.Int("worker_port", a.port), zap.Error(err))
			continue
		}
		c.logger.Debug("work item dispatched",
			zap.Int("msg_id", a.item.ID), zap.Int("worker_port", a.port))
	}
}

// publishLocked exports queue depths. Callers hold c.mu.
func (c *Coordinator) publishLocked() {
	metrics.SetQueues(len(c.pending), len(c.workers.idle), len(c.workers.members))
}

// ShutDown reports whether a shutdown document has been handled.
func (c *Coordinator) ShutDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}

// Phase reports the current lifecycle phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phaseLocked()
}

func (c *Coordinator) phaseLocked() Phase {
	switch {
	case c.shutdown:
		return PhaseShutDown
	case len(c.workers.members) == 0:
		return PhaseIdle
	case len(c.pending) == 0:
		return PhaseDraining
	default:
		return PhaseDispatching
	}
}

// Snapshot returns a copy of the coordinator's state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Phase:   c.phaseLocked(),
		Stats:   c.stats.Snapshot(),
		Pending: len(c.pending),
		Idle:    c.workers.idlePorts(),
		Busy:    c.workers.busyPorts(),
		Members: c.workers.memberPorts(),
	}
}

func (p Phase) String() string {
	return string(p)
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

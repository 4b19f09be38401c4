// Package worker implements the delivering role of the SMS alert simulator.
//
// A worker registers with the coordinator, then waits for sendmsg documents.
// Each one is "delivered" by sleeping for a latency drawn from a normal
// distribution and flipping a biased coin; the outcome is reported back as a
// finished document. Only one item is worked on at a time.
//
// Shutdown is cooperative. A shutdown document stops the listener, lets an
// in-progress delivery run to completion, and suppresses its report.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/smsalert/internal/metrics"
	"github.com/dreamware/smsalert/internal/protocol"
	"github.com/dreamware/smsalert/internal/transport"
)

const (
	// DefaultSpread is the standard deviation of the simulated latency.
	DefaultSpread = time.Second
	// DefaultRegisterAttempts bounds registration retries.
	DefaultRegisterAttempts = 10
	// DefaultRegisterBackoff is the pause between registration attempts.
	DefaultRegisterBackoff = 400 * time.Millisecond

	taskBuffer = 16
)

// ErrNotRegistered is returned when the coordinator could not be reached.
var ErrNotRegistered = errors.New("worker not registered with coordinator")

// Config describes one worker.
type Config struct {
	Host             string        // Listen host (default "localhost")
	Port             int           // Port this worker listens on and registers
	CoordinatorPort  int           // Port of the coordinator
	MeanTime         time.Duration // Mean simulated send latency
	Spread           time.Duration // Standard deviation of the latency
	FailureRate      float64       // Probability in [0,1] that a send fails
	RegisterAttempts int
	RegisterBackoff  time.Duration
	ReadTimeout      time.Duration
	Seed             uint64 // Zero picks a time-based seed
}

// Worker simulates an SMS sender.
//
// Thread Safety:
// Handle is called from the listener loop; deliveries run on one background
// goroutine started by Start. The shutdown flag is shared between the two
// and is atomic.
type Worker struct {
	sender      transport.Sender
	logger      *zap.Logger
	rng         *rand.Rand
	sleep       func(ctx context.Context, d time.Duration)
	onDelivered func(protocol.SendMsg)
	tasks       chan protocol.SendMsg
	cfg         Config
	wg          sync.WaitGroup
	shutdown    atomic.Bool
	started     atomic.Bool
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the worker's logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithDeliveryHook registers a callback invoked after every successful
// simulated delivery, before the completion report is sent.
func WithDeliveryHook(f func(protocol.SendMsg)) Option {
	return func(w *Worker) { w.onDelivered = f }
}

// WithSleep replaces the latency sleep, mainly for tests.
func WithSleep(f func(ctx context.Context, d time.Duration)) Option {
	return func(w *Worker) { w.sleep = f }
}

// New creates a worker. Nothing is sent until Register or Run.
func New(cfg Config, sender transport.Sender, opts ...Option) *Worker {
	if cfg.Spread < 0 {
		cfg.Spread = 0
	}
	if cfg.RegisterAttempts <= 0 {
		cfg.RegisterAttempts = DefaultRegisterAttempts
	}
	if cfg.RegisterBackoff <= 0 {
		cfg.RegisterBackoff = DefaultRegisterBackoff
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	w := &Worker{
		cfg:    cfg,
		sender: sender,
		logger: zap.NewNop(),
		rng:    rand.New(rand.NewPCG(seed, uint64(cfg.Port))),
		sleep:  sleepContext,
		tasks:  make(chan protocol.SendMsg, taskBuffer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run binds the configured port, registers and serves until shutdown or ctx
// ends.
func (w *Worker) Run(ctx context.Context) error {
	host := w.cfg.Host
	if host == "" {
		host = transport.DefaultHost
	}
	ln, err := transport.Listen(net.JoinHostPort(host, strconv.Itoa(w.cfg.Port)),
		transport.WithLogger(w.logger),
		transport.WithRole("worker"),
		transport.WithReadTimeout(w.cfg.ReadTimeout))
	if err != nil {
		return err
	}
	defer ln.Close()
	return w.Serve(ctx, ln)
}

// Serve registers with the coordinator and processes documents from ln.
// The listener must already be bound so the first sendmsg is not refused.
// It returns after a shutdown document, once any in-progress delivery has
// finished, or when ctx ends.
func (w *Worker) Serve(ctx context.Context, ln *transport.Listener) error {
	w.Start(ctx)
	defer w.Stop()

	if err := w.Register(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.logger.Info("worker listening", zap.Stringer("addr", ln.Addr()))
	err := ln.Serve(loopCtx, func(ctx context.Context, msg protocol.Message) {
		w.Handle(ctx, msg)
		if w.ShutDown() {
			cancel()
		}
	})
	w.logger.Info("worker stopped")
	return err
}

// Register announces the worker to the coordinator, retrying while the
// coordinator is not reachable.
func (w *Worker) Register(ctx context.Context) error {
	msg := protocol.Register{SenderPort: w.cfg.Port}
	var lastErr error
	for i := 0; i < w.cfg.RegisterAttempts; i++ {
		lastErr = w.sender.Send(ctx, w.cfg.CoordinatorPort, msg)
		if lastErr == nil {
			w.logger.Info("registered with coordinator", zap.Int("coordinator_port", w.cfg.CoordinatorPort))
			return nil
		}
		w.logger.Debug("register retry", zap.Int("attempt", i+1), zap.Error(lastErr))
		if i+1 < w.cfg.RegisterAttempts {
			w.sleep(ctx, w.cfg.RegisterBackoff)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrNotRegistered, w.cfg.RegisterAttempts, lastErr)
}

// Start launches the delivery goroutine. Deliveries use ctx, so they are
// interrupted only when the process itself is stopping, not by a shutdown
// document.
func (w *Worker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for task := range w.tasks {
			w.Deliver(ctx, task)
		}
	}()
}

// Stop closes the task queue and waits for the current delivery.
func (w *Worker) Stop() {
	if w.started.CompareAndSwap(true, false) {
		close(w.tasks)
	}
	w.wg.Wait()
}

// Handle processes one inbound document.
func (w *Worker) Handle(_ context.Context, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.SendMsg:
		if w.ShutDown() {
			w.logger.Debug("ignoring sendmsg after shutdown", zap.Int("msg_id", m.MsgID))
			return
		}
		select {
		case w.tasks <- m:
		default:
			w.logger.Warn("delivery queue full, dropping work item", zap.Int("msg_id", m.MsgID))
		}
	case protocol.Shutdown:
		w.shutdown.Store(true)
		w.logger.Info("shutdown received")
	default:
		w.logger.Debug("ignoring message", zap.String("type", string(msg.Kind())))
	}
}

// Deliver simulates sending one message and reports the outcome unless the
// worker has been shut down meanwhile. It returns the report it computed.
func (w *Worker) Deliver(ctx context.Context, m protocol.SendMsg) protocol.Finished {
	latency := w.drawLatency()

	began := time.Now()
	w.sleep(ctx, latency)
	elapsed := time.Since(began)

	success := w.rng.Float64() >= w.cfg.FailureRate
	metrics.RecordDelivery(success)

	report := protocol.Finished{
		SenderPort: w.cfg.Port,
		Success:    success,
		SendTime:   elapsed.Milliseconds(),
	}

	if success {
		w.logger.Info("message delivered",
			zap.Int("msg_id", m.MsgID),
			zap.String("phone", m.Phone),
			zap.String("body", m.Msg))
		if w.onDelivered != nil {
			w.onDelivered(m)
		}
	} else {
		w.logger.Debug("message failed", zap.Int("msg_id", m.MsgID))
	}

	if w.ShutDown() {
		w.logger.Debug("suppressing completion report after shutdown", zap.Int("msg_id", m.MsgID))
		return report
	}
	if err := w.sender.Send(ctx, w.cfg.CoordinatorPort, report); err != nil {
		w.logger.Warn("completion report not delivered", zap.Int("msg_id", m.MsgID), zap.Error(err))
	}
	return report
}

// drawLatency samples the normal distribution, clamped at zero.
func (w *Worker) drawLatency() time.Duration {
	d := float64(w.cfg.MeanTime) + w.rng.NormFloat64()*float64(w.cfg.Spread)
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// ShutDown reports whether a shutdown document has been received.
func (w *Worker) ShutDown() bool {
	return w.shutdown.Load()
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

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/smsalert/internal/metrics"
	"github.com/dreamware/smsalert/internal/protocol"
)

const (
	// DefaultReadTimeout bounds how long a peer may keep a connection open
	// before its document is abandoned.
	DefaultReadTimeout = time.Second

	maxDocumentSize = 1 << 20

	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// acceptBackoff doubles the previous delay, starting at minAcceptDelay and
// capped at maxAcceptDelay.
func acceptBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	return min(2*prev, maxAcceptDelay)
}

// Handler processes one decoded document. The listener does not accept the
// next connection until the handler returns.
type Handler func(ctx context.Context, msg protocol.Message)

// Listener accepts connections and turns each into at most one document.
type Listener struct {
	ln          net.Listener
	logger      *zap.Logger
	role        string
	readTimeout time.Duration
}

// Option configures a Listener.
type Option func(*Listener)

// WithLogger sets the logger used for dropped documents.
func WithLogger(l *zap.Logger) Option {
	return func(ln *Listener) { ln.logger = l }
}

// WithRole labels dropped-document metrics with the owning role.
func WithRole(role string) Option {
	return func(ln *Listener) { ln.role = role }
}

// WithReadTimeout bounds the time spent reading a single connection.
func WithReadTimeout(d time.Duration) Option {
	return func(ln *Listener) {
		if d > 0 {
			ln.readTimeout = d
		}
	}
}

// Listen binds a TCP listener on addr ("host:port"; port 0 picks a free one).
func Listen(addr string, opts ...Option) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	l := &Listener{
		ln:          ln,
		logger:      zap.NewNop(),
		role:        "unknown",
		readTimeout: DefaultReadTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Port returns the bound TCP port.
func (l *Listener) Port() int {
	if tcp, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Close releases the socket. Serve closes it too when its context ends.
func (l *Listener) Close() error {
	err := l.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Serve accepts connections one at a time and hands each decoded document to
// h, until ctx is canceled. Undecodable documents are logged and dropped;
// the peer is never told. Serve returns nil after cancellation.
func (l *Listener) Serve(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()

	var delay time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// Errors such as EMFILE are transient; only shutdown ends a role.
			delay = acceptBackoff(delay)
			l.logger.Warn("accept failed, retrying",
				zap.Duration("delay", delay), zap.Error(err))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		delay = 0

		msg, err := l.readOne(conn)
		if err != nil {
			l.logger.Debug("dropping message",
				zap.Stringer("remote", conn.RemoteAddr()),
				zap.Error(err))
			metrics.RecordDropped(l.role)
			continue
		}

		h(ctx, msg)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// readOne reads conn to end-of-stream and decodes the result.
func (l *Listener) readOne(conn net.Conn) (protocol.Message, error) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(l.readTimeout))
	data, err := io.ReadAll(io.LimitReader(conn, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", protocol.ErrMalformed, maxDocumentSize)
	}
	return protocol.Decode(data)
}

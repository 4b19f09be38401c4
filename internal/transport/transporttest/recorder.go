// Package transporttest provides an in-memory transport.Sender for tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/dreamware/smsalert/internal/protocol"
)

// Sent is one recorded Send call.
type Sent struct {
	Msg  protocol.Message
	Port int
}

// Recorder records every document instead of delivering it.
// Ports registered with Fail return an error and are still recorded.
type Recorder struct {
	fail   map[int]error
	notify chan Sent
	sent   []Sent
	mu     sync.Mutex
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		fail:   make(map[int]error),
		notify: make(chan Sent, 1024),
	}
}

// Send implements transport.Sender.
func (r *Recorder) Send(_ context.Context, port int, msg protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Sent{Port: port, Msg: msg}
	r.sent = append(r.sent, s)
	select {
	case r.notify <- s:
	default:
	}
	return r.fail[port]
}

// Fail makes every later Send to port return err.
func (r *Recorder) Fail(port int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[port] = err
}

// All returns every recorded send in call order.
func (r *Recorder) All() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// To returns the documents sent to port in call order.
func (r *Recorder) To(port int) []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Message
	for _, s := range r.sent {
		if s.Port == port {
			out = append(out, s.Msg)
		}
	}
	return out
}

// Count returns how many documents of kind were sent to any port.
func (r *Recorder) Count(kind protocol.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.Msg.Kind() == kind {
			n++
		}
	}
	return n
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
	for {
		select {
		case <-r.notify:
		default:
			return
		}
	}
}

// Sends delivers each recorded send as it happens. Useful for waiting on
// documents produced by background goroutines.
func (r *Recorder) Sends() <-chan Sent {
	return r.notify
}

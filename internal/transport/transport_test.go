package transport

import (
	"context"
	"net"
	"sync/atomic"
	"syscall"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/smsalert/internal/protocol"
)

// startListener serves a loopback listener in the background and forwards
// every decoded document to the returned channel.
func startListener(t *testing.T, opts ...Option) (*Listener, <-chan protocol.Message, context.CancelFunc, <-chan error) {
	t.Helper()

	ln, err := Listen("127.0.0.1:0", opts...)
	require.NoError(t, err)

	msgs := make(chan protocol.Message, 16)
	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		done <- ln.Serve(ctx, func(_ context.Context, m protocol.Message) {
			msgs <- m
		})
	}()
	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
	})
	return ln, msgs, cancel, done
}

func receive(t *testing.T, msgs <-chan protocol.Message) protocol.Message {
	t.Helper()
	select {
	case m := <-msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func writeRaw(t *testing.T, port int, payload string) {
	t.Helper()
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestClientSendDelivers(t *testing.T) {
	ln, msgs, _, _ := startListener(t)
	client := NewClient("127.0.0.1", time.Second)

	want := protocol.SendMsg{MsgID: 3, Phone: "555000111", Msg: "hello"}
	require.NoError(t, client.Send(context.Background(), ln.Port(), want))

	assert.Equal(t, want, receive(t, msgs))
}

// TestListenerPreservesArrivalOrder sends several documents sequentially and
// expects them handled in the same order.
func TestListenerPreservesArrivalOrder(t *testing.T) {
	ln, msgs, _, _ := startListener(t)
	client := NewClient("127.0.0.1", time.Second)

	sent := []protocol.Message{
		protocol.Register{SenderPort: 7001},
		protocol.Register{SenderPort: 7002},
		protocol.StatusRequest{},
		protocol.Shutdown{},
	}
	for _, m := range sent {
		require.NoError(t, client.Send(context.Background(), ln.Port(), m))
	}
	for _, m := range sent {
		assert.Equal(t, m, receive(t, msgs))
	}
}

// TestListenerDropsMalformed verifies a garbage payload is skipped and the
// loop keeps serving later connections.
func TestListenerDropsMalformed(t *testing.T) {
	ln, msgs, _, _ := startListener(t, WithRole("test"))

	writeRaw(t, ln.Port(), "this is not json")
	writeRaw(t, ln.Port(), `{"message_type":"register"}`)
	writeRaw(t, ln.Port(), `{"message_type":"start"}`)

	assert.Equal(t, protocol.Start{}, receive(t, msgs))
	select {
	case m := <-msgs:
		t.Fatalf("unexpected extra message %#v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestListenerAbandonsSlowPeer checks that a peer holding its connection open
// past the read timeout does not block the loop.
func TestListenerAbandonsSlowPeer(t *testing.T) {
	ln, msgs, _, _ := startListener(t, WithReadTimeout(50*time.Millisecond))

	slow, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer slow.Close()
	_, err = slow.Write([]byte(`{"message_type":"shutdown"}`))
	require.NoError(t, err)

	client := NewClient("127.0.0.1", time.Second)
	require.NoError(t, client.Send(context.Background(), ln.Port(), protocol.Start{}))

	assert.Equal(t, protocol.Start{}, receive(t, msgs))
}

func TestServeReturnsOnCancel(t *testing.T) {
	_, _, cancel, done := startListener(t)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestSendToClosedPortFails(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Port()
	require.NoError(t, ln.Close())

	client := NewClient("127.0.0.1", 200*time.Millisecond)
	err = client.Send(context.Background(), port, protocol.Shutdown{})
	assert.Error(t, err)
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient("", 0)
	assert.Equal(t, DefaultHost, c.Host)
	assert.Equal(t, DefaultDialTimeout, c.DialTimeout)
	assert.Equal(t, "localhost:6000", c.Addr(6000))
}

// flakyListener fails the first fails calls to Accept with EMFILE.
type flakyListener struct {
	net.Listener
	fails atomic.Int32
}

func (f *flakyListener) Accept() (net.Conn, error) {
	if f.fails.Add(-1) >= 0 {
		return nil, &net.OpError{Op: "accept", Net: "tcp", Err: syscall.EMFILE}
	}
	return f.Listener.Accept()
}

// TestListenerSurvivesAcceptErrors checks that running out of file
// descriptors delays the loop instead of ending it.
func TestListenerSurvivesAcceptErrors(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	flaky := &flakyListener{Listener: ln.ln}
	flaky.fails.Store(3)
	ln.ln = flaky

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs := make(chan protocol.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- ln.Serve(ctx, func(_ context.Context, m protocol.Message) { msgs <- m })
	}()

	client := NewClient("127.0.0.1", time.Second)
	require.NoError(t, client.Send(ctx, ln.Port(), protocol.Shutdown{}))
	assert.Equal(t, protocol.Shutdown{}, receive(t, msgs))
	assert.LessOrEqual(t, flaky.fails.Load(), int32(0))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeReturnsOnCancelDuringBackoff(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	flaky := &flakyListener{Listener: ln.ln}
	flaky.fails.Store(1 << 30)
	ln.ln = flaky

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ln.Serve(ctx, func(context.Context, protocol.Message) {}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.NoError(t, ln.Close())
}

func TestAcceptBackoff(t *testing.T) {
	var got []time.Duration
	var d time.Duration
	for range 10 {
		d = acceptBackoff(d)
		got = append(got, d)
	}
	assert.Equal(t, 5*time.Millisecond, got[0])
	assert.Equal(t, 10*time.Millisecond, got[1])
	assert.Equal(t, 640*time.Millisecond, got[7])
	assert.Equal(t, time.Second, got[8])
	assert.Equal(t, time.Second, got[9])
}

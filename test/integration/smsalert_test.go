// Package integration exercises the roles together over real loopback TCP.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/smsalert/internal/coordinator"
	"github.com/dreamware/smsalert/internal/observer"
	"github.com/dreamware/smsalert/internal/protocol"
	"github.com/dreamware/smsalert/internal/stats"
	"github.com/dreamware/smsalert/internal/transport"
	"github.com/dreamware/smsalert/internal/workload"
)

const waitTimeout = 5 * time.Second

// peer is a scripted role: a bound listener whose documents are collected
// on a channel.
type peer struct {
	ln   *transport.Listener
	msgs chan protocol.Message
}

func newPeer(t *testing.T, ctx context.Context) *peer {
	t.Helper()
	ln, err := transport.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	p := &peer{ln: ln, msgs: make(chan protocol.Message, 64)}
	go func() {
		_ = ln.Serve(ctx, func(_ context.Context, msg protocol.Message) { p.msgs <- msg })
	}()
	return p
}

func (p *peer) port() int { return p.ln.Port() }

func (p *peer) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case msg := <-p.msgs:
		return msg
	case <-time.After(waitTimeout):
		t.Fatalf("peer on port %d received nothing", p.port())
		return nil
	}
}

type system struct {
	client *transport.Client
	coord  *coordinator.Coordinator
	ln     *transport.Listener
	done   chan error
}

func startCoordinator(t *testing.T, observerPort, items int) *system {
	t.Helper()
	ln, err := transport.Listen("127.0.0.1:0", transport.WithRole("coordinator"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	client := transport.NewClient("127.0.0.1", time.Second)
	coord := coordinator.New(coordinator.Config{
		Host:         "127.0.0.1",
		Port:         ln.Port(),
		ObserverPort: observerPort,
		Items:        items,
		GracePeriod:  10 * time.Millisecond,
	}, client,
		coordinator.WithLogger(zaptest.NewLogger(t)),
		coordinator.WithGenerator(workload.Sequential))

	s := &system{client: client, coord: coord, ln: ln, done: make(chan error, 1)}
	go func() { s.done <- coord.Serve(context.Background(), ln) }()
	return s
}

func (s *system) send(t *testing.T, msg protocol.Message) {
	t.Helper()
	require.NoError(t, s.client.Send(context.Background(), s.ln.Port(), msg))
}

func (s *system) wait(t *testing.T) {
	t.Helper()
	select {
	case err := <-s.done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("coordinator did not stop")
	}
}

// TestSingleWorkerLifecycle walks one scripted worker through two items, a
// status request and shutdown, checking every document on the wire.
func TestSingleWorkerLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := newPeer(t, ctx)
	wrk := newPeer(t, ctx)
	sys := startCoordinator(t, obs.port(), 2)

	assert.Equal(t, protocol.Start{}, obs.next(t))

	sys.send(t, protocol.Register{SenderPort: wrk.port()})
	first := wrk.next(t)
	assert.Equal(t, protocol.SendMsg{Phone: "000000000", Msg: "item-0", MsgID: 0}, first)

	sys.send(t, protocol.Finished{SenderPort: wrk.port(), SendTime: 5, Success: true})
	second := wrk.next(t)
	assert.Equal(t, protocol.SendMsg{Phone: "000000001", Msg: "item-1", MsgID: 1}, second)

	sys.send(t, protocol.Finished{SenderPort: wrk.port(), SendTime: 0, Success: false})
	sys.send(t, protocol.StatusRequest{})
	assert.Equal(t, protocol.StatusReport{NumSent: 1, NumFail: 1, TotalTime: 5}, obs.next(t))

	sys.send(t, protocol.Shutdown{})
	assert.Equal(t, protocol.Shutdown{}, wrk.next(t))
	assert.Equal(t, protocol.Shutdown{}, obs.next(t))
	sys.wait(t)

	state := sys.coord.Snapshot()
	assert.Equal(t, coordinator.PhaseShutDown, state.Phase)
	assert.Equal(t, []int{wrk.port()}, state.Idle)
}

// TestObserverTracksCoordinator runs the real observer against the
// coordinator and a scripted worker.
func TestObserverTracksCoordinator(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obsLn, err := transport.Listen("127.0.0.1:0", transport.WithRole("observer"))
	require.NoError(t, err)
	defer obsLn.Close()

	wrk := newPeer(t, ctx)
	sys := startCoordinator(t, obsLn.Port(), 1)

	obs := observer.New(observer.Config{
		Host:            "127.0.0.1",
		Port:            obsLn.Port(),
		CoordinatorPort: sys.ln.Port(),
		Interval:        20 * time.Millisecond,
	}, sys.client, observer.WithLogger(zaptest.NewLogger(t)))
	obsDone := make(chan error, 1)
	go func() { obsDone <- obs.Serve(context.Background(), obsLn) }()

	sys.send(t, protocol.Register{SenderPort: wrk.port()})
	_ = wrk.next(t)
	sys.send(t, protocol.Finished{SenderPort: wrk.port(), SendTime: 8, Success: true})

	want := stats.Snapshot{Sent: 1, TotalLatency: 8 * time.Millisecond, AverageLatency: 8 * time.Millisecond}
	require.Eventually(t, func() bool {
		last, ok := obs.Last()
		return ok && last == want
	}, waitTimeout, 10*time.Millisecond)

	sys.send(t, protocol.Shutdown{})
	sys.wait(t)
	select {
	case err := <-obsDone:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("observer did not stop")
	}
	assert.True(t, obs.ShutDown())
	assert.Equal(t, protocol.Shutdown{}, wrk.next(t))
}

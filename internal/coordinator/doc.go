// Package coordinator implements the control plane of the SMS alert
// simulator: it owns the queue of simulated messages, the pool of workers
// that deliver them, and the aggregate delivery statistics the observer
// polls.
//
// # Overview
//
// The coordinator is one of three independently running roles. Workers
// register with it, receive one work item at a time, and report back when
// they are done. The observer asks it for status on a timer. An operator
// (or cmd/smsctl) sends it shutdown, which it forwards to everyone else.
// All of these exchanges are single JSON documents over one-shot TCP
// connections (see package transport); nothing is acknowledged.
//
// # Architecture
//
//	┌──────────────────────────────────────┐
//	│             COORDINATOR              │
//	├──────────────────────────────────────┤
//	│  pending   FIFO of work items        │
//	│  members   every registered worker   │
//	│  idle      FIFO of available workers │
//	│  busy      workers holding one item  │
//	│  stats     sent / failed / latency   │
//	├──────────────────────────────────────┤
//	│  listener loop: one document at a    │
//	│  time, in arrival order              │
//	└──────────────────────────────────────┘
//
// # Message Handling
//
//	register(port)         add to members and idle, then dispatch
//	finished(port, ok, t)  fold into stats, port back to idle, dispatch
//	status()               send a StatusReport to the observer
//	shutdown()             send shutdown to every member and the
//	                       observer, wait a grace period, stop
//
// A dispatch pass pairs the head of idle with the head of pending until one
// of them is empty. Each pairing sends a sendmsg carrying the whole item;
// the coordinator keeps no copy of it afterwards.
//
// # Lifecycle
//
//	Idle ──register──▶ Dispatching ──queue empty──▶ Draining
//	  │                    │                           │
//	  └──────────── shutdown ──────────────────────────┴──▶ ShutDown
//
// Startup order is fixed: bind the listener, generate all items, then send
// start to the observer. Registrations that arrive during generation wait
// in the accept backlog.
//
// # Concurrency
//
// Handle is only called from the listener loop, so state changes are
// serialized by construction. A mutex still guards the state so Snapshot
// and Phase can be read from tests, metrics and cmd/simulate.
//
// # Failure Behavior
//
//   - A completion report from a port with no assignment is logged and
//     dropped; it is never folded.
//   - A sendmsg that cannot be delivered loses its item. The worker stays
//     busy and its capacity is gone until it registers again.
//   - A worker that dies mid-assignment is never detected; its item is
//     lost. There is no timeout and no reassignment.
//   - Shutdown delivery failures are collected and logged; the fan-out
//     continues with the next peer.
//
// # Usage Example
//
//	sender := transport.NewClient("localhost", 2*time.Second)
//	c := coordinator.New(coordinator.Config{
//	    Port:         6000,
//	    ObserverPort: 5999,
//	    Items:        1000,
//	    GracePeriod:  time.Second,
//	}, sender, coordinator.WithLogger(logger))
//
//	if err := c.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # See Also
//
//   - internal/protocol: document types
//   - internal/worker: the delivering role
//   - internal/observer: the polling role
//   - cmd/coordinator: command-line entry point
package coordinator

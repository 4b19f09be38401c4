// Package coordinator implements the dispatching role of the SMS alert simulator.
// See doc.go for complete package documentation.
package coordinator

import (
	"golang.org/x/exp/slices"
)

// workerRegistry tracks every worker endpoint the coordinator has heard from
// and which of them are idle or holding an assignment.
//
// Three views are kept over the same endpoints:
//
//	members  insertion-ordered set of every registered port (shutdown fan-out)
//	idle     FIFO availability queue; the head receives the next item
//	busy     ports holding exactly one in-flight item
//
// Invariants maintained by every method:
//   - idle ⊆ members and busy ⊆ members
//   - idle ∩ busy = ∅
//   - a port appears in idle at most once
//
// Thread Safety:
// Not synchronized. The Coordinator guards it with its own mutex and only
// mutates it from the listener loop.
type workerRegistry struct {
	busy    map[int]struct{}
	members []int
	idle    []int
}

func newWorkerRegistry() *workerRegistry {
	return &workerRegistry{busy: make(map[int]struct{})}
}

// register adds port to the membership set and, unless it is already idle,
// to the tail of the availability queue. A worker that registers again while
// holding an assignment is treated as restarted: its assignment is forgotten.
// Returns true if the port was not a member before.
func (r *workerRegistry) register(port int) bool {
	isNew := !slices.Contains(r.members, port)
	if isNew {
		r.members = append(r.members, port)
	}
	delete(r.busy, port)
	if !slices.Contains(r.idle, port) {
		r.idle = append(r.idle, port)
	}
	return isNew
}

// release moves a busy port back to the tail of the availability queue.
// Returns false, changing nothing, if the port held no assignment.
func (r *workerRegistry) release(port int) bool {
	if _, ok := r.busy[port]; !ok {
		return false
	}
	delete(r.busy, port)
	r.idle = append(r.idle, port)
	return true
}

// acquire pops the oldest idle port and marks it busy.
func (r *workerRegistry) acquire() (int, bool) {
	if len(r.idle) == 0 {
		return 0, false
	}
	port := r.idle[0]
	r.idle = slices.Delete(r.idle, 0, 1)
	r.busy[port] = struct{}{}
	return port, true
}

func (r *workerRegistry) isBusy(port int) bool {
	_, ok := r.busy[port]
	return ok
}

// idlePorts returns a copy of the availability queue, head first.
func (r *workerRegistry) idlePorts() []int {
	return slices.Clone(r.idle)
}

// memberPorts returns a copy of the membership set in registration order.
func (r *workerRegistry) memberPorts() []int {
	return slices.Clone(r.members)
}

// busyPorts returns the ports holding an assignment, sorted.
func (r *workerRegistry) busyPorts() []int {
	ports := make([]int, 0, len(r.busy))
	for p := range r.busy {
		ports = append(ports, p)
	}
	slices.Sort(ports)
	return ports
}

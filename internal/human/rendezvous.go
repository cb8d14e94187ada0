// Package human implements the single-slot blocking confirmation
// described in spec §4.9: at most one outstanding request, operators
// resolve it via done/cancel, and a timeout auto-resolves it.
package human

import (
	"sync"
	"time"

	"github.com/benchlab/fleetbench/internal/benchapi"
)

// Result is the outcome of a Request call.
type Result struct {
	Confirmed bool `json:"confirmed"`
	TimedOut  bool `json:"timeout"`
}

// Status describes the currently pending request, if any.
type Status struct {
	Pending  bool      `json:"pending"`
	Message  string    `json:"message,omitempty"`
	Deadline time.Time `json:"deadline,omitempty"`
}

// Rendezvous coordinates the single outstanding human confirmation.
type Rendezvous struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  bool
	message  string
	deadline time.Time
	result   *Result // nil while pending
	gen      uint64  // bumped on every new Request to disambiguate stale waiters
}

// New returns a ready-to-use Rendezvous.
func New() *Rendezvous {
	r := &Rendezvous{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Request blocks until done/cancel resolves it or timeout elapses.
// Returns benchapi.Conflict if a request is already pending.
func (r *Rendezvous) Request(message string, timeout time.Duration) (Result, error) {
	r.mu.Lock()
	if r.pending {
		r.mu.Unlock()
		return Result{}, benchapi.Errorf(benchapi.Conflict, "a human confirmation is already pending")
	}

	r.pending = true
	r.message = message
	r.deadline = time.Now().Add(timeout)
	r.result = nil
	r.gen++
	myGen := r.gen
	r.mu.Unlock()

	timer := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.pending && r.gen == myGen {
			r.result = &Result{Confirmed: false, TimedOut: true}
			r.pending = false
			r.cond.Broadcast()
		}
	})
	defer timer.Stop()

	r.mu.Lock()
	for r.gen == myGen && r.result == nil {
		r.cond.Wait()
	}
	// If gen has moved on, a later Request took over before ours resolved
	// (shouldn't happen since pending blocks new Requests, but sync.Cond
	// gives no guarantee the waking waiter reacquires the lock first) —
	// treat it as aborted rather than dereference a result that was reset
	// out from under us.
	var res Result
	if r.gen == myGen && r.result != nil {
		res = *r.result
	} else {
		res = Result{Confirmed: false, TimedOut: true}
	}
	r.mu.Unlock()
	return res, nil
}

// Done resolves the pending request as confirmed.
func (r *Rendezvous) Done() error {
	return r.resolve(Result{Confirmed: true})
}

// Cancel resolves the pending request as not confirmed, not timed out.
func (r *Rendezvous) Cancel() error {
	return r.resolve(Result{Confirmed: false})
}

func (r *Rendezvous) resolve(res Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pending {
		return benchapi.Errorf(benchapi.NotFound, "no human confirmation is pending")
	}
	r.result = &res
	r.pending = false
	r.cond.Broadcast()
	return nil
}

// StatusNow returns the current pending status.
func (r *Rendezvous) StatusNow() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{Pending: r.pending, Message: r.message, Deadline: r.deadline}
}

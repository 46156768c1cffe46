// Package run defines the state of a single suite execution: the Run Record,
// its lifecycle, the status snapshot served to callers, identifier issuance,
// and the error taxonomy shared by the registry and its surfaces.
package run

import (
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle state of a run. Active is the only non-terminal
// state; a run never leaves a terminal state.
type State int

const (
	Active State = iota
	Completed
	Failed
	Cancelled
)

var stateNames = [...]string{
	Active:    "active",
	Completed: "completed",
	Failed:    "error",
	Cancelled: "cancelled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s != Active
}

// MarshalText encodes the state as its status name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown run status %q", b)
}

// Process is the view of an OS process a Record needs: a way to request
// termination and a way to ask, after exit, whether that request landed.
type Process interface {
	Kill() error
	Killed() bool
}

// Record is the state of one execution. ID, Suite and Started are immutable.
// The terminal fields are written once by Finalize under mu, together.
type Record struct {
	ID      string
	Suite   string
	Started time.Time

	proc Process

	mu       sync.Mutex
	state    State
	finished time.Time
	result   any
	err      error
}

// NewRecord returns an Active record owning proc.
func NewRecord(id, suite string, started time.Time, proc Process) *Record {
	return &Record{
		ID:      id,
		Suite:   suite,
		Started: started,
		proc:    proc,
	}
}

// Finalize settles the record at time at. A nil err completes the run with
// result. A non-nil err fails it, or cancels it when the owning process
// reports it was killed. Finalize reports false if the record was already
// settled, in which case nothing changes.
func (r *Record) Finalize(at time.Time, result any, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Terminal() {
		return false
	}
	r.finished = at
	switch {
	case err == nil:
		r.state = Completed
		r.result = result
	case r.proc != nil && r.proc.Killed():
		r.state = Cancelled
		r.err = err
	default:
		r.state = Failed
		r.err = err
	}
	return true
}

// Cancel asks the owning process to terminate. It does not settle the
// record. Cancelling a settled record is a no-op and reports false.
func (r *Record) Cancel() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Terminal() || r.proc == nil {
		return false, nil
	}
	if err := r.proc.Kill(); err != nil {
		return false, err
	}
	return true, nil
}

// State returns the current state.
func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Snapshot returns the status of the record as of now.
func (r *Record) Snapshot(now time.Time) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{
		ID:      r.ID,
		Suite:   r.Suite,
		Status:  r.state,
		Started: r.Started,
	}
	end := now
	if r.state.Terminal() {
		end = r.finished
		finished := r.finished
		s.Finished = &finished
	}
	s.Runtime = max(end.Sub(r.Started).Milliseconds(), 0)

	switch r.state {
	case Completed:
		s.Result = r.result
	case Failed, Cancelled:
		s.Error = r.err.Error()
		s.ErrorKind = KindOf(r.err)
	}
	return s
}

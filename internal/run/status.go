package run

import "time"

// Status is a point-in-time snapshot of a run.
type Status struct {
	ID        string     `json:"id"`
	Suite     string     `json:"suite"`
	Status    State      `json:"status"`
	Runtime   int64      `json:"runtime"` // milliseconds
	Started   time.Time  `json:"started"`
	Finished  *time.Time `json:"finished,omitempty"`
	Error     string     `json:"error,omitempty"`
	ErrorKind Kind       `json:"error_kind,omitempty"`
	Result    any        `json:"result,omitempty"`
}

// Done reports whether the run has reached a terminal state.
func (s *Status) Done() bool {
	return s.Status.Terminal()
}

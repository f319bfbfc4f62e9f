// internal/automation/tracker.go
package automation

import (
	"sync"
	"time"
)

// Status is a point-in-time view of the automation state. Error is null until
// a run fails and is cleared when the next run begins.
type Status struct {
	Running     bool       `json:"running"`
	CurrentStep string     `json:"current_step"`
	Progress    int        `json:"progress"`
	Error       *string    `json:"error"`
	RunID       string     `json:"run_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
}

// ErrorText returns the failure message of the last run, or "".
func (s Status) ErrorText() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}

// Tracker owns the automation status. At most one run can hold it at a time.
type Tracker struct {
	mu     sync.Mutex
	status Status
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.status
	if s.StartedAt != nil {
		startedAt := *s.StartedAt
		s.StartedAt = &startedAt
	}
	if s.Error != nil {
		msg := *s.Error
		s.Error = &msg
	}
	return s
}

// Busy reports whether a run currently holds the tracker.
func (t *Tracker) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status.Running
}

// begin claims the tracker for runID. It returns false when another run holds it.
func (t *Tracker) begin(runID string, startedAt time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.Running {
		return false
	}
	t.status = Status{
		Running:   true,
		RunID:     runID,
		StartedAt: &startedAt,
	}
	return true
}

func (t *Tracker) setStep(step string, progress int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.CurrentStep = step
	t.status.Progress = progress
}

// finish releases the tracker, recording errMsg when the run failed.
func (t *Tracker) finish(errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Running = false
	if errMsg != "" {
		t.status.Error = &errMsg
	}
}

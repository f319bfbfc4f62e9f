// internal/automation/reporter.go
package automation

import "github.com/xkilldash9x/mailpilot/internal/drafter"

// MessageKind classifies chat messages pushed during a run.
type MessageKind string

const (
	MessageSystem  MessageKind = "system"
	MessageSuccess MessageKind = "success"
	MessageError   MessageKind = "error"
)

// Reporter receives the events of a run. Implementations must be safe for
// concurrent use and must not block for long.
type Reporter interface {
	// Progress reports a completed step. screenshot is a PNG and may be nil.
	Progress(step string, progress int, screenshot []byte)
	Message(kind MessageKind, text string)
	Complete(success bool, message string, content drafter.EmailContent)
}

// trackingReporter mirrors progress into the tracker before forwarding it.
type trackingReporter struct {
	Reporter
	tracker *Tracker
}

func (r trackingReporter) Progress(step string, progress int, screenshot []byte) {
	r.tracker.setStep(step, progress)
	r.Reporter.Progress(step, progress, screenshot)
}

// NopReporter discards every event.
type NopReporter struct{}

func (NopReporter) Progress(string, int, []byte)                {}
func (NopReporter) Message(MessageKind, string)                 {}
func (NopReporter) Complete(bool, string, drafter.EmailContent) {}

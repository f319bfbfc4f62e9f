// internal/realtime/events.go
package realtime

import (
	"encoding/base64"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mailpilot/internal/automation"
	"github.com/xkilldash9x/mailpilot/internal/drafter"
)

// Event names pushed to clients.
const (
	EventConnected          = "connected"
	EventStatusUpdate       = "status_update"
	EventChatMessage        = "chat_message"
	EventAutomationComplete = "automation_complete"
)

// ConnectedMessage greets every new client.
const ConnectedMessage = "Connected to Gmail Automation Agent"

const timestampLayout = "15:04:05"

type Connected struct {
	Message string `json:"message"`
}

// StatusUpdate carries one automation checkpoint.
type StatusUpdate struct {
	Step     string `json:"step"`
	Progress int    `json:"progress"`
	// Screenshot is a PNG data URI, empty when the capture failed.
	Screenshot string `json:"screenshot"`
	Timestamp  string `json:"timestamp"`
}

type ChatMessage struct {
	Type      automation.MessageKind `json:"type"`
	Message   string                 `json:"message"`
	Timestamp string                 `json:"timestamp"`
}

type AutomationComplete struct {
	Success      bool                 `json:"success"`
	Message      string               `json:"message"`
	EmailContent drafter.EmailContent `json:"email_content"`
}

// Reporter publishes automation events on a Hub.
type Reporter struct {
	hub *Hub
	now func() time.Time
}

var _ automation.Reporter = (*Reporter)(nil)

// NewReporter returns an automation.Reporter backed by hub.
func NewReporter(hub *Hub) *Reporter {
	return &Reporter{hub: hub, now: time.Now}
}

func (r *Reporter) Progress(step string, progress int, screenshot []byte) {
	r.publish(EventStatusUpdate, StatusUpdate{
		Step:       step,
		Progress:   progress,
		Screenshot: dataURI(screenshot),
		Timestamp:  r.timestamp(),
	})
}

func (r *Reporter) Message(kind automation.MessageKind, text string) {
	r.publish(EventChatMessage, ChatMessage{Type: kind, Message: text, Timestamp: r.timestamp()})
}

func (r *Reporter) Complete(success bool, message string, content drafter.EmailContent) {
	r.publish(EventAutomationComplete, AutomationComplete{Success: success, Message: message, EmailContent: content})
}

// publish drops the event once the hub has stopped.
func (r *Reporter) publish(event string, data any) {
	if err := r.hub.Broadcast(event, data); err != nil {
		r.hub.logger.Debug("Event not delivered.", zap.String("event", event), zap.Error(err))
	}
}

func (r *Reporter) timestamp() string {
	return r.now().Format(timestampLayout)
}

func dataURI(png []byte) string {
	if len(png) == 0 {
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

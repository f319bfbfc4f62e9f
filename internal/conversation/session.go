// File: internal/conversation/session.go
package conversation

import "time"

// redactedSecret stands in for the credential secret anywhere it leaves the engine.
const redactedSecret = "********"

// Context holds the fields collected from the user so far.
type Context struct {
	Username        string `json:"username,omitempty"`
	Recipient       string `json:"recipient,omitempty"`
	Gmail           string `json:"gmail,omitempty"`
	Password        string `json:"password,omitempty"`
	OriginalMessage string `json:"original_message,omitempty"`
}

// Complete reports whether every field needed for a send is present.
func (c Context) Complete() bool {
	return c.Username != "" && c.Recipient != "" && c.Gmail != "" && c.Password != ""
}

// Redacted returns a copy safe to hand back to a chat client.
func (c Context) Redacted() Context {
	if c.Password != "" {
		c.Password = redactedSecret
	}
	return c
}

// Session is the per-conversation record kept in a Store.
type Session struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Context   Context   `json:"context"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession starts a conversation that has not yet collected a name.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		State:     StateNeedUsername,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

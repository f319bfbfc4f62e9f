// File: internal/conversation/engine.go
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrSessionNotReady is returned by Consume when the session has not collected
// everything a send needs.
var ErrSessionNotReady = errors.New("conversation: session is not ready to send")

// Reply is the engine's answer to one chat message.
type Reply struct {
	Response   string    `json:"response"`
	Type       ReplyType `json:"type"`
	NeedsInput bool      `json:"needs_input"`
	// Context is only set on ready_to_send replies and never carries the secret.
	Context *Context `json:"context,omitempty"`
}

// Engine is the per-session state machine that collects a sender name, a
// recipient, a login and a secret.
type Engine struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	// mu serializes load-modify-save cycles so two turns on the same session
	// cannot interleave.
	mu sync.Mutex
}

func NewEngine(store Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		logger: logger.Named("conversation"),
		now:    time.Now,
	}
}

// Handle advances the session identified by sessionID with one message. The
// session is created on first use. Errors come only from the session store;
// unusable input is answered with a re-prompt.
func (e *Engine) Handle(ctx context.Context, sessionID, message string) (Reply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.load(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}

	from := s.State
	reply := advance(s, message)
	s.UpdatedAt = e.now()

	if err := e.store.Save(ctx, s); err != nil {
		return Reply{}, fmt.Errorf("conversation: saving session %s: %w", sessionID, err)
	}
	if from != s.State {
		e.logger.Debug("Session advanced.",
			zap.String("session_id", sessionID),
			zap.String("from", string(from)),
			zap.String("to", string(s.State)),
		)
	}
	return reply, nil
}

// Consume hands out the collected context of a ready session exactly once.
// The session drops back to idle and keeps only the sender name.
func (e *Engine) Consume(ctx context.Context, sessionID string) (Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.store.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return Context{}, ErrSessionNotReady
	}
	if err != nil {
		return Context{}, fmt.Errorf("conversation: loading session %s: %w", sessionID, err)
	}
	if s.State != StateReadyToSend {
		return Context{}, ErrSessionNotReady
	}

	collected := s.Context
	s.State = StateIdle
	s.Context = Context{Username: collected.Username}
	s.UpdatedAt = e.now()
	if err := e.store.Save(ctx, s); err != nil {
		return Context{}, fmt.Errorf("conversation: saving session %s: %w", sessionID, err)
	}
	return collected, nil
}

// Restore puts a consumed context back so the session is ready to send again.
// Callers use it when the send could not be started.
func (e *Engine) Restore(ctx context.Context, sessionID string, c Context) error {
	if !c.Complete() {
		return ErrSessionNotReady
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.load(ctx, sessionID)
	if err != nil {
		return err
	}
	s.State = StateReadyToSend
	s.Context = c
	s.UpdatedAt = e.now()
	if err := e.store.Save(ctx, s); err != nil {
		return fmt.Errorf("conversation: saving session %s: %w", sessionID, err)
	}
	return nil
}

func (e *Engine) load(ctx context.Context, sessionID string) (*Session, error) {
	s, err := e.store.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return NewSession(sessionID, e.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: loading session %s: %w", sessionID, err)
	}
	return s, nil
}

// advance applies one message to s and returns the reply. A trigger phrase
// restarts collection from any state after the name is known.
func advance(s *Session, message string) Reply {
	if s.State == StateNeedUsername {
		name := strings.TrimSpace(message)
		if !acceptableName(name) {
			return prompt(msgNameRetry, ReplyUsernameRequest)
		}
		s.Context.Username = name
		s.State = StateIdle
		return Reply{Response: fmt.Sprintf(msgWelcome, name), Type: ReplyGeneral}
	}

	if hasTrigger(message) {
		s.Context.OriginalMessage = message
		if addr, ok := FirstAddress(message); ok {
			s.Context.Recipient = addr
			s.State = StateNeedGmail
			return prompt(fmt.Sprintf(msgRecipientFromTrigger, addr), ReplyGmailRequest)
		}
		s.State = StateNeedRecipient
		return prompt(msgAskRecipient, ReplyRecipientRequest)
	}

	switch s.State {
	case StateNeedRecipient:
		addr, ok := FirstAddress(message)
		if !ok {
			return prompt(msgRecipientRetry, ReplyRecipientRequest)
		}
		s.Context.Recipient = addr
		s.State = StateNeedGmail
		return prompt(fmt.Sprintf(msgRecipientAccepted, addr), ReplyGmailRequest)

	case StateNeedGmail:
		addr, ok := FirstAddress(message)
		if !ok {
			return prompt(msgGmailRetry, ReplyGmailRequest)
		}
		s.Context.Gmail = addr
		s.State = StateNeedPassword
		return prompt(fmt.Sprintf(msgGmailAccepted, addr), ReplyPasswordRequest)

	case StateNeedPassword:
		secret := strings.TrimSpace(message)
		if secret == "" {
			return prompt(msgPasswordRetry, ReplyPasswordRequest)
		}
		s.Context.Password = secret
		s.State = StateReadyToSend
		return readyReply(s.Context)

	case StateReadyToSend:
		// Still waiting for the caller to consume; surface the same reply.
		return readyReply(s.Context)
	}

	return prompt(msgOnboarding, ReplyUsernameRequest)
}

func prompt(text string, t ReplyType) Reply {
	return Reply{Response: text, Type: t, NeedsInput: true}
}

func readyReply(c Context) Reply {
	redacted := c.Redacted()
	return Reply{
		Response: fmt.Sprintf(msgReady, c.Recipient),
		Type:     ReplyReadyToSend,
		Context:  &redacted,
	}
}

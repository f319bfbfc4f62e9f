// internal/drafter/drafter.go
package drafter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mailpilot/internal/config"
	"github.com/xkilldash9x/mailpilot/internal/llmclient"
	"github.com/xkilldash9x/mailpilot/internal/llmutil"
	"github.com/xkilldash9x/mailpilot/internal/observability"
)

// EmailContent is a drafted message.
type EmailContent struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Draft sources, reported to metrics.
const (
	SourceStructured    = "structured"
	SourceLabeled       = "labeled"
	SourceLabeledLoose  = "labeled_loose"
	SourceTemplate      = "template_inquiry"
	SourceTemplateError = "template_error"
)

const systemPrompt = "You are a professional email writing assistant."

const labeledPrompt = `You are a professional email writing assistant. Generate a professional email with subject and body (4-5 lines) based on user's request.

User Request: %s
Sender Name: %s

Format your response exactly as:
SUBJECT: [subject line]
BODY: [email body in 4-5 lines]

Make it professional, concise, and include the sender's name at the end. Use proper email etiquette.`

const structuredPrompt = `Generate a professional email with a subject and a body of 4-5 lines based on the user's request.

User Request: %s
Sender Name: %s

Respond with a JSON object with the string fields "subject" and "body". Make it professional and concise, include the sender's name at the end of the body, and use proper email etiquette.`

var errNoClient = errors.New("no generation client configured")

// Drafter turns a free-text request into an email. It never fails: every
// problem degrades to a template letter.
type Drafter struct {
	client     llmclient.Client
	structured bool
	timeout    time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// New creates a Drafter. client may be nil, in which case every draft is a
// template letter.
func New(client llmclient.Client, cfg config.DrafterConfig, logger *zap.Logger, metrics *observability.Metrics) *Drafter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Drafter{
		client:     client,
		structured: cfg.StructuredOutput,
		timeout:    cfg.Timeout,
		logger:     logger.Named("drafter"),
		metrics:    metrics,
	}
}

// Draft produces a subject and body for request, signed by senderName.
func (d *Drafter) Draft(ctx context.Context, request, senderName string) EmailContent {
	name := strings.TrimSpace(senderName)
	if name == "" {
		name = DefaultSenderName
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	content, source, err := d.generate(ctx, request, name)
	if err != nil {
		d.logger.Warn("Generation failed, using fallback letter.", zap.Error(err))
		d.metrics.ObserveDraft(SourceTemplateError)
		return communicationLetter(request, name)
	}

	content.Body = ensureSignature(content.Body, name)
	d.logger.Debug("Drafted email.", zap.String("source", source), zap.Int("body_len", len(content.Body)))
	d.metrics.ObserveDraft(source)
	return content
}

// generate walks the structured and labeled stages. An error means the model
// could not be reached; unusable answers end in the inquiry template instead.
func (d *Drafter) generate(ctx context.Context, request, name string) (EmailContent, string, error) {
	if d.client == nil {
		return EmailContent{}, "", errNoClient
	}

	if d.structured {
		raw, err := d.client.Generate(ctx, llmclient.GenerationRequest{
			SystemPrompt: systemPrompt,
			UserPrompt:   fmt.Sprintf(structuredPrompt, request, name),
			Options:      llmclient.GenerationOptions{ResponseFields: []string{"subject", "body"}},
		})
		if err != nil {
			return EmailContent{}, "", fmt.Errorf("structured request: %w", err)
		}
		if content, ok := parseStructured(raw); ok {
			return content, SourceStructured, nil
		}
		d.logger.Debug("Structured reply did not validate, asking for labeled text.")
	}

	raw, err := d.client.Generate(ctx, llmclient.GenerationRequest{
		UserPrompt: fmt.Sprintf(labeledPrompt, request, name),
	})
	if err != nil {
		return EmailContent{}, "", fmt.Errorf("labeled request: %w", err)
	}

	subject, body, stage := parseLabeled(raw)
	if subject == "" || body == "" {
		d.logger.Debug("Could not parse the labeled reply.", zap.Int("reply_len", len(raw)))
		return inquiryLetter(request, name), SourceTemplate, nil
	}
	source := SourceLabeled
	if stage == stageSecondary {
		source = SourceLabeledLoose
	}
	return EmailContent{Subject: subject, Body: body}, source, nil
}

func parseStructured(raw string) (EmailContent, bool) {
	parsed, err := llmutil.ParseJSONResponse[EmailContent](raw)
	if err != nil {
		return EmailContent{}, false
	}
	content := EmailContent{
		Subject: strings.TrimSpace(parsed.Subject),
		Body:    strings.TrimSpace(parsed.Body),
	}
	if content.Subject == "" || content.Body == "" {
		return EmailContent{}, false
	}
	return content, true
}

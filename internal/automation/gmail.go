// internal/automation/gmail.go
package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mailpilot/internal/browser"
	"github.com/xkilldash9x/mailpilot/internal/config"
	"github.com/xkilldash9x/mailpilot/internal/drafter"
)

// Page is the slice of a browser tab the send flow needs.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selectors ...browser.Selector) error
	Type(ctx context.Context, text string, selectors ...browser.Selector) error
	Location(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// PageOpener starts a fresh browser page for one run.
type PageOpener func(ctx context.Context) (Page, error)

// BrowserOpener returns a PageOpener that launches a chromedp browser.
func BrowserOpener(cfg config.BrowserConfig, findTimeout time.Duration, logger *zap.Logger) PageOpener {
	return func(ctx context.Context) (Page, error) {
		session, err := browser.NewSession(ctx, cfg, findTimeout, logger)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

// SendRequest is everything one send needs.
type SendRequest struct {
	Login     string
	Secret    string
	Recipient string
	Content   drafter.EmailContent
}

// Sender performs a send. A nil error means the message was sent.
type Sender interface {
	PerformSend(ctx context.Context, req SendRequest, report Reporter) error
}

// Progress labels, in flow order.
const (
	StepLoginPage = "Gmail login page loaded"
	StepLoginSent = "Email entered"
	StepLoggedIn  = "Logged in"
	StepInbox     = "Gmail loaded"
	StepCompose   = "Compose opened"
	StepComposed  = "Email composed"
	StepSent      = "Email sent!"
)

var (
	loginField     = []browser.Selector{"#identifierId", "//input[@type='email']"}
	loginNext      = []browser.Selector{"#identifierNext", "//div[@id='identifierNext']"}
	passwordField  = []browser.Selector{`input[name="password"]`, "//input[@type='password']"}
	passwordNext   = []browser.Selector{"#passwordNext", "//div[@id='passwordNext']"}
	composeButton  = []browser.Selector{"//div[contains(@class, 'T-I-KE') and contains(text(), 'Compose')]"}
	recipientField = []browser.Selector{"//input[@aria-label='To recipients']"}
	subjectField   = []browser.Selector{`input[name="subjectbox"]`}
	bodyField      = []browser.Selector{"//div[@role='textbox' and @contenteditable='true']"}
	sendButton     = []browser.Selector{"//div[@role='button' and contains(@aria-label, 'Send')]"}
)

const urlPollInterval = 500 * time.Millisecond

// GmailSender drives the Gmail web UI.
type GmailSender struct {
	cfg          config.AutomationConfig
	open         PageOpener
	logger       *zap.Logger
	pollInterval time.Duration
}

// NewGmailSender creates a sender that opens a page per run with open.
func NewGmailSender(cfg config.AutomationConfig, open PageOpener, logger *zap.Logger) *GmailSender {
	return &GmailSender{
		cfg:          cfg,
		open:         open,
		logger:       logger.Named("gmail"),
		pollInterval: urlPollInterval,
	}
}

type flowStep struct {
	label    string
	progress int
	settle   time.Duration
	actions  []flowAction
}

type flowAction struct {
	desc string
	do   func(ctx context.Context, page Page) error
}

func click(desc string, selectors []browser.Selector) flowAction {
	return flowAction{desc: desc, do: func(ctx context.Context, page Page) error {
		return page.Click(ctx, selectors...)
	}}
}

func typeInto(desc, text string, selectors []browser.Selector) flowAction {
	return flowAction{desc: desc, do: func(ctx context.Context, page Page) error {
		return page.Type(ctx, text, selectors...)
	}}
}

func (g *GmailSender) steps(req SendRequest) []flowStep {
	d := g.cfg.Delays
	return []flowStep{
		{StepLoginPage, 20, d.PageLoad, []flowAction{
			{desc: "open sign-in page", do: func(ctx context.Context, page Page) error {
				return page.Navigate(ctx, g.cfg.SignInURL)
			}},
		}},
		{StepLoginSent, 40, d.AfterLogin, []flowAction{
			typeInto("enter login", req.Login, loginField),
			click("submit login", loginNext),
		}},
		{StepLoggedIn, 60, d.AfterPassword, []flowAction{
			typeInto("enter password", req.Secret, passwordField),
			click("submit password", passwordNext),
		}},
		{StepInbox, 70, d.AfterInbox, []flowAction{
			{desc: "wait for inbox", do: func(ctx context.Context, page Page) error {
				return g.waitForHost(ctx, page)
			}},
		}},
		{StepCompose, 80, d.AfterCompose, []flowAction{
			click("open compose", composeButton),
		}},
		{StepComposed, 90, 0, []flowAction{
			typeInto("fill recipient", req.Recipient+kb.Tab, recipientField),
			typeInto("fill subject", req.Content.Subject, subjectField),
			typeInto("fill body", req.Content.Body, bodyField),
		}},
		{StepSent, 100, d.AfterSend, []flowAction{
			click("send", sendButton),
		}},
	}
}

// PerformSend signs in, composes and sends req. The page is always closed.
func (g *GmailSender) PerformSend(ctx context.Context, req SendRequest, report Reporter) error {
	page, err := g.open(ctx)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			g.logger.Warn("Failed to close browser page.", zap.Error(err))
		}
	}()

	for _, step := range g.steps(req) {
		for _, action := range step.actions {
			if err := action.do(ctx, page); err != nil {
				return fmt.Errorf("%s: %w", action.desc, err)
			}
		}
		if err := sleep(ctx, step.settle); err != nil {
			return fmt.Errorf("%s: %w", step.label, err)
		}
		g.checkpoint(ctx, page, report, step.label, step.progress)
	}
	return nil
}

// checkpoint reports a step with a screenshot. A failed capture still
// reports the step, just without the image.
func (g *GmailSender) checkpoint(ctx context.Context, page Page, report Reporter, label string, progress int) {
	shot, err := page.Screenshot(ctx)
	if err != nil {
		g.logger.Warn("Failed to capture screenshot.", zap.String("step", label), zap.Error(err))
		shot = nil
	}
	g.logger.Info("Automation step complete.", zap.String("step", label), zap.Int("progress", progress))
	report.Progress(label, progress, shot)
}

// waitForHost polls the page location until it contains the mail host.
func (g *GmailSender) waitForHost(ctx context.Context, page Page) error {
	waitCtx, cancel := context.WithTimeout(ctx, g.cfg.InboxTimeout)
	defer cancel()

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	var last string
	for {
		url, err := page.Location(waitCtx)
		if err == nil {
			if strings.Contains(url, g.cfg.MailHost) {
				return nil
			}
			last = url
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("timed out after %s waiting for %s (last location %q)", g.cfg.InboxTimeout, g.cfg.MailHost, last)
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

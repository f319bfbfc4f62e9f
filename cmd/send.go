// File: cmd/send.go
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mailpilot/internal/automation"
	"github.com/xkilldash9x/mailpilot/internal/conversation"
	"github.com/xkilldash9x/mailpilot/internal/drafter"
	"github.com/xkilldash9x/mailpilot/internal/observability"
)

// sendSecretEnv names the variable the send command reads the secret from.
const sendSecretEnv = "MAILPILOT_SEND_SECRET"

func newSendCmd() *cobra.Command {
	var (
		login         string
		recipient     string
		name          string
		secret        string
		headed        bool
		screenshotDir string
	)

	cmd := &cobra.Command{
		Use:   "send [request]",
		Short: "Draft an email and send it through the Gmail web UI",
		Example: `  MAILPILOT_SEND_SECRET=... mailpilot send --login me@gmail.com --recipient hr@acme.com \
      --name "Ada Lovelace" "ask about the summer internship"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}

			if secret == "" {
				secret = os.Getenv(sendSecretEnv)
			}
			if secret == "" {
				return fmt.Errorf("a secret is required: set %s or pass --secret", sendSecretEnv)
			}
			loginAddr, ok := conversation.FirstAddress(login)
			if !ok {
				return fmt.Errorf("--login must be an email address, got %q", login)
			}
			recipientAddr, ok := conversation.FirstAddress(recipient)
			if !ok {
				return fmt.Errorf("--recipient must be an email address, got %q", recipient)
			}
			if headed {
				cfg.SetBrowserHeadless(false)
			}

			ctx := cmd.Context()
			logger := observability.GetLogger()

			hist, closeHistory, err := openHistory(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeHistory()

			d := drafter.New(newGenerationClient(ctx, cfg.LLM(), logger), cfg.Drafter(), logger, nil)
			content := d.Draft(ctx, strings.Join(args, " "), name)

			opts := automation.RunnerOptions{Timeout: cfg.Automation().RunTimeout, Logger: logger}
			if hist != nil {
				opts.History = hist
			}
			reporter := &consoleReporter{out: cmd.OutOrStdout(), dir: screenshotDir, logger: logger}
			runner := automation.NewRunner(ctx, newSender(cfg, logger), reporter, opts)

			if _, err := runner.Start(automation.Job{
				SessionID: "cli-" + uuid.NewString(),
				Request: automation.SendRequest{
					Login:     loginAddr,
					Secret:    secret,
					Recipient: recipientAddr,
					Content:   content,
				},
			}); err != nil {
				return err
			}
			runner.Wait()

			if msg := runner.Status().ErrorText(); msg != "" {
				return errors.New(msg)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&login, "login", "", "Gmail address to sign in with")
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient email address")
	cmd.Flags().StringVar(&name, "name", "", "sender name used to sign the letter")
	cmd.Flags().StringVar(&secret, "secret", "", "account secret (prefer "+sendSecretEnv+")")
	cmd.Flags().BoolVar(&headed, "headed", false, "show the browser window")
	cmd.Flags().StringVar(&screenshotDir, "screenshot-dir", "", "write a PNG per step into this directory")
	_ = cmd.MarkFlagRequired("login")
	_ = cmd.MarkFlagRequired("recipient")
	return cmd
}

var unsafeFileChars = regexp.MustCompile(`[^a-z0-9]+`)

// consoleReporter prints run events for the send command and optionally
// keeps the step screenshots.
type consoleReporter struct {
	out    io.Writer
	dir    string
	logger *zap.Logger

	mu   sync.Mutex
	step int
}

var _ automation.Reporter = (*consoleReporter)(nil)

func (c *consoleReporter) Progress(step string, progress int, screenshot []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step++
	fmt.Fprintf(c.out, "[%3d%%] %s\n", progress, step)

	if c.dir == "" || len(screenshot) == 0 {
		return
	}
	slug := strings.Trim(unsafeFileChars.ReplaceAllString(strings.ToLower(step), "-"), "-")
	path := filepath.Join(c.dir, fmt.Sprintf("%02d-%s.png", c.step, slug))
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		c.logger.Warn("Failed to create screenshot directory.", zap.String("dir", c.dir), zap.Error(err))
		return
	}
	if err := os.WriteFile(path, screenshot, 0o644); err != nil {
		c.logger.Warn("Failed to write screenshot.", zap.String("path", path), zap.Error(err))
	}
}

func (c *consoleReporter) Message(kind automation.MessageKind, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, text)
}

func (c *consoleReporter) Complete(success bool, message string, content drafter.EmailContent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s\n\nSubject: %s\n\n%s\n", message, content.Subject, content.Body)
}

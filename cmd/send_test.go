// File: cmd/send_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mailpilot/internal/automation"
	"github.com/xkilldash9x/mailpilot/internal/config"
	"github.com/xkilldash9x/mailpilot/internal/drafter"
)

// -- Validation --

func TestSendCmd_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		args    []string
		wantErr string
	}{
		{
			name:    "MissingSecret",
			args:    []string{"send", "--login", "me@gmail.com", "--recipient", "hr@acme.com", "hello"},
			wantErr: "a secret is required: set " + sendSecretEnv,
		},
		{
			name:    "BadLogin",
			env:     "hunter2",
			args:    []string{"send", "--login", "me", "--recipient", "hr@acme.com", "hello"},
			wantErr: `--login must be an email address, got "me"`,
		},
		{
			name:    "BadRecipient",
			args:    []string{"send", "--secret", "hunter2", "--login", "me@gmail.com", "--recipient", "acme", "hello"},
			wantErr: `--recipient must be an email address, got "acme"`,
		},
		{
			name:    "MissingFlags",
			args:    []string{"send", "hello"},
			wantErr: "required flag(s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			if tt.env != "" {
				t.Setenv(sendSecretEnv, tt.env)
			}
			called := false
			newSender = func(config.Interface, *zap.Logger) automation.Sender {
				called = true
				return nil
			}

			_, err := execute(t, nil, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.False(t, called)
		})
	}
}

// -- Runs --

func TestSendCmd_Success(t *testing.T) {
	dir := isolate(t)
	t.Setenv(sendSecretEnv, "hunter2")
	shots := filepath.Join(dir, "shots")

	var got automation.SendRequest
	var headless bool
	newSender = func(cfg config.Interface, _ *zap.Logger) automation.Sender {
		headless = cfg.Browser().Headless
		return funcSender(func(_ context.Context, req automation.SendRequest, report automation.Reporter) error {
			got = req
			report.Progress(automation.StepLoginPage, 10, []byte("png-1"))
			report.Progress(automation.StepSent, 100, nil)
			return nil
		})
	}

	out, err := execute(t, nil, "send",
		"--login", "Me <me@gmail.com>",
		"--recipient", "hr@acme.com",
		"--name", "Ada Lovelace",
		"--headed",
		"--screenshot-dir", shots,
		"internship", "question",
	)
	require.NoError(t, err)

	assert.False(t, headless)
	assert.Equal(t, "me@gmail.com", got.Login)
	assert.Equal(t, "hr@acme.com", got.Recipient)
	assert.Equal(t, "hunter2", got.Secret)
	assert.Equal(t, "Professional Communication", got.Content.Subject)
	assert.Contains(t, got.Content.Body, "internship question")

	assert.Contains(t, out, "Starting email automation...")
	assert.Contains(t, out, "[ 10%] "+automation.StepLoginPage)
	assert.Contains(t, out, "[100%] "+automation.StepSent)
	assert.Contains(t, out, "Email sent successfully to hr@acme.com!")
	assert.Contains(t, out, "Subject: Professional Communication")
	assert.NotContains(t, out, "hunter2")

	data, err := os.ReadFile(filepath.Join(shots, "01-gmail-login-page-loaded.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-1", string(data))
	_, err = os.Stat(filepath.Join(shots, "02-email-sent.png"))
	assert.True(t, os.IsNotExist(err), "steps without a capture write no file")
}

func TestSendCmd_FailureReturnsError(t *testing.T) {
	isolate(t)
	newSender = func(config.Interface, *zap.Logger) automation.Sender {
		return funcSender(func(context.Context, automation.SendRequest, automation.Reporter) error {
			return errors.New("password field not found")
		})
	}

	out, err := execute(t, nil, "send", "--secret", "hunter2", "--login", "me@gmail.com", "--recipient", "hr@acme.com", "hello")
	require.Error(t, err)
	assert.Equal(t, "password field not found", err.Error())
	assert.Contains(t, out, "❌ Error: password field not found")
}

// -- Console Reporter --

func TestConsoleReporter(t *testing.T) {
	var out bytes.Buffer
	r := &consoleReporter{out: &out, logger: zaptest.NewLogger(t)}

	r.Progress("Compose opened", 70, []byte("ignored without a directory"))
	r.Message(automation.MessageSystem, "working")
	r.Complete(true, "done", drafter.EmailContent{Subject: "S", Body: "B"})

	assert.Equal(t, "[ 70%] Compose opened\nworking\ndone\n\nSubject: S\n\nB\n", out.String())
}

func TestConsoleReporter_UnwritableDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	var out bytes.Buffer
	r := &consoleReporter{out: &out, dir: filepath.Join(blocker, "shots"), logger: zaptest.NewLogger(t)}
	r.Progress("Logged in", 40, []byte("png"))

	assert.Equal(t, "[ 40%] Logged in\n", out.String())
}

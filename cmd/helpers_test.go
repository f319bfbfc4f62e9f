// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mailpilot/internal/automation"
	"github.com/xkilldash9x/mailpilot/internal/config"
	"github.com/xkilldash9x/mailpilot/internal/llmclient"
)

// isolate runs the test in an empty working directory with no inherited
// mailpilot or generation settings, and restores the test seams afterwards.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	for _, key := range []string{"GEMINI_API_KEY", "SECRET_KEY", "DATABASE_URL", sendSecretEnv, "MAILPILOT_LLM_API_KEY", "MAILPILOT_DATABASE_URL"} {
		unsetEnv(t, key)
	}

	origClient, origSender := newGenerationClient, newSender
	t.Cleanup(func() {
		newGenerationClient, newSender = origClient, origSender
	})
	newGenerationClient = func(context.Context, config.LLMModelConfig, *zap.Logger) llmclient.Client { return nil }
	return dir
}

// unsetEnv removes key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	orig, had := os.LookupEnv(key)
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() {
		if had {
			os.Setenv(key, orig)
		} else {
			os.Unsetenv(key)
		}
	})
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// execute runs a fresh command tree with args and returns its output.
func execute(t *testing.T, root *cobra.Command, args ...string) (string, error) {
	t.Helper()
	if root == nil {
		root = NewRootCommand()
	}
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// captureCommand captures the configuration handed to subcommands.
func captureCommand(got **config.Config) *cobra.Command {
	return &cobra.Command{
		Use: "capture",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			*got = cfg
			return err
		},
	}
}

// funcSender adapts a function to automation.Sender.
type funcSender func(ctx context.Context, req automation.SendRequest, report automation.Reporter) error

func (f funcSender) PerformSend(ctx context.Context, req automation.SendRequest, report automation.Reporter) error {
	return f(ctx, req, report)
}

// fakeClient answers every generation request with reply.
type fakeClient struct {
	reply string
}

func (f fakeClient) Generate(context.Context, llmclient.GenerationRequest) (string, error) {
	return f.reply, nil
}

func (fakeClient) Close() error { return nil }

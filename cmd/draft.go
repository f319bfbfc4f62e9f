// File: cmd/draft.go
package cmd

import (
	"fmt"
	"io"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/mailpilot/internal/drafter"
	"github.com/xkilldash9x/mailpilot/internal/observability"
)

func newDraftCmd() *cobra.Command {
	var (
		name   string
		apiKey string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "draft [request]",
		Short: "Draft an email from a free-text request and print it",
		Example: `  mailpilot draft --name "Ada Lovelace" "email hr@acme.com about a summer internship"
  mailpilot draft --json "follow up with recruiter@startup.com"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if apiKey != "" {
				cfg.SetLLMAPIKey(apiKey)
			}
			logger := observability.GetLogger()

			client := newGenerationClient(cmd.Context(), cfg.LLM(), logger)
			d := drafter.New(client, cfg.Drafter(), logger, nil)
			content := d.Draft(cmd.Context(), strings.Join(args, " "), name)
			return printDraft(cmd.OutOrStdout(), content, asJSON)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "sender name used to sign the letter")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "generation API key (overrides llm.api_key)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the draft as JSON")
	return cmd
}

func printDraft(w io.Writer, content drafter.EmailContent, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(content)
	}
	_, err := fmt.Fprintf(w, "Subject: %s\n\n%s\n", content.Subject, content.Body)
	return err
}

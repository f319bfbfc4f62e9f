// internal/llmclient/client.go
package llmclient

import "context"

// GenerationOptions tunes a single generation call.
type GenerationOptions struct {
	// Temperature overrides the configured temperature when positive.
	Temperature float32
	// ForceJSONFormat asks the model for a JSON document instead of prose.
	ForceJSONFormat bool
	// ResponseFields constrains a JSON reply to an object whose listed
	// properties are all required strings. Implies ForceJSONFormat.
	ResponseFields []string
}

// GenerationRequest is one prompt sent to the model.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Options      GenerationOptions
}

// Client is a text-generation backend.
type Client interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	Close() error
}

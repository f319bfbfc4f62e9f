// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/mailpilot/internal/config"
)

// contentGenerator is the slice of the genai Models service the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements Client on top of the Gemini API.
type GeminiClient struct {
	generator contentGenerator
	config    config.LLMModelConfig
	logger    *zap.Logger
}

var _ Client = (*GeminiClient)(nil)

// NewGeminiClient initializes the genai SDK client for the Gemini API backend.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions.BaseURL = cfg.Endpoint
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newGeminiClient(client.Models, cfg, logger), nil
}

func newGeminiClient(generator contentGenerator, cfg config.LLMModelConfig, logger *zap.Logger) *GeminiClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiClient{
		generator: generator,
		config:    cfg,
		logger:    logger.Named("llm_client.gemini"),
	}
}

// Generate sends one prompt and returns the model's text. There is no retry;
// the caller decides what a failure means.
func (c *GeminiClient) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	if c.config.APITimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.APITimeout)
		defer cancel()
	}

	startTime := time.Now()
	resp, err := c.generator.GenerateContent(ctx, c.config.Model, genai.Text(req.UserPrompt), c.buildConfig(req))
	duration := time.Since(startTime)
	if err != nil {
		c.logger.Warn("Gemini request failed.", zap.Duration("duration", duration), zap.Error(err))
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return "", err
	}

	fields := []zap.Field{zap.Duration("duration", duration)}
	if usage := resp.UsageMetadata; usage != nil {
		fields = append(fields,
			zap.Int("prompt_tokens", int(usage.PromptTokenCount)),
			zap.Int("completion_tokens", int(usage.CandidatesTokenCount)),
			zap.Int("total_tokens", int(usage.TotalTokenCount)),
		)
	}
	c.logger.Info("LLM generation complete (Gemini)", fields...)
	return text, nil
}

// Close is a no-op; the genai client holds no resources that need releasing.
func (c *GeminiClient) Close() error {
	return nil
}

func (c *GeminiClient) buildConfig(req GenerationRequest) *genai.GenerateContentConfig {
	temperature := c.config.Temperature
	if req.Options.Temperature > 0 {
		temperature = req.Options.Temperature
	}

	gc := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temperature),
		MaxOutputTokens: int32(c.config.MaxTokens),
	}
	if c.config.TopP > 0 {
		gc.TopP = genai.Ptr(c.config.TopP)
	}
	if c.config.TopK > 0 {
		gc.TopK = genai.Ptr(float32(c.config.TopK))
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	if req.Options.ForceJSONFormat || len(req.Options.ResponseFields) > 0 {
		gc.ResponseMIMEType = "application/json"
	}
	if len(req.Options.ResponseFields) > 0 {
		gc.ResponseSchema = objectSchema(req.Options.ResponseFields)
	}
	return gc
}

// objectSchema describes an object whose fields are all required strings,
// in the given order.
func objectSchema(fields []string) *genai.Schema {
	props := make(map[string]*genai.Schema, len(fields))
	for _, f := range fields {
		props[f] = &genai.Schema{Type: genai.TypeString}
	}
	return &genai.Schema{
		Type:             genai.TypeObject,
		Properties:       props,
		Required:         append([]string(nil), fields...),
		PropertyOrdering: append([]string(nil), fields...),
	}
}

// responseText joins the non-thought text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("gemini API returned no candidates")
	}

	candidate := resp.Candidates[0]
	var sb strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			sb.WriteString(part.Text)
		}
	}

	if sb.Len() == 0 {
		switch candidate.FinishReason {
		case genai.FinishReasonSafety, genai.FinishReasonBlocklist:
			return "", fmt.Errorf("gemini API blocked the request (Reason: %s)", candidate.FinishReason)
		}
		return "", fmt.Errorf("gemini API returned empty content parts (Reason: %s)", candidate.FinishReason)
	}
	return sb.String(), nil
}

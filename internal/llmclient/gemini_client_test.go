package llmclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// createTestRequest provides a standard generation request structure.
func createTestRequest() GenerationRequest {
	return GenerationRequest{
		SystemPrompt: "System prompt instructions.",
		UserPrompt:   "User query.",
	}
}

// -- Test Cases: Initialization --

func TestNewGeminiClient_MissingAPIKey(t *testing.T) {
	cfg := getValidLLMConfig()
	cfg.APIKey = ""

	client, err := NewGeminiClient(context.Background(), cfg, nil)
	assert.Nil(t, client)
	assert.ErrorContains(t, err, "gemini API key is required")
}

func TestNewGeminiClient_Success(t *testing.T) {
	client, err := NewGeminiClient(context.Background(), getValidLLMConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, client.generator)
	assert.NoError(t, client.Close())
}

// -- Test Cases: Request Building --

func TestBuildConfig_Standard(t *testing.T) {
	client := newGeminiClient(&mockGenerator{}, getValidLLMConfig(), nil)

	gc := client.buildConfig(createTestRequest())

	require.NotNil(t, gc.Temperature)
	assert.Equal(t, float32(0.7), *gc.Temperature)
	require.NotNil(t, gc.TopP)
	assert.Equal(t, float32(0.9), *gc.TopP)
	require.NotNil(t, gc.TopK)
	assert.Equal(t, float32(50), *gc.TopK)
	assert.Equal(t, int32(1024), gc.MaxOutputTokens)
	require.NotNil(t, gc.SystemInstruction)
	assert.Equal(t, "System prompt instructions.", gc.SystemInstruction.Parts[0].Text)
	assert.Empty(t, gc.ResponseMIMEType)
	assert.Nil(t, gc.ResponseSchema)
}

func TestBuildConfig_TemperatureOverride(t *testing.T) {
	client := newGeminiClient(&mockGenerator{}, getValidLLMConfig(), nil)
	req := createTestRequest()
	req.Options.Temperature = 0.2

	gc := client.buildConfig(req)
	assert.Equal(t, float32(0.2), *gc.Temperature)
}

func TestBuildConfig_ForceJSON(t *testing.T) {
	client := newGeminiClient(&mockGenerator{}, getValidLLMConfig(), nil)
	req := createTestRequest()
	req.Options.ForceJSONFormat = true

	gc := client.buildConfig(req)
	assert.Equal(t, "application/json", gc.ResponseMIMEType)
	assert.Nil(t, gc.ResponseSchema)
}

func TestBuildConfig_ResponseFields(t *testing.T) {
	client := newGeminiClient(&mockGenerator{}, getValidLLMConfig(), nil)
	req := createTestRequest()
	req.Options.ResponseFields = []string{"subject", "body"}

	gc := client.buildConfig(req)
	assert.Equal(t, "application/json", gc.ResponseMIMEType)
	require.NotNil(t, gc.ResponseSchema)
	assert.Equal(t, genai.TypeObject, gc.ResponseSchema.Type)
	assert.Equal(t, []string{"subject", "body"}, gc.ResponseSchema.Required)
	assert.Equal(t, []string{"subject", "body"}, gc.ResponseSchema.PropertyOrdering)
	require.Contains(t, gc.ResponseSchema.Properties, "subject")
	assert.Equal(t, genai.TypeString, gc.ResponseSchema.Properties["subject"].Type)
}

// -- Test Cases: Generate --

func TestGenerate_Success(t *testing.T) {
	logger, logs := setupTestLogger(t)
	gen := &mockGenerator{}
	client := newGeminiClient(gen, getValidLLMConfig(), logger)

	gen.On("GenerateContent", mock.Anything, "test-model", mock.MatchedBy(func(c []*genai.Content) bool {
		return len(c) == 1 && c[0].Parts[0].Text == "User query."
	}), mock.Anything).Return(textResponse("Hello ", "world"), nil).Once()

	out, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, "Hello world", out)
	gen.AssertExpectations(t)

	entries := logs.FilterMessage("LLM generation complete (Gemini)").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(100), entries[0].ContextMap()["prompt_tokens"])
	assert.Equal(t, int64(50), entries[0].ContextMap()["completion_tokens"])
}

func TestGenerate_SkipsThoughtParts(t *testing.T) {
	gen := &mockGenerator{}
	client := newGeminiClient(gen, getValidLLMConfig(), nil)

	resp := textResponse("answer")
	resp.Candidates[0].Content.Parts = append([]*genai.Part{{Text: "thinking...", Thought: true}}, resp.Candidates[0].Content.Parts...)
	gen.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(resp, nil)

	out, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		err     error
		wantErr string
	}{
		{
			name:    "transport failure",
			err:     errors.New("dial tcp: connection refused"),
			wantErr: "gemini generate content: dial tcp: connection refused",
		},
		{
			name:    "no candidates",
			resp:    &genai.GenerateContentResponse{},
			wantErr: "returned no candidates",
		},
		{
			name: "blocked",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
				{FinishReason: genai.FinishReasonSafety},
			}},
			wantErr: "blocked the request (Reason: SAFETY)",
		},
		{
			name: "empty parts",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
				{Content: &genai.Content{}, FinishReason: genai.FinishReasonMaxTokens},
			}},
			wantErr: "empty content parts (Reason: MAX_TOKENS)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &mockGenerator{}
			client := newGeminiClient(gen, getValidLLMConfig(), nil)
			gen.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(tt.resp, tt.err).Once()

			_, err := client.Generate(context.Background(), createTestRequest())
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestGenerate_AppliesTimeout(t *testing.T) {
	gen := &mockGenerator{}
	client := newGeminiClient(gen, getValidLLMConfig(), nil)

	gen.On("GenerateContent", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), mock.Anything, mock.Anything, mock.Anything).Return(textResponse("ok"), nil).Once()

	_, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	gen.AssertExpectations(t)
}

// TestGenerate_OverHTTP drives the real SDK against a stub Gemini endpoint.
func TestGenerate_OverHTTP(t *testing.T) {
	var gotPath, gotKey, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"candidates": [{
				"content": {"role": "model", "parts": [{"text": "{\"subject\":\"Hi\",\"body\":\"There\"}"}]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15}
		}`)
	}))
	t.Cleanup(server.Close)

	cfg := getValidLLMConfig()
	cfg.Endpoint = server.URL
	client, err := NewClient(context.Background(), cfg, nil)
	require.NoError(t, err)

	req := createTestRequest()
	req.Options.ResponseFields = []string{"subject", "body"}
	out, err := client.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, `{"subject":"Hi","body":"There"}`, out)
	assert.Contains(t, gotPath, "test-model:generateContent")
	assert.Equal(t, "test-api-key", gotKey)
	assert.Contains(t, gotBody, "application/json")
	assert.Contains(t, gotBody, "User query.")
}

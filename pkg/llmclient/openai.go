package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// OpenAIGenerator calls an OpenAI-compatible chat completions endpoint
// (model.py's ModelClient.generate_text: a single user-role message,
// temperature/top_p/max_tokens passthrough). When no API key is
// configured it falls back to a deterministic stub string rather than
// failing, so local runs work without credentials.
type OpenAIGenerator struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewOpenAIGeneratorFromEnv builds a generator from OPENAI_API_KEY and
// the optional OPENAI_BASE_URL override (for OpenAI-compatible gateways).
func NewOpenAIGeneratorFromEnv() *OpenAIGenerator {
	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIGenerator{
		BaseURL: baseURL,
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Seed        *int64        `json:"seed,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// stubResponse is returned when no API key is configured, so a fresh
// checkout can still exercise the full pipeline end to end.
const stubResponse = `{"overall_score": 0, "dimensions": {}, "notes": "OPENAI_API_KEY not set; returning deterministic stub output."}`

func (g *OpenAIGenerator) GenerateText(ctx context.Context, prompt string, spec GenerationSpec) (string, error) {
	if g.APIKey == "" {
		return stubResponse, nil
	}

	reqBody := chatCompletionRequest{
		Model:       spec.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: spec.Temperature,
		TopP:        spec.TopP,
		MaxTokens:   spec.MaxOutputTokens,
		Seed:        spec.Seed,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("llmclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llmclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.APIKey)

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("llmclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llmclient: read response: %w", err)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("llmclient: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llmclient: provider error: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llmclient: provider returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llmclient: provider returned no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}

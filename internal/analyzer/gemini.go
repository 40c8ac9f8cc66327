package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/aniiisha-23/alertiq/internal/config"
)

// GeminiOracle implements Oracle against the Gemini API.
type GeminiOracle struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

// NewGeminiOracle creates a Gemini-backed oracle from configuration.
func NewGeminiOracle(ctx context.Context, cfg *config.GeminiConfig) (*GeminiOracle, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	m := client.GenerativeModel(cfg.Model)

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}

	return &GeminiOracle{client: client, model: m, timeout: timeout}, nil
}

// Complete sends the prompt and returns the concatenated text parts of
// the first candidate reply.
func (o *GeminiOracle) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty reply from model")
	}

	var reply string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			reply += string(text)
		}
	}
	if reply == "" {
		return "", fmt.Errorf("reply contains no text parts")
	}
	return reply, nil
}

// Close releases the underlying client connection.
func (o *GeminiOracle) Close() error {
	return o.client.Close()
}

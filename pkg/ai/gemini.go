package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiConfig defines configuration options for the Gemini grader.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
}

// GeminiGrader grades through Gemini with a JSON response schema.
type GeminiGrader struct {
	client *genai.Client
	cfg    GeminiConfig
}

// NewGeminiGrader creates a Gemini client. Close must be called on shutdown.
func NewGeminiGrader(ctx context.Context, cfg GeminiConfig) (*GeminiGrader, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiGrader{client: client, cfg: cfg}, nil
}

// Name identifies the provider in logs and metrics.
func (g *GeminiGrader) Name() string {
	return "gemini"
}

// Grade sends the prompt with the grading schema attached.
func (g *GeminiGrader) Grade(ctx context.Context, prompt string) (Response, error) {
	model := g.client.GenerativeModel(g.cfg.Model)
	model.SetTemperature(g.cfg.Temperature)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = geminiGradingSchema()
	model.SystemInstruction = genai.NewUserContent(genai.Text(graderSystemPrompt))

	response := Response{Provider: g.Name(), Model: g.cfg.Model}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return response, fmt.Errorf("gemini grade: %w", err)
	}

	text, err := extractGeminiText(resp)
	if err != nil {
		return response, schemaViolation(g.Name(), "%v", err)
	}
	response.Raw = text

	grading, err := DecodeGrading(g.Name(), text)
	if err != nil {
		return response, err
	}

	response.Grading = grading
	return response, nil
}

// Close releases resources held by the client.
func (g *GeminiGrader) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func extractGeminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonMaxTokens {
		return "", fmt.Errorf("response truncated at max tokens")
	}
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}

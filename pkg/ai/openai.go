package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig defines configuration options for the OpenAI grader.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
}

// OpenAIGrader grades through the chat completion API with a strict json_schema response format.
type OpenAIGrader struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIGrader builds a new grader using the provided configuration.
func NewOpenAIGrader(cfg OpenAIConfig) (*OpenAIGrader, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}

	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIGrader{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
	}, nil
}

// Name identifies the provider in logs and metrics.
func (g *OpenAIGrader) Name() string {
	return "openai"
}

// Grade sends the compiled prompt and decodes the constrained response.
func (g *OpenAIGrader) Grade(ctx context.Context, prompt string) (Response, error) {
	request := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: graderSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "grading_response",
				Schema: json.RawMessage(GradingSchema),
				Strict: true,
			},
		},
	}

	response := Response{Provider: g.Name(), Model: g.cfg.Model}

	resp, err := g.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return response, fmt.Errorf("openai grade: %w", err)
	}

	if len(resp.Choices) == 0 {
		return response, fmt.Errorf("openai grade: no choices returned")
	}

	choice := resp.Choices[0]
	response.Raw = choice.Message.Content

	if choice.Message.Refusal != "" {
		response.Raw = choice.Message.Refusal
		return response, schemaViolation(g.Name(), "model refused: %s", truncate(choice.Message.Refusal, 200))
	}
	if choice.FinishReason == openai.FinishReasonLength {
		return response, schemaViolation(g.Name(), "response truncated at max tokens")
	}

	grading, err := DecodeGrading(g.Name(), strings.TrimSpace(choice.Message.Content))
	if err != nil {
		return response, err
	}

	response.Grading = grading
	return response, nil
}

const graderSystemPrompt = "You are an automated exercise grader. Respond only with a JSON object that matches the provided schema."

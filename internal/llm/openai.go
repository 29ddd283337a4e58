package llm

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"
)

// OpenAICaller talks to OpenAI or any server exposing the same chat
// completions API (Ollama, vLLM).
type OpenAICaller struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func NewOpenAICaller(cfg Config) *OpenAICaller {
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	return &OpenAICaller{
		client:    openai.NewClientWithConfig(conf),
		model:     modelOrDefault(cfg.Model, DefaultOpenAIModel),
		maxTokens: cfg.MaxTokens,
	}
}

func (o *OpenAICaller) ModelName() string { return o.model }

func (o *OpenAICaller) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:      o.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

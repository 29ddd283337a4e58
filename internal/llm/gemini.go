package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type GeminiCaller struct {
	client *genai.Client
	model  string
	tokens int32
}

func NewGeminiCaller(ctx context.Context, cfg Config) (*GeminiCaller, error) {
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GeminiCaller{
		client: client,
		model:  modelOrDefault(cfg.Model, DefaultGeminiModel),
		tokens: int32(cfg.MaxTokens),
	}, nil
}

func (g *GeminiCaller) ModelName() string { return g.model }

func (g *GeminiCaller) Close() error { return g.client.Close() }

func (g *GeminiCaller) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0)
	if g.tokens > 0 {
		model.SetMaxOutputTokens(g.tokens)
	}
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String(), nil
}

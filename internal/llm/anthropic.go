package llm

import (
	"context"
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// maxPauseTurns bounds how often a paused server-tool turn is resumed.
const maxPauseTurns = 3

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicCaller grounds its answers with Anthropic's server-side web search
// tool unless cfg.WebSearchMaxUses is negative.
type AnthropicCaller struct {
	messages  AnthropicMessager
	model     string
	maxTokens int64
	maxUses   int64
}

func NewAnthropicCaller(cfg Config) *AnthropicCaller {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	c := anthropic.NewClient(opts...)
	return NewAnthropicCallerWithMessager(&c.Messages, cfg)
}

func NewAnthropicCallerWithMessager(m AnthropicMessager, cfg Config) *AnthropicCaller {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	maxUses := cfg.WebSearchMaxUses
	if maxUses == 0 {
		maxUses = DefaultWebSearchMaxUses
	}
	return &AnthropicCaller{
		messages:  m,
		model:     modelOrDefault(cfg.Model, DefaultAnthropicModel),
		maxTokens: int64(maxTokens),
		maxUses:   int64(max(maxUses, 0)),
	}
}

func (a *AnthropicCaller) ModelName() string { return a.model }

func (a *AnthropicCaller) Grounded() bool { return a.maxUses > 0 }

func (a *AnthropicCaller) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(0),
	}
	if a.Grounded() {
		params.Tools = []anthropic.ToolUnionParam{{
			OfWebSearchTool20250305: &anthropic.WebSearchTool20250305Param{MaxUses: anthropic.Int(a.maxUses)},
		}}
	}

	for turn := 0; ; turn++ {
		resp, err := a.messages.New(ctx, params)
		if err != nil {
			return "", err
		}
		if resp.StopReason != anthropic.StopReasonPauseTurn {
			return finalText(resp.Content), nil
		}
		if turn == maxPauseTurns {
			return "", errors.New("anthropic web search did not finish")
		}
		params.Messages = append(params.Messages, resp.ToParam())
	}
}

// finalText joins the text blocks written after the last server tool block,
// which is where the model puts its answer once searching is done.
func finalText(content []anthropic.ContentBlockUnion) string {
	start := 0
	for i, b := range content {
		if b.Type == "server_tool_use" || b.Type == "web_search_tool_result" {
			start = i + 1
		}
	}
	var sb strings.Builder
	for _, b := range content[start:] {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

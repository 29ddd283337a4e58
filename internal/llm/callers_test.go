package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

type mockMessager struct {
	response *anthropic.Message
	err      error
	params   anthropic.MessageNewParams
}

func (m *mockMessager) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	m.params = params
	return m.response, m.err
}

func TestAnthropicCallerJoinsTextBlocks(t *testing.T) {
	mock := &mockMessager{response: &anthropic.Message{Content: []anthropic.ContentBlockUnion{
		{Type: "text", Text: `{"display_name":`},
		{Type: "thinking"},
		{Type: "text", Text: `"Opus One"}`},
	}}}
	c := NewAnthropicCallerWithMessager(mock, Config{Model: "claude-test"})

	got, err := c.GenerateJSON(context.Background(), "identify this wine")
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if got != `{"display_name":"Opus One"}` {
		t.Fatalf("unexpected text %q", got)
	}
	if c.ModelName() != "claude-test" || string(mock.params.Model) != "claude-test" {
		t.Fatalf("model not propagated: %q", mock.params.Model)
	}
	if mock.params.MaxTokens != DefaultMaxTokens {
		t.Fatalf("max tokens=%d", mock.params.MaxTokens)
	}
	if len(mock.params.System) != 1 || mock.params.System[0].Text != systemPrompt {
		t.Fatalf("system prompt missing")
	}
}

func TestAnthropicCallerPropagatesErrors(t *testing.T) {
	mock := &mockMessager{err: errors.New("status 529")}
	c := NewAnthropicCallerWithMessager(mock, Config{})
	if _, err := c.GenerateJSON(context.Background(), "p"); err == nil {
		t.Fatal("expected error")
	}
	if c.ModelName() != DefaultAnthropicModel {
		t.Fatalf("default model=%q", c.ModelName())
	}
}

type sequenceMessager struct {
	responses []*anthropic.Message
	calls     []anthropic.MessageNewParams
}

func (m *sequenceMessager) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	m.calls = append(m.calls, params)
	i := len(m.calls) - 1
	if i >= len(m.responses) {
		return nil, errors.New("no more responses")
	}
	return m.responses[i], nil
}

func decodeMessage(t *testing.T, raw string) *anthropic.Message {
	t.Helper()
	var msg anthropic.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return &msg
}

func TestAnthropicCallerAttachesWebSearchTool(t *testing.T) {
	mock := &mockMessager{response: &anthropic.Message{Content: []anthropic.ContentBlockUnion{{Type: "text", Text: `{}`}}}}
	c := NewAnthropicCallerWithMessager(mock, Config{})
	if !c.Grounded() || !Grounded(c) {
		t.Fatal("expected grounded caller by default")
	}
	if _, err := c.GenerateJSON(context.Background(), "p"); err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if len(mock.params.Tools) != 1 || mock.params.Tools[0].OfWebSearchTool20250305 == nil {
		t.Fatalf("web search tool not attached: %+v", mock.params.Tools)
	}
	if got := mock.params.Tools[0].OfWebSearchTool20250305.MaxUses.Value; got != DefaultWebSearchMaxUses {
		t.Fatalf("max uses=%d", got)
	}

	off := &mockMessager{response: mock.response}
	c = NewAnthropicCallerWithMessager(off, Config{WebSearchMaxUses: -1})
	if c.Grounded() {
		t.Fatal("negative max uses should disable search")
	}
	if _, err := c.GenerateJSON(context.Background(), "p"); err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if len(off.params.Tools) != 0 {
		t.Fatalf("unexpected tools: %+v", off.params.Tools)
	}
}

func TestAnthropicCallerReturnsTextAfterSearch(t *testing.T) {
	mock := &mockMessager{response: &anthropic.Message{Content: []anthropic.ContentBlockUnion{
		{Type: "text", Text: "Let me look that up."},
		{Type: "server_tool_use", ID: "srvtoolu_1", Name: "web_search"},
		{Type: "web_search_tool_result", ToolUseID: "srvtoolu_1"},
		{Type: "text", Text: `{"display_name":"Opus One",`},
		{Type: "text", Text: `"confidence":90}`},
	}}}
	c := NewAnthropicCallerWithMessager(mock, Config{})
	got, err := c.GenerateJSON(context.Background(), "identify")
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if got != `{"display_name":"Opus One","confidence":90}` {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestAnthropicCallerResumesPausedTurn(t *testing.T) {
	paused := decodeMessage(t, `{"id":"msg_1","type":"message","role":"assistant","model":"m","stop_reason":"pause_turn",
		"content":[{"type":"server_tool_use","id":"srvtoolu_1","name":"web_search","input":{"query":"opus one 2018 price"}}],
		"usage":{"input_tokens":1,"output_tokens":1}}`)
	done := decodeMessage(t, `{"id":"msg_2","type":"message","role":"assistant","model":"m","stop_reason":"end_turn",
		"content":[{"type":"text","text":"{\"confidence\":80}"}],
		"usage":{"input_tokens":1,"output_tokens":1}}`)
	mock := &sequenceMessager{responses: []*anthropic.Message{paused, done}}
	c := NewAnthropicCallerWithMessager(mock, Config{})

	got, err := c.GenerateJSON(context.Background(), "identify")
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if got != `{"confidence":80}` {
		t.Fatalf("unexpected text %q", got)
	}
	if len(mock.calls) != 2 {
		t.Fatalf("calls=%d", len(mock.calls))
	}
	resumed := mock.calls[1].Messages
	if len(resumed) != 2 || resumed[1].Role != anthropic.MessageParamRoleAssistant {
		t.Fatalf("paused turn not sent back: %+v", resumed)
	}
}

func TestAnthropicCallerGivesUpOnEndlessPause(t *testing.T) {
	paused := decodeMessage(t, `{"id":"msg_1","type":"message","role":"assistant","model":"m","stop_reason":"pause_turn",
		"content":[{"type":"server_tool_use","id":"srvtoolu_1","name":"web_search","input":{}}],
		"usage":{"input_tokens":1,"output_tokens":1}}`)
	mock := &sequenceMessager{responses: []*anthropic.Message{paused, paused, paused, paused, paused}}
	c := NewAnthropicCallerWithMessager(mock, Config{})
	if _, err := c.GenerateJSON(context.Background(), "identify"); err == nil {
		t.Fatal("expected error")
	}
	if len(mock.calls) != maxPauseTurns+1 {
		t.Fatalf("calls=%d", len(mock.calls))
	}
}

func TestGroundedProviders(t *testing.T) {
	if Grounded(NewOpenAICaller(Config{APIKey: "k"})) {
		t.Fatal("openai caller has no web search tool")
	}
	if Grounded(nil) {
		t.Fatal("nil is not grounded")
	}
	if !NewExecutor(NewAnthropicCallerWithMessager(&mockMessager{}, Config{}), zerolog.Nop()).Grounded() {
		t.Fatal("executor should report its caller's grounding")
	}
}

func TestOpenAICallerAgainstCompatibleServer(t *testing.T) {
	var gotReq struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		ResponseFormat struct {
			Type string `json:"type"`
		} `json:"response_format"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("authorization=%q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","model":"local","choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewOpenAICaller(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "local"})
	got, err := c.GenerateJSON(context.Background(), "hello")
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if got != `{"ok":true}` {
		t.Fatalf("unexpected content %q", got)
	}
	if gotReq.Model != "local" || len(gotReq.Messages) != 2 || gotReq.Messages[1].Content != "hello" {
		t.Fatalf("unexpected request %+v", gotReq)
	}
	if gotReq.ResponseFormat.Type != "json_object" {
		t.Fatalf("response_format=%q", gotReq.ResponseFormat.Type)
	}
}

func TestNewCaller(t *testing.T) {
	if _, err := NewCaller(context.Background(), Config{Provider: "anthropic"}); err == nil {
		t.Fatal("expected missing key error")
	}
	if _, err := NewCaller(context.Background(), Config{Provider: "palm", APIKey: "k"}); err == nil {
		t.Fatal("expected unsupported provider error")
	}
	c, err := NewCaller(context.Background(), Config{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewCaller: %v", err)
	}
	if _, ok := c.(*AnthropicCaller); !ok {
		t.Fatalf("default provider gave %T", c)
	}
	c, err = NewCaller(context.Background(), Config{Provider: "OpenAI", APIKey: "k"})
	if err != nil {
		t.Fatalf("NewCaller: %v", err)
	}
	if c.ModelName() != DefaultOpenAIModel {
		t.Fatalf("model=%q", c.ModelName())
	}
}

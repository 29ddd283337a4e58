package llm

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
)

type fakeCaller struct {
	responses []string
	errs      []error
	prompts   []string
}

func (f *fakeCaller) GenerateJSON(_ context.Context, prompt string) (string, error) {
	i := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", nil
}

func (f *fakeCaller) ModelName() string { return "test-model" }

func newTestExecutor(c Caller) (*Executor, *[]time.Duration) {
	var slept []time.Duration
	e := NewExecutor(c, zerolog.Nop())
	e.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return e, &slept
}

func TestExecutorAcceptsMarkdownFences(t *testing.T) {
	e, _ := newTestExecutor(&fakeCaller{responses: []string{"```json\n{\"ok\":true}\n```"}})
	var out struct {
		OK bool `json:"ok"`
	}
	m, err := e.Run(context.Background(), "test", "prompt", &out, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.OK || m.Attempts != 1 {
		t.Fatalf("ok=%v attempts=%d", out.OK, m.Attempts)
	}
}

func TestExecutorRetriesValidationWithFeedback(t *testing.T) {
	c := &fakeCaller{responses: []string{`{"score":2}`, `{"score":1}`}}
	e, _ := newTestExecutor(c)
	var out struct {
		Score int `json:"score"`
	}
	m, err := e.Run(context.Background(), "test", "prompt", &out, func() error {
		if out.Score != 1 {
			return errors.New("score must be 1")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m != (AttemptMetrics{Attempts: 2, ContentRetries: 1}) {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if len(c.prompts) != 2 || !strings.Contains(c.prompts[1], "score must be 1") {
		t.Fatalf("feedback not sent: %q", c.prompts)
	}
}

func TestExecutorFailsAfterThreeAttempts(t *testing.T) {
	e, _ := newTestExecutor(&fakeCaller{responses: []string{"not-json", "", "still not"}})
	var out struct{}
	m, err := e.Run(context.Background(), "test", "prompt", &out, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if m.Attempts != 3 {
		t.Fatalf("attempts=%d", m.Attempts)
	}
}

func TestExecutorRetriesTransientTransportErrors(t *testing.T) {
	c := &fakeCaller{
		errs:      []error{errors.New("POST /v1/messages: status 529 overloaded"), fmt.Errorf("wrap: %w", context.DeadlineExceeded)},
		responses: []string{"", "", `{"ok":true}`},
	}
	e, slept := newTestExecutor(c)
	var out struct {
		OK bool `json:"ok"`
	}
	m, err := e.Run(context.Background(), "test", "prompt", &out, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.Attempts != 3 {
		t.Fatalf("attempts=%d", m.Attempts)
	}
	if !reflect.DeepEqual(*slept, []time.Duration{time.Second, 2 * time.Second}) {
		t.Fatalf("slept %v", *slept)
	}
}

func TestExecutorDoesNotRetryClientErrors(t *testing.T) {
	c := &fakeCaller{errs: []error{errors.New("status code: 401 unauthorized")}}
	e, slept := newTestExecutor(c)
	var out struct{}
	if _, err := e.Run(context.Background(), "test", "prompt", &out, nil); err == nil {
		t.Fatal("expected error")
	}
	if len(c.prompts) != 1 || len(*slept) != 0 {
		t.Fatalf("retried client error: prompts=%d slept=%v", len(c.prompts), *slept)
	}
}

func TestExecutorWithoutCaller(t *testing.T) {
	e := NewExecutor(nil, zerolog.Nop())
	var out struct{}
	if _, err := e.Run(context.Background(), "test", "prompt", &out, nil); err == nil {
		t.Fatal("expected error")
	}
	if e.Grounded() {
		t.Fatal("executor without caller is not grounded")
	}
}

func TestClassifyTransportError(t *testing.T) {
	cases := []struct {
		err  error
		want failureClass
	}{
		{errors.New("status 429 too many requests"), failureRateLimit},
		{errors.New("status=502"), failureServer},
		{errors.New("status code: 400"), failureClient},
		{context.DeadlineExceeded, failureTimeout},
		{errors.New("connection reset by peer"), failureServer},
		{fmt.Errorf("chat: %w", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}), failureRateLimit},
		{&openai.RequestError{HTTPStatusCode: 401, Err: errors.New("unauthorized")}, failureClient},
		{&googleapi.Error{Code: 503, Message: "unavailable"}, failureServer},
		{&googleapi.Error{Code: 403, Message: "forbidden"}, failureClient},
	}
	for _, tc := range cases {
		if got := classifyTransportError(tc.err); got != tc.want {
			t.Fatalf("classify(%v)=%s want %s", tc.err, got, tc.want)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	want := map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 9: 4 * time.Second}
	for attempt, d := range want {
		if got := backoffDelay(attempt); got != d {
			t.Fatalf("backoffDelay(%d)=%v want %v", attempt, got, d)
		}
	}
}

func TestStripCodeFences(t *testing.T) {
	for _, in := range []string{"```json\n{\"a\":1}\n```", "```\n{\"a\":1}\n```", `  {"a":1} `} {
		if got := stripCodeFences(in); got != `{"a":1}` {
			t.Fatalf("stripCodeFences(%q)=%q", in, got)
		}
	}
}

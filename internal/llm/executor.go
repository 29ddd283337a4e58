package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/joelkehle/winelist-scanner/internal/observability"
)

const maxAttempts = 3

var codeFenceRe = regexp.MustCompile("(?s)^```[A-Za-z]*\\s*(.*?)\\s*```$")

type AttemptMetrics struct {
	Attempts       int
	ContentRetries int
}

// Executor runs a prompt until the model returns JSON that decodes into out
// and passes validate. Rejected content is retried with corrective feedback
// appended to the prompt; transient transport failures after a backoff.
type Executor struct {
	caller Caller
	log    zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewExecutor(caller Caller, log zerolog.Logger) *Executor {
	return &Executor{caller: caller, log: log, sleep: sleepCtx}
}

func (e *Executor) ModelName() string {
	if e == nil || e.caller == nil {
		return ""
	}
	return e.caller.ModelName()
}

func (e *Executor) Grounded() bool {
	return e != nil && Grounded(e.caller)
}

func (e *Executor) Run(ctx context.Context, purpose, prompt string, out any, validate func() error) (AttemptMetrics, error) {
	m, err := e.run(ctx, purpose, prompt, out, validate)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.LLMCalls.WithLabelValues(purpose, outcome).Inc()
	return m, err
}

func (e *Executor) run(ctx context.Context, purpose, prompt string, out any, validate func() error) (AttemptMetrics, error) {
	var m AttemptMetrics
	if e == nil || e.caller == nil {
		return m, fmt.Errorf("%s: no llm configured", purpose)
	}
	var (
		feedback string
		lastErr  error
	)
	for m.Attempts < maxAttempts {
		m.Attempts++
		log := e.log.With().Str("purpose", purpose).Int("attempt", m.Attempts).Logger()
		started := time.Now()

		raw, err := e.caller.GenerateJSON(ctx, withFeedback(prompt, feedback))
		if err != nil {
			class := classifyTransportError(err)
			log.Warn().Err(err).Stringer("class", class).Dur("elapsed", time.Since(started)).Msg("llm transport_error")
			lastErr = fmt.Errorf("%s transport failure: %w", purpose, err)
			if !class.retryable() || m.Attempts == maxAttempts || ctx.Err() != nil {
				return m, lastErr
			}
			if serr := e.sleep(ctx, backoffDelay(m.Attempts)); serr != nil {
				return m, fmt.Errorf("%s transport failure: %w", purpose, serr)
			}
			continue
		}

		problem := decodeInto(raw, out, validate)
		if problem == nil {
			log.Debug().Dur("elapsed", time.Since(started)).Int("response_chars", len(raw)).Msg("llm accepted")
			return m, nil
		}
		log.Warn().Err(problem.err).Str("kind", problem.kind).Msg("llm rejected")
		lastErr = fmt.Errorf("%s: %w", purpose, problem.err)
		if m.Attempts < maxAttempts {
			m.ContentRetries++
			feedback = problem.feedback
		}
	}
	return m, lastErr
}

type contentProblem struct {
	kind     string
	feedback string
	err      error
}

func decodeInto(raw string, out any, validate func() error) *contentProblem {
	clean := stripCodeFences(raw)
	if clean == "" {
		return &contentProblem{
			kind:     "empty",
			feedback: "Your previous response was empty. Return valid JSON only.",
			err:      errors.New("empty response"),
		}
	}
	if err := json.Unmarshal([]byte(clean), out); err != nil {
		return &contentProblem{
			kind:     "json",
			feedback: "Your previous response was not valid JSON. Return valid JSON only.",
			err:      fmt.Errorf("invalid json: %w", err),
		}
	}
	if validate == nil {
		return nil
	}
	if err := validate(); err != nil {
		return &contentProblem{
			kind:     "validation",
			feedback: fmt.Sprintf("Your response failed validation: %s. Fix and return valid JSON only.", err),
			err:      err,
		}
	}
	return nil
}

func withFeedback(prompt, feedback string) string {
	if feedback == "" {
		return prompt
	}
	return prompt + "\n\n" + feedback
}

// stripCodeFences unwraps a ```json fenced block, which some models emit
// even when asked for bare JSON.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

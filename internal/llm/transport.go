package llm

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
)

type failureClass int

const (
	failureServer failureClass = iota
	failureTimeout
	failureRateLimit
	failureClient
)

func (c failureClass) String() string {
	switch c {
	case failureTimeout:
		return "timeout"
	case failureRateLimit:
		return "rate_limit"
	case failureClient:
		return "client"
	default:
		return "server"
	}
}

// Client errors (bad key, bad request) will fail the same way again.
func (c failureClass) retryable() bool { return c != failureClient }

var statusCodeRe = regexp.MustCompile(`status(?:\s+code)?[:=\s]+(\d{3})`)

func classifyTransportError(err error) failureClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	switch code := httpStatus(err); {
	case code == 429:
		return failureRateLimit
	case code >= 500:
		return failureServer
	case code >= 400:
		return failureClient
	}
	if strings.Contains(strings.ToLower(err.Error()), "rate limit") {
		return failureRateLimit
	}
	return failureServer
}

// httpStatus digs the response status out of whichever provider SDK produced
// err, falling back to a "status NNN" mention in the message. Zero if none.
func httpStatus(err error) int {
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	var oe *openai.APIError
	if errors.As(err, &oe) {
		return oe.HTTPStatusCode
	}
	var re *openai.RequestError
	if errors.As(err, &re) {
		return re.HTTPStatusCode
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	var coded interface{ HTTPCode() int }
	if errors.As(err, &coded) {
		return coded.HTTPCode()
	}
	if m := statusCodeRe.FindStringSubmatch(strings.ToLower(err.Error())); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code
	}
	return 0
}

// backoffDelay doubles from one second, capped at four.
func backoffDelay(attempt int) time.Duration {
	return time.Second << min(max(attempt-1, 0), 2)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

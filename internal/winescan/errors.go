package winescan

import (
	"errors"
	"fmt"
)

const (
	StageMatch    = "match"
	StageFallback = "fallback"
	StagePricing  = "pricing"
	StageRanking  = "ranking"
)

// UserFacingFailure is what callers show when a hard failure ends a scan.
const UserFacingFailure = "couldn't process list, try again"

var (
	ErrIdentityService = errors.New("identity service request failed")
	ErrPriceService    = errors.New("price service request failed")
	ErrEmptyRequest    = errors.New("scan request has no wine list items")
)

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

func StageNameFromError(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "pipeline"
}

// UserMessage maps a pipeline error to the message shown to the user.
// Validation problems are reported as-is; everything else collapses into a
// single retry prompt.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrEmptyRequest) {
		return err.Error()
	}
	return UserFacingFailure
}

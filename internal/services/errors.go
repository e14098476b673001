package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrBudget        = errors.New("budget exhausted")
	ErrContract      = errors.New("worker contract violation")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to the classification string persisted on pipeline
// error records and consumed by the retry policy.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBudget):
		return "budget"
	case errors.Is(err, ErrContract):
		return "contract"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrExternalTool):
		return "external_tool"
	default:
		return "transient"
	}
}

// Retryable reports whether a stage failure should be retried with an
// incremented attempt number. Contract violations indicate the worker lied
// about success and must surface immediately; validation and configuration
// problems will not improve by retrying.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrContract),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrBudget):
		return false
	default:
		return true
	}
}

// RecoveryHint suggests an operator action for a classified failure.
func RecoveryHint(err error) string {
	switch Classify(err) {
	case "budget":
		return "wait for the quota period to roll over or raise the period limit"
	case "contract":
		return "inspect the stage worker output; expected artifacts were missing"
	case "validation", "configuration":
		return "fix episode inputs or configuration, then start a new run"
	case "timeout":
		return "check worker responsiveness, then start a new run"
	default:
		return "start a new run to retry"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

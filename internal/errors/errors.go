// Package errors defines application errors shared by the bot and the collector.
package errors

import "fmt"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error codes.
const (
	CodeDatabase    = "E200"
	CodeExternalAPI = "E300"
	CodeStage       = "E400"
	CodeRateLimit   = "E500"
)

const defaultUserMessage = "Signal lost. Try again in a moment."

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func NewDatabaseError(cause error) *AppError {
	return &AppError{
		Code:        CodeDatabase,
		Message:     "database error",
		UserMessage: defaultUserMessage,
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

// NewExternalAPIError wraps a failed call to an external service. Status codes below 500 are not retried.
func NewExternalAPIError(apiName string, status int, cause error) *AppError {
	msg := fmt.Sprintf("external api error: %s", apiName)
	if status > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, status)
	}

	return &AppError{
		Code:        CodeExternalAPI,
		Message:     msg,
		UserMessage: defaultUserMessage,
		Severity:    SeverityMedium,
		Retryable:   status == 0 || status >= 500 || status == 429,
		cause:       cause,
	}
}

// NewStageError reports an action that the current funnel stage does not accept.
func NewStageError(cause error) *AppError {
	return &AppError{
		Code:        CodeStage,
		Message:     "action not accepted in current stage",
		UserMessage: "That input does not belong here. Follow the current prompt.",
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       cause,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        CodeRateLimit,
		Message:     fmt.Sprintf("rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: fmt.Sprintf("Too many signals. Try again in %d seconds.", retryAfter),
		Severity:    SeverityLow,
		Retryable:   false,
	}
}

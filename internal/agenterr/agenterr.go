// Package agenterr defines the agent's error taxonomy.
//
// This is a direct port of muranoagent/exceptions.py's AgentException /
// CustomException / IncorrectFormat hierarchy into Go's error+errors.As
// idiom: every error that should be surfaced to the orchestrator as a
// result-envelope ErrorCode carries a numeric code and optional additional
// data (captured executor output, typically).
package agenterr

import "fmt"

// AgentError is an error that carries an explicit result ErrorCode and,
// optionally, structured additional data (an executor's captured result).
type AgentError struct {
	Code       int
	Message    string
	Additional any
	Cause      error
}

func (e *AgentError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("agent error %d", e.Code)
	}
	return e.Message
}

func (e *AgentError) Unwrap() error { return e.Cause }

// New builds a plain AgentError with the given code and message.
func New(code int, format string, args ...any) *AgentError {
	return &AgentError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IncorrectFormat builds a validator rejection. Validator codes used by this
// repo are 9 (unsupported FormatVersion) and 2 (every other schema/semantic
// violation), matching muranoagent/validation.py.
func IncorrectFormat(code int, format string, args ...any) *AgentError {
	return New(code, format, args...)
}

// CustomException builds an executor-originated error. The wire code is
// offset by 100 from the caller-supplied code, matching
// muranoagent/exceptions.py's CustomException(code + 100, ...).
func CustomException(code int, additional any, format string, args ...any) *AgentError {
	return &AgentError{
		Code:       code + 100,
		Message:    fmt.Sprintf(format, args...),
		Additional: additional,
	}
}

// Wrap attaches code/additional data to an existing error without losing it
// for errors.Unwrap/errors.Is chains.
func Wrap(code int, additional any, cause error) *AgentError {
	return &AgentError{Code: code, Message: cause.Error(), Additional: additional, Cause: cause}
}

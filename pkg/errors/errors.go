// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed errors with a closed set of codes. Codes are
// decided where an error originates so callers never re-derive them from text.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies errors for recovery decisions and monitoring.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeNotFound indicates a generic resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeSkillNotFound indicates a skill has no backing instructions.
	CodeSkillNotFound ErrorCode = "SKILL_NOT_FOUND"

	// CodeEndpointNotFound indicates a remote tool server name is not registered.
	CodeEndpointNotFound ErrorCode = "ENDPOINT_NOT_FOUND"

	// CodeToolNotFound indicates a remote endpoint does not expose the requested tool.
	CodeToolNotFound ErrorCode = "TOOL_NOT_FOUND"

	// CodeToolFailure indicates a tool execution failed for another reason.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeTransient indicates a retryable transport or server error.
	CodeTransient ErrorCode = "TRANSIENT"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRateLimit indicates rate limiting was triggered.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeOverloaded indicates the model backend reported it is overloaded.
	CodeOverloaded ErrorCode = "OVERLOADED"

	// CodeMaxTurns indicates the reasoning loop ran out of turns.
	CodeMaxTurns ErrorCode = "MAX_TURNS_EXCEEDED"

	// CodeContextLost indicates the caller context was canceled.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeMemoryError indicates a session store error.
	CodeMemoryError ErrorCode = "MEMORY_ERROR"

	// CodeLLMError indicates an LLM provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"
)

// CriticalMarker is embedded in the text of errors that must trigger session
// healing. The remote services and the model prompt rely on the literal value.
const CriticalMarker = "CRITICAL_MCP_ERROR"

// Error is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if IsHealingCode(e.Code) {
		prefix = CriticalMarker + ": " + prefix
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		StatusCode  int                    `json:"status_code"`
		Context     map[string]interface{} `json:"context,omitempty"`
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         cause,
		Recoverable: e.Recoverable,
		StatusCode:  e.StatusCode,
		Context:     e.Context,
	})
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Attributes:  make(map[string]string),
		Recoverable: IsTransientCode(code),
		StatusCode:  codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
func (e *Error) WithAttribute(key, value string) *Error {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from by retrying.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// WithStatusCode overrides the status code derived from the error code.
func (e *Error) WithStatusCode(status int) *Error {
	e.StatusCode = status
	return e
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var te *Error
	if stderrors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	if te, ok := As(err); ok {
		return te.Code
	}
	return ""
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if te, ok := err.(*Error); ok && te.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsHealingCode reports whether code signals a stale tool reference that must
// be repaired by discarding session state.
func IsHealingCode(code ErrorCode) bool {
	return code == CodeEndpointNotFound || code == CodeToolNotFound
}

// IsTransientCode reports whether code signals a retryable failure.
func IsTransientCode(code ErrorCode) bool {
	switch code {
	case CodeTransient, CodeTimeout, CodeRateLimit, CodeOverloaded:
		return true
	default:
		return false
	}
}

// IsOverloadCode reports whether code means the backend is saturated.
func IsOverloadCode(code ErrorCode) bool {
	return code == CodeRateLimit || code == CodeOverloaded
}

func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound, CodeSkillNotFound, CodeEndpointNotFound, CodeToolNotFound:
		return 404
	case CodeInvalidInput:
		return 400
	case CodeTimeout:
		return 408
	case CodeRateLimit:
		return 429
	case CodeOverloaded, CodeTransient:
		return 503
	default:
		return 500
	}
}

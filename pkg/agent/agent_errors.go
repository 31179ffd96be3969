// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"github.com/jllopis/kairos-analyst/pkg/errors"
	"github.com/jllopis/kairos-analyst/pkg/resilience"
)

// WrapLLMError wraps a model call error with context. The cause stays in the
// chain so its classification survives.
func WrapLLMError(err error, model string) *errors.Error {
	if err == nil {
		return nil
	}
	return errors.New(errors.CodeLLMError, "LLM call failed", err).
		WithContext("model", model).
		WithAttribute("llm.model", model).
		WithRecoverable(resilience.IsTransient(err))
}

// WrapToolError wraps a tool execution error that must abort the run.
func WrapToolError(err error, toolName, toolCallID string) *errors.Error {
	if err == nil {
		return nil
	}
	return errors.New(errors.CodeToolFailure, "tool execution failed", err).
		WithContext("tool_name", toolName).
		WithContext("tool_call_id", toolCallID).
		WithAttribute("tool.name", toolName).
		WithRecoverable(resilience.IsTransient(err))
}

// WrapMemoryError wraps a session store error with context.
func WrapMemoryError(err error, operation string) *errors.Error {
	if err == nil {
		return nil
	}
	return errors.New(errors.CodeMemoryError, "memory operation failed", err).
		WithContext("operation", operation).
		WithAttribute("memory.operation", operation).
		WithRecoverable(false)
}

// NewMaxTurnsError reports a run that did not produce a final answer within
// maxTurns model turns.
func NewMaxTurnsError(agentName string, maxTurns int) *errors.Error {
	return errors.New(errors.CodeMaxTurns, "exceeded max turns", nil).
		WithContext("agent", agentName).
		WithContext("max_turns", maxTurns).
		WithRecoverable(false)
}

// NewInvalidInputError creates a new invalid input error.
func NewInvalidInputError(msg string) *errors.Error {
	return errors.New(errors.CodeInvalidInput, msg, nil).
		WithRecoverable(false)
}

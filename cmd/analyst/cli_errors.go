// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the analyst CLI.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jllopis/kairos-analyst/pkg/errors"
)

// CLIError wraps an Error with CLI-specific formatting and hints.
type CLIError struct {
	Cause *errors.Error
	Hint  string
}

// NewCLIError creates a new CLI error.
func NewCLIError(e *errors.Error, hint string) *CLIError {
	return &CLIError{Cause: e, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.Cause == nil {
		return "unknown error"
	}
	msg := e.Cause.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap returns the wrapped error.
func (e *CLIError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// PrintError prints the error to stderr.
func (e *CLIError) PrintError(asJSON bool) {
	e.write(os.Stderr, asJSON)
}

func (e *CLIError) write(w io.Writer, asJSON bool) {
	if e.Cause == nil {
		printSimpleError(w, e, asJSON)
		return
	}
	if asJSON {
		writeJSONError(w, string(e.Cause.Code), message(e.Cause), e.Hint)
		return
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", e.Cause.Code, message(e.Cause))
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

func message(e *errors.Error) string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg).
		WithContext("reason", reason).
		WithRecoverable(false)
	return NewCLIError(e, "run 'analyst help' for usage information")
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)

	hint := "check the ANALYST_* environment and --set overrides"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(e, hint)
}

// NewStartupError reports a failure to wire the analyst.
func NewStartupError(err error) *CLIError {
	code := errors.CodeOf(err)
	if code == "" {
		code = errors.CodeInternal
	}
	e := errors.New(code, "startup failed", err).WithRecoverable(false)

	hint := "check the skills directory and session path"
	switch code {
	case errors.CodeMemoryError:
		hint = "check that the session database path is writable"
	case errors.CodeInvalidInput:
		hint = "check the agent settings in your configuration"
	}
	return NewCLIError(e, hint)
}

// PrintSimpleError prints an error that carries no hint.
func PrintSimpleError(err error, asJSON bool) {
	printSimpleError(os.Stderr, err, asJSON)
}

func printSimpleError(w io.Writer, err error, asJSON bool) {
	if asJSON {
		code := string(errors.CodeOf(err))
		if code == "" {
			code = "UNKNOWN"
		}
		writeJSONError(w, code, err.Error(), "")
		return
	}
	fmt.Fprintf(w, "Error: %s\n", err.Error())
}

func writeJSONError(w io.Writer, code, msg, hint string) {
	payload := map[string]map[string]string{"error": {"code": code, "message": msg}}
	if hint != "" {
		payload["error"]["hint"] = hint
	}
	b, _ := json.Marshal(payload)
	fmt.Fprintln(w, string(b))
}

// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/jllopis/kairos-analyst/pkg/errors"
)

// Signatures shared with the remote tool servers and the model backend.
// They must stay byte-for-byte identical.
const (
	SignatureUnknownTool    = "Unknown tool"
	SignatureNotFoundZH     = "未找到"
	SignatureToolZH         = "工具"
	SignatureInternalServer = "internal_server_error"
)

var transientStatusMarkers = []struct {
	marker string
	code   errors.ErrorCode
}{
	{"429", errors.CodeRateLimit},
	{"503", errors.CodeOverloaded},
	{"500", errors.CodeTransient},
	{"502", errors.CodeTransient},
	{"504", errors.CodeTransient},
}

// Classify maps err to a single code. Codes already attached in the chain win;
// free-text signatures are only consulted for errors that arrive without one,
// or with a generic wrapper code. TOOL_FAILURE is decided where the tool call
// fails and is never re-derived from its text.
func Classify(err error) errors.ErrorCode {
	if err == nil {
		return ""
	}

	var first errors.ErrorCode
	var transient errors.ErrorCode
	for cur := err; cur != nil; cur = stderrors.Unwrap(cur) {
		te, ok := cur.(*errors.Error)
		if !ok {
			continue
		}
		if errors.IsHealingCode(te.Code) {
			return te.Code
		}
		if transient == "" && errors.IsTransientCode(te.Code) {
			transient = te.Code
		}
		if first == "" {
			first = te.Code
		}
	}
	if transient != "" {
		return transient
	}
	if first != "" && !isGenericCode(first) {
		return first
	}

	if stderrors.Is(err, context.Canceled) {
		return errors.CodeContextLost
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.CodeTimeout
	}

	if code := classifyText(err.Error()); code != "" {
		return code
	}
	if first != "" {
		return first
	}
	return errors.CodeInternal
}

func isGenericCode(code errors.ErrorCode) bool {
	switch code {
	case errors.CodeInternal, errors.CodeLLMError:
		return true
	default:
		return false
	}
}

func classifyText(msg string) errors.ErrorCode {
	if strings.Contains(msg, errors.CriticalMarker) {
		if strings.Contains(msg, string(errors.CodeEndpointNotFound)) {
			return errors.CodeEndpointNotFound
		}
		return errors.CodeToolNotFound
	}
	if strings.Contains(msg, SignatureUnknownTool) {
		return errors.CodeToolNotFound
	}
	if strings.Contains(msg, "500") && strings.Contains(msg, SignatureInternalServer) {
		return errors.CodeOverloaded
	}
	for _, m := range transientStatusMarkers {
		if strings.Contains(msg, m.marker) {
			return m.code
		}
	}
	if strings.Contains(strings.ToLower(msg), "timeout") {
		return errors.CodeTimeout
	}
	return ""
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return errors.IsTransientCode(Classify(err))
}

// IsHealing reports whether err signals a stale tool reference.
func IsHealing(err error) bool {
	return errors.IsHealingCode(Classify(err))
}

// StaleResponse reports whether a model response text reveals that the model
// tried to use a tool that no longer exists.
func StaleResponse(text string) bool {
	if strings.Contains(text, SignatureUnknownTool) {
		return true
	}
	return strings.Contains(text, SignatureNotFoundZH) && strings.Contains(text, SignatureToolZH)
}

// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jllopis/kairos-analyst/pkg/errors"
)

// StatusError builds the error for a failed backend call that returned an
// HTTP status. The code is decided here so callers never re-parse the text;
// the status number stays in the message for log readers.
func StatusError(provider string, status int, detail string, cause error) *errors.Error {
	code := codeForStatus(status, detail)
	msg := fmt.Sprintf("%s: status %d", provider, status)
	if detail = strings.TrimSpace(detail); detail != "" {
		msg += ": " + detail
	}
	return errors.New(code, msg, cause).
		WithContext("provider", provider).
		WithStatusCode(status)
}

func codeForStatus(status int, detail string) errors.ErrorCode {
	switch status {
	case http.StatusTooManyRequests:
		return errors.CodeRateLimit
	case http.StatusServiceUnavailable:
		return errors.CodeOverloaded
	case http.StatusInternalServerError:
		if strings.Contains(detail, "internal_server_error") {
			return errors.CodeOverloaded
		}
		return errors.CodeTransient
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return errors.CodeTransient
	case http.StatusRequestTimeout:
		return errors.CodeTimeout
	default:
		return errors.CodeLLMError
	}
}

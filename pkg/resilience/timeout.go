// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jllopis/kairos-analyst/pkg/errors"
)

// WithTimeout runs fn under a deadline of d. When the deadline, and not the
// parent context, ends fn with an error, that error is wrapped in a
// recoverable TIMEOUT so it is retried like any other transient failure.
// A non-positive d runs fn with ctx unchanged.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(tctx)
	if err == nil || ctx.Err() != nil || !stderrors.Is(tctx.Err(), context.DeadlineExceeded) {
		return err
	}
	return errors.New(errors.CodeTimeout, fmt.Sprintf("operation exceeded %s", d), err).
		WithContext("timeout", d.String()).
		WithRecoverable(true)
}

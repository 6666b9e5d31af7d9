// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package testcontext provides contexts for tests that run Lua chunks.
package testcontext

import (
	"context"
	"testing"
	"time"

	"zombiezen.com/go/log/testlog"
)

// DefaultTimeout bounds a test context when the test binary has no deadline,
// so that a chunk stuck in an infinite loop fails the test
// instead of hanging it.
const DefaultTimeout = 2 * time.Minute

// New returns a context that sends log output to tb
// and is canceled when the test finishes.
// The context ends slightly before the test's deadline
// (or after [DefaultTimeout] if there is none)
// so that the interpreter's cancellation error gets reported.
func New(tb testing.TB) (context.Context, context.CancelFunc) {
	ctx := testlog.WithTB(tb.Context(), tb)
	d, ok := deadline(tb)
	if !ok {
		ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
		return ctx, cancel
	}
	if grace := time.Until(d) / 20; grace > 0 {
		d = d.Add(-grace)
	}
	return context.WithDeadline(ctx, d)
}

func deadline(tb testing.TB) (time.Time, bool) {
	t, ok := tb.(interface {
		Deadline() (time.Time, bool)
	})
	if !ok {
		return time.Time{}, false
	}
	return t.Deadline()
}

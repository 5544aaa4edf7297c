// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Logged wraps c with structured logging that emits a record when it starts
// and when it finishes.
//
// Records carry the call path from the outermost composable down to c as a
// "name" attribute, joined with " > ". The finish record adds "duration_ms"
// and, on failure, "error". The logger is taken from the context (see
// [WithSlogger]) and defaults to [slog.Default].
//
// Example:
//
//	pipeline := metaflow.Pipe(load, metaflow.Logged(slog.LevelDebug, transform), save)
//
// This would emit records similar to:
//
//	{"level":"DEBUG","msg":"starting call","name":"(load | transform | save) > transform"}
//	{"level":"DEBUG","msg":"finished call","name":"(load | transform | save) > transform","duration_ms":5}
func Logged(level slog.Level, c any) Composable {
	inner := Lift(c)
	return &decorated{
		inner: inner,
		around: func(ctx context.Context, state *CallState, args []any, next invoker) (any, error) {
			if ctx == nil {
				ctx = context.Background()
			}
			fullName := callPath(state, inner)
			logger := Slogger(ctx)

			logger.Log(ctx, level, "starting call", "name", fullName)
			start := time.Now()
			result, err := next(ctx, state, args)
			duration := time.Since(start)
			if err != nil {
				logger.Log(ctx, level, "finished call", "name", fullName, "duration_ms", duration.Milliseconds(), "error", err)
			} else {
				logger.Log(ctx, level, "finished call", "name", fullName, "duration_ms", duration.Milliseconds())
			}
			return result, err
		},
	}
}

// callPath renders the active call stack followed by c.
func callPath(state *CallState, c Composable) string {
	stack := state.Stack()
	names := make([]string, 0, len(stack)+1)
	for _, fn := range stack {
		names = append(names, fn.String())
	}
	names = append(names, c.String())
	return strings.Join(names, " > ")
}

// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// runCtxKey is the context key for retrieving the runCtx.
type runCtxKey struct{}

// runCtx consolidates the package's context values into a single lookup.
//
// It embeds the parent context.Context so cancellation, deadlines and
// foreign values pass through untouched.
type runCtx struct {
	context.Context

	// slogger is the logger used by [Logged] and the concurrent executor.
	slogger *slog.Logger
}

// Value intercepts runCtxKey lookups and delegates all other keys to the
// embedded parent context.
func (r *runCtx) Value(key any) any {
	if _, ok := key.(runCtxKey); ok {
		return r
	}
	return r.Context.Value(key)
}

// newRunCtx creates a runCtx that wraps parent and inherits the values of
// origin. A nil origin yields the defaults.
func newRunCtx(parent context.Context, origin *runCtx) *runCtx {
	if origin == nil {
		origin = &runCtx{slogger: slog.Default()}
	}
	return &runCtx{
		Context: parent,
		slogger: origin.slogger,
	}
}

func getRunCtx(ctx context.Context) *runCtx {
	if ctx == nil {
		return nil
	}
	r, _ := ctx.Value(runCtxKey{}).(*runCtx)
	return r
}

// WithSlogger returns a context carrying logger, used by [Logged] and by
// the concurrent executor.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	ctx := metaflow.WithSlogger(context.Background(), logger)
//	out, err := pipeline.Call(ctx, nil, input)
func WithSlogger(ctx context.Context, logger *slog.Logger) context.Context {
	r := newRunCtx(ctx, getRunCtx(ctx))
	r.slogger = logger
	return r
}

// Slogger returns the [slog.Logger] carried by ctx, or [slog.Default] if
// none is set.
func Slogger(ctx context.Context) *slog.Logger {
	if r := getRunCtx(ctx); r != nil && r.slogger != nil {
		return r.slogger
	}
	return slog.Default()
}

// WithTimeout wraps c so that it runs with a context cancelled after
// timeout. Functions that honor their context then fail with
// [context.DeadlineExceeded].
//
// Example:
//
//	metaflow.WithTimeout(5*time.Second, Pipe(fetch, parse))
func WithTimeout(timeout time.Duration, c any) Composable {
	return &decorated{
		inner: Lift(c),
		around: func(ctx context.Context, state *CallState, args []any, next invoker) (any, error) {
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, state, args)
		},
	}
}

// Sleep returns a leaf that waits for d and then passes its first argument
// through. It returns the context's error if the context ends first.
//
// Example:
//
//	slow := metaflow.Pipe(metaflow.Sleep(time.Second), expensive)
func Sleep(d time.Duration) *SimpleFunction {
	return Node(func(ctx context.Context, args ...any) (any, error) {
		if ctx == nil {
			ctx = context.Background()
		}
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if len(args) == 0 {
			return nil, nil
		}
		return args[0], nil
	}, WithName(fmt.Sprintf("sleep(%s)", d)))
}

// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestWithTimeout(t *testing.T) {
	t.Parallel()
	t.Run("CompletesBeforeTimeout", func(t *testing.T) {
		t.Parallel()
		c := WithTimeout(100*time.Millisecond, Pipe(a, b))
		got, err := c.Call(t.Context(), nil, "_")
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		if got != "_ab" {
			t.Errorf("expected _ab, got %v", got)
		}
	})

	t.Run("ExceedsTimeout", func(t *testing.T) {
		t.Parallel()
		var after counter
		c := WithTimeout(50*time.Millisecond, Pipe(slowAfter(200*time.Millisecond, "!"), after.node("after")))
		_, err := c.Call(t.Context(), nil, "_")
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected context.DeadlineExceeded, got %v", err)
		}
		// The chain stops at the cancelled function.
		if n := after.calls.Load(); n != 0 {
			t.Errorf("expected no calls after timeout, got %d", n)
		}
	})

	t.Run("Transparent", func(t *testing.T) {
		t.Parallel()
		c := WithTimeout(time.Second, Add(a, b))
		if c.String() != "(a + b)" {
			t.Errorf("expected (a + b), got %s", c.String())
		}
	})
}

func TestSleep(t *testing.T) {
	t.Parallel()
	t.Run("SleepsForDuration", func(t *testing.T) {
		t.Parallel()
		start := time.Now()
		got, err := Pipe(a, Sleep(100*time.Millisecond), b).Call(t.Context(), nil, "_")
		elapsed := time.Since(start)
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		if got != "_ab" {
			t.Errorf("expected _ab, got %v", got)
		}
		if elapsed < 100*time.Millisecond {
			t.Errorf("expected at least 100ms sleep, got %v", elapsed)
		}
	})

	t.Run("RespectsContextCancellation", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(t.Context())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()
		start := time.Now()
		_, err := Sleep(time.Second).Call(ctx, nil, "_")
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Errorf("expected early return, took %v", elapsed)
		}
	})

	t.Run("NoArguments", func(t *testing.T) {
		t.Parallel()
		got, err := Sleep(time.Millisecond).Call(t.Context(), nil)
		if err != nil || got != nil {
			t.Errorf("expected (nil, nil), got (%v, %v)", got, err)
		}
	})

	t.Run("Name", func(t *testing.T) {
		t.Parallel()
		if name := Sleep(1500 * time.Millisecond).String(); name != "sleep(1.5s)" {
			t.Errorf("expected sleep(1.5s), got %s", name)
		}
	})
}

func TestSlogger(t *testing.T) {
	t.Parallel()
	t.Run("DefaultsToSlogDefault", func(t *testing.T) {
		t.Parallel()
		if Slogger(t.Context()) != slog.Default() {
			t.Error("expected slog.Default")
		}
	})

	t.Run("CarriedByContext", func(t *testing.T) {
		t.Parallel()
		logger := slog.New(slog.DiscardHandler)
		ctx := WithSlogger(t.Context(), logger)
		if Slogger(ctx) != logger {
			t.Error("expected the configured logger")
		}

		// Derived contexts keep the logger.
		derived, cancel := context.WithCancel(ctx)
		defer cancel()
		if Slogger(derived) != logger {
			t.Error("expected derived context to keep the logger")
		}

		// Overriding does not affect the parent.
		other := slog.New(slog.DiscardHandler)
		if Slogger(WithSlogger(ctx, other)) != other {
			t.Error("expected the overriding logger")
		}
		if Slogger(ctx) != logger {
			t.Error("expected parent context unchanged")
		}
	})

	t.Run("KeepsCancellation", func(t *testing.T) {
		t.Parallel()
		parent, cancel := context.WithCancel(t.Context())
		ctx := WithSlogger(parent, slog.New(slog.DiscardHandler))
		cancel()
		if !errors.Is(ctx.Err(), context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", ctx.Err())
		}
	})
}

// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	ServeWorker()
	os.Exit(m.Run())
}

// ==== Test Helpers: Error Variables ====

var error1 = errors.New("error 1")
var error2 = errors.New("error 2")

// ==== Test Helpers: Leaves ====

func a(x string) string { return x + "a" }
func b(x string) string { return x + "b" }
func c(x string) string { return x + "c" }

func fail(string) (string, error) { return "", error1 }

func double(n int) int { return n * 2 }
func square(n int) int { return n * n }
func inc(n int) int { return n + 1 }

// slowAfter returns a function that sleeps for d and then appends suffix.
func slowAfter(d time.Duration, suffix string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, x string) (string, error) {
		select {
		case <-time.After(d):
			return x + suffix, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// counter counts its calls and passes its input through.
type counter struct {
	calls atomic.Int64
}

func (c *counter) node(name string) *SimpleFunction {
	return Node(func(x any) any {
		c.calls.Add(1)
		return x
	}, WithName(name))
}

// ==== Test Helpers: Error Validators ====

func isNil(err error) error {
	if err != nil {
		return fmt.Errorf("expected nil, got %v", err)
	}
	return nil
}

func matches(target error) func(error) error {
	return func(err error) error {
		if !errors.Is(err, target) {
			return fmt.Errorf("expected %v, got %v", target, err)
		}
		return nil
	}
}

func isType[E error]() func(error) error {
	return func(err error) error {
		var target E
		if !errors.As(err, &target) {
			return fmt.Errorf("expected %T, got %T (%v)", target, err, err)
		}
		return nil
	}
}

func contains(substr string) func(error) error {
	return func(err error) error {
		if err == nil || !strings.Contains(err.Error(), substr) {
			return fmt.Errorf("expected error containing %q, got %v", substr, err)
		}
		return nil
	}
}

func all(validators ...func(error) error) func(error) error {
	return func(err error) error {
		for _, v := range validators {
			if vErr := v(err); vErr != nil {
				return vErr
			}
		}
		return nil
	}
}

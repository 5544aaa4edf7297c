// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"context"
	"errors"
	"fmt"
)

// ErrDivisionByZero is returned by [DivReducer] when a divisor is zero.
var ErrDivisionByZero = errors.New("division by zero")

// CompositionError reports a composite that cannot be built, such as asking
// [Concurrent] to upgrade something that is not a merge. It is returned at
// build time, never from a call.
type CompositionError struct {
	Op     string `json:"op"`
	Reason string `json:"reason"`
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// CallError reports arguments that do not fit the composable being called,
// for example more positional arguments than a [Merge] has functions.
type CallError struct {
	Function string `json:"function"`
	Reason   string `json:"reason"`
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Function, e.Reason)
}

// BroadcastError reports a broadcast input that cannot be spread across the
// receiving functions.
type BroadcastError struct {
	Function string `json:"function"`
	Inputs   int    `json:"inputs"`
	Capacity int    `json:"capacity"`
	Reason   string `json:"reason,omitempty"`
}

func (e *BroadcastError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Function, e.Reason)
	}
	return fmt.Sprintf("%s: cannot broadcast %d inputs to %d functions", e.Function, e.Inputs, e.Capacity)
}

// ConcurrentError wraps an error that originated in a worker process of a
// concurrent merge. Index is the position of the failed branch.
//
// Use [errors.As] or [errors.Is] to reach the branch's own error; errors whose
// types are registered with [RegisterType] keep their concrete type across
// the process boundary, others arrive as [*RemoteError].
type ConcurrentError struct {
	Index    int
	Function string
	Err      error
}

func (e *ConcurrentError) Error() string {
	return fmt.Sprintf("concurrent branch %d (%s): %v", e.Index, e.Function, e.Err)
}

func (e *ConcurrentError) Unwrap() error {
	return e.Err
}

// RemoteError stands in for a worker-side error whose type could not be
// rebuilt in the parent process.
type RemoteError struct {
	Type    string
	Message string
	Cause   error
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return e.Cause
}

// LocatedError annotates a leaf function's error with a rendering of the
// whole pipeline in which the failing function is marked as ->active<-.
type LocatedError struct {
	Location string
	Err      error
}

func (e *LocatedError) Error() string {
	return fmt.Sprintf("%v\n\noccurred in the following function: %s", e.Err, e.Location)
}

func (e *LocatedError) Unwrap() error {
	return e.Err
}

// OperandError is returned by the builtin reducers when they cannot combine
// two results.
type OperandError struct {
	Op    string `json:"op"`
	Left  string `json:"left"`
	Right string `json:"right"`
}

func (e *OperandError) Error() string {
	return fmt.Sprintf("unsupported operand types for %s: %s and %s", e.Op, e.Left, e.Right)
}

// RecoveredPanic is an error type that wraps a panic value.
type RecoveredPanic struct {
	Value any
}

func (p *RecoveredPanic) Error() string {
	return fmt.Sprintf("panic recovered: %v", p.Value)
}

// RecoverPanics wraps a composable so a panic anywhere beneath it is returned
// as a [*RecoveredPanic] instead of unwinding the caller.
func RecoverPanics(c any) Composable {
	return &decorated{
		inner: Lift(c),
		around: func(ctx context.Context, state *CallState, args []any, next invoker) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &RecoveredPanic{Value: r}
				}
			}()
			return next(ctx, state, args)
		},
	}
}

// alreadyLocated reports whether err already carries location information.
func alreadyLocated(err error) bool {
	var located *LocatedError
	return errors.As(err, &located)
}

// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"context"
	"fmt"
	"reflect"
)

// Composable is implemented by every node of a composition tree.
//
// Call runs the node. A nil state means a fresh [CallState] is created and
// shared by the whole tree for this one call. Functions returns the node's
// direct children and String its rendering, which doubles as the text that
// [CallState.HighlightActiveFunction] searches to locate the active node.
//
// Composition trees are immutable: every factory in this package returns a
// new node and leaves its operands untouched, so sub-pipelines may be reused
// freely, including from several goroutines at once.
type Composable interface {
	Call(ctx context.Context, state *CallState, args ...any) (any, error)
	Functions() []Composable
	String() string
}

// Lift turns anything into a [Composable]: composables are returned as they
// are, Go functions are wrapped with [Node] and any other value becomes a
// [DeferredValue].
//
// A function whose signature cannot be adapted still lifts; calling it
// returns the [*CompositionError] that [NewNode] would have reported.
func Lift(x any) Composable {
	switch v := x.(type) {
	case Composable:
		return v
	case nil:
		return Value(nil)
	}
	if reflect.TypeOf(x).Kind() != reflect.Func {
		return Value(x)
	}
	s, err := NewNode(x)
	if err != nil {
		return &SimpleFunction{
			name: funcName(x),
			call: func(context.Context, *CallState, []any) (any, error) {
				return nil, err
			},
		}
	}
	return s
}

func liftAll(xs []any) []Composable {
	out := make([]Composable, len(xs))
	for i, x := range xs {
		out[i] = Lift(x)
	}
	return out
}

// Invoke calls c with a fresh [CallState].
func Invoke(ctx context.Context, c any, args ...any) (any, error) {
	return Lift(c).Call(ctx, NewCallState(), args...)
}

// decorated wraps a composable with behavior that runs around its call. It
// is invisible in renderings and in the call tree.
type decorated struct {
	inner  Composable
	around func(ctx context.Context, state *CallState, args []any, next invoker) (any, error)
}

func (d *decorated) Call(ctx context.Context, state *CallState, args ...any) (any, error) {
	state = ensureState(state)
	return d.around(ctx, state, args, func(ctx context.Context, state *CallState, args []any) (any, error) {
		return d.inner.Call(ctx, state, args...)
	})
}

func (d *decorated) Functions() []Composable {
	return d.inner.Functions()
}

func (d *decorated) String() string {
	return d.inner.String()
}

// LocateErrors wraps c so that any error leaving it carries a
// [*LocatedError]. It is meant for trees whose leaves were built with
// WithLocation(false).
func LocateErrors(c any) Composable {
	return &decorated{
		inner: Lift(c),
		around: func(ctx context.Context, state *CallState, args []any, next invoker) (any, error) {
			result, err := next(ctx, state, args)
			if err != nil && !alreadyLocated(err) {
				return result, &LocatedError{Location: state.failureLocation(), Err: err}
			}
			return result, err
		},
	}
}

// Unpack returns a function that calls c with the elements of its single
// slice or array argument as separate positional arguments.
//
// Example:
//
//	span := metaflow.Pipe(minMax, metaflow.Unpack(func(lo, hi int) int { return hi - lo }))
func Unpack(c any) *SimpleFunction {
	inner := Lift(c)
	name := "unpack(" + inner.String() + ")"
	return &SimpleFunction{
		name:   name,
		locate: true,
		call: func(ctx context.Context, state *CallState, args []any) (any, error) {
			if len(args) != 1 {
				return nil, &CallError{Function: name, Reason: fmt.Sprintf("takes one sequence argument, got %d arguments", len(args))}
			}
			elems, ok := elements(args[0])
			if !ok {
				return nil, &CallError{Function: name, Reason: fmt.Sprintf("cannot unpack %T", args[0])}
			}
			return inner.Call(ctx, state, elems...)
		},
	}
}

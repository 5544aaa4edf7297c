// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"context"
	"strings"
)

// Chain runs its functions in series. The first function receives the
// chain's arguments; every later function receives the previous result as
// its only argument.
type Chain struct {
	functions []Composable
}

// Pipe builds a [Chain] of first followed by rest. Operands are lifted with
// [Lift]; operands that are themselves chains are flattened into the result,
// so Pipe(Pipe(a, b), c) and Pipe(a, b, c) are the same chain.
//
// Example:
//
//	shout := metaflow.Pipe(strings.TrimSpace, strings.ToUpper, addBang)
//	out, err := shout.Call(ctx, nil, "  hi ")  // "HI!"
func Pipe(first any, rest ...any) *Chain {
	c := &Chain{}
	for _, x := range append([]any{first}, rest...) {
		fn := Lift(x)
		if inner, ok := fn.(*Chain); ok {
			c.functions = append(c.functions, inner.functions...)
			continue
		}
		c.functions = append(c.functions, fn)
	}
	return c
}

// Call runs the chain left to right and returns the last result. It stops at
// the first error; later functions are not called.
func (c *Chain) Call(ctx context.Context, state *CallState, args ...any) (result any, err error) {
	state = ensureState(state)
	state.push(c)
	defer func() { state.pop(err) }()

	result, err = c.functions[0].Call(ctx, state, args...)
	if err != nil {
		return nil, err
	}
	for _, fn := range c.functions[1:] {
		result, err = fn.Call(ctx, state, result)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (c *Chain) Functions() []Composable {
	return append([]Composable(nil), c.functions...)
}

func (c *Chain) String() string {
	names := make([]string, len(c.functions))
	for i, fn := range c.functions {
		names[i] = fn.String()
	}
	return "(" + strings.Join(names, " | ") + ")"
}

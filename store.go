// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"context"
	"fmt"
)

// Store returns a leaf that saves its input in the call state's data under
// key and passes it on unchanged.
//
// Example:
//
//	p := metaflow.Pipe(parse, metaflow.Store("parsed"), validate, metaflow.Recall("parsed"))
func Store(key string) *SimpleFunction {
	return Node(func(_ context.Context, state *CallState, args ...any) (any, error) {
		var v any
		if len(args) > 0 {
			v = args[0]
		}
		state.Set(key, v)
		return v, nil
	}, WithName(fmt.Sprintf("store('%s')", key)))
}

// Recall returns a leaf that ignores its input and returns the value stored
// under key in the call state. A missing key is a [*CallError].
func Recall(key string) *SimpleFunction {
	return recall(key, nil)
}

// RecallFrom is like [Recall] but reads from the given call state instead of
// the one of the current call, e.g. to reuse what an earlier, separate call
// stored.
func RecallFrom(key string, from *CallState) *SimpleFunction {
	return recall(key, from)
}

func recall(key string, from *CallState) *SimpleFunction {
	name := fmt.Sprintf("recall('%s')", key)
	return Node(func(_ context.Context, state *CallState, _ ...any) (any, error) {
		if from != nil {
			state = from
		}
		v, ok := state.Get(key)
		if !ok {
			return nil, &CallError{Function: name, Reason: fmt.Sprintf("no value stored under %q", key)}
		}
		return v, nil
	}, WithName(name))
}

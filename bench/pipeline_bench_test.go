// SPDX-License-Identifier: Apache-2.0

package metaflow_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/sam-fredrickson/metaflow"
)

func inc(x int) int { return x + 1 }

var sink string

func incFunc(_ context.Context, args ...any) (any, error) {
	return args[0].(int) + 1, nil
}

// =============================================================================
// Call Overhead
// =============================================================================

// Baseline: ten direct calls.
func BenchmarkDirect_10Steps(b *testing.B) {
	for b.Loop() {
		x := 0
		for range 10 {
			x = inc(x)
		}
		if x != 10 {
			b.Fatal(x)
		}
	}
}

// Ten reflection-adapted functions in one chain.
func BenchmarkPipe_10Steps(b *testing.B) {
	steps := make([]any, 10)
	for i := range steps {
		steps[i] = inc
	}
	pipeline := metaflow.Pipe(steps[0], steps[1:]...)
	ctx := b.Context()

	for b.Loop() {
		out, err := pipeline.Call(ctx, nil, 0)
		if err != nil || out != 10 {
			b.Fatal(out, err)
		}
	}
}

// Ten Func-typed functions skip the reflection adapter.
func BenchmarkPipeFunc_10Steps(b *testing.B) {
	steps := make([]any, 10)
	for i := range steps {
		steps[i] = metaflow.Func(incFunc)
	}
	pipeline := metaflow.Pipe(steps[0], steps[1:]...)
	ctx := b.Context()

	for b.Loop() {
		out, err := pipeline.Call(ctx, nil, 0)
		if err != nil || out != 10 {
			b.Fatal(out, err)
		}
	}
}

// Building a pipeline, as opposed to calling it.
func BenchmarkPipeCreation_10Steps(b *testing.B) {
	for b.Loop() {
		steps := make([]any, 10)
		for i := range steps {
			steps[i] = inc
		}
		_ = metaflow.Pipe(steps[0], steps[1:]...)
	}
}

// Nested chains: (inc | (inc | (inc | ...))).
func BenchmarkPipeNested(b *testing.B) {
	for _, depth := range []int{5, 10, 20, 50} {
		b.Run(fmt.Sprintf("depth_%02d", depth), func(b *testing.B) {
			var c metaflow.Composable = metaflow.Node(inc)
			for range depth - 1 {
				c = metaflow.Pipe(inc, c)
			}
			ctx := b.Context()

			for b.Loop() {
				out, err := c.Call(ctx, nil, 0)
				if err != nil || out != depth {
					b.Fatal(out, err)
				}
			}
		})
	}
}

// =============================================================================
// Merges
// =============================================================================

func BenchmarkMerge(b *testing.B) {
	for _, width := range []int{2, 10, 50} {
		fns := make([]any, width)
		for i := range fns {
			fns[i] = inc
		}
		ctx := b.Context()

		b.Run(fmt.Sprintf("add_%02d", width), func(b *testing.B) {
			m := metaflow.MergeWith(metaflow.AddReducer, fns[0], fns[1:]...)
			for b.Loop() {
				if _, err := m.Call(ctx, nil, 1); err != nil {
					b.Fatal(err)
				}
			}
		})

		b.Run(fmt.Sprintf("concat_%02d", width), func(b *testing.B) {
			m := metaflow.And(fns[0], fns[1:]...)
			for b.Loop() {
				if _, err := m.Call(ctx, nil, 1); err != nil {
					b.Fatal(err)
				}
			}
		})

		b.Run(fmt.Sprintf("star_%02d", width), func(b *testing.B) {
			m := metaflow.Star(metaflow.And(fns[0], fns[1:]...))
			input := make([]int, width)
			for b.Loop() {
				if _, err := m.Call(ctx, nil, input); err != nil {
					b.Fatal(err)
				}
			}
		})

		b.Run(fmt.Sprintf("map_%02d", width), func(b *testing.B) {
			m := metaflow.Map(inc, metaflow.AddReducer)
			input := make([]int, width)
			for b.Loop() {
				if _, err := m.Call(ctx, nil, input); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// Highlighting walks the call tree; the cost grows with the pipeline.
func BenchmarkHighlightActiveFunction(b *testing.B) {
	marker := metaflow.Node(func(state *metaflow.CallState, x int) int {
		sink = state.HighlightActiveFunction()
		return x
	}, metaflow.WithName("marker"))

	for _, width := range []int{5, 20, 100} {
		b.Run(fmt.Sprintf("width_%03d", width), func(b *testing.B) {
			fns := make([]any, width)
			for i := range fns {
				fns[i] = inc
			}
			fns[width-1] = marker
			pipeline := metaflow.Pipe(fns[0], fns[1:]...)
			ctx := b.Context()

			for b.Loop() {
				if _, err := pipeline.Call(ctx, nil, 0); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

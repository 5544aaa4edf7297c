// SPDX-License-Identifier: Apache-2.0

package metaflow_test

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/sam-fredrickson/metaflow"
)

func double(x int) int { return 2 * x }

// (inc | (inc + double) | (inc & double) | ...)
func tracedPipeline(n int) metaflow.Composable {
	steps := make([]any, 0, n)
	for i := range n {
		if i%2 == 0 {
			steps = append(steps, metaflow.Add(inc, double))
		} else {
			steps = append(steps, inc)
		}
	}
	return metaflow.Pipe(inc, steps...)
}

// =============================================================================
// Tracing Benchmarks
// =============================================================================

func BenchmarkTracingOverhead(b *testing.B) {
	for _, n := range []int{10, 100} {
		pipeline := tracedPipeline(n)
		ctx := b.Context()

		b.Run(fmt.Sprintf("untraced_%03d", n), func(b *testing.B) {
			for b.Loop() {
				if _, err := pipeline.Call(ctx, nil, 0); err != nil {
					b.Fatal(err)
				}
			}
		})

		b.Run(fmt.Sprintf("traced_%03d", n), func(b *testing.B) {
			for b.Loop() {
				if _, _, err := metaflow.Traced(ctx, pipeline, nil, []any{0}); err != nil {
					b.Fatal(err)
				}
			}
		})

		b.Run(fmt.Sprintf("streamed_%03d", n), func(b *testing.B) {
			for b.Loop() {
				if _, _, err := metaflow.Traced(ctx, pipeline, nil, []any{0}, metaflow.WithStreamTo(io.Discard)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// Benchmark filter operations on large traces.
func BenchmarkTraceFilter(b *testing.B) {
	for _, n := range []int{100, 500, 1000} {
		b.Run(fmt.Sprintf("steps_%04d", n), func(b *testing.B) {
			_, trace, err := metaflow.Traced(b.Context(), tracedPipeline(n), nil, []any{0})
			if err != nil {
				b.Fatal(err)
			}

			b.Run("single_filter", func(b *testing.B) {
				for b.Loop() {
					_ = trace.Filter(metaflow.DepthEquals(2))
				}
			})

			b.Run("multiple_filters", func(b *testing.B) {
				for b.Loop() {
					_ = trace.Filter(
						metaflow.IsLeaf(),
						metaflow.NoError(),
						metaflow.MinDuration(0),
					)
				}
			})

			b.Run("pattern_match", func(b *testing.B) {
				for b.Loop() {
					_ = trace.Filter(metaflow.NameMatches("(inc + *)"))
				}
			})

			b.Run("within", func(b *testing.B) {
				for b.Loop() {
					_ = trace.Filter(metaflow.Within("(inc + double)"))
				}
			})
		})
	}
}

// Benchmark trace output operations.
func BenchmarkTraceOutput(b *testing.B) {
	_, trace, err := metaflow.Traced(b.Context(), tracedPipeline(20), nil, []any{0})
	if err != nil {
		b.Fatal(err)
	}
	var buf bytes.Buffer

	b.Run("WriteTo_JSON", func(b *testing.B) {
		for b.Loop() {
			buf.Reset()
			if _, err := trace.WriteTo(&buf); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("WriteText", func(b *testing.B) {
		for b.Loop() {
			buf.Reset()
			if _, err := trace.WriteText(&buf); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("WriteFlatText", func(b *testing.B) {
		for b.Loop() {
			buf.Reset()
			if _, err := trace.WriteFlatText(&buf); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkTraceMemoryAllocations(b *testing.B) {
	pipeline := tracedPipeline(10)
	ctx := b.Context()
	b.ReportAllocs()

	for b.Loop() {
		if _, _, err := metaflow.Traced(ctx, pipeline, nil, []any{0}); err != nil {
			b.Fatal(err)
		}
	}
}

// SPDX-License-Identifier: Apache-2.0

// Package metaflow builds pipelines out of ordinary Go functions and calls
// them as a single unit, with sequencing, merging, broadcasting and
// multi-process fan-out.
//
// # The Problem
//
// Small data-processing programs tend to grow into tangles of temporary
// variables: call this, keep the result, feed it to two other things, add
// their results, pass that on. The shape of the computation disappears into
// the plumbing, and when something fails deep inside, the error says what
// went wrong but not where in the pipeline it happened.
//
// Metaflow lets you write the shape down directly, and keeps track of where
// execution is while it runs.
//
// # Core Concepts
//
// [Composable] is the contract every node of a pipeline implements:
//
//	type Composable interface {
//	    Call(ctx context.Context, state *CallState, args ...any) (any, error)
//	    Functions() []Composable
//	    String() string
//	}
//
// Leaves are [*SimpleFunction] values wrapping a Go function, and
// [*DeferredValue] values standing in for a constant. Plain functions and
// values are lifted automatically wherever a composable is expected:
//
//	a := func(s string) string { return s + "a" }
//	b := func(s string) string { return s + "b" }
//	c := func(s string) string { return s + "c" }
//
//	metaflow.Pipe(a, b, c)            // (a | b | c):   "_" -> "_abc"
//	metaflow.Add(a, b)                // (a + b):       "_" -> "_a_b"
//	metaflow.And(a, b, "literal")     // (a & b & 'literal'): "_" -> []any{"_a", "_b", "literal"}
//	metaflow.At(split, metaflow.And(a, b)) // each element of split's result to one function
//
// [Pipe] builds a [*Chain]: each function receives the previous result.
// [Add], [Sub], [Mul], [Div], [And] and [MergeWith] build a [*Merge]: every
// function receives the same input and their results are combined by a
// [Reducer]. [Star] and [At] broadcast a sequence across a merge's functions,
// [Map] calls one function per element and [Unpack] spreads a sequence over
// positional parameters.
//
// # Call State
//
// Every call threads one [*CallState] through the whole tree. Its data store
// lets functions pass values sideways, and its call tree records which node
// is active. A function opts into receiving the state by declaring it:
//
//	count := func(ctx context.Context, state *metaflow.CallState, s string) string {
//	    n, _ := state.Get("seen")
//	    seen, _ := n.(int)
//	    state.Set("seen", seen+1)
//	    return s
//	}
//
// [Store] and [Recall] are ready-made leaves for the common case.
//
// # Errors
//
// Errors stop the pipeline at once; nothing is retried and no partial
// result is returned. An error returned by a leaf is wrapped in a
// [*LocatedError] whose message shows the pipeline with the failing function
// marked:
//
//	boom
//
//	occurred in the following function: (a | ->fail<- | b)
//
// [errors.Is] and [errors.As] still see the original error.
//
// # Concurrency
//
// [Concurrent] upgrades a merge to run each of its functions in a separate
// worker process, a copy of the running program. Results are reduced in
// declaration order regardless of which worker finishes first. Programs
// using it call [ServeWorker] at startup, after building their pipelines.
//
// # Observability
//
// [Logged] emits structured log records through the [log/slog] logger set
// with [WithSlogger], and [Traced] records every node call for later
// inspection with [Trace.WriteText] or [Trace.Filter].
//
// # Definitions
//
// Package definition builds pipelines from YAML documents, and the
// metaflow command runs them:
//
//	metaflow run pipeline.yaml --input '{"items": [1, 2, 3]}'
//
// # Requirements
//
// Metaflow requires Go 1.24 or later.
package metaflow

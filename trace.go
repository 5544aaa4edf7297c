// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// TraceEvent represents one call of one node in a traced invocation.
type TraceEvent struct {
	// Names is the rendering of every node from the outermost composable
	// down to the called node, e.g. ["(a | (b + c))", "(b + c)", "b"].
	Names []string `json:"names"`

	// Start is when the call began.
	Start time.Time `json:"start"`

	// Duration is how long the call took.
	Duration time.Duration `json:"duration"`

	// Leaf is true for functions and values, false for chains and merges.
	Leaf bool `json:"leaf,omitempty"`

	// Error is the error message if the call failed, empty otherwise. Location
	// annotations are stripped.
	Error string `json:"error,omitempty"`
}

// TraceOption configures trace behavior.
type TraceOption func(*traceOptions)

type traceOptions struct {
	// StreamTo receives events as JSON Lines as they finish. All events are
	// retained in memory regardless.
	StreamTo io.Writer
}

// WithStreamTo configures the trace to stream events as JSON Lines to the
// given writer.
//
// Events are written one per line as they finish, so a trace survives a
// crash of the calling program. This differs from [Trace.WriteTo], which
// writes one pretty-printed JSON array after the call.
//
// Write failures are ignored; tracing never fails the traced call.
//
// Example:
//
//	f, _ := os.Create("trace.jsonl")
//	defer f.Close()
//	out, tr, err := metaflow.Traced(ctx, pipeline, nil, []any{input}, metaflow.WithStreamTo(f))
func WithStreamTo(w io.Writer) TraceOption {
	return func(opts *traceOptions) {
		opts.StreamTo = w
	}
}

// trace is the collector attached to a CallState while tracing.
type trace struct {
	mu       sync.Mutex
	streamTo io.Writer
	encoder  sonic.Encoder
	result   *Trace
}

// Trace is the record of one traced invocation.
type Trace struct {
	// Events lists one event per node call, in start order.
	Events []TraceEvent

	// Start is when the traced call began.
	Start time.Time

	// Duration is the total time of the call. For filtered traces (from
	// Filter), this is the sum of event durations.
	Duration time.Duration

	// TotalCalls is the number of node calls recorded.
	TotalCalls int

	// TotalErrors is the number of node calls that failed.
	TotalErrors int
}

// eventIdx is a type-safe index into the trace's event array.
type eventIdx int

// Traced calls c with args and records an event for every node entered
// during the call.
//
// state may be nil, in which case a fresh [CallState] is used. Calls made
// inside worker processes of a concurrent merge are not recorded; the
// concurrent merge itself is.
//
// Example:
//
//	out, tr, err := metaflow.Traced(ctx, pipeline, nil, []any{"input"})
//	tr.WriteText(os.Stdout)
//
// The trace is returned even when the call fails.
func Traced(ctx context.Context, c any, state *CallState, args []any, opts ...TraceOption) (any, *Trace, error) {
	options := traceOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	result := &Trace{
		Start:  time.Now(),
		Events: make([]TraceEvent, 0),
	}
	tr := &trace{
		streamTo: options.StreamTo,
		result:   result,
	}
	if tr.streamTo != nil {
		tr.encoder = sonic.ConfigDefault.NewEncoder(tr.streamTo)
	}

	state = ensureState(state)
	previous := state.setTrace(tr)
	defer state.setTrace(previous)

	out, err := Lift(c).Call(ctx, state, args...)
	result.Duration = time.Since(result.Start)
	if tr.streamTo != nil {
		if flusher, ok := tr.streamTo.(interface{ Flush() error }); ok {
			_ = flusher.Flush()
		}
	}
	return out, result, err
}

func (s *CallState) setTrace(tr *trace) *trace {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	previous := s.trace
	s.trace = tr
	return previous
}

// newEvent starts a new event and returns its index, which must be passed
// to recordFinish when the call ends.
func (t *trace) newEvent(names []string, leaf bool) eventIdx {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := len(t.result.Events)
	t.result.Events = append(t.result.Events, TraceEvent{
		Names: names,
		Leaf:  leaf,
		Start: time.Now(),
	})
	t.result.TotalCalls++

	return eventIdx(idx)
}

// recordFinish sets an event's duration and error.
func (t *trace) recordFinish(idx eventIdx, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	event := &t.result.Events[idx]
	event.Duration = time.Since(event.Start)
	if err != nil {
		// Location annotations repeat the whole pipeline; record the cause.
		recordErr := err
		for {
			var located *LocatedError
			if errors.As(recordErr, &located) && located.Err != nil {
				recordErr = located.Err
			} else {
				break
			}
		}
		event.Error = recordErr.Error()
		t.result.TotalErrors++
	}

	if t.encoder != nil {
		_ = t.encoder.Encode(event)
	}
}

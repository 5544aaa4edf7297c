// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"path/filepath"
	"slices"
	"time"
)

// TraceFilter is a predicate over trace events. Filters passed together are
// AND'd.
type TraceFilter func(TraceEvent) bool

func matchesAll(event TraceEvent, filters []TraceFilter) bool {
	for _, filter := range filters {
		if !filter(event) {
			return false
		}
	}
	return true
}

// FindEvent returns the first event matching all filters, or nil.
//
// Example:
//
//	// Where did the pipeline fail first?
//	if ev := tr.FindEvent(metaflow.HasError(), metaflow.IsLeaf()); ev != nil {
//	    log.Printf("%s failed: %s", ev.Names[len(ev.Names)-1], ev.Error)
//	}
func (t *Trace) FindEvent(filters ...TraceFilter) *TraceEvent {
	for i := range t.Events {
		if matchesAll(t.Events[i], filters) {
			return &t.Events[i]
		}
	}
	return nil
}

// Filter returns a new Trace holding only the events matching all filters.
// The original trace is not modified.
//
// In the result, TotalCalls and TotalErrors count the kept events, Duration
// is the sum of their durations and Start is the earliest of their starts
// (the original Start when nothing matched).
func (t *Trace) Filter(filters ...TraceFilter) *Trace {
	out := &Trace{Events: make([]TraceEvent, 0, len(t.Events))}
	for _, event := range t.Events {
		if !matchesAll(event, filters) {
			continue
		}
		out.Events = append(out.Events, event)
		out.Duration += event.Duration
		if event.Error != "" {
			out.TotalErrors++
		}
		if out.Start.IsZero() || event.Start.Before(out.Start) {
			out.Start = event.Start
		}
	}
	if out.Start.IsZero() {
		out.Start = t.Start
	}
	out.TotalCalls = len(out.Events)
	return out
}

// MinDuration matches events that took at least d.
func MinDuration(d time.Duration) TraceFilter {
	return func(event TraceEvent) bool {
		return event.Duration >= d
	}
}

// MaxDuration matches events that took at most d.
func MaxDuration(d time.Duration) TraceFilter {
	return func(event TraceEvent) bool {
		return event.Duration <= d
	}
}

// HasError matches failed calls.
func HasError() TraceFilter {
	return func(event TraceEvent) bool {
		return event.Error != ""
	}
}

// NoError matches successful calls.
func NoError() TraceFilter {
	return func(event TraceEvent) bool {
		return event.Error == ""
	}
}

func lastName(event TraceEvent) (string, bool) {
	if len(event.Names) == 0 {
		return "", false
	}
	return event.Names[len(event.Names)-1], true
}

// NameEquals matches calls of the node rendered exactly as name.
func NameEquals(name string) TraceFilter {
	return func(event TraceEvent) bool {
		last, ok := lastName(event)
		return ok && last == name
	}
}

// NameMatches matches calls whose node rendering matches the glob pattern,
// with [filepath.Match] semantics. A malformed pattern matches nothing.
func NameMatches(pattern string) TraceFilter {
	return func(event TraceEvent) bool {
		last, ok := lastName(event)
		if !ok {
			return false
		}
		matched, err := filepath.Match(pattern, last)
		return err == nil && matched
	}
}

// Within matches calls made, directly or not, inside a node rendered as
// name.
func Within(name string) TraceFilter {
	return func(event TraceEvent) bool {
		if len(event.Names) < 2 {
			return false
		}
		return slices.Contains(event.Names[:len(event.Names)-1], name)
	}
}

// IsLeaf matches calls of functions and values, as opposed to chains and
// merges.
func IsLeaf() TraceFilter {
	return func(event TraceEvent) bool {
		return event.Leaf
	}
}

// DepthEquals matches events at the given depth; the outermost call has
// depth 1.
func DepthEquals(depth int) TraceFilter {
	return func(event TraceEvent) bool {
		return len(event.Names) == depth
	}
}

// DepthAtMost matches events at or above the given depth.
func DepthAtMost(depth int) TraceFilter {
	return func(event TraceEvent) bool {
		return len(event.Names) <= depth
	}
}

// TimeRange matches events that started between start and end, inclusive.
func TimeRange(start, end time.Time) TraceFilter {
	return func(event TraceEvent) bool {
		return !event.Start.Before(start) && !event.Start.After(end)
	}
}

// ErrorMatches matches failed calls whose error message matches the glob
// pattern. A malformed pattern matches nothing.
//
// Example patterns:
//   - "*timeout*" matches errors containing "timeout"
//   - "division by zero" matches exactly that message
func ErrorMatches(pattern string) TraceFilter {
	return func(event TraceEvent) bool {
		if event.Error == "" {
			return false
		}
		matched, err := filepath.Match(pattern, event.Error)
		return err == nil && matched
	}
}

// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

type mergeMode int

const (
	// modeMerge gives every function the same input, or one input each.
	modeMerge mergeMode = iota
	// modeBroadcast spreads one sequence across the functions.
	modeBroadcast
	// modeMap calls the only function once per element.
	modeMap
)

// Merge calls several functions on a shared input and reduces their results,
// in declaration order, with a [Reducer].
//
// Arguments are paired with functions as follows:
//
//   - no arguments: every function is called with no arguments
//   - one argument: every function receives it
//   - n arguments, n <= len(functions): argument i goes to function i and the
//     remaining functions are called with no arguments
//   - more arguments than functions: [*CallError]
//
// Functions run one after another in the calling goroutine unless the merge
// was upgraded with [Concurrent].
type Merge struct {
	reducer   *Reducer
	functions []Composable
	join      string
	mode      mergeMode
	runner    *processRunner
}

// branch is one function call planned by a merge.
type branch struct {
	fn   int
	args []any
}

// NewMerge builds a merge of functions reduced by reducer. join is the text
// placed between the functions when rendering; an empty join uses the
// reducer's symbol.
func NewMerge(reducer *Reducer, functions []any, join string) (*Merge, error) {
	if reducer == nil {
		return nil, &CompositionError{Op: "merge", Reason: "nil reducer"}
	}
	if len(functions) == 0 {
		return nil, &CompositionError{Op: "merge", Reason: "no functions to merge"}
	}
	if join == "" {
		join = reducer.symbol
	}
	return &Merge{reducer: reducer, functions: liftAll(functions), join: join}, nil
}

// MergeWith builds a merge of fns reduced by reducer. Operands that are
// plain merges with the same reducer are flattened into the result.
//
// MergeWith panics with a [*CompositionError] if reducer is nil; use
// [NewMerge] to get the error instead.
func MergeWith(reducer *Reducer, first any, rest ...any) *Merge {
	if reducer == nil {
		panic(&CompositionError{Op: "merge", Reason: "nil reducer"})
	}
	m := &Merge{reducer: reducer, join: reducer.symbol}
	for _, x := range append([]any{first}, rest...) {
		fn := Lift(x)
		if inner, ok := fn.(*Merge); ok && inner.flattensInto(reducer) {
			m.functions = append(m.functions, inner.functions...)
			continue
		}
		m.functions = append(m.functions, fn)
	}
	return m
}

func (m *Merge) flattensInto(reducer *Reducer) bool {
	return m.reducer == reducer && m.mode == modeMerge && m.runner == nil && m.join == reducer.symbol
}

func binary(reducer *Reducer, left, right any) *Merge {
	return &Merge{reducer: reducer, functions: []Composable{Lift(left), Lift(right)}, join: reducer.symbol}
}

// Add merges left and right with [AddReducer]. Binary merges nest:
// Add(Add(a, b), c) renders as ((a + b) + c).
func Add(left, right any) *Merge { return binary(AddReducer, left, right) }

// Sub merges left and right with [SubReducer].
func Sub(left, right any) *Merge { return binary(SubReducer, left, right) }

// Mul merges left and right with [MulReducer].
func Mul(left, right any) *Merge { return binary(MulReducer, left, right) }

// Div merges left and right with [DivReducer].
func Div(left, right any) *Merge { return binary(DivReducer, left, right) }

// And merges its operands with [ConcatReducer], collecting every result.
// Unlike the arithmetic merges it flattens: And(And(a, b), c) is the same
// three-way merge as And(a, b, c).
func And(first any, rest ...any) *Merge {
	return MergeWith(ConcatReducer, first, rest...)
}

// Star turns c into a broadcast: its single argument must be a slice or
// array whose elements are handed out one per function. A merge keeps its
// functions and reducer. Anything else is repeated once per element and the
// results are collected with [ConcatReducer].
//
// A broadcast fails with [*BroadcastError] when the input is not a sequence
// or holds more elements than there are functions.
func Star(c any) *Merge {
	fn := Lift(c)
	if m, ok := fn.(*Merge); ok && m.mode == modeMerge {
		out := m.clone()
		out.mode = modeBroadcast
		return out
	}
	return &Merge{reducer: ConcatReducer, functions: []Composable{fn}, join: ConcatReducer.symbol, mode: modeBroadcast}
}

// At pipes left's result into a broadcast of right: At(l, r) is
// Pipe(l, Star(r)).
func At(left, right any) *Chain {
	return Pipe(left, Star(right))
}

// Map calls fn once per element of its argument and reduces the results with
// reducer, or [ConcatReducer] when reducer is nil. Given several sequences it
// zips them, stopping at the shortest, and passes one element of each.
func Map(fn any, reducer *Reducer) *Merge {
	if reducer == nil {
		reducer = ConcatReducer
	}
	return &Merge{reducer: reducer, functions: []Composable{Lift(fn)}, join: reducer.symbol, mode: modeMap}
}

func (m *Merge) clone() *Merge {
	out := *m
	out.functions = append([]Composable(nil), m.functions...)
	return &out
}

// Reducer returns the merge's reducer.
func (m *Merge) Reducer() *Reducer {
	return m.reducer
}

// IsConcurrent reports whether the merge runs its functions in worker
// processes.
func (m *Merge) IsConcurrent() bool {
	return m.runner != nil
}

// Call pairs the arguments with the functions, calls each function and
// reduces the results.
func (m *Merge) Call(ctx context.Context, state *CallState, args ...any) (result any, err error) {
	state = ensureState(state)
	state.push(m)
	defer func() { state.pop(err) }()

	branches, err := m.pair(args)
	if err != nil {
		return nil, err
	}

	var results []any
	if m.runner != nil {
		results, err = m.runner.run(ctx, state, m, branches)
	} else {
		results, err = m.runLocal(ctx, state, branches)
	}
	if err != nil {
		return nil, err
	}
	return m.reducer.Reduce(results)
}

func (m *Merge) runLocal(ctx context.Context, state *CallState, branches []branch) ([]any, error) {
	results := make([]any, len(branches))
	for i, b := range branches {
		r, err := m.functions[b.fn].Call(ctx, state, b.args...)
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

// pair decides which arguments each function call receives.
func (m *Merge) pair(args []any) ([]branch, error) {
	switch m.mode {
	case modeBroadcast:
		return m.pairBroadcast(args)
	case modeMap:
		return m.pairMap(args)
	}

	n := len(m.functions)
	if len(args) > 1 && len(args) > n {
		return nil, &CallError{
			Function: m.String(),
			Reason:   fmt.Sprintf("%d arguments given to a merge of %d functions", len(args), n),
		}
	}
	branches := make([]branch, n)
	for i := range branches {
		branches[i].fn = i
		switch {
		case len(args) == 1:
			branches[i].args = []any{args[0]}
		case i < len(args):
			branches[i].args = []any{args[i]}
		}
	}
	return branches, nil
}

func (m *Merge) pairBroadcast(args []any) ([]branch, error) {
	if len(args) != 1 {
		return nil, &BroadcastError{
			Function: m.String(),
			Inputs:   len(args),
			Capacity: len(m.functions),
			Reason:   fmt.Sprintf("broadcast takes one sequence argument, got %d arguments", len(args)),
		}
	}
	elems, ok := elements(args[0])
	if !ok {
		return nil, &BroadcastError{
			Function: m.String(),
			Capacity: len(m.functions),
			Reason:   fmt.Sprintf("cannot broadcast %T: not a slice or array", args[0]),
		}
	}

	if len(m.functions) == 1 {
		branches := make([]branch, len(elems))
		for i, e := range elems {
			branches[i] = branch{fn: 0, args: []any{e}}
		}
		return branches, nil
	}

	if len(elems) > len(m.functions) {
		return nil, &BroadcastError{Function: m.String(), Inputs: len(elems), Capacity: len(m.functions)}
	}
	branches := make([]branch, len(m.functions))
	for i := range branches {
		branches[i].fn = i
		if i < len(elems) {
			branches[i].args = []any{elems[i]}
		}
	}
	return branches, nil
}

func (m *Merge) pairMap(args []any) ([]branch, error) {
	if len(args) == 0 {
		return nil, &CallError{Function: m.String(), Reason: "map needs at least one sequence argument"}
	}
	columns := make([][]any, len(args))
	shortest := -1
	for i, arg := range args {
		elems, ok := elements(arg)
		if !ok {
			return nil, &CallError{
				Function: m.String(),
				Reason:   fmt.Sprintf("argument %d: cannot map over %T", i, arg),
			}
		}
		columns[i] = elems
		if shortest < 0 || len(elems) < shortest {
			shortest = len(elems)
		}
	}

	branches := make([]branch, shortest)
	for i := range branches {
		row := make([]any, len(columns))
		for j, col := range columns {
			row[j] = col[i]
		}
		branches[i] = branch{fn: 0, args: row}
	}
	return branches, nil
}

// elements returns the elements of a slice or array.
func elements(x any) ([]any, bool) {
	if xs, ok := x.([]any); ok {
		return xs, true
	}
	v := reflect.ValueOf(x)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, v.Len())
	for i := range out {
		out[i] = v.Index(i).Interface()
	}
	return out, true
}

func (m *Merge) Functions() []Composable {
	return append([]Composable(nil), m.functions...)
}

func (m *Merge) String() string {
	var s string
	switch m.mode {
	case modeMap:
		s = "mmap(" + m.functions[0].String() + ")"
	default:
		names := make([]string, len(m.functions))
		for i, fn := range m.functions {
			names[i] = fn.String()
		}
		s = "(" + strings.Join(names, " "+m.join+" ") + ")"
		if m.mode == modeBroadcast {
			s = "star" + s
		}
	}
	if m.runner != nil {
		if m.mode == modeMerge {
			return "concurrent" + s
		}
		return "concurrent(" + s + ")"
	}
	return s
}

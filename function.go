// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Func is the canonical leaf signature: positional arguments in, one result
// out.
type Func func(ctx context.Context, args ...any) (any, error)

// StateFunc is a leaf that asks for the active [CallState]. Declaring this
// signature is how a function opts into receiving the call state; other
// functions never see it.
type StateFunc func(ctx context.Context, state *CallState, args ...any) (any, error)

// invoker is the normalized form every leaf is reduced to at wrap time.
type invoker func(ctx context.Context, state *CallState, args []any) (any, error)

// SimpleFunction adapts one Go function to the [Composable] contract. It is
// the leaf of every composition tree.
//
// A SimpleFunction is immutable once built and may be reused in any number of
// trees and concurrent calls.
type SimpleFunction struct {
	name   string
	locate bool
	call   invoker
}

type nodeOptions struct {
	name   string
	locate bool
}

// A NodeOption configures a [SimpleFunction].
type NodeOption func(*nodeOptions)

// WithName sets the display name. By default the Go function's own name is
// used, or "<lambda>" for function literals.
func WithName(name string) NodeOption {
	return func(o *nodeOptions) {
		o.name = name
	}
}

// WithLocation controls whether errors returned by the function are
// annotated with a [*LocatedError] showing where in the pipeline they
// happened. Annotation is on by default.
func WithLocation(enabled bool) NodeOption {
	return func(o *nodeOptions) {
		o.locate = enabled
	}
}

// NewNode wraps fn in a [SimpleFunction].
//
// fn may be a [Func], a [StateFunc], a [Composable], or any other Go function.
// Other functions are adapted once, here, by inspecting their signature:
//
//   - a leading context.Context parameter receives the call's context
//   - a following *CallState parameter receives the active call state
//   - remaining parameters take the positional arguments; missing trailing
//     arguments are passed as zero values, extra ones are a [*CallError]
//   - results may be (), (R), (error) or (R, error)
//
// NewNode returns a [*CompositionError] when fn is not a function or its
// signature cannot be adapted.
func NewNode(fn any, opts ...NodeOption) (*SimpleFunction, error) {
	options := nodeOptions{locate: true}
	for _, opt := range opts {
		opt(&options)
	}

	if c, ok := fn.(Composable); ok {
		if options.name == "" {
			options.name = c.String()
		}
		return &SimpleFunction{
			name:   options.name,
			locate: options.locate,
			call: func(ctx context.Context, state *CallState, args []any) (any, error) {
				return c.Call(ctx, state, args...)
			},
		}, nil
	}

	if options.name == "" {
		options.name = funcName(fn)
	}
	call, err := adapt(options.name, fn)
	if err != nil {
		return nil, err
	}
	return &SimpleFunction{name: options.name, locate: options.locate, call: call}, nil
}

// Node is like [NewNode] but panics if fn cannot be wrapped. It is meant for
// package-level pipeline definitions.
func Node(fn any, opts ...NodeOption) *SimpleFunction {
	s, err := NewNode(fn, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Call invokes the wrapped function.
func (s *SimpleFunction) Call(ctx context.Context, state *CallState, args ...any) (result any, err error) {
	state = ensureState(state)
	state.push(s)
	defer func() { state.pop(err) }()

	result, err = s.call(ctx, state, args)
	if err != nil && s.locate && !alreadyLocated(err) {
		err = &LocatedError{Location: state.HighlightActiveFunction(), Err: err}
	}
	return result, err
}

// Functions returns the function itself; a leaf has exactly one entry.
func (s *SimpleFunction) Functions() []Composable {
	return []Composable{s}
}

func (s *SimpleFunction) String() string {
	return s.name
}

// Name returns the display name.
func (s *SimpleFunction) Name() string {
	return s.name
}

// DeferredValue lets a plain value take part in a composition. Calling it
// ignores the arguments and returns the value.
type DeferredValue struct {
	value any
}

// Value wraps v in a [DeferredValue].
func Value(v any) *DeferredValue {
	return &DeferredValue{value: v}
}

// Call returns the stored value.
func (d *DeferredValue) Call(ctx context.Context, state *CallState, args ...any) (any, error) {
	state = ensureState(state)
	state.push(d)
	defer state.pop(nil)
	return d.value, nil
}

func (d *DeferredValue) Functions() []Composable {
	return []Composable{d}
}

func (d *DeferredValue) String() string {
	if s, ok := d.value.(string); ok {
		if strings.ContainsRune(s, '\'') {
			return strconv.Quote(s)
		}
		return "'" + s + "'"
	}
	return fmt.Sprintf("%v", d.value)
}

// Value returns the stored value.
func (d *DeferredValue) Value() any {
	return d.value
}

var (
	contextType   = reflect.TypeFor[context.Context]()
	callStateType = reflect.TypeFor[*CallState]()
	errorType     = reflect.TypeFor[error]()
)

// adapt reduces fn to an invoker, deciding once how arguments, context and
// call state are passed.
func adapt(name string, fn any) (invoker, error) {
	switch f := fn.(type) {
	case Func:
		return func(ctx context.Context, _ *CallState, args []any) (any, error) { return f(ctx, args...) }, nil
	case func(context.Context, ...any) (any, error):
		return func(ctx context.Context, _ *CallState, args []any) (any, error) { return f(ctx, args...) }, nil
	case StateFunc:
		return func(ctx context.Context, state *CallState, args []any) (any, error) { return f(ctx, state, args...) }, nil
	case func(context.Context, *CallState, ...any) (any, error):
		return func(ctx context.Context, state *CallState, args []any) (any, error) { return f(ctx, state, args...) }, nil
	}

	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return nil, &CompositionError{Op: "node", Reason: fmt.Sprintf("%T is not a function", fn)}
	}
	if v.IsNil() {
		return nil, &CompositionError{Op: "node", Reason: "nil function"}
	}
	t := v.Type()

	offset := 0
	wantsCtx := t.NumIn() > offset && t.In(offset) == contextType
	if wantsCtx {
		offset++
	}
	wantsState := t.NumIn() > offset && t.In(offset) == callStateType
	if wantsState {
		offset++
	}

	returnsErr := false
	returnsValue := false
	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errorType {
			returnsErr = true
		} else {
			returnsValue = true
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, &CompositionError{Op: "node", Reason: fmt.Sprintf("%s: second result of %s must be error", name, t)}
		}
		returnsValue, returnsErr = true, true
	default:
		return nil, &CompositionError{Op: "node", Reason: fmt.Sprintf("%s: %s returns too many results", name, t)}
	}

	fixed := t.NumIn() - offset
	if t.IsVariadic() {
		fixed--
	}

	return func(ctx context.Context, state *CallState, args []any) (any, error) {
		if !t.IsVariadic() && len(args) > fixed {
			return nil, &CallError{
				Function: name,
				Reason:   fmt.Sprintf("takes %d arguments, but %d were given", fixed, len(args)),
			}
		}

		in := make([]reflect.Value, 0, t.NumIn()+len(args))
		if wantsCtx {
			if ctx == nil {
				in = append(in, reflect.Zero(contextType))
			} else {
				in = append(in, reflect.ValueOf(ctx))
			}
		}
		if wantsState {
			in = append(in, reflect.ValueOf(state))
		}
		for i := range fixed {
			pt := t.In(offset + i)
			if i >= len(args) {
				in = append(in, reflect.Zero(pt))
				continue
			}
			av, err := argValue(args[i], pt)
			if err != nil {
				return nil, &CallError{Function: name, Reason: fmt.Sprintf("argument %d: %v", i, err)}
			}
			in = append(in, av)
		}
		if t.IsVariadic() && len(args) > fixed {
			et := t.In(t.NumIn() - 1).Elem()
			for i := fixed; i < len(args); i++ {
				av, err := argValue(args[i], et)
				if err != nil {
					return nil, &CallError{Function: name, Reason: fmt.Sprintf("argument %d: %v", i, err)}
				}
				in = append(in, av)
			}
		}

		out := v.Call(in)

		var result any
		if returnsValue {
			result = out[0].Interface()
		}
		if returnsErr {
			if errV := out[len(out)-1]; !errV.IsNil() {
				return result, errV.Interface().(error)
			}
		}
		return result, nil
	}, nil
}

// argValue converts an argument to a parameter type. Numbers convert between
// numeric kinds when the value survives the conversion unchanged.
func argValue(arg any, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(t), nil
	}
	av := reflect.ValueOf(arg)
	if av.Type().AssignableTo(t) {
		return av, nil
	}
	if isNumeric(av.Kind()) && isNumeric(t.Kind()) && av.CanConvert(t) {
		converted := av.Convert(t)
		if converted.Convert(av.Type()).Equal(av) {
			return converted, nil
		}
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", arg, t)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

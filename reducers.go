// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrNothingToReduce is returned by the arithmetic reducers when a merge
// produced no results, as a broadcast over an empty sequence does.
var ErrNothingToReduce = errors.New("nothing to reduce")

// Reducer combines the ordered results of a [Merge] into one value.
//
// Reducers are compared by identity: [MergeWith] only flattens merges that
// share the same *Reducer.
type Reducer struct {
	symbol string
	fn     func(values []any) (any, error)
}

// NewReducer returns a reducer rendered as symbol between the merged
// functions.
func NewReducer(symbol string, fn func(values []any) (any, error)) *Reducer {
	return &Reducer{symbol: symbol, fn: fn}
}

// BinaryReducer returns a reducer that left-folds op over the results.
func BinaryReducer(symbol string, op func(a, b any) (any, error)) *Reducer {
	return NewReducer(symbol, func(values []any) (any, error) {
		if len(values) == 0 {
			return nil, ErrNothingToReduce
		}
		acc := values[0]
		for _, v := range values[1:] {
			var err error
			if acc, err = op(acc, v); err != nil {
				return nil, err
			}
		}
		return acc, nil
	})
}

// Symbol returns the reducer's join symbol.
func (r *Reducer) Symbol() string {
	return r.symbol
}

// Reduce combines values.
func (r *Reducer) Reduce(values []any) (any, error) {
	return r.fn(values)
}

var (
	// AddReducer adds numbers and concatenates strings and slices.
	AddReducer = BinaryReducer("+", add)
	// SubReducer subtracts numbers, left to right. Unsigned operands never
	// wrap around.
	SubReducer = BinaryReducer("-", sub)
	// MulReducer multiplies numbers, or repeats a string by an integer.
	MulReducer = BinaryReducer("*", mul)
	// DivReducer divides numbers, left to right, always yielding float64.
	DivReducer = BinaryReducer("/", div)
	// ConcatReducer collects every result, in order, into a []any.
	ConcatReducer = NewReducer("&", func(values []any) (any, error) {
		return append(make([]any, 0, len(values)), values...), nil
	})
)

type numberClass int

const (
	notNumber numberClass = iota
	signedNumber
	unsignedNumber
	floatNumber
)

func classify(v reflect.Value) numberClass {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return signedNumber
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return unsignedNumber
	case reflect.Float32, reflect.Float64:
		return floatNumber
	}
	return notNumber
}

func asFloat(v reflect.Value) float64 {
	switch classify(v) {
	case signedNumber:
		return float64(v.Int())
	case unsignedNumber:
		return float64(v.Uint())
	}
	return v.Float()
}

func asInt(v reflect.Value) int64 {
	if classify(v) == unsignedNumber {
		return int64(v.Uint())
	}
	return v.Int()
}

// arith applies an operation to two numbers. Operands of one type keep that
// type; mixed operands widen to float64 when either is a float, else int64.
func arith(op string, a, b any, ints func(x, y int64) int64, uints func(x, y uint64) uint64, floats func(x, y float64) float64) (any, error) {
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	ac, bc := classify(av), classify(bv)
	if ac == notNumber || bc == notNumber {
		return nil, &OperandError{Op: op, Left: fmt.Sprintf("%T", a), Right: fmt.Sprintf("%T", b)}
	}

	if av.Type() == bv.Type() {
		out := reflect.New(av.Type()).Elem()
		switch ac {
		case signedNumber:
			out.SetInt(ints(av.Int(), bv.Int()))
		case unsignedNumber:
			out.SetUint(uints(av.Uint(), bv.Uint()))
		default:
			out.SetFloat(floats(av.Float(), bv.Float()))
		}
		return out.Interface(), nil
	}

	if ac == floatNumber || bc == floatNumber {
		return floats(asFloat(av), asFloat(bv)), nil
	}
	return ints(asInt(av), asInt(bv)), nil
}

func add(a, b any) (any, error) {
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if a != nil && b != nil {
		switch {
		case av.Kind() == reflect.String && bv.Kind() == reflect.String:
			if av.Type() == bv.Type() {
				out := reflect.New(av.Type()).Elem()
				out.SetString(av.String() + bv.String())
				return out.Interface(), nil
			}
			return av.String() + bv.String(), nil
		case av.Kind() == reflect.Slice && av.Type() == bv.Type():
			out := reflect.MakeSlice(av.Type(), 0, av.Len()+bv.Len())
			out = reflect.AppendSlice(out, av)
			out = reflect.AppendSlice(out, bv)
			return out.Interface(), nil
		}
	}
	return arith("+", a, b,
		func(x, y int64) int64 { return x + y },
		func(x, y uint64) uint64 { return x + y },
		func(x, y float64) float64 { return x + y },
	)
}

// sub widens same-typed unsigned operands to int64 when the result would
// be negative, or to float64 when it would not fit int64 either.
func sub(a, b any) (any, error) {
	if a != nil && b != nil {
		av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
		if av.Type() == bv.Type() && classify(av) == unsignedNumber && bv.Uint() > av.Uint() {
			diff := bv.Uint() - av.Uint()
			if diff > 1<<63 {
				return -float64(diff), nil
			}
			return int64(-diff), nil
		}
	}
	return arith("-", a, b,
		func(x, y int64) int64 { return x - y },
		func(x, y uint64) uint64 { return x - y },
		func(x, y float64) float64 { return x - y },
	)
}

func mul(a, b any) (any, error) {
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if a != nil && b != nil {
		switch {
		case av.Kind() == reflect.String && classify(bv) == signedNumber:
			return strings.Repeat(av.String(), max(0, int(bv.Int()))), nil
		case bv.Kind() == reflect.String && classify(av) == signedNumber:
			return strings.Repeat(bv.String(), max(0, int(av.Int()))), nil
		}
	}
	return arith("*", a, b,
		func(x, y int64) int64 { return x * y },
		func(x, y uint64) uint64 { return x * y },
		func(x, y float64) float64 { return x * y },
	)
}

func div(a, b any) (any, error) {
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if classify(av) == notNumber || classify(bv) == notNumber {
		return nil, &OperandError{Op: "/", Left: fmt.Sprintf("%T", a), Right: fmt.Sprintf("%T", b)}
	}
	divisor := asFloat(bv)
	if divisor == 0 {
		return nil, ErrDivisionByZero
	}
	return asFloat(av) / divisor, nil
}

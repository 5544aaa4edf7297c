// SPDX-License-Identifier: Apache-2.0

package definition

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sam-fredrickson/metaflow"
)

// Registry maps the names used by fn nodes to composables.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]metaflow.Composable
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{fns: map[string]metaflow.Composable{}}
}

// Register adds fn under name. Go functions are wrapped with
// [metaflow.Node] and rendered as name. Registering a name twice is an
// error.
func (r *Registry) Register(name string, fn any) error {
	c, ok := fn.(metaflow.Composable)
	if !ok {
		node, err := metaflow.NewNode(fn, metaflow.WithName(name))
		if err != nil {
			return fmt.Errorf("register %q: %w", name, err)
		}
		c = node
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.fns[name]; exists {
		return fmt.Errorf("register %q: name already registered", name)
	}
	r.fns[name] = c
	return nil
}

// MustRegister is like [Registry.Register] but panics on error.
func (r *Registry) MustRegister(name string, fn any) *Registry {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the composable registered under name.
func (r *Registry) Lookup(name string) (metaflow.Composable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.fns[name]
	return c, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.fns))
}

// Builtins returns a registry holding the standard string and list helpers:
//
//   - upper, lower, trim: string case and whitespace
//   - len: length of a string (in runes), list or map
//   - identity: the input itself
//   - split: a string split around whitespace
//   - join: a list of values joined with single spaces
//   - sum: a list of numbers added with [metaflow.AddReducer]
func Builtins() *Registry {
	return NewRegistry().
		MustRegister("upper", strings.ToUpper).
		MustRegister("lower", strings.ToLower).
		MustRegister("trim", strings.TrimSpace).
		MustRegister("len", length).
		MustRegister("identity", func(x any) any { return x }).
		MustRegister("split", strings.Fields).
		MustRegister("join", join).
		MustRegister("sum", sum)
}

func length(x any) (int, error) {
	if s, ok := x.(string); ok {
		return utf8.RuneCountInString(s), nil
	}
	v := reflect.ValueOf(x)
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return v.Len(), nil
	}
	return 0, fmt.Errorf("len: unsupported type %T", x)
}

// list returns the elements of a slice or array.
func list(name string, x any) ([]any, error) {
	if items, ok := x.([]any); ok {
		return items, nil
	}
	v := reflect.ValueOf(x)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, fmt.Errorf("%s: expected a list, got %T", name, x)
	}
	items := make([]any, v.Len())
	for i := range items {
		items[i] = v.Index(i).Interface()
	}
	return items, nil
}

func join(x any) (string, error) {
	items, err := list("join", x)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = fmt.Sprint(item)
	}
	return strings.Join(parts, " "), nil
}

func sum(x any) (any, error) {
	items, err := list("sum", x)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return 0, nil
	}
	return metaflow.AddReducer.Reduce(items)
}

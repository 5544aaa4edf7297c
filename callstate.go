// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"maps"
	"strings"
	"sync"
)

// CallState is the mutable context of one invocation.
//
// It holds a free-form data store that functions may use to pass values
// sideways, and a call tree recording which composable is active. Every node
// of a composition receives the same *CallState during one call, so writes
// made by one function are visible to functions called after it.
//
// A CallState is created for each top-level call unless the caller passes one
// explicitly; passing the same CallState to several calls shares its data
// store between them.
type CallState struct {
	mu   sync.RWMutex
	data map[string]any

	treeMu  sync.Mutex
	root    *callNode
	active  *callNode
	visited int
	failure string

	trace *trace
}

// callNode is one entry in the call tree.
type callNode struct {
	fn       Composable
	parent   *callNode
	children []*callNode
	event    eventIdx
}

// NewCallState returns an empty call state.
func NewCallState() *CallState {
	return &CallState{data: make(map[string]any)}
}

func ensureState(state *CallState) *CallState {
	if state == nil {
		return NewCallState()
	}
	return state
}

// Get retrieves a value from the data store.
func (s *CallState) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores a value in the data store.
func (s *CallState) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string]any)
	}
	s.data[key] = value
}

// Delete removes a key from the data store.
func (s *CallState) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Data returns a copy of the data store.
func (s *CallState) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	maps.Copy(out, s.data)
	return out
}

// Len returns the number of keys in the data store.
func (s *CallState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// push records fn as the active function, as a child of the previously
// active one.
func (s *CallState) push(fn Composable) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	node := &callNode{fn: fn}
	if s.root == nil {
		s.root = node
		s.failure = ""
	} else {
		node.parent = s.active
		s.active.children = append(s.active.children, node)
	}
	s.visited++
	s.active = node

	if s.trace != nil {
		node.event = s.trace.newEvent(s.pathLocked(node), isLeaf(fn))
	}
}

// pop leaves the active function and returns it. Popped nodes stay in their
// parent's child list so later highlighting can count earlier calls.
func (s *CallState) pop(err error) Composable {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	node := s.active
	if node == nil {
		return nil
	}
	if s.trace != nil {
		s.trace.recordFinish(node.event, err)
	}
	if err != nil && s.failure == "" {
		s.failure = s.highlightLocked()
	}
	if node.parent == nil {
		s.root = nil
		s.active = nil
		return node.fn
	}
	node.children = nil
	s.active = node.parent
	return node.fn
}

// Active returns the function currently executing, or nil outside a call.
func (s *CallState) Active() Composable {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	if s.active == nil {
		return nil
	}
	return s.active.fn
}

// Stack returns the active call path, from the outermost composable to the
// active one.
func (s *CallState) Stack() []Composable {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	var stack []Composable
	for n := s.active; n != nil; n = n.parent {
		stack = append(stack, n.fn)
	}
	for i, j := 0, len(stack)-1; i < j; i, j = i+1, j-1 {
		stack[i], stack[j] = stack[j], stack[i]
	}
	return stack
}

// Visited returns how many functions have been entered through this state.
func (s *CallState) Visited() int {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	return s.visited
}

func isLeaf(fn Composable) bool {
	switch fn.(type) {
	case *SimpleFunction, *DeferredValue:
		return true
	}
	return false
}

func (s *CallState) pathLocked(node *callNode) []string {
	var names []string
	for n := node; n != nil; n = n.parent {
		names = append(names, n.fn.String())
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}

// HighlightActiveFunction renders the outermost composable with the active
// function marked as ->name<-. It is the "you are here" view used to locate
// errors. Outside a call it returns the empty string.
//
// Repeated names are told apart by counting how many times the active name
// already appeared among the calls made so far by each enclosing composable.
func (s *CallState) HighlightActiveFunction() string {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	return s.highlightLocked()
}

// failureLocation returns the highlighted rendering captured when the first
// error of the current call left a node.
func (s *CallState) failureLocation() string {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	return s.failure
}

func (s *CallState) highlightLocked() string {
	if s.active == nil {
		return ""
	}

	currentName := s.active.fn.String()
	newName := highlight(currentName)

	node := s.active
	for {
		parent := node.parent
		if parent == nil {
			parent = s.root
		}
		parentName := parent.fn.String()

		count := 0
		for _, child := range parent.children {
			count += strings.Count(child.fn.String(), currentName)
		}

		newName = replaceNth(parentName, currentName, newName, count)
		currentName = parentName
		if newName == parentName {
			newName = highlight(newName)
		}

		if parent == s.root {
			return newName
		}
		node = parent
	}
}

func highlight(name string) string {
	return "->" + name + "<-"
}

// replaceNth replaces the nth (1-based) occurrence of old in s. s is returned
// unchanged when there is no such occurrence.
func replaceNth(s, old, replacement string, n int) string {
	if n < 1 || old == "" {
		return s
	}
	offset := 0
	for i := 1; ; i++ {
		idx := strings.Index(s[offset:], old)
		if idx < 0 {
			return s
		}
		at := offset + idx
		if i == n {
			return s[:at] + replacement + s[at+len(old):]
		}
		offset = at + len(old)
	}
}

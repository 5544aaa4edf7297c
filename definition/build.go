// SPDX-License-Identifier: Apache-2.0

package definition

import (
	"context"
	"fmt"

	"github.com/ohler55/ojg/alt"
	"github.com/ohler55/ojg/jp"
	"github.com/slongfield/pyfmt"

	"github.com/sam-fredrickson/metaflow"
)

// BuildError reports a node that could not be built. Path locates the node
// in the document, e.g. "pipeline.chain[1].of[0]".
type BuildError struct {
	Path string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Build turns the document's pipeline into a composable, resolving fn
// nodes in reg. A nil reg means [Builtins].
//
// Concurrent nodes are registered with [metaflow.Concurrent] under their
// rendering, so a program that serves as its own worker must build the same
// documents, in the same order, before calling [metaflow.ServeWorker].
func (d *Document) Build(reg *Registry) (metaflow.Composable, error) {
	if d.Pipeline == nil {
		return nil, &BuildError{Path: "pipeline", Err: fmt.Errorf("missing pipeline")}
	}
	if reg == nil {
		reg = Builtins()
	}
	b := builder{reg: reg}
	return b.build("pipeline", d.Pipeline)
}

var reducers = map[string]*metaflow.Reducer{
	"+": metaflow.AddReducer,
	"-": metaflow.SubReducer,
	"*": metaflow.MulReducer,
	"/": metaflow.DivReducer,
	"&": metaflow.ConcatReducer,
}

type builder struct {
	reg *Registry
}

func (b *builder) build(path string, n *Node) (metaflow.Composable, error) {
	if n == nil {
		return nil, &BuildError{Path: path, Err: fmt.Errorf("empty node")}
	}
	c, err := b.buildKind(path, n)
	if err != nil {
		return nil, err
	}
	if !n.Concurrent {
		return c, nil
	}

	m, ok := c.(*metaflow.Merge)
	if !ok {
		return nil, &BuildError{Path: path, Err: fmt.Errorf("%s nodes cannot be concurrent", n.Kind())}
	}
	m, err = metaflow.Concurrent(m)
	if err != nil {
		return nil, &BuildError{Path: path, Err: err}
	}
	return m, nil
}

func (b *builder) buildKind(path string, n *Node) (metaflow.Composable, error) {
	kind := n.Kind()
	fail := func(err error) (metaflow.Composable, error) {
		return nil, &BuildError{Path: path, Err: err}
	}

	switch kind {
	case "fn":
		c, ok := b.reg.Lookup(n.Fn)
		if !ok {
			return fail(fmt.Errorf("unknown function %q", n.Fn))
		}
		return c, nil

	case "value":
		return metaflow.Value(normalize(n.Value)), nil

	case "format":
		format := n.Format
		return b.leaf(path, n, fmt.Sprintf("format(%q)", format), func(input any) (any, error) {
			return pyfmt.Fmt(format, input)
		})

	case "jsonpath":
		expr, err := jp.ParseString(n.JSONPath)
		if err != nil {
			return fail(fmt.Errorf("invalid jsonpath %q: %w", n.JSONPath, err))
		}
		all := n.All
		name := fmt.Sprintf("jsonpath(%q)", n.JSONPath)
		return b.leaf(path, n, name, func(input any) (any, error) {
			matches := expr.Get(alt.Decompose(input))
			if all {
				return matches, nil
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("no match for %s", expr)
			}
			return matches[0], nil
		})

	case "lua":
		name := n.Name
		if name == "" {
			name = "lua"
		}
		fn, err := luaNode(name, n.Lua, locateOption(n)...)
		if err != nil {
			return fail(err)
		}
		return fn, nil

	case "store":
		return metaflow.Store(n.Store), nil

	case "recall":
		return metaflow.Recall(n.Recall), nil

	case "chain":
		fns, err := b.buildAll(path+".chain", n.Chain)
		if err != nil {
			return nil, err
		}
		return metaflow.Pipe(fns[0], fns[1:]...), nil

	case "merge":
		fns, err := b.buildAll(path+".of", n.Of)
		if err != nil {
			return nil, err
		}
		reducer, ok := reducers[n.Merge]
		if !ok {
			return fail(fmt.Errorf("unknown merge symbol %q", n.Merge))
		}
		m, err := metaflow.NewMerge(reducer, fns, n.Merge)
		if err != nil {
			return fail(err)
		}
		return m, nil

	case "star":
		inner, err := b.build(path+".star", n.Star)
		if err != nil {
			return nil, err
		}
		return metaflow.Star(inner), nil

	case "map":
		inner, err := b.build(path+".map", n.Map)
		if err != nil {
			return nil, err
		}
		var reducer *metaflow.Reducer
		if n.Reduce != "" {
			var ok bool
			if reducer, ok = reducers[n.Reduce]; !ok {
				return fail(fmt.Errorf("unknown reduce symbol %q", n.Reduce))
			}
		}
		return metaflow.Map(inner, reducer), nil

	case "unpack":
		inner, err := b.build(path+".unpack", n.Unpack)
		if err != nil {
			return nil, err
		}
		return metaflow.Unpack(inner), nil
	}
	return fail(fmt.Errorf("unknown node kind %q", kind))
}

func (b *builder) buildAll(path string, nodes []*Node) ([]any, error) {
	if len(nodes) == 0 {
		return nil, &BuildError{Path: path, Err: fmt.Errorf("no nodes")}
	}
	out := make([]any, len(nodes))
	for i, n := range nodes {
		c, err := b.build(fmt.Sprintf("%s[%d]", path, i), n)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// leaf wraps a single-input function as a named node.
func (b *builder) leaf(path string, n *Node, name string, fn func(input any) (any, error)) (metaflow.Composable, error) {
	if n.Name != "" {
		name = n.Name
	}
	opts := append([]metaflow.NodeOption{metaflow.WithName(name)}, locateOption(n)...)
	node, err := metaflow.NewNode(func(_ context.Context, args ...any) (any, error) {
		var input any
		if len(args) > 0 {
			input = args[0]
		}
		return fn(input)
	}, opts...)
	if err != nil {
		return nil, &BuildError{Path: path, Err: err}
	}
	return node, nil
}

func locateOption(n *Node) []metaflow.NodeOption {
	if n.Locate == nil {
		return nil
	}
	return []metaflow.NodeOption{metaflow.WithLocation(*n.Locate)}
}

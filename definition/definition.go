// SPDX-License-Identifier: Apache-2.0

// Package definition builds metaflow pipelines from YAML documents.
//
// A document names a pipeline and describes it as a tree of nodes, each
// with exactly one kind key:
//
//	name: shout
//	input: "  hello "
//	pipeline:
//	  chain:
//	    - fn: trim
//	    - merge: "&"
//	      of:
//	        - fn: upper
//	        - format: "{}!"
//	        - value: literal
//	    - jsonpath: "$[0]"
//
// Leaf kinds are fn (a function looked up in a [Registry]), value, format
// (Python-style format string applied to the input), jsonpath, lua (a
// script that sees its input as the global "input" and returns one value),
// store and recall. Composite kinds are chain, merge (with a reducer symbol
// and an "of" list), star, map (with an optional "reduce" symbol) and
// unpack. Merges, stars and maps accept "concurrent: true".
//
// Documents are checked against an embedded JSON Schema before anything is
// built, so structural mistakes are reported all at once with their paths.
package definition

import (
	"bytes"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Document is a parsed pipeline definition.
type Document struct {
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`

	// Input is the default input used when the caller supplies none.
	Input any `yaml:"input,omitempty"`

	Pipeline *Node `yaml:"pipeline"`
}

// Node is one node of a pipeline definition. Exactly one kind field is set;
// a node with none of them is a value node.
type Node struct {
	Fn       string `yaml:"fn,omitempty"`
	Value    any    `yaml:"value,omitempty"`
	Format   string `yaml:"format,omitempty"`
	JSONPath string `yaml:"jsonpath,omitempty"`
	Lua      string `yaml:"lua,omitempty"`
	Store    string `yaml:"store,omitempty"`
	Recall   string `yaml:"recall,omitempty"`

	Chain  []*Node `yaml:"chain,omitempty"`
	Merge  string  `yaml:"merge,omitempty"`
	Of     []*Node `yaml:"of,omitempty"`
	Star   *Node   `yaml:"star,omitempty"`
	Map    *Node   `yaml:"map,omitempty"`
	Unpack *Node   `yaml:"unpack,omitempty"`

	// All makes a jsonpath node return every match instead of the first.
	All bool `yaml:"all,omitempty"`

	// Reduce is the reducer symbol of a map node; results are collected
	// into a list when it is empty.
	Reduce string `yaml:"reduce,omitempty"`

	// Concurrent runs a merge, star or map in worker processes.
	Concurrent bool `yaml:"concurrent,omitempty"`

	// Name overrides the display name of a leaf.
	Name string `yaml:"name,omitempty"`

	// Locate controls error location annotation of a leaf; it defaults to
	// true.
	Locate *bool `yaml:"locate,omitempty"`
}

// Kind names the node's kind, e.g. "fn" or "merge".
func (n *Node) Kind() string {
	switch {
	case n.Fn != "":
		return "fn"
	case n.Format != "":
		return "format"
	case n.JSONPath != "":
		return "jsonpath"
	case n.Lua != "":
		return "lua"
	case n.Store != "":
		return "store"
	case n.Recall != "":
		return "recall"
	case n.Chain != nil:
		return "chain"
	case n.Merge != "":
		return "merge"
	case n.Star != nil:
		return "star"
	case n.Map != nil:
		return "map"
	case n.Unpack != nil:
		return "unpack"
	}
	return "value"
}

// Parse validates data against the definition schema and decodes it.
func Parse(data []byte) (*Document, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var doc Document
	if err := yaml.UnmarshalWithOptions(data, &doc, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	doc.Input = normalize(doc.Input)
	return &doc, nil
}

// ParseFile reads and parses a definition file.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path) //nolint:gosec // the path is chosen by the user
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Marshal renders doc back to YAML.
func Marshal(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf, yaml.Indent(2))
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode definition: %w", err)
	}
	return buf.Bytes(), nil
}

// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"
)

// Task is what a parent sends a worker on stdin: run branch Index of the
// concurrent merge registered as Key by calling its function number Function.
type Task struct {
	RunID    string `json:"run_id"`
	Key      string `json:"key"`
	Index    int    `json:"index"`
	Function int    `json:"function"`

	// Args holds the branch's positional arguments; a branch paired with no
	// input gets an empty slice.
	Args []Value `json:"args"`

	// Data is a snapshot of the parent's call-state data store.
	Data Value `json:"data"`
}

// Result is what a worker writes back on its result pipe.
type Result struct {
	RunID string `json:"run_id"`
	Index int    `json:"index"`

	Value Value `json:"value"`

	// Updated holds keys written by the branch, Deleted keys it removed.
	Updated Value    `json:"updated"`
	Deleted []string `json:"deleted,omitempty"`

	Err *Error `json:"error,omitempty"`
}

// Error is a serialized error chain.
//
// Value carries the error itself when its concrete type is registered;
// otherwise only Type and Message survive the trip. Cause follows the
// single-error Unwrap chain.
type Error struct {
	Kind    string `json:"kind,omitempty"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Value   *Value `json:"value,omitempty"`
	Cause   *Error `json:"cause,omitempty"`
}

// WriteMessage encodes msg as a single JSON document.
func WriteMessage(w io.Writer, msg any) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wire: encode message: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("wire: write message: %w", err)
	}
	return nil
}

// ReadMessage reads r to EOF and decodes one JSON document into msg.
func ReadMessage(r io.Reader, msg any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("wire: read message: %w", err)
	}
	if len(data) == 0 {
		return io.ErrUnexpectedEOF
	}
	if err := sonic.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("wire: decode message: %w", err)
	}
	return nil
}

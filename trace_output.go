// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/bytedance/sonic"
)

// WriteTo writes the events as one pretty-printed JSON array, followed by a
// newline. Use [WithStreamTo] for JSON Lines written during the call.
func (t *Trace) WriteTo(w io.Writer) (int64, error) {
	data, err := sonic.ConfigStd.MarshalIndent(t.Events, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal trace: %w", err)
	}
	data = append(data, '\n')

	n, err := w.Write(data)
	if err != nil {
		return int64(n), fmt.Errorf("write trace: %w", err)
	}
	return int64(n), nil
}

// WriteText outputs a human-readable tree view of the trace.
//
// Indentation reflects nesting depth and each line shows the rendering of
// the called node.
//
// Example output:
//
//	(trim | (upper + shout)) (1.2ms)
//	  trim (2µs)
//	  (upper + shout) (1.1ms)
//	    upper (1µs)
//	    shout (1ms)
func (t *Trace) WriteText(w io.Writer) (int64, error) {
	return t.writeLines(w, func(event TraceEvent) string {
		if len(event.Names) == 0 {
			return "<unknown>"
		}
		indent := strings.Repeat("  ", len(event.Names)-1)
		return indent + event.Names[len(event.Names)-1]
	})
}

// WriteFlatText outputs one line per event with the full call path.
//
// Unlike [Trace.WriteText], every line shows the path from the outermost
// composable (e.g. "(a | b) > b") and nothing is indented.
//
// Example output:
//
//	(a | b) (3ms)
//	(a | b) > a (1ms)
//	(a | b) > b (2ms)
func (t *Trace) WriteFlatText(w io.Writer) (int64, error) {
	return t.writeLines(w, func(event TraceEvent) string {
		if len(event.Names) == 0 {
			return "<unknown>"
		}
		return strings.Join(event.Names, " > ")
	})
}

// countingWriter counts the bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (t *Trace) writeLines(w io.Writer, label func(TraceEvent) string) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	for _, event := range t.Events {
		line := fmt.Sprintf("%s (%s)", label(event), event.Duration)
		if event.Error != "" {
			line += fmt.Sprintf(" [ERROR: %s]", event.Error)
		}
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return cw.n, fmt.Errorf("write text: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return cw.n, fmt.Errorf("write text: %w", err)
	}
	return cw.n, nil
}

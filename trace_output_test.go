// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedTrace returns a hand-built trace of "(a | (b + fail))".
func fixedTrace() *Trace {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	root := "(a | (b + fail))"
	merge := "(b + fail)"
	return &Trace{
		Start:       start,
		Duration:    10 * time.Millisecond,
		TotalCalls:  5,
		TotalErrors: 3,
		Events: []TraceEvent{
			{Names: []string{root}, Start: start, Duration: 10 * time.Millisecond, Error: "error 1"},
			{Names: []string{root, "a"}, Start: start, Duration: time.Millisecond, Leaf: true},
			{Names: []string{root, merge}, Start: start.Add(time.Millisecond), Duration: 8 * time.Millisecond, Error: "error 1"},
			{Names: []string{root, merge, "b"}, Start: start.Add(time.Millisecond), Duration: 2 * time.Millisecond, Leaf: true},
			{Names: []string{root, merge, "fail"}, Start: start.Add(3 * time.Millisecond), Duration: 5 * time.Millisecond, Leaf: true, Error: "error 1"},
		},
	}
}

func TestTraceOutputFormats(t *testing.T) {
	t.Parallel()

	t.Run("WriteText", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		n, err := fixedTrace().WriteText(&buf)
		require.NoError(t, err)
		assert.Equal(t, int64(buf.Len()), n)
		assert.Equal(t, strings.Join([]string{
			"(a | (b + fail)) (10ms) [ERROR: error 1]",
			"  a (1ms)",
			"  (b + fail) (8ms) [ERROR: error 1]",
			"    b (2ms)",
			"    fail (5ms) [ERROR: error 1]",
			"",
		}, "\n"), buf.String())
	})

	t.Run("WriteFlatText", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		n, err := fixedTrace().WriteFlatText(&buf)
		require.NoError(t, err)
		assert.Equal(t, int64(buf.Len()), n)
		assert.Equal(t, strings.Join([]string{
			"(a | (b + fail)) (10ms) [ERROR: error 1]",
			"(a | (b + fail)) > a (1ms)",
			"(a | (b + fail)) > (b + fail) (8ms) [ERROR: error 1]",
			"(a | (b + fail)) > (b + fail) > b (2ms)",
			"(a | (b + fail)) > (b + fail) > fail (5ms) [ERROR: error 1]",
			"",
		}, "\n"), buf.String())
	})

	t.Run("WriteTo", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		tr := fixedTrace()
		n, err := tr.WriteTo(&buf)
		require.NoError(t, err)
		assert.Equal(t, int64(buf.Len()), n)
		assert.True(t, strings.HasPrefix(buf.String(), "[\n"))
		assert.True(t, strings.HasSuffix(buf.String(), "]\n"))

		var events []TraceEvent
		require.NoError(t, sonic.Unmarshal(buf.Bytes(), &events))
		require.Len(t, events, len(tr.Events))
		for i := range events {
			assert.Equal(t, tr.Events[i].Names, events[i].Names)
			assert.Equal(t, tr.Events[i].Duration, events[i].Duration)
			assert.Equal(t, tr.Events[i].Leaf, events[i].Leaf)
			assert.Equal(t, tr.Events[i].Error, events[i].Error)
			assert.True(t, tr.Events[i].Start.Equal(events[i].Start))
		}
	})

	t.Run("UnknownNames", func(t *testing.T) {
		t.Parallel()
		tr := &Trace{Events: []TraceEvent{{Duration: time.Second}}}
		var buf bytes.Buffer
		_, err := tr.WriteText(&buf)
		require.NoError(t, err)
		assert.Equal(t, "<unknown> (1s)\n", buf.String())
	})

	t.Run("FromRealCall", func(t *testing.T) {
		t.Parallel()
		_, tr, err := Traced(t.Context(), Pipe(a, Add(b, c)), nil, []any{"_"})
		require.NoError(t, err)

		var buf bytes.Buffer
		_, err = tr.WriteText(&buf)
		require.NoError(t, err)
		line := regexp.MustCompile(`^ *\S.* \([0-9.]+[a-zµ]+\)$`)
		for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			assert.Regexp(t, line, l)
		}
	})
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestTraceOutputWriteErrors(t *testing.T) {
	t.Parallel()
	tr := fixedTrace()

	_, err := tr.WriteTo(failingWriter{})
	assert.ErrorContains(t, err, "write trace: disk full")

	_, err = tr.WriteText(failingWriter{})
	assert.ErrorContains(t, err, "write text: disk full")

	_, err = tr.WriteFlatText(failingWriter{})
	assert.ErrorContains(t, err, "disk full")
}

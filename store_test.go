// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAndRecall(t *testing.T) {
	t.Parallel()
	p := Pipe(a, Store("after_a"), b, Recall("after_a"), c)
	assert.Equal(t, "(a | store('after_a') | b | recall('after_a') | c)", p.String())

	state := NewCallState()
	got, err := p.Call(t.Context(), state, "_")
	require.NoError(t, err)
	assert.Equal(t, "_ac", got)

	v, ok := state.Get("after_a")
	require.True(t, ok)
	assert.Equal(t, "_a", v)
}

func TestStoreWithoutArguments(t *testing.T) {
	t.Parallel()
	state := NewCallState()
	got, err := Store("empty").Call(t.Context(), state)
	require.NoError(t, err)
	assert.Nil(t, got)
	_, ok := state.Get("empty")
	assert.True(t, ok)
}

func TestStoreInsideMerge(t *testing.T) {
	t.Parallel()
	state := NewCallState()
	got, err := And(Pipe(a, Store("x")), Pipe(Recall("x"), b)).Call(t.Context(), state, "_")
	require.NoError(t, err)
	assert.Equal(t, []any{"_a", "_ab"}, got)
}

func TestRecallMissing(t *testing.T) {
	t.Parallel()
	_, err := Pipe(a, Recall("nothing")).Call(t.Context(), nil, "_")
	if vErr := all(
		isType[*CallError](),
		contains(`no value stored under "nothing"`),
		contains("(a | ->recall('nothing')<-)"),
	)(err); vErr != nil {
		t.Error(vErr)
	}
}

func TestRecallFrom(t *testing.T) {
	t.Parallel()
	earlier := NewCallState()
	_, err := Pipe(a, Store("saved")).Call(t.Context(), earlier, "_")
	require.NoError(t, err)

	got, err := Pipe(RecallFrom("saved", earlier), b).Call(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, "_ab", got)

	_, err = RecallFrom("missing", earlier).Call(t.Context(), nil)
	assert.ErrorAs(t, err, new(*CallError))
}

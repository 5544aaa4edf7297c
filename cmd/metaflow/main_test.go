// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shoutDefinition = `
name: shout
input: "  hello "
pipeline:
  chain:
    - fn: trim
    - merge: "&"
      of:
        - fn: upper
        - format: "{}!"
`

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return stdout.String(), stderr.String(), err
}

func writeDefinition(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRun(t *testing.T) {
	t.Parallel()
	path := writeDefinition(t, "shout.yaml", shoutDefinition)

	t.Run("DefinitionInput", func(t *testing.T) {
		t.Parallel()
		out, _, err := execute(t, "run", path)
		require.NoError(t, err)
		assert.Equal(t, "[HELLO hello!]\n", out)
	})

	t.Run("InputFlag", func(t *testing.T) {
		t.Parallel()
		out, _, err := execute(t, "run", path, "--input", `"  bye "`)
		require.NoError(t, err)
		assert.Equal(t, "[BYE bye!]\n", out)
	})

	t.Run("JSONOutput", func(t *testing.T) {
		t.Parallel()
		out, _, err := execute(t, "run", path, "--output", "json")
		require.NoError(t, err)

		var got []string
		require.NoError(t, sonic.UnmarshalString(out, &got))
		assert.Equal(t, []string{"HELLO", "hello!"}, got)
	})

	t.Run("YAMLOutput", func(t *testing.T) {
		t.Parallel()
		out, _, err := execute(t, "run", path, "-o", "yaml")
		require.NoError(t, err)
		assert.Contains(t, out, "- HELLO\n")
	})

	t.Run("Trace", func(t *testing.T) {
		t.Parallel()
		out, errOut, err := execute(t, "run", path, "--trace")
		require.NoError(t, err)
		assert.Equal(t, "[HELLO hello!]\n", out)

		lines := strings.Split(strings.TrimSpace(errOut), "\n")
		require.Len(t, lines, 5)
		assert.True(t, strings.HasPrefix(lines[0], `(trim | (upper & format("{}!"))) (`))
		assert.True(t, strings.HasPrefix(lines[1], "  trim ("))
		assert.True(t, strings.HasPrefix(lines[3], "    upper ("))
	})

	t.Run("FlatTrace", func(t *testing.T) {
		t.Parallel()
		_, errOut, err := execute(t, "run", path, "--trace=flat")
		require.NoError(t, err)
		assert.Contains(t, errOut, `(trim | (upper & format("{}!"))) > trim (`)
	})

	t.Run("JSONTrace", func(t *testing.T) {
		t.Parallel()
		_, errOut, err := execute(t, "run", path, "--trace=json")
		require.NoError(t, err)

		var events []map[string]any
		require.NoError(t, sonic.UnmarshalString(errOut, &events))
		assert.Len(t, events, 5)
	})

	t.Run("TraceMin", func(t *testing.T) {
		t.Parallel()
		_, errOut, err := execute(t, "run", path, "--trace", "--trace-min", "1h")
		require.NoError(t, err)
		assert.Empty(t, errOut)
	})

	t.Run("Verbose", func(t *testing.T) {
		t.Parallel()
		_, errOut, err := execute(t, "-v", "run", path)
		require.NoError(t, err)
		assert.Contains(t, errOut, `msg="running pipeline"`)
		assert.Contains(t, errOut, "pipeline=shout")
	})
}

func TestRunWithoutInput(t *testing.T) {
	t.Parallel()
	path := writeDefinition(t, "answer.yaml", "pipeline: {merge: '*', of: [{value: 6}, {value: 7}]}\n")

	out, _, err := execute(t, "run", path)
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	t.Run("CallFails", func(t *testing.T) {
		t.Parallel()
		path := writeDefinition(t, "recall.yaml", "pipeline: {chain: [{fn: upper}, {recall: missing}]}\n")
		out, errOut, err := execute(t, "run", path, "--input", "x")
		require.Error(t, err)
		assert.Empty(t, out)
		assert.Contains(t, errOut, `no value stored under "missing"`)
		assert.Contains(t, errOut, "(upper | ->recall('missing')<-)")
	})

	t.Run("InvalidDefinition", func(t *testing.T) {
		t.Parallel()
		path := writeDefinition(t, "bad.yaml", "pipeline: {fn: upper, format: '{}'}\n")
		_, errOut, err := execute(t, "run", path)
		require.Error(t, err)
		assert.Contains(t, errOut, "invalid definition")
	})

	t.Run("UnknownFunction", func(t *testing.T) {
		t.Parallel()
		path := writeDefinition(t, "unknown.yaml", "pipeline: {chain: [{fn: nope}]}\n")
		_, _, err := execute(t, "run", path)
		require.ErrorContains(t, err, `pipeline.chain[0]: unknown function "nope"`)
	})

	t.Run("MissingFile", func(t *testing.T) {
		t.Parallel()
		_, _, err := execute(t, "run", filepath.Join(t.TempDir(), "nothing.yaml"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("BadInput", func(t *testing.T) {
		t.Parallel()
		path := writeDefinition(t, "shout.yaml", shoutDefinition)
		_, _, err := execute(t, "run", path, "--input", "[1, 2")
		require.ErrorContains(t, err, "--input")
	})

	t.Run("BadOutputFormat", func(t *testing.T) {
		t.Parallel()
		path := writeDefinition(t, "shout.yaml", shoutDefinition)
		_, _, err := execute(t, "run", path, "--output", "xml")
		require.ErrorContains(t, err, `unknown output format "xml"`)
	})

	t.Run("BadTraceFormat", func(t *testing.T) {
		t.Parallel()
		path := writeDefinition(t, "shout.yaml", shoutDefinition)
		_, _, err := execute(t, "run", path, "--trace=svg")
		require.ErrorContains(t, err, `unknown trace format "svg"`)
	})

	t.Run("NoArguments", func(t *testing.T) {
		t.Parallel()
		_, _, err := execute(t, "run")
		require.Error(t, err)
	})
}

func TestRender(t *testing.T) {
	t.Parallel()
	path := writeDefinition(t, "shout.yaml", shoutDefinition)

	out, _, err := execute(t, "render", path)
	require.NoError(t, err)
	assert.Equal(t, "(trim | (upper & format(\"{}!\")))\n", out)

	out, _, err = execute(t, "render", path, "-o", "json")
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, sonic.UnmarshalString(out, &got))
	assert.Equal(t, map[string]string{
		"name":        "shout",
		"description": "",
		"rendering":   "(trim | (upper & format(\"{}!\")))",
	}, got)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	good := writeDefinition(t, "good.yaml", shoutDefinition)
	bad := writeDefinition(t, "bad.yaml", "pipeline: {fn: nope}\n")

	out, _, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Equal(t, good+": ok\n", out)

	out, _, err = execute(t, "validate", good, bad)
	require.ErrorContains(t, err, bad+": invalid")
	assert.Contains(t, out, good+": ok\n")
	assert.Contains(t, out, bad+`: pipeline: unknown function "nope"`)
}

func TestFunctions(t *testing.T) {
	t.Parallel()

	out, _, err := execute(t, "functions")
	require.NoError(t, err)
	assert.Equal(t, "identity\njoin\nlen\nlower\nsplit\nsum\ntrim\nupper\n", out)

	out, _, err = execute(t, "functions", "-o", "json")
	require.NoError(t, err)
	var names []string
	require.NoError(t, sonic.UnmarshalString(out, &names))
	assert.Contains(t, names, "upper")
}

func TestSchemaCommand(t *testing.T) {
	t.Parallel()

	out, _, err := execute(t, "schema")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, sonic.UnmarshalString(out, &schema))
	assert.Equal(t, "metaflow pipeline definition", schema["title"])
}

func TestVersion(t *testing.T) {
	t.Parallel()

	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "metaflow version dev\n", out)

	out, _, err = execute(t, "version", "--output", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "version: dev\n")
}

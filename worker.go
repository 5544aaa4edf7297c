// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"context"
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"
	"syscall"

	"github.com/sam-fredrickson/metaflow/internal/wire"
)

// ServeWorker turns the current process into a worker when it was started
// by a concurrent merge, and returns false otherwise.
//
// A worker reads one task from standard input, runs the requested function
// of the registered merge, reports the result to its parent and exits; in
// that case ServeWorker does not return. Call it after every concurrent
// merge of the program has been built, typically first thing in main or in
// TestMain:
//
//	func TestMain(m *testing.M) {
//	    metaflow.ServeWorker()
//	    os.Exit(m.Run())
//	}
func ServeWorker() bool {
	if os.Getenv(WorkerEnv) != "1" {
		return false
	}
	// Subprocesses started by a leaf must not hold the result pipe open.
	syscall.CloseOnExec(resultFD)
	out := os.NewFile(resultFD, "metaflow-result")
	code := serveTask(context.Background(), os.Stdin, out)
	out.Close()
	os.Exit(code)
	return true
}

// serveTask runs one task read from in and writes its result to out. It
// returns the process exit code.
func serveTask(ctx context.Context, in io.Reader, out io.Writer) int {
	var task wire.Task
	if err := wire.ReadMessage(in, &task); err != nil {
		fmt.Fprintf(os.Stderr, "metaflow worker: read task: %v\n", err)
		return 2
	}

	res := runTask(ctx, task)
	if err := wire.WriteMessage(out, res); err != nil {
		fmt.Fprintf(os.Stderr, "metaflow worker: write result: %v\n", err)
		return 2
	}
	return 0
}

// runTask executes a task and packs its outcome, including any failure,
// into a result.
func runTask(ctx context.Context, task wire.Task) wire.Result {
	res := wire.Result{RunID: task.RunID, Index: task.Index}
	fail := func(err error) wire.Result {
		res.Err = encodeError(err)
		return res
	}

	m, ok := lookupMerge(task.Key)
	if !ok {
		return fail(fmt.Errorf("no concurrent merge registered as %q", task.Key))
	}
	if task.Function < 0 || task.Function >= len(m.functions) {
		return fail(fmt.Errorf("%s has no function %d", task.Key, task.Function))
	}

	args := make([]any, len(task.Args))
	for i, a := range task.Args {
		v, err := wire.Decode(a)
		if err != nil {
			return fail(fmt.Errorf("decode argument %d: %w", i, err))
		}
		args[i] = v
	}

	state := NewCallState()
	decoded, err := wire.Decode(task.Data)
	if err != nil {
		return fail(fmt.Errorf("decode call state: %w", err))
	}
	before, _ := decoded.(map[string]any)
	for k, v := range before {
		state.Set(k, v)
	}

	value, err := callRecovering(ctx, m.functions[task.Function], state, args)
	if err != nil {
		return fail(err)
	}

	if res.Value, err = wire.Encode(value); err != nil {
		return fail(fmt.Errorf("encode result: %w", err))
	}
	updated, deleted := diffData(before, state.Data())
	if res.Updated, err = wire.Encode(updated); err != nil {
		return fail(fmt.Errorf("encode call state: %w", err))
	}
	res.Deleted = deleted
	return res
}

func callRecovering(ctx context.Context, fn Composable, state *CallState, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &RecoveredPanic{Value: r}
		}
	}()
	return fn.Call(ctx, state, args...)
}

// diffData reports the keys of after that are new or changed since before,
// and the keys of before that are gone.
func diffData(before, after map[string]any) (map[string]any, []string) {
	updated := map[string]any{}
	for k, v := range after {
		if old, ok := before[k]; !ok || !reflect.DeepEqual(old, v) {
			updated[k] = v
		}
	}
	var deleted []string
	for k := range before {
		if _, ok := after[k]; !ok {
			deleted = append(deleted, k)
		}
	}
	slices.Sort(deleted)
	return updated, deleted
}

// SPDX-License-Identifier: Apache-2.0

package metaflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sam-fredrickson/metaflow/internal/wire"
)

// WorkerEnv is the environment variable that marks a process as a worker of
// a concurrent merge.
const WorkerEnv = "METAFLOW_WORKER"

// resultFD is the file descriptor on which a worker writes its result.
const resultFD = 3

// ConcurrentOption configures [Concurrent].
type ConcurrentOption func(*concurrentOptions)

type concurrentOptions struct {
	key     string
	limit   int
	command []string
}

// WithWorkerKey sets the key under which the merge is registered for worker
// lookup. It defaults to the merge's rendering, suffixed with "#n" when the
// same rendering was registered before.
func WithWorkerKey(key string) ConcurrentOption {
	return func(o *concurrentOptions) {
		o.key = key
	}
}

// WithProcessLimit caps how many worker processes run at once for one call.
// Zero or less means no limit.
func WithProcessLimit(n int) ConcurrentOption {
	return func(o *concurrentOptions) {
		o.limit = n
	}
}

// WithWorkerCommand overrides the command used to start workers. By default
// a worker is the running executable started with the same arguments.
func WithWorkerCommand(path string, args ...string) ConcurrentOption {
	return func(o *concurrentOptions) {
		o.command = append([]string{path}, args...)
	}
}

// registry holds every concurrent merge built by this process, keyed the
// same way in parents and workers.
var registry = struct {
	mu     sync.RWMutex
	merges map[string]*Merge
	seen   map[string]int
}{
	merges: map[string]*Merge{},
	seen:   map[string]int{},
}

// Concurrent upgrades a merge so that each of its function calls runs in a
// separate worker process. c must be a [*Merge] built with [Add], [And],
// [Star], [Map] or similar; anything else is a [*CompositionError].
//
// Workers are copies of the running program. The program must build its
// concurrent merges the same way every time it starts, and must call
// [ServeWorker] once they are built:
//
//	var pipeline = metaflow.MustConcurrent(metaflow.Sub(slowA, slowB))
//
//	func main() {
//	    metaflow.ServeWorker()
//	    out, err := pipeline.Call(ctx, nil, input)
//	    ...
//	}
//
// Arguments, results and call-state data cross the process boundary through
// a type-tagged JSON encoding. Basic types, and slices, arrays and maps of
// them, work out of the box; other types must be registered with
// [RegisterType]. Non-finite floats survive the trip.
//
// Every worker is waited for before the call returns; there is no
// cancellation. Results are reduced in declaration order whatever order the
// workers finish in, and call-state changes made by the workers are applied
// in the same order. If any worker fails, the call returns a
// [*ConcurrentError] and no result.
func Concurrent(c any, opts ...ConcurrentOption) (*Merge, error) {
	m, ok := c.(*Merge)
	if !ok {
		return nil, &CompositionError{
			Op:     "concurrent",
			Reason: fmt.Sprintf("%s is not a merge", Lift(c)),
		}
	}
	if m.runner != nil {
		return nil, &CompositionError{
			Op:     "concurrent",
			Reason: fmt.Sprintf("%s is already concurrent", m),
		}
	}

	var options concurrentOptions
	for _, opt := range opts {
		opt(&options)
	}

	out := m.clone()
	out.runner = &processRunner{limit: options.limit, command: options.command}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	key := options.key
	if key == "" {
		key = out.String()
		registry.seen[key]++
		if n := registry.seen[key]; n > 1 {
			key = fmt.Sprintf("%s#%d", key, n)
		}
	}
	if _, exists := registry.merges[key]; exists {
		return nil, &CompositionError{
			Op:     "concurrent",
			Reason: fmt.Sprintf("worker key %q is already registered", key),
		}
	}
	out.runner.key = key
	registry.merges[key] = out
	return out, nil
}

// MustConcurrent is like [Concurrent] but panics on error. It is meant for
// package-level pipeline definitions.
func MustConcurrent(c any, opts ...ConcurrentOption) *Merge {
	m, err := Concurrent(c, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

func lookupMerge(key string) (*Merge, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	m, ok := registry.merges[key]
	return m, ok
}

// RegisterType makes values of T, including errors of type T or *T, able to
// cross the process boundary of a concurrent merge. name must be the same in
// every process and unique among registered types.
func RegisterType[T any](name string) error {
	return wire.Register[T](name)
}

// MustRegisterType is like [RegisterType] but panics on error.
func MustRegisterType[T any](name string) {
	wire.MustRegister[T](name)
}

var sentinels = struct {
	mu     sync.RWMutex
	byName map[string]error
}{
	byName: map[string]error{},
}

// RegisterSentinel lets a sentinel error keep its identity across the
// process boundary, so that [errors.Is] still matches it in the parent.
func RegisterSentinel(name string, err error) {
	sentinels.mu.Lock()
	defer sentinels.mu.Unlock()
	sentinels.byName[name] = err
}

func sentinelName(err error) (string, bool) {
	sentinels.mu.RLock()
	defer sentinels.mu.RUnlock()
	for name, s := range sentinels.byName {
		if s == err {
			return name, true
		}
	}
	return "", false
}

func lookupSentinel(name string) (error, bool) {
	sentinels.mu.RLock()
	defer sentinels.mu.RUnlock()
	err, ok := sentinels.byName[name]
	return err, ok
}

func init() {
	MustRegisterType[CompositionError]("metaflow.CompositionError")
	MustRegisterType[CallError]("metaflow.CallError")
	MustRegisterType[BroadcastError]("metaflow.BroadcastError")
	MustRegisterType[OperandError]("metaflow.OperandError")

	RegisterSentinel("metaflow.ErrDivisionByZero", ErrDivisionByZero)
	RegisterSentinel("metaflow.ErrNothingToReduce", ErrNothingToReduce)
	RegisterSentinel("context.Canceled", context.Canceled)
	RegisterSentinel("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterSentinel("io.EOF", io.EOF)
	RegisterSentinel("io.ErrUnexpectedEOF", io.ErrUnexpectedEOF)
}

const (
	errorKindLocated  = "located"
	errorKindSentinel = "sentinel"
	errorKindPanic    = "panic"
	errorKindValue    = "value"
)

// encodeError serializes an error chain. Errors that cannot be encoded as
// values keep their type name and message, and their cause is followed.
func encodeError(err error) *wire.Error {
	if err == nil {
		return nil
	}
	e := &wire.Error{Type: fmt.Sprintf("%T", err), Message: err.Error()}

	switch x := err.(type) {
	case *LocatedError:
		e.Kind = errorKindLocated
		e.Message = x.Location
		e.Cause = encodeError(x.Err)
		return e
	case *RecoveredPanic:
		if v, encErr := wire.Encode(x.Value); encErr == nil {
			e.Kind = errorKindPanic
			e.Value = &v
			return e
		}
	}

	if name, ok := sentinelName(err); ok {
		e.Kind = errorKindSentinel
		e.Type = name
		return e
	}
	if v, encErr := wire.Encode(err); encErr == nil {
		e.Kind = errorKindValue
		e.Value = &v
		return e
	}
	e.Cause = encodeError(errors.Unwrap(err))
	return e
}

// decodeError rebuilds an error chain, substituting [*RemoteError] for
// errors whose type is not known here.
func decodeError(e *wire.Error) error {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case errorKindLocated:
		return &LocatedError{Location: e.Message, Err: decodeError(e.Cause)}
	case errorKindSentinel:
		if err, ok := lookupSentinel(e.Type); ok {
			return err
		}
	case errorKindPanic:
		if e.Value != nil {
			if v, err := wire.Decode(*e.Value); err == nil {
				return &RecoveredPanic{Value: v}
			}
		}
	case errorKindValue:
		if e.Value != nil {
			if v, err := wire.Decode(*e.Value); err == nil {
				if decoded, ok := v.(error); ok {
					return decoded
				}
			}
		}
	}
	return &RemoteError{Type: e.Type, Message: e.Message, Cause: decodeError(e.Cause)}
}

// processRunner runs a merge's branches in worker processes.
type processRunner struct {
	key     string
	limit   int
	command []string
}

// outcome is one branch's decoded result.
type outcome struct {
	value   any
	updated map[string]any
	deleted []string
}

func (r *processRunner) run(ctx context.Context, state *CallState, m *Merge, branches []branch) ([]any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	runID := uuid.NewString()
	logger := Slogger(ctx).With("run_id", runID, "key", r.key)

	data, dataErr := wire.Encode(state.Data())

	outcomes := make([]outcome, len(branches))
	var g errgroup.Group
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for i, b := range branches {
		g.Go(func() error {
			fail := func(err error) error {
				return &ConcurrentError{Index: i, Function: m.functions[b.fn].String(), Err: err}
			}
			if dataErr != nil {
				return fail(fmt.Errorf("encode call state: %w", dataErr))
			}

			task := wire.Task{RunID: runID, Key: r.key, Index: i, Function: b.fn, Args: make([]wire.Value, len(b.args)), Data: data}
			for j, arg := range b.args {
				v, err := wire.Encode(arg)
				if err != nil {
					return fail(fmt.Errorf("encode argument %d: %w", j, err))
				}
				task.Args[j] = v
			}

			res, err := r.spawn(ctx, logger, task)
			if err != nil {
				return fail(err)
			}
			if res.Err != nil {
				return fail(decodeError(res.Err))
			}

			o, err := decodeOutcome(res)
			if err != nil {
				return fail(err)
			}
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]any, len(outcomes))
	for i, o := range outcomes {
		for k, v := range o.updated {
			state.Set(k, v)
		}
		for _, k := range o.deleted {
			state.Delete(k)
		}
		results[i] = o.value
	}
	return results, nil
}

func decodeOutcome(res wire.Result) (outcome, error) {
	value, err := wire.Decode(res.Value)
	if err != nil {
		return outcome{}, fmt.Errorf("decode result: %w", err)
	}
	o := outcome{value: value, deleted: res.Deleted}
	if res.Updated.Kind != wire.KindNil && res.Updated.Kind != "" {
		updated, err := wire.Decode(res.Updated)
		if err != nil {
			return outcome{}, fmt.Errorf("decode call state: %w", err)
		}
		o.updated, _ = updated.(map[string]any)
	}
	return o, nil
}

// spawn runs one worker process to completion and returns its result.
func (r *processRunner) spawn(ctx context.Context, logger *slog.Logger, task wire.Task) (wire.Result, error) {
	path, args, err := r.workerCommand()
	if err != nil {
		return wire.Result{}, err
	}

	var stdin bytes.Buffer
	if err := wire.WriteMessage(&stdin, task); err != nil {
		return wire.Result{}, err
	}

	resultR, resultW, err := os.Pipe()
	if err != nil {
		return wire.Result{}, fmt.Errorf("create result pipe: %w", err)
	}
	defer resultR.Close()

	var stderr bytes.Buffer
	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), WorkerEnv+"=1")
	cmd.Stdin = &stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = io.MultiWriter(os.Stderr, &stderr)
	cmd.ExtraFiles = []*os.File{resultW}

	if err := cmd.Start(); err != nil {
		resultW.Close()
		return wire.Result{}, fmt.Errorf("start worker: %w", err)
	}
	resultW.Close()
	logger.DebugContext(ctx, "spawning worker", "index", task.Index, "pid", cmd.Process.Pid)

	var res wire.Result
	readErr := wire.ReadMessage(resultR, &res)
	waitErr := cmd.Wait()
	logger.DebugContext(ctx, "worker finished", "index", task.Index, "pid", cmd.Process.Pid, "exit_code", cmd.ProcessState.ExitCode())

	switch {
	case readErr != nil && waitErr != nil:
		return wire.Result{}, fmt.Errorf("worker failed: %w: %s", waitErr, lastLine(stderr.String()))
	case readErr != nil:
		return wire.Result{}, fmt.Errorf("worker sent no result: %w", readErr)
	case res.RunID != task.RunID || res.Index != task.Index:
		return wire.Result{}, fmt.Errorf("worker answered run %s branch %d, want run %s branch %d", res.RunID, res.Index, task.RunID, task.Index)
	case res.Err == nil && waitErr != nil:
		return wire.Result{}, fmt.Errorf("worker failed: %w", waitErr)
	}
	return res, nil
}

func (r *processRunner) workerCommand() (string, []string, error) {
	if len(r.command) > 0 {
		return r.command[0], r.command[1:], nil
	}
	path, err := os.Executable()
	if err != nil {
		return "", nil, fmt.Errorf("locate executable: %w", err)
	}
	return path, os.Args[1:], nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

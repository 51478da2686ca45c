package wifi

import (
	"context"
	"strings"
	"sync"
)

// fakeRunner returns scripted outputs keyed by "name arg1 arg2 ...".
type fakeRunner struct {
	mu      sync.Mutex
	outputs map[string]*Output
	errs    map[string]error
	calls   [][]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outputs: make(map[string]*Output),
		errs:    make(map[string]error),
	}
}

func commandKey(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

// On scripts a successful run with the given stdout.
func (r *fakeRunner) On(stdout string, name string, args ...string) {
	r.outputs[commandKey(name, args...)] = &Output{Stdout: []byte(stdout)}
}

// OnExit scripts a run that exits with code and stderr.
func (r *fakeRunner) OnExit(code int, stderr string, name string, args ...string) {
	r.outputs[commandKey(name, args...)] = &Output{Stderr: []byte(stderr), ExitCode: code}
}

// OnError scripts a run that cannot be started.
func (r *fakeRunner) OnError(err error, name string, args ...string) {
	r.errs[commandKey(name, args...)] = err
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) (*Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, append([]string{name}, args...))
	key := commandKey(name, args...)
	if err, ok := r.errs[key]; ok {
		return nil, err
	}
	if out, ok := r.outputs[key]; ok {
		return out, nil
	}
	return nil, ErrCommandExecution
}

func (r *fakeRunner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

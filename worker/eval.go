package worker

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

// evaluator runs expressions against named, independently-scoped
// ECMAScript runtimes: one per distinct module name a request has ever
// used, lazily created: a module name selects a persistent evaluation
// context rather than a one-shot sandbox, so state set by one
// expression is visible to a later one against the same module.
type evaluator struct {
	mu       sync.Mutex
	runtimes map[string]*moduleRuntime
}

// moduleRuntime pairs a goja.Runtime with the lock that serializes every
// call into it. goja.Runtime is not safe for concurrent use by multiple
// goroutines, and requests against the same module are evaluated from
// independent per-request goroutines (see serveRequests), so the
// runtime's own mutex - not just the map lookup in runtimeFor - has to
// be held for the full RunString/Export call.
type moduleRuntime struct {
	mu sync.Mutex
	rt *goja.Runtime
}

func newEvaluator() *evaluator {
	return &evaluator{runtimes: make(map[string]*moduleRuntime)}
}

func (e *evaluator) runtimeFor(module string) *moduleRuntime {
	e.mu.Lock()
	defer e.mu.Unlock()
	mr, ok := e.runtimes[module]
	if !ok {
		mr = &moduleRuntime{rt: goja.New()}
		e.runtimes[module] = mr
	}
	return mr
}

// Eval runs expr against module's runtime and exports the result to a
// plain Go value suitable for the gob-encoded wire format.
func (e *evaluator) Eval(module, expr string) (result any, remoteErr *RemoteError) {
	mr := e.runtimeFor(module)
	mr.mu.Lock()
	defer mr.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			remoteErr = &RemoteError{Message: fmt.Sprintf("panic during eval: %v", r)}
			result = nil
		}
	}()

	v, err := mr.rt.RunString(expr)
	if err != nil {
		if jsErr, ok := err.(*goja.Exception); ok {
			return nil, &RemoteError{Message: jsErr.Error(), Stack: jsErr.String()}
		}
		return nil, &RemoteError{Message: err.Error()}
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	return v.Export(), nil
}

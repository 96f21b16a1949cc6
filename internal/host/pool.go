package host

import (
	"fmt"
	"sync"

	"modernc.org/quickjs"
)

// Worker is a single QuickJS VM together with the event loop driving its
// timers and pending host-async operations.
type Worker struct {
	VM        *quickjs.VM
	EventLoop *EventLoop
}

// Pool manages a fixed-size set of pre-warmed VM workers, each running an
// identical copy of the compiled component module. A component instance
// normally runs with PoolSize 1 (the spec's single engine-per-process
// model); larger pools exist for hosts that embed several disjoint
// component instantiations in one process and want to avoid cold start on
// each one.
type Pool struct {
	workers chan *Worker
	size    int
	mu      sync.Mutex
}

// SetupFunc installs one built-in (console, timers, fetch, ...) into a
// freshly created VM. Setup functions run in registration order; later
// ones may depend on globals earlier ones installed (e.g. reportError's
// ErrorEvent extends the Event class the abort built-in installs).
type SetupFunc func(vm *quickjs.VM, el *EventLoop) error

// globalCleanupJS removes per-turn state from globalThis before a worker is
// returned to the pool, without touching the Go-registered built-in
// functions (the `__raw_*`/plain names installed by SetupFuncs persist for
// the worker's lifetime).
const globalCleanupJS = `
(function() {
	var perTurn = ['__awaited_result', '__awaited_state', '__waitUntilPromises',
		'__waitUntilSettled', '__req', '__ctx', '__env', '__result', '__last_call_result'];
	for (var i = 0; i < perTurn.length; i++) {
		try { delete globalThis[perTurn[i]]; } catch(e) {}
	}
	if (globalThis.__timerCallbacks) globalThis.__timerCallbacks = {};
	var names = Object.getOwnPropertyNames(globalThis);
	for (var i = 0; i < names.length; i++) {
		if (names[i].indexOf('__tmp_') === 0) {
			try { delete globalThis[names[i]]; } catch(e) {}
		}
	}
})();
`

// NewPool creates a pool of QuickJS VMs, each configured with setupFns and
// loaded with the bundled component source.
func NewPool(size int, source string, setupFns []SetupFunc, memoryLimitMB int) (*Pool, error) {
	p := &Pool{
		workers: make(chan *Worker, size),
		size:    size,
	}

	for i := 0; i < size; i++ {
		w, err := newWorker(source, setupFns, memoryLimitMB)
		if err != nil {
			p.Dispose()
			return nil, fmt.Errorf("creating pool worker %d: %w", i, err)
		}
		p.workers <- w
	}

	return p, nil
}

// newWorker creates a single QuickJS VM, runs all setup functions, and
// loads the bundled component module.
func newWorker(source string, setupFns []SetupFunc, memoryLimitMB int) (*Worker, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}

	if memoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(memoryLimitMB) * 1024 * 1024)
	}

	el := NewEventLoop()

	for _, setup := range setupFns {
		if err := setup(vm, el); err != nil {
			vm.Close()
			return nil, fmt.Errorf("built-in setup: %w", err)
		}
	}

	wrapped := BundleModule(source)
	v, err := vm.EvalValue(wrapped, quickjs.EvalGlobal)
	if err != nil {
		vm.Close()
		return nil, fmt.Errorf("evaluating component module: %w", err)
	}
	v.Free()

	ok, err := EvalBool(vm, "typeof globalThis.__component_module__ !== 'undefined'")
	if err != nil || !ok {
		vm.Close()
		return nil, fmt.Errorf("component module did not produce an exports object")
	}

	return &Worker{VM: vm, EventLoop: el}, nil
}

// Get acquires a worker from the pool. Blocks until one is available.
func (p *Pool) Get() (*Worker, error) {
	w, ok := <-p.workers
	if !ok {
		return nil, fmt.Errorf("worker pool is closed")
	}
	return w, nil
}

// Put returns a worker to the pool after resetting its per-turn state.
func (p *Pool) Put(w *Worker) {
	_ = EvalDiscard(w.VM, globalCleanupJS)
	w.EventLoop.Reset()
	select {
	case p.workers <- w:
	default:
		w.VM.Close()
	}
}

// Dispose closes all workers in the pool.
func (p *Pool) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		select {
		case w := <-p.workers:
			w.VM.Close()
		default:
			return
		}
	}
}

package host

import (
	"fmt"
	"time"

	"modernc.org/quickjs"
)

// DropDrainer drains a resource bridge's microtask-drop queue at a safe
// point between turns. Satisfied by *bridge.Table; declared here (rather
// than importing the bridge package) so host has no dependency on bridge —
// bridge depends on host for its JS plumbing, not the other way around.
type DropDrainer interface {
	DrainDrops(vm *quickjs.VM)
}

// Host is the runtime-host singleton described by the spec: it owns the JS
// engine (via a Pool of one or more workers), exposes the single entry
// point every generated export adapter calls through, and enforces that
// only one outer blocking call is active at a time.
//
// New builds its worker pool and evaluates the component source right away;
// nothing is deferred to the first call. It persists for the process
// lifetime; callers obtain one via New and keep it around rather than
// re-creating it per call.
type Host struct {
	cfg         Config
	pool        *Pool
	dropDrainer DropDrainer
	entered     bool
}

// New constructs a Host and its worker pool before returning: every worker
// VM runs setupFns and then compiles source (already bundled to a single
// global assignment via BundleModule, or accepted as a raw ES module).
// Source larger than cfg.MaxScriptSizeKB (when positive) is rejected.
func New(cfg Config, source string, setupFns []SetupFunc) (*Host, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if cfg.MaxScriptSizeKB > 0 && len(source) > cfg.MaxScriptSizeKB*1024 {
		return nil, fmt.Errorf("runtime host: source is %d bytes, over the %d KB limit", len(source), cfg.MaxScriptSizeKB)
	}
	pool, err := NewPool(cfg.PoolSize, source, setupFns, cfg.MemoryLimitMB)
	if err != nil {
		return nil, err
	}
	return &Host{cfg: cfg, pool: pool}, nil
}

// SetDropDrainer installs the resource bridge whose drop queue should be
// drained between turns. Optional; a Host with none simply never drains
// (fine for worlds with no resources).
func (h *Host) SetDropDrainer(d DropDrainer) {
	h.dropDrainer = d
}

// Shutdown releases all pooled VM workers.
func (h *Host) Shutdown() {
	h.pool.Dispose()
}

// ArgBuilder produces the JS-source expressions for each wrapped call
// argument (the result of each parameter's wrap closure from the type
// mapper) and performs any globalThis staging those expressions reference
// (e.g. setting a __tmp_ global to hand over a Go-native byte slice).
// Returns the argument expression list in call order.
type ArgBuilder func(vm *quickjs.VM) ([]string, error)

// CallExport is the single generic entry point every generated export
// adapter calls through. path is a dot-path naming the JS value to invoke
// (e.g. "hello" for a top-level function, "HelloResource" for a class, or
// "myInterface.doThing" for a function nested under an interface
// namespace object). args are pre-rendered JS expressions (see ArgBuilder).
// If the call returns a promise, CallExport awaits it by draining the
// microtask pump and event loop until settlement or the configured
// CallTimeout elapses.
//
// The returned value is already converted to host-native form via
// ValueToAny; the generated adapter's Unwrap step operates on it directly
// rather than on a live quickjs.Value, since by the time CallExport returns
// the worker VM may already have been handed to another caller.
func (h *Host) CallExport(path string, build ArgBuilder) (any, error) {
	if h.entered {
		return nil, fmt.Errorf("runtime host: nested entry into the outer blocking call is forbidden")
	}
	h.entered = true
	defer func() { h.entered = false }()

	w, err := h.pool.Get()
	if err != nil {
		return nil, err
	}
	defer h.pool.Put(w)

	vm := w.VM

	args, err := build(vm)
	if err != nil {
		return nil, fmt.Errorf("building arguments for %s: %w", path, err)
	}

	callJS := fmt.Sprintf("(function(){ var __fn = globalThis.__component_module__ && globalThis.__component_module__.%s; if (typeof __fn !== 'function') throw new ReferenceError(%q); var __r = __fn(%s); globalThis.__last_call_result = __r; return __r; })()",
		path, fmt.Sprintf("export %q is not a function on the component module", path), joinArgs(args))

	result, err := vm.EvalValue(callJS, quickjs.EvalGlobal)
	if err != nil {
		return nil, fmt.Errorf("calling export %s: %w", path, err)
	}

	ExecutePendingJobs(vm)
	deadline := time.Now().Add(h.cfg.CallTimeout)
	w.EventLoop.Drain(vm, deadline)

	isPromise, _ := evalIsPromise(vm)
	if isPromise {
		result.Free()
		resolved, awaitErr := h.awaitLast(vm, w, deadline)
		if awaitErr != nil {
			return nil, awaitErr
		}
		result = resolved
	}

	w.EventLoop.Drain(vm, deadline)
	if h.dropDrainer != nil {
		h.dropDrainer.DrainDrops(vm)
	}

	return ValueToAny(vm, result)
}

// WithVM runs fn against a pooled worker VM under the same single-active-
// call invariant as CallExport. Resource construction and method/static
// calls go through here rather than CallExport, since they address the
// bridge's resource table directly instead of calling a component export by
// path, but still need the same "only one blocking call at a time" guard
// and post-call drain.
func (h *Host) WithVM(fn func(vm *quickjs.VM) error) error {
	if h.entered {
		return fmt.Errorf("runtime host: nested entry into the outer blocking call is forbidden")
	}
	h.entered = true
	defer func() { h.entered = false }()

	w, err := h.pool.Get()
	if err != nil {
		return err
	}
	defer h.pool.Put(w)

	if err := fn(w.VM); err != nil {
		return err
	}

	ExecutePendingJobs(w.VM)
	deadline := time.Now().Add(h.cfg.CallTimeout)
	w.EventLoop.Drain(w.VM, deadline)
	if h.dropDrainer != nil {
		h.dropDrainer.DrainDrops(w.VM)
	}
	return nil
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}

// evalIsPromise checks whether the most recent call result (kept live on
// globalThis.__last_call_result by CallExport's call wrapper, and read again
// by awaitLast) is a thenable.
func evalIsPromise(vm *quickjs.VM) (bool, error) {
	return EvalBool(vm, "(function(){ var r = globalThis.__last_call_result; return !!(r && typeof r.then === 'function'); })()")
}

// awaitLast polls the microtask pump and event loop until the in-flight
// promise (staged by CallExport onto globalThis.__last_call_result before
// calling here) settles, or deadline passes. Mirrors the host's turn
// invariant: a call is complete only once the originating future has
// resolved, all turn-scheduled tasks have finished, and the JS job queue is
// empty.
func (h *Host) awaitLast(vm *quickjs.VM, w *Worker, deadline time.Time) (quickjs.Value, error) {
	if err := EvalDiscard(vm, `
		globalThis.__awaited_state = 'pending';
		Promise.resolve(globalThis.__last_call_result).then(
			function(v) { globalThis.__awaited_result = v; globalThis.__awaited_state = 'fulfilled'; },
			function(e) { globalThis.__awaited_result = e; globalThis.__awaited_state = 'rejected'; }
		);
	`); err != nil {
		return quickjs.Value{}, fmt.Errorf("awaiting export result: %w", err)
	}

	for {
		ExecutePendingJobs(vm)
		w.EventLoop.Drain(vm, deadline)

		state, err := GetGlobalString(vm, "__awaited_state")
		if err != nil {
			return quickjs.Value{}, err
		}
		switch state {
		case "fulfilled":
			v, err := vm.EvalValue("globalThis.__awaited_result", quickjs.EvalGlobal)
			_ = EvalDiscard(vm, "delete globalThis.__awaited_result; delete globalThis.__awaited_state;")
			return v, err
		case "rejected":
			msg, _ := EvalString(vm, `(function(){var e=globalThis.__awaited_result; return (e && e.message) ? String(e.message) : String(e);})()`)
			_ = EvalDiscard(vm, "delete globalThis.__awaited_result; delete globalThis.__awaited_state;")
			return quickjs.Value{}, fmt.Errorf("%s", msg)
		}

		if time.Now().After(deadline) {
			return quickjs.Value{}, fmt.Errorf("export call timed out after %s", h.cfg.CallTimeout)
		}
		if !w.EventLoop.HasPending() {
			time.Sleep(time.Millisecond)
		}
	}
}

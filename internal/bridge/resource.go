// Package bridge implements the resource bridge: the at-most-one-owner
// discipline over opaque handles crossing the host/JS boundary in either
// direction, with a JS-visible disposal protocol on one side and host-side
// ownership-transfer semantics on the other.
package bridge

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hostedat/jswit/internal/host"
	"modernc.org/quickjs"
)

// resourceTableGlobal is the name of the JS object the table is mirrored
// into, keyed by handle id. Guest-side resources (WIT-exported resources
// implemented by JS classes) live here; the id is what the component-model
// caller holds.
const resourceTableGlobal = "__bridge_resources"

// InitTable installs the resource table global into a freshly created VM.
// Must run once per VM before any Construct/CallMethod/Dispose call.
func InitTable(vm *quickjs.VM, _ *host.EventLoop) error {
	return host.EvalDiscard(vm, fmt.Sprintf("globalThis[%q] = {};", resourceTableGlobal))
}

// Table tracks guest-side (JS-implemented, WIT-exported) resource instances.
// It is the host-side half of the resource bridge: the JS object backing
// each handle id lives inside the VM's own resourceTableGlobal; Table only
// tracks disposal state and the single-producer/single-consumer drop queue,
// since the object itself must only ever be touched from the VM's owning
// goroutine.
type Table struct {
	mu       sync.Mutex
	nextID   uint64
	disposed map[uint64]bool
	drops    chan uint64
}

// NewTable creates an empty resource table. The drop queue is sized
// generously since enqueue is non-blocking on the host side and drained
// between turns, never mid-call.
func NewTable() *Table {
	return &Table{
		disposed: make(map[uint64]bool),
		drops:    make(chan uint64, 4096),
	}
}

// Construct calls the JS class at classPath as a constructor with the given
// pre-rendered argument expressions, stores the resulting instance in the
// VM-local resource table under a freshly allocated id, and returns that id.
// A constructor that throws returns an error and leaves no entry behind —
// partial construction never happens.
func (t *Table) Construct(vm *quickjs.VM, classPath string, argsJS string) (uint64, error) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.mu.Unlock()

	js := fmt.Sprintf(`(function() {
		var Cls = globalThis.__component_module__ && globalThis.__component_module__.%s;
		if (typeof Cls !== 'function') throw new ReferenceError(%q);
		var instance = new Cls(%s);
		globalThis[%q][%q] = instance;
		return true;
	})()`, classPath, fmt.Sprintf("resource class %q not found on the component module", classPath), argsJS, resourceTableGlobal, idKey(id))

	if err := host.EvalDiscard(vm, js); err != nil {
		return 0, fmt.Errorf("constructing resource %s: %w", classPath, err)
	}
	return id, nil
}

// CallMethod invokes method name on the resource identified by id, passing
// argsJS as the pre-rendered argument expression list, and leaves the
// result on globalThis.__bridge_call_result for the caller to read and
// convert via the return type's unwrap closure. Accessing a disposed
// resource is an error identifying the resource's handle id.
func (t *Table) CallMethod(vm *quickjs.VM, id uint64, name, argsJS string) error {
	t.mu.Lock()
	dead := t.disposed[id]
	t.mu.Unlock()
	if dead {
		return fmt.Errorf("resource %d: use after dispose", id)
	}

	js := fmt.Sprintf(`(function() {
		var instance = globalThis[%q][%q];
		if (instance === undefined) throw new ReferenceError(%q);
		var method = instance[%q];
		if (typeof method !== 'function') throw new TypeError(%q);
		globalThis.__bridge_call_result = method.apply(instance, [%s]);
		return true;
	})()`, resourceTableGlobal, idKey(id), fmt.Sprintf("resource %d not found", id), name,
		fmt.Sprintf("resource %d has no method %q", id, name), argsJS)

	if err := host.EvalDiscard(vm, js); err != nil {
		return fmt.Errorf("calling %s on resource %d: %w", name, id, err)
	}
	return nil
}

// CallStatic invokes a static method on the class at classPath, bypassing
// the resource table entirely (static methods are routed to the class
// object, not an instance).
func (t *Table) CallStatic(vm *quickjs.VM, classPath, name, argsJS string) error {
	js := fmt.Sprintf(`(function() {
		var Cls = globalThis.__component_module__ && globalThis.__component_module__.%s;
		if (typeof Cls !== 'function') throw new ReferenceError(%q);
		var method = Cls[%q];
		if (typeof method !== 'function') throw new TypeError(%q);
		globalThis.__bridge_call_result = method.apply(Cls, [%s]);
		return true;
	})()`, classPath, fmt.Sprintf("resource class %q not found", classPath), name,
		fmt.Sprintf("%s has no static method %q", classPath, name), argsJS)

	if err := host.EvalDiscard(vm, js); err != nil {
		return fmt.Errorf("calling static %s.%s: %w", classPath, name, err)
	}
	return nil
}

// Adopt registers a JS value produced as an export call's return (a resource
// instance the guest constructed itself, rather than one the host
// constructed via Construct) under a freshly allocated id, so later calls
// can address it the same way as a host-constructed resource. Used by
// generated export adapters' Unwrap step for resource-typed return values;
// mirrors Construct's bookkeeping without re-invoking a constructor.
func (t *Table) Adopt(vm *quickjs.VM, value quickjs.Value) (uint64, error) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.mu.Unlock()

	if err := host.SetGlobal(vm, "__bridge_adopt_tmp", value); err != nil {
		return 0, fmt.Errorf("adopting resource: %w", err)
	}
	js := fmt.Sprintf(`globalThis[%q][%q] = globalThis.__bridge_adopt_tmp; delete globalThis.__bridge_adopt_tmp;`,
		resourceTableGlobal, idKey(id))
	if err := host.EvalDiscard(vm, js); err != nil {
		return 0, fmt.Errorf("adopting resource: %w", err)
	}
	return id, nil
}

// Lookup renders the JS expression an export adapter splices in to pass a
// previously adopted or constructed resource (identified by id) back into a
// guest call as an argument.
func Lookup(id uint64) string {
	return fmt.Sprintf("globalThis[%q][%q]", resourceTableGlobal, idKey(id))
}

// Dispose removes the resource-table entry for id. Idempotent: disposing an
// already-disposed handle is a no-op, matching the host-side disposer
// contract for owned native resources.
func (t *Table) Dispose(vm *quickjs.VM, id uint64) error {
	t.mu.Lock()
	already := t.disposed[id]
	t.disposed[id] = true
	t.mu.Unlock()
	if already {
		return nil
	}

	return host.EvalDiscard(vm, fmt.Sprintf("delete globalThis[%q][%q];", resourceTableGlobal, idKey(id)))
}

// EnqueueDrop records that a host-side wrapper for id has been dropped
// while the JS engine is not currently executing. The entry is removed
// from the resource table the next time DrainDrops runs, between turns.
func (t *Table) EnqueueDrop(id uint64) {
	select {
	case t.drops <- id:
	default:
		// Queue full under pathological resource churn; drop the request
		// rather than block the producer. DrainDrops will eventually clear
		// the backlog created by normal traffic; a full queue here means a
		// call is leaking resources faster than turns can process drops.
	}
}

// DrainDrops processes queued resource drops. Called by the runtime host
// while the executor is idle at a safe point (turn boundaries); never
// re-entered mid-call, so it is safe to touch the VM directly.
func (t *Table) DrainDrops(vm *quickjs.VM) {
	for {
		select {
		case id := <-t.drops:
			_ = t.Dispose(vm, id)
		default:
			return
		}
	}
}

// ReadCallResult converts the value CallMethod/CallStatic left on
// globalThis.__bridge_call_result into host-native form and clears the
// global. Generated adapters call this immediately after a successful
// CallMethod/CallStatic to obtain the method's return value.
func ReadCallResult(vm *quickjs.VM) (any, error) {
	v, err := vm.Eval("(function(){ var r = globalThis.__bridge_call_result; delete globalThis.__bridge_call_result; return r; })()", quickjs.EvalGlobal)
	if err != nil {
		return nil, fmt.Errorf("reading resource call result: %w", err)
	}
	return v, nil
}

func idKey(id uint64) string {
	return fmt.Sprintf("%d", id)
}

// Owner is the host-side wrapper for a native resource owned by the host
// and exported to JS as a class instance: a shared owner over the native
// handle, so that multiple JS views (e.g. a resource returned from two
// different calls) can hold the same handle id without double-freeing it.
// Dropping the last reference disposes the native resource exactly once.
type Owner[T any] struct {
	handle   T
	refCount *int32
	dispose  func(T)
	disposed *int32
}

// NewOwner wraps a native handle for export to JS. dispose is called exactly
// once, when Dispose on the last live reference brings the shared ref count
// to zero.
func NewOwner[T any](handle T, dispose func(T)) *Owner[T] {
	rc := int32(1)
	d := int32(0)
	return &Owner[T]{handle: handle, refCount: &rc, dispose: dispose, disposed: &d}
}

// Clone returns a new reference to the same underlying handle, incrementing
// the shared ref count. Used when an imported resource's JS class instance
// is passed to multiple call sites without the native side re-constructing
// it.
func (o *Owner[T]) Clone() *Owner[T] {
	atomic.AddInt32(o.refCount, 1)
	d := int32(0)
	return &Owner[T]{handle: o.handle, refCount: o.refCount, dispose: o.dispose, disposed: &d}
}

// Handle returns the underlying native handle for use in a host-native call.
func (o *Owner[T]) Handle() T {
	return o.handle
}

// Dispose decrements the shared ref count and disposes the native handle
// once it reaches zero. Idempotent per Owner value: calling Dispose twice
// on the same reference is a no-op after the first.
func (o *Owner[T]) Dispose() {
	if !atomic.CompareAndSwapInt32(o.disposed, 0, 1) {
		return
	}
	if atomic.AddInt32(o.refCount, -1) == 0 && o.dispose != nil {
		o.dispose(o.handle)
	}
}

// Borrow holds a temporary, non-owning view of a native handle for the
// duration of a single host function call. It explicitly suppresses
// disposal: the original Owner remains the sole disposer, and a Borrow must
// never outlive the call that received it.
type Borrow[T any] struct {
	handle T
}

// NewBorrow wraps a native handle as a borrow for the current call.
func NewBorrow[T any](handle T) Borrow[T] {
	return Borrow[T]{handle: handle}
}

// Handle returns the borrowed native handle.
func (b Borrow[T]) Handle() T {
	return b.handle
}

// OwnerRegistry maps the opaque string ids a generated imported-resource JS
// class hands out back to the Owner holding the real native handle. One
// registry backs one imported resource kind, created fresh per Setup call
// so a restarted VM never sees a stale id from a previous one.
type OwnerRegistry struct {
	jsClass string
	mu      sync.Mutex
	nextID  uint64
	owners  map[string]*Owner[any]
}

// NewOwnerRegistry creates an empty registry for the named resource kind.
// jsClass only appears in diagnostic messages.
func NewOwnerRegistry(jsClass string) *OwnerRegistry {
	return &OwnerRegistry{jsClass: jsClass, owners: make(map[string]*Owner[any])}
}

// Store records o under a freshly minted id and returns it.
func (r *OwnerRegistry) Store(o *Owner[any]) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := fmt.Sprintf("%s-%d", r.jsClass, r.nextID)
	r.owners[id] = o
	return id
}

// Get looks up the Owner behind id, erroring rather than panicking if it is
// unknown or was already dropped -- a guest class instance calling a method
// after __dispose hits this path, not a nil pointer.
func (r *OwnerRegistry) Get(id string) (*Owner[any], error) {
	r.mu.Lock()
	o, ok := r.owners[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: unknown or disposed handle %q", r.jsClass, id)
	}
	return o, nil
}

// Drop removes id from the registry and disposes its Owner. Safe to call
// more than once for the same id; the second call finds nothing to drop.
func (r *OwnerRegistry) Drop(id string) {
	r.mu.Lock()
	o, ok := r.owners[id]
	delete(r.owners, id)
	r.mu.Unlock()
	if ok {
		o.Dispose()
	}
}

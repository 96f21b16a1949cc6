package host

import (
	"fmt"
	"sync"
	"time"

	"modernc.org/quickjs"
)

// timerEntry represents a pending setTimeout/setInterval callback. The
// callback itself is never stored in Go — it lives in
// globalThis.__timerCallbacks[id] on the JS side. Go tracks only scheduling
// metadata, matching the invariant that the resource table, timer table, and
// drop queue are touched exclusively from the single executor goroutine.
type timerEntry struct {
	deadline time.Time
	interval time.Duration // 0 for setTimeout, >0 for setInterval
	id       int
	cleared  bool
}

// FetchResult holds the pre-serialized outcome of an in-flight host-async
// HTTP fetch. Built-ins that issue fetch() read the body, serialize headers,
// and base64-encode binary bodies before sending, so the event loop only
// ever passes strings across into JS.
type FetchResult struct {
	Status      int
	StatusText  string
	HeadersJSON string
	BodyB64     string
	Redirected  bool
	FinalURL    string
	Err         error
}

// PendingFetch represents an in-flight host-async operation whose result
// will be delivered to JS via the event loop once it resolves.
type PendingFetch struct {
	ResultCh <-chan FetchResult
	FetchID  string
}

// EventLoop drives Go-backed timers and pending fetches that must be
// resolved back into the JS world. It provides real wall-clock delays
// backed by Go's own timer facilities; JS never sees Go goroutines directly.
type EventLoop struct {
	mu             sync.Mutex
	timers         map[int]*timerEntry
	nextID         int
	pendingFetches []*PendingFetch
}

// NewEventLoop constructs an empty event loop.
func NewEventLoop() *EventLoop {
	return &EventLoop{
		timers: make(map[int]*timerEntry),
	}
}

// RegisterTimer creates a timer entry and returns its id. The JS-side
// callback is expected to live in globalThis.__timerCallbacks[id].
func (el *EventLoop) RegisterTimer(delay time.Duration, isInterval bool) int {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.nextID++
	id := el.nextID
	entry := &timerEntry{
		deadline: time.Now().Add(delay),
		id:       id,
	}
	if isInterval {
		if delay < 10*time.Millisecond {
			delay = 10 * time.Millisecond
		}
		entry.interval = delay
	}
	el.timers[id] = entry
	return id
}

// ClearTimer cancels a timer by id. Cancelling an already-fired or
// already-cancelled timer is a no-op.
func (el *EventLoop) ClearTimer(id int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if t, ok := el.timers[id]; ok {
		t.cleared = true
		delete(el.timers, id)
	}
}

// AddPendingFetch registers a host-async operation whose result the loop
// should deliver into JS as it drains.
func (el *EventLoop) AddPendingFetch(pf *PendingFetch) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.pendingFetches = append(el.pendingFetches, pf)
}

// DrainPendingFetches does non-blocking reads on all pending fetch channels.
// For each completed one it resolves/rejects via the globalThis.__fetchResolve
// / __fetchReject JS hooks installed by the fetch built-in. Returns true if
// any fetch completed.
func (el *EventLoop) DrainPendingFetches(vm *quickjs.VM) bool {
	el.mu.Lock()
	if len(el.pendingFetches) == 0 {
		el.mu.Unlock()
		return false
	}
	pending := el.pendingFetches
	el.pendingFetches = nil
	el.mu.Unlock()

	var remaining []*PendingFetch
	didWork := false
	for _, pf := range pending {
		select {
		case result := <-pf.ResultCh:
			if result.Err != nil {
				js := fmt.Sprintf(`globalThis.__fetchReject(%q, %q)`, pf.FetchID, result.Err.Error())
				if v, err := vm.EvalValue(js, quickjs.EvalGlobal); err == nil {
					v.Free()
				}
			} else {
				js := fmt.Sprintf(`globalThis.__fetchResolve(%q, %d, %q, %q, %q, %v, %q)`,
					pf.FetchID, result.Status, result.StatusText,
					result.HeadersJSON, result.BodyB64,
					result.Redirected, result.FinalURL)
				if v, err := vm.EvalValue(js, quickjs.EvalGlobal); err == nil {
					v.Free()
				}
			}
			ExecutePendingJobs(vm)
			didWork = true
		default:
			remaining = append(remaining, pf)
		}
	}

	el.mu.Lock()
	el.pendingFetches = append(remaining, el.pendingFetches...)
	el.mu.Unlock()
	return didWork
}

// fireTimer fires a timer callback by invoking into the JS-side callback map.
func (el *EventLoop) fireTimer(vm *quickjs.VM, id int) {
	js := fmt.Sprintf(`(function() {
		var entry = globalThis.__timerCallbacks[%d];
		if (!entry) return;
		if (!entry.interval) delete globalThis.__timerCallbacks[%d];
		entry.fn.apply(null, entry.args || []);
	})()`, id, id)
	if v, err := vm.EvalValue(js, quickjs.EvalGlobal); err == nil {
		v.Free()
	}
}

// Drain fires all pending timers and resolves pending fetches until none
// remain or deadline is reached. Must be called on the VM's owning
// goroutine — QuickJS is single-threaded per VM and the runtime host
// guarantees a single active caller at a time.
func (el *EventLoop) Drain(vm *quickjs.VM, deadline time.Time) {
	for {
		if el.DrainPendingFetches(vm) {
			continue
		}

		el.mu.Lock()
		hasTimers := len(el.timers) > 0
		hasFetches := len(el.pendingFetches) > 0
		el.mu.Unlock()

		if !hasTimers && !hasFetches {
			return
		}

		el.mu.Lock()
		var next *timerEntry
		for _, t := range el.timers {
			if t.cleared {
				continue
			}
			if next == nil || t.deadline.Before(next.deadline) {
				next = t
			}
		}
		el.mu.Unlock()

		if next == nil && !hasFetches {
			return
		}

		if next == nil && hasFetches {
			if time.Now().After(deadline) {
				return
			}
			time.Sleep(1 * time.Millisecond)
			continue
		}

		now := time.Now()
		if next.deadline.After(now) {
			wait := next.deadline.Sub(now)
			if now.Add(wait).After(deadline) {
				if hasFetches {
					for time.Now().Before(deadline) {
						if el.DrainPendingFetches(vm) {
							break
						}
						time.Sleep(1 * time.Millisecond)
					}
				}
				return
			}
			if hasFetches {
				timerDeadline := now.Add(wait)
				for time.Now().Before(timerDeadline) {
					el.DrainPendingFetches(vm)
					remaining := time.Until(timerDeadline)
					if remaining <= 0 {
						break
					}
					if remaining > 1*time.Millisecond {
						remaining = 1 * time.Millisecond
					}
					time.Sleep(remaining)
				}
			} else {
				time.Sleep(wait)
			}
		}

		if time.Now().After(deadline) {
			return
		}

		el.mu.Lock()
		if next.cleared {
			el.mu.Unlock()
			continue
		}
		timerID := next.id
		if next.interval > 0 {
			next.deadline = time.Now().Add(next.interval)
		} else {
			delete(el.timers, next.id)
		}
		el.mu.Unlock()

		el.fireTimer(vm, timerID)
		ExecutePendingJobs(vm)
	}
}

// HasPending returns true if there are any active timers or pending fetches.
func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.timers) > 0 || len(el.pendingFetches) > 0
}

// Reset clears all timers and pending fetches. Called between turns when a
// worker VM is reused.
func (el *EventLoop) Reset() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.timers = make(map[int]*timerEntry)
	el.nextID = 0
	el.pendingFetches = nil
}

package builtins

import (
	"time"

	"github.com/hostedat/jswit/internal/host"
	"modernc.org/quickjs"
)

// timersJS implements setTimeout/setInterval/clearTimeout/clearInterval,
// storing callbacks in globalThis.__timerCallbacks and delegating
// scheduling to the host event loop via __timerRegister/__timerClear.
const timersJS = `
(function() {
	globalThis.__timerCallbacks = {};
	globalThis.setTimeout = function(fn, delay) {
		if (arguments.length === 0 || typeof fn !== 'function') {
			return 0;
		}
		var args = [];
		for (var i = 2; i < arguments.length; i++) args.push(arguments[i]);
		var id = __timerRegister(delay || 0, false);
		globalThis.__timerCallbacks[id] = { fn: fn, args: args };
		return id;
	};
	globalThis.setInterval = function(fn, interval) {
		if (arguments.length === 0 || typeof fn !== 'function') {
			return 0;
		}
		var args = [];
		for (var i = 2; i < arguments.length; i++) args.push(arguments[i]);
		var id = __timerRegister(interval || 0, true);
		globalThis.__timerCallbacks[id] = { fn: fn, args: args, interval: true };
		return id;
	};
	globalThis.clearTimeout = globalThis.clearInterval = function(id) {
		if (arguments.length === 0 || typeof id !== 'number') {
			return;
		}
		__timerClear(id);
		delete globalThis.__timerCallbacks[id];
	};
})();
`

// SetupTimers registers the Go-backed timer primitives. Callbacks fire
// during EventLoop.Drain, which the runtime host calls once the exported
// function's turn has produced a result and again while awaiting a promise.
func SetupTimers(vm *quickjs.VM, el *host.EventLoop) error {
	if err := host.RegisterGoFunc(vm, "__timerRegister", func(delayMs int, isInterval bool) int {
		delay := time.Duration(delayMs) * time.Millisecond
		return el.RegisterTimer(delay, isInterval)
	}, false); err != nil {
		return err
	}

	if err := host.RegisterGoFunc(vm, "__timerClear", func(id int) {
		el.ClearTimer(id)
	}, false); err != nil {
		return err
	}

	return host.EvalDiscard(vm, timersJS)
}

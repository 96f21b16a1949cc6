package builtins

import (
	"log"

	"github.com/hostedat/jswit/internal/host"
	"modernc.org/quickjs"
)

// SetupConsole replaces globalThis.console with a Go-backed version that
// forwards every call to the standard logger, tagged with its level.
func SetupConsole(vm *quickjs.VM, _ *host.EventLoop) error {
	if err := host.RegisterGoFunc(vm, "__console", func(level, message string) {
		log.Printf("[component %s] %s", level, message)
	}, false); err != nil {
		return err
	}

	consoleJS := `
(function() {
	var levels = ['log', 'info', 'warn', 'error', 'debug'];
	var con = {};
	for (var i = 0; i < levels.length; i++) {
		(function(lvl) {
			con[lvl] = function() {
				var parts = [];
				for (var j = 0; j < arguments.length; j++) {
					var arg = arguments[j];
					if (typeof arg === 'object' && arg !== null) {
						parts.push(JSON.stringify(arg));
					} else {
						parts.push(String(arg));
					}
				}
				__console(lvl, parts.join(' '));
			};
		})(levels[i]);
	}
	globalThis.console = con;
})();
`
	return host.EvalDiscard(vm, consoleJS)
}

// consoleExtJS adds console.time/count/assert/table/group, matching the
// surface a module bundled with standard tooling (esbuild, test runners)
// expects to find present even when unused.
const consoleExtJS = `
(function() {
var __timers = {};
var __counters = {};
var __groupDepth = 0;

console.time = function(label) {
	__timers[label || 'default'] = performance.now();
};
console.timeEnd = function(label) {
	var l = label || 'default';
	var start = __timers[l];
	if (start === undefined) { console.warn('Timer "' + l + '" does not exist'); return; }
	var elapsed = performance.now() - start;
	delete __timers[l];
	console.log(l + ': ' + elapsed.toFixed(3) + 'ms');
};
console.count = function(label) {
	var l = label || 'default';
	__counters[l] = (__counters[l] || 0) + 1;
	console.log(l + ': ' + __counters[l]);
};
console.countReset = function(label) {
	__counters[label || 'default'] = 0;
};
console.assert = function(cond) {
	if (!cond) {
		var args = Array.prototype.slice.call(arguments, 1);
		console.error.apply(console, ['Assertion failed:'].concat(args));
	}
};
console.table = function(data) {
	console.log(JSON.stringify(data, null, 2));
};
console.trace = function() {
	var args = Array.prototype.slice.call(arguments);
	console.log.apply(console, ['Trace:'].concat(args));
};
console.group = function(label) {
	if (label) console.log(label);
	__groupDepth++;
};
console.groupEnd = function() {
	if (__groupDepth > 0) __groupDepth--;
};
console.dir = function(obj) {
	console.log(JSON.stringify(obj, null, 2));
};
})();
`

// SetupConsoleExt evaluates the extended console methods polyfill. Must run
// after SetupConsole.
func SetupConsoleExt(vm *quickjs.VM, _ *host.EventLoop) error {
	return host.EvalDiscard(vm, consoleExtJS)
}

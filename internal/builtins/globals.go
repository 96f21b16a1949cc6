package builtins

import (
	"fmt"
	"time"

	"github.com/hostedat/jswit/internal/host"
	"modernc.org/quickjs"
)

// globalsJS defines pure-JS polyfills for simple global APIs a bundled
// module commonly assumes are present: structuredClone, queueMicrotask,
// and a minimal navigator stub (user agent only — no network side effects).
const globalsJS = `
globalThis.structuredClone = (function() {
	var TYPED_ARRAY_CONSTRUCTORS = [
		typeof Uint8Array !== 'undefined' && Uint8Array,
		typeof Int8Array !== 'undefined' && Int8Array,
		typeof Uint8ClampedArray !== 'undefined' && Uint8ClampedArray,
		typeof Int16Array !== 'undefined' && Int16Array,
		typeof Uint16Array !== 'undefined' && Uint16Array,
		typeof Int32Array !== 'undefined' && Int32Array,
		typeof Uint32Array !== 'undefined' && Uint32Array,
		typeof Float32Array !== 'undefined' && Float32Array,
		typeof Float64Array !== 'undefined' && Float64Array,
		typeof BigInt64Array !== 'undefined' && BigInt64Array,
		typeof BigUint64Array !== 'undefined' && BigUint64Array,
	].filter(Boolean);

	function cloneError(msg) {
		return new DOMException(msg, 'DataCloneError');
	}

	function deepClone(value, seen) {
		if (value === undefined) throw cloneError('value could not be cloned');
		if (value === null) return null;

		var type = typeof value;
		if (type === 'boolean' || type === 'number' || type === 'string' || type === 'bigint') return value;
		if (type === 'function' || type === 'symbol') throw cloneError('value could not be cloned');

		if (typeof WeakMap !== 'undefined' && value instanceof WeakMap) throw cloneError('WeakMap cannot be cloned');
		if (typeof WeakSet !== 'undefined' && value instanceof WeakSet) throw cloneError('WeakSet cannot be cloned');
		if (typeof Promise !== 'undefined' && value instanceof Promise) throw cloneError('Promise cannot be cloned');

		if (seen.has(value)) throw cloneError('value could not be cloned: circular reference');
		seen.set(value, true);

		if (value instanceof Date) return new Date(value.getTime());
		if (value instanceof RegExp) return new RegExp(value.source, value.flags);
		if (value instanceof ArrayBuffer) return value.slice(0);

		for (var ti = 0; ti < TYPED_ARRAY_CONSTRUCTORS.length; ti++) {
			var TA = TYPED_ARRAY_CONSTRUCTORS[ti];
			if (value instanceof TA) {
				var clonedBuf = value.buffer.slice(value.byteOffset, value.byteOffset + value.byteLength);
				return new TA(clonedBuf);
			}
		}

		if (typeof DataView !== 'undefined' && value instanceof DataView) {
			var dvBuf = value.buffer.slice(value.byteOffset, value.byteOffset + value.byteLength);
			return new DataView(dvBuf);
		}

		if (typeof Map !== 'undefined' && value instanceof Map) {
			var clonedMap = new Map();
			value.forEach(function(v, k) { clonedMap.set(deepClone(k, seen), deepClone(v, seen)); });
			return clonedMap;
		}

		if (typeof Set !== 'undefined' && value instanceof Set) {
			var clonedSet = new Set();
			value.forEach(function(v) { clonedSet.add(deepClone(v, seen)); });
			return clonedSet;
		}

		if (Array.isArray(value)) {
			var arr = new Array(value.length);
			for (var i = 0; i < value.length; i++) arr[i] = deepClone(value[i], seen);
			return arr;
		}

		var result = {};
		var keys = Object.keys(value);
		for (var j = 0; j < keys.length; j++) result[keys[j]] = deepClone(value[keys[j]], seen);
		return result;
	}

	return function structuredClone(value) {
		return deepClone(value, new WeakMap());
	};
})();

globalThis.queueMicrotask = function(fn) {
	Promise.resolve().then(fn);
};

Object.defineProperty(globalThis, 'navigator', {
	value: { userAgent: "jswit-component/1.0" },
	writable: true,
	configurable: true,
});
`

// SetupGlobals registers performance.now() and evaluates structuredClone,
// queueMicrotask, and the navigator stub.
func SetupGlobals(vm *quickjs.VM, _ *host.EventLoop) error {
	startTime := time.Now()
	if err := host.RegisterGoFunc(vm, "__performanceNow", func() float64 {
		return float64(time.Since(startTime).Nanoseconds()) / 1e6
	}, false); err != nil {
		return err
	}

	if err := host.EvalDiscard(vm, globalsJS); err != nil {
		return fmt.Errorf("builtins: evaluating globals: %w", err)
	}

	return host.EvalDiscard(vm, `
		globalThis.performance = {
			now: function() { return __performanceNow(); }
		};
	`)
}

// reportErrorJS defines ErrorEvent and reportError, dispatched on
// globalThis as an EventTarget.
const reportErrorJS = `
if (typeof globalThis.addEventListener !== 'function') {
	var __gt = new EventTarget();
	globalThis.addEventListener = __gt.addEventListener.bind(__gt);
	globalThis.removeEventListener = __gt.removeEventListener.bind(__gt);
	globalThis.dispatchEvent = __gt.dispatchEvent.bind(__gt);
}

class ErrorEvent extends Event {
	constructor(type, init) {
		super(type);
		this.error = init && init.error !== undefined ? init.error : null;
		this.message = (init && init.message) || '';
		this.filename = (init && init.filename) || '';
		this.lineno = (init && init.lineno) || 0;
		this.colno = (init && init.colno) || 0;
	}
}
globalThis.ErrorEvent = ErrorEvent;
globalThis.reportError = function(error) {
	var msg = '';
	if (error !== null && error !== undefined) {
		msg = error.message !== undefined ? error.message : String(error);
	}
	globalThis.dispatchEvent(new ErrorEvent('error', { error: error, message: msg }));
};
`

// SetupReportError evaluates the reportError/ErrorEvent polyfill. Must run
// after the Event/EventTarget classes are installed by SetupAbort.
func SetupReportError(vm *quickjs.VM, _ *host.EventLoop) error {
	return host.EvalDiscard(vm, reportErrorJS)
}

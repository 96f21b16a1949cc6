package host

import (
	"fmt"
	"strconv"

	"modernc.org/quickjs"
)

// BoolToInt converts a bool to 1/0 for quickjs interop, since RegisterFunc
// cannot marshal Go bool return values directly.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// EvalDiscard evaluates JavaScript and discards the result. Use for
// fire-and-forget execution where the return value is not needed.
func EvalDiscard(vm *quickjs.VM, js string) error {
	v, err := vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func EvalString(vm *quickjs.VM, js string) (string, error) {
	r, err := vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", nil
	}
	return fmt.Sprint(r), nil
}

// EvalInt evaluates JavaScript and returns the result as a Go int.
func EvalInt(vm *quickjs.VM, js string) (int, error) {
	r, err := vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return 0, err
	}
	switch v := r.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("expected int, got %T", r)
	}
}

// EvalBool evaluates JavaScript and returns the result as a Go bool.
func EvalBool(vm *quickjs.VM, js string) (bool, error) {
	r, err := vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return false, err
	}
	b, ok := r.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", r)
	}
	return b, nil
}

// SetGlobal sets a global property on the VM's global object, auto-converting
// from Go types to JS types.
func SetGlobal(vm *quickjs.VM, name string, value any) error {
	atom, err := vm.NewAtom(name)
	if err != nil {
		return fmt.Errorf("creating atom %q: %w", name, err)
	}
	glob := vm.GlobalObject()
	defer glob.Free()
	return glob.SetProperty(atom, value)
}

// GetGlobalString reads a global property as a string.
func GetGlobalString(vm *quickjs.VM, name string) (string, error) {
	return EvalString(vm, fmt.Sprintf("String(globalThis[%q])", name))
}

// NewJSObject creates a new empty JavaScript object. The caller owns the
// returned Value and must Free() it when done.
func NewJSObject(vm *quickjs.VM) (quickjs.Value, error) {
	return vm.EvalValue("({})", quickjs.EvalGlobal)
}

// JSEscape escapes a string for safe embedding in generated JavaScript
// source. Go-quoted strings are valid JS string literals for all but a
// handful of unicode line terminators quickjs does not require escaped.
func JSEscape(s string) string {
	return strconv.Quote(s)
}

// ValueToAny converts a raw quickjs.Value (as returned by EvalValue) into a
// plain Go value using the same auto-marshaling vm.Eval already applies,
// then frees the handle. Bouncing the value through a throwaway global
// rather than reading it field-by-field avoids depending on quickjs.Value's
// per-kind accessor methods, which this binding's docs don't enumerate.
func ValueToAny(vm *quickjs.VM, val quickjs.Value) (any, error) {
	defer val.Free()
	if err := SetGlobal(vm, "__unwrap_tmp", val); err != nil {
		return nil, fmt.Errorf("converting call result: %w", err)
	}
	v, err := vm.Eval("(function(){ var r = globalThis.__unwrap_tmp; delete globalThis.__unwrap_tmp; return r; })()", quickjs.EvalGlobal)
	if err != nil {
		return nil, fmt.Errorf("converting call result: %w", err)
	}
	return v, nil
}

// RegisterGoFunc registers a Go function that returns (T, error) and wraps it
// in JS so that:
//   - on success (error == nil), it returns T directly (not [T, null])
//   - on error, it throws a TypeError with the error message
//
// This is needed because modernc.org/quickjs's RegisterFunc returns
// multi-value Go results as a JS array [value, error] rather than throwing.
func RegisterGoFunc(vm *quickjs.VM, name string, f any, wantThis bool) error {
	rawName := "__raw_" + name
	if err := vm.RegisterFunc(rawName, f, wantThis); err != nil {
		return err
	}
	wrapJS := fmt.Sprintf(`(function() {
		var raw = globalThis[%q];
		globalThis[%q] = function() {
			var r = raw.apply(this, arguments);
			if (Array.isArray(r)) {
				if (r[1] !== null && r[1] !== undefined) throw new TypeError("calling %s: " + r[1]);
				return r[0];
			}
			return r;
		};
		delete globalThis[%q];
	})()`, rawName, name, name, rawName)
	return EvalDiscard(vm, wrapJS)
}

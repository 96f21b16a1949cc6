// Package marshal holds the small, type-mapper-referenced helpers that
// every generated export/import adapter links against: list/option/
// result/tuple wire conversion, byte-buffer wire conversion, and the
// Result[Ok, Err] generic the type mapper emits for wit.KindResult.
//
// None of it is world-specific. The type mapper's WrapExpr/UnwrapExpr
// closures bottom out in calls here rather than re-deriving this logic
// per generated file, the same way a protobuf codegen target leans on a
// shared runtime package instead of inlining varint decoding at every call
// site.
package marshal

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Result mirrors a WIT result<Ok, Err> on the host side. Unlike a Go error
// return, both arms carry a typed value, so generated export adapters build
// one from whatever the guest call or host implementation returns rather
// than overloading Go's (T, error) convention.
type Result[Ok, Err any] struct {
	IsOk   bool
	OkVal  Ok
	ErrVal Err
}

// OkResult constructs the ok arm of a Result.
func OkResult[Ok, Err any](v Ok) Result[Ok, Err] {
	return Result[Ok, Err]{IsOk: true, OkVal: v}
}

// ErrResult constructs the err arm of a Result.
func ErrResult[Ok, Err any](e Err) Result[Ok, Err] {
	return Result[Ok, Err]{IsOk: false, ErrVal: e}
}

// WrapList renders a list's wire form by applying wrap to each element and
// joining the results into a JS array literal. Threaded as a func literal
// by the type mapper rather than unrolled at generation time, since a
// list's length is only known at runtime.
func WrapList[T any](items []T, wrap func(T) string) string {
	parts := make([]string, len(items))
	for i, v := range items {
		parts[i] = wrap(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// UnwrapList asserts that a JS value decoded through quickjs's own
// marshaling is a list, converting each element with unwrap. A decoded nil
// (JS null/undefined) or non-array value yields an empty list rather than
// panicking.
func UnwrapList[T any](raw any, unwrap func(any) T) []T {
	s, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]T, len(s))
	for i, e := range s {
		out[i] = unwrap(e)
	}
	return out
}

// WrapOption renders an optional value's wire form: "undefined" if ptr is
// nil, otherwise wrap applied to the pointed-to value.
func WrapOption[T any](ptr *T, wrap func(T) string) string {
	if ptr == nil {
		return "undefined"
	}
	return wrap(*ptr)
}

// UnwrapOption converts a decoded option value into a pointer: nil for a
// decoded JS null/undefined, otherwise a pointer to unwrap applied to the
// decoded value.
func UnwrapOption[T any](raw any, unwrap func(any) T) *T {
	if raw == nil {
		return nil
	}
	v := unwrap(raw)
	return &v
}

// WrapResult renders a result<Ok, Err> per the wire convention: {tag: 'ok',
// val} or {tag: 'err', val}, applying wrapOk/wrapErr to whichever arm r
// holds.
func WrapResult[Ok, Err any](r Result[Ok, Err], wrapOk func(Ok) string, wrapErr func(Err) string) string {
	if r.IsOk {
		return "{tag: 'ok', val: " + wrapOk(r.OkVal) + "}"
	}
	return "{tag: 'err', val: " + wrapErr(r.ErrVal) + "}"
}

// UnwrapResult splits a decoded {tag, val} object into a Result, converting
// whichever arm is present with unwrapOk/unwrapErr. A missing or
// unrecognized tag is treated as the err arm so a malformed return value
// surfaces as a result error rather than a panic.
func UnwrapResult[Ok, Err any](raw any, unwrapOk func(any) Ok, unwrapErr func(any) Err) Result[Ok, Err] {
	m, ok := raw.(map[string]any)
	if !ok {
		return ErrResult[Ok, Err](unwrapErr(raw))
	}
	tag, _ := m["tag"].(string)
	if tag == "ok" {
		return OkResult[Ok, Err](unwrapOk(m["val"]))
	}
	return ErrResult[Ok, Err](unwrapErr(m["val"]))
}

// WrapTuple joins already-wrapped element expressions (one per tuple
// position, unrolled by the type mapper since arity is static) into a JS
// array literal; WIT tuples cross the wire as fixed-length arrays, not
// objects.
func WrapTuple(joinedElemExprs string) string {
	return "[" + joinedElemExprs + "]"
}

// UnwrapTuple asserts a decoded value is an array, returning its raw
// elements in tuple-position order for the caller to convert one at a time.
func UnwrapTuple(raw any) []any {
	s, _ := raw.([]any)
	return s
}

// JSBool renders a Go bool as JS boolean-literal source text.
func JSBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// JSNumber renders any host numeric scalar as JS number-literal source
// text.
func JSNumber[T ~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64](v T) string {
	return fmt.Sprintf("%v", v)
}

// JSBigInt renders a 64-bit host integer as a JS BigInt-literal call
// ("BigInt(1234)"), since JS number literals silently lose precision past
// 2^53.
func JSBigInt[T ~int64 | ~uint64](v T) string {
	return fmt.Sprintf("BigInt(%d)", v)
}

// JSCodePoint renders a Go rune as a JS expression reconstructing the
// single-codepoint string a WIT char crosses the wire as.
func JSCodePoint(r rune) string {
	return fmt.Sprintf("String.fromCodePoint(%d)", r)
}

// JSString renders a Go string as a quoted, escaped JS string literal.
func JSString(s string) string {
	return jsQuote(s)
}

// BytesToUint8Array renders a Go byte slice as a JS expression: a base64
// literal decoded on the JS side via the host's __b64ToBuffer builtin,
// wrapped in a Uint8Array view. Keeping the literal text small (base64
// rather than a numeric array literal) matters once payloads reach into the
// kilobytes.
func BytesToUint8Array(b []byte) string {
	return "new Uint8Array(__b64ToBuffer(" + jsQuote(base64.StdEncoding.EncodeToString(b)) + "))"
}

// Uint8ArrayToBytes converts a decoded JS byte view back to a Go []byte.
// quickjs's own marshaling hands typed arrays back as []any of float64
// (one entry per byte) or, for some bindings, as a base64-encoded string
// when the call site pre-serialized it; both forms are accepted.
func Uint8ArrayToBytes(raw any) []byte {
	switch v := raw.(type) {
	case string:
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil
		}
		return b
	case []any:
		out := make([]byte, len(v))
		for i, e := range v {
			switch n := e.(type) {
			case float64:
				out[i] = byte(n)
			case int:
				out[i] = byte(n)
			}
		}
		return out
	default:
		return nil
	}
}

// AsBool converts a decoded JS boolean value to bool, treating anything
// other than the bool true as false rather than panicking on a malformed
// or absent value.
func AsBool(raw any) bool {
	b, _ := raw.(bool)
	return b
}

// AsFloat64 converts a decoded JS number to float64; quickjs hands back
// every non-bigint number as float64 regardless of the WIT integer width,
// so every scalar numeric Unwrap bottoms out here before narrowing.
func AsFloat64(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// AsString converts a decoded JS string value to string.
func AsString(raw any) string {
	s, _ := raw.(string)
	return s
}

// AsRune converts a decoded single-codepoint JS string back to a rune.
func AsRune(raw any) rune {
	s, _ := raw.(string)
	for _, r := range s {
		return r
	}
	return 0
}

// AsInt64 converts a decoded JS bigint to int64. quickjs surfaces bigints
// as their decimal string form across the Go boundary; a value that fails
// to parse (absent or malformed) yields zero rather than panicking.
func AsInt64(raw any) int64 {
	s, ok := raw.(string)
	if !ok {
		return int64(AsFloat64(raw))
	}
	var neg bool
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	var n int64
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0
		}
		n = n*10 + int64(s[i]-'0')
	}
	if neg {
		n = -n
	}
	return n
}

// AsUint64 converts a decoded JS bigint to uint64, mirroring AsInt64.
func AsUint64(raw any) uint64 {
	s, ok := raw.(string)
	if !ok {
		return uint64(AsFloat64(raw))
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0
		}
		n = n*10 + uint64(s[i]-'0')
	}
	return n
}

// ArgAt returns args[i], or nil if the decoded JSON argument array is
// shorter than the generated signature expects -- a guest call passing
// fewer arguments than declared unwraps as a zero value rather than
// panicking, matching how a plain JS call pads missing arguments with
// undefined.
func ArgAt(args []any, i int) any {
	if i < 0 || i >= len(args) {
		return nil
	}
	return args[i]
}

func jsQuote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"', '\\':
			out = append(out, '\\', c)
		case '\n':
			out = append(out, '\\', 'n')
		case '\r':
			out = append(out, '\\', 'r')
		case '\t':
			out = append(out, '\\', 't')
		default:
			out = append(out, c)
		}
	}
	out = append(out, '"')
	return string(out)
}

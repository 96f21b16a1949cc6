package marshal

import "testing"

func TestJSScalars(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"bool true", JSBool(true), "true"},
		{"bool false", JSBool(false), "false"},
		{"number", JSNumber(int32(42)), "42"},
		{"bigint", JSBigInt(int64(9007199254740993)), "BigInt(9007199254740993)"},
		{"codepoint", JSCodePoint('é'), "String.fromCodePoint(233)"},
		{"string", JSString("hi\n\"there\""), `"hi\n\"there\""`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if c.got != c.want {
				t.Errorf("got %q, want %q", c.got, c.want)
			}
		})
	}
}

func TestAsScalarsRoundTrip(t *testing.T) {
	if got := AsBool(true); !got {
		t.Errorf("AsBool(true) = %v", got)
	}
	if got := AsFloat64(float64(12)); got != 12 {
		t.Errorf("AsFloat64 = %v", got)
	}
	if got := AsString("hello"); got != "hello" {
		t.Errorf("AsString = %q", got)
	}
	if got := AsRune("é"); got != 'é' {
		t.Errorf("AsRune = %q", got)
	}
	if got := AsInt64("-1234567890123"); got != -1234567890123 {
		t.Errorf("AsInt64 = %d", got)
	}
	if got := AsUint64("18446744073709551615"); got != 18446744073709551615 {
		t.Errorf("AsUint64 = %d", got)
	}
}

func TestWrapUnwrapList(t *testing.T) {
	items := []int32{1, 2, 3}
	wrapped := WrapList(items, func(v int32) string { return JSNumber(v) })
	if wrapped != "[1, 2, 3]" {
		t.Errorf("WrapList = %q", wrapped)
	}

	raw := []any{float64(1), float64(2), float64(3)}
	got := UnwrapList(raw, func(v any) int32 { return int32(AsFloat64(v)) })
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("UnwrapList = %v", got)
	}

	if got := UnwrapList[int32](nil, func(v any) int32 { return 0 }); got != nil {
		t.Errorf("UnwrapList(nil) = %v, want nil", got)
	}
}

func TestWrapUnwrapOption(t *testing.T) {
	var none *string
	if got := WrapOption(none, JSString); got != "undefined" {
		t.Errorf("WrapOption(nil) = %q", got)
	}
	v := "hi"
	if got := WrapOption(&v, JSString); got != `"hi"` {
		t.Errorf("WrapOption(&v) = %q", got)
	}

	if got := UnwrapOption[string](nil, AsString); got != nil {
		t.Errorf("UnwrapOption(nil) = %v, want nil", got)
	}
	got := UnwrapOption[string]("hi", AsString)
	if got == nil || *got != "hi" {
		t.Errorf("UnwrapOption = %v", got)
	}
}

func TestWrapUnwrapResult(t *testing.T) {
	ok := OkResult[int32, string](7)
	if got := WrapResult(ok, JSNumber[int32], JSString); got != "{tag: 'ok', val: 7}" {
		t.Errorf("WrapResult(ok) = %q", got)
	}
	errR := ErrResult[int32, string]("boom")
	if got := WrapResult(errR, JSNumber[int32], JSString); got != `{tag: 'err', val: "boom"}` {
		t.Errorf("WrapResult(err) = %q", got)
	}

	raw := map[string]any{"tag": "ok", "val": float64(5)}
	r := UnwrapResult(raw, func(v any) int32 { return int32(AsFloat64(v)) }, AsString)
	if !r.IsOk || r.OkVal != 5 {
		t.Errorf("UnwrapResult(ok) = %+v", r)
	}

	raw2 := map[string]any{"tag": "err", "val": "nope"}
	r2 := UnwrapResult(raw2, func(v any) int32 { return int32(AsFloat64(v)) }, AsString)
	if r2.IsOk || r2.ErrVal != "nope" {
		t.Errorf("UnwrapResult(err) = %+v", r2)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	b := []byte{1, 2, 3, 255}
	expr := BytesToUint8Array(b)
	if expr == "" {
		t.Fatal("empty expression")
	}

	raw := []any{float64(1), float64(2), float64(3), float64(255)}
	got := Uint8ArrayToBytes(raw)
	if len(got) != 4 || got[3] != 255 {
		t.Errorf("Uint8ArrayToBytes([]any) = %v", got)
	}

	got2 := Uint8ArrayToBytes("AQIDA/8=")
	if len(got2) == 0 {
		t.Errorf("Uint8ArrayToBytes(base64) returned empty")
	}
}

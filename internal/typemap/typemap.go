// Package typemap implements the type mapper: for every WIT type it
// produces a WrappedType carrying the host-native type reference, the
// JS-facing wrapper reference, and the wrap/unwrap closures that generate
// the conversion code the export/import adapter generators splice into
// their bodies.
package typemap

import (
	"fmt"
	"strings"

	"github.com/hostedat/jswit/internal/names"
	"github.com/hostedat/jswit/internal/wit"
)

// These are the import paths generated adapter code references by name
// whenever a WrapExpr/UnwrapExpr closure below emits a call into them.
// exportgen and importgen write both imports into the files they generate;
// listed here so a reader of this file can find the call sites' definitions
// without grepping the generator.
const (
	marshalPkg = "github.com/hostedat/jswit/internal/marshal"
	bridgePkg  = "github.com/hostedat/jswit/internal/bridge"
)

// WrapExpr produces a fragment of generated Go source: given goExpr (a Go
// expression evaluating to the host-native value, or for scalar leaves its
// already-formatted JS-literal text), it returns a Go expression that
// evaluates at runtime to the JS source text an export adapter splices into
// its call to host.CallExport. For scalars this is goExpr itself or a small
// JS-literal wrapper (e.g. "BigInt(%s)"); for containers it is a call into
// the marshal package, which the generated file imports.
type WrapExpr func(goExpr string) string

// UnwrapExpr produces a fragment of generated Go source: given jsExpr (a Go
// expression already holding the decoded JS value, via quickjs's own
// marshaling of the host.CallExport result), it returns a Go expression
// converting that value into host-native form. Scalars cast directly;
// containers call into the marshal package.
type UnwrapExpr func(jsExpr string) string

// WrappedType is the type mapper's central record: one per (WIT type,
// position) in the transitive closure reachable from a world's exports and
// imports.
type WrappedType struct {
	// HostType is the Go type reference used in generated function
	// signatures (e.g. "string", "uint64", "*HelloResource", "[]byte").
	HostType string

	// JSType is a human-readable name for the JS-facing wire form, used by
	// the .d.ts emitter (e.g. "string", "bigint", "Uint8Array",
	// "{tag: 'ok', val: T} | {tag: 'err', val: E}").
	JSType string

	// Wrap converts a host-native value into its JS wire form.
	Wrap WrapExpr

	// Unwrap converts a JS wire-form value back into host-native form.
	Unwrap UnwrapExpr
}

// Mapper carries the world being processed (for resolving named type
// references) and records which TypeIDs have been visited, so downstream
// emitters can enumerate exactly the transitive closure the selected world
// uses.
type Mapper struct {
	World   *wit.World
	visited map[wit.TypeID]bool
}

// New constructs a Mapper over w.
func New(w *wit.World) *Mapper {
	return &Mapper{World: w, visited: make(map[wit.TypeID]bool)}
}

// Visited returns the set of user TypeDef ids reached by WrapType calls so
// far, in registration order.
func (m *Mapper) Visited() []*wit.TypeDef {
	var out []*wit.TypeDef
	for _, def := range m.World.AllTypes() {
		if m.visited[def.ID] {
			out = append(out, def)
		}
	}
	return out
}

// WrapType is the mapper's central contract: wrap_type(wit_type) →
// WrappedType, per §4.2.
func (m *Mapper) WrapType(t wit.Type) (WrappedType, error) {
	switch t.Kind {
	case wit.KindBool:
		return WrappedType{
			HostType: "bool", JSType: "boolean",
			Wrap:   func(e string) string { return fmt.Sprintf("marshal.JSBool(%s)", e) },
			Unwrap: func(e string) string { return fmt.Sprintf("marshal.AsBool(%s)", e) },
		}, nil

	case wit.KindU8, wit.KindU16, wit.KindU32, wit.KindS8, wit.KindS16, wit.KindS32:
		host := intHostType(t.Kind)
		return WrappedType{
			HostType: host, JSType: "number",
			Wrap:   func(e string) string { return fmt.Sprintf("marshal.JSNumber(%s)", e) },
			Unwrap: func(e string) string { return fmt.Sprintf("%s(marshal.AsFloat64(%s))", host, e) },
		}, nil

	case wit.KindF32, wit.KindF64:
		host := "float64"
		if t.Kind == wit.KindF32 {
			host = "float32"
		}
		return WrappedType{
			HostType: host, JSType: "number",
			Wrap:   func(e string) string { return fmt.Sprintf("marshal.JSNumber(%s)", e) },
			Unwrap: func(e string) string { return fmt.Sprintf("%s(marshal.AsFloat64(%s))", host, e) },
		}, nil

	case wit.KindU64, wit.KindS64:
		host := "int64"
		asFn := "marshal.AsInt64"
		if t.Kind == wit.KindU64 {
			host = "uint64"
			asFn = "marshal.AsUint64"
		}
		// 64-bit scalars widen/narrow explicitly against JS bigint: the
		// wrapper wire form is a bigint, not a number, so Go's marshaling
		// code formats/parses a decimal string rather than risking float64
		// precision loss.
		return WrappedType{
			HostType: host, JSType: "bigint",
			Wrap:   func(e string) string { return fmt.Sprintf("marshal.JSBigInt(%s)", e) },
			Unwrap: func(e string) string { return fmt.Sprintf("%s(%s)", asFn, e) },
		}, nil

	case wit.KindChar:
		return WrappedType{
			HostType: "rune", JSType: "string",
			Wrap:   func(e string) string { return fmt.Sprintf("marshal.JSCodePoint(%s)", e) },
			Unwrap: func(e string) string { return fmt.Sprintf("marshal.AsRune(%s)", e) },
		}, nil

	case wit.KindString:
		return WrappedType{
			HostType: "string", JSType: "string",
			Wrap:   func(e string) string { return fmt.Sprintf("marshal.JSString(%s)", e) },
			Unwrap: func(e string) string { return fmt.Sprintf("marshal.AsString(%s)", e) },
		}, nil

	case wit.KindList:
		elemW, err := m.WrapType(*t.Elem)
		if err != nil {
			return WrappedType{}, err
		}
		if t.Elem.Kind == wit.KindU8 {
			return WrappedType{
				HostType: "[]byte", JSType: "Uint8Array",
				Wrap:   func(e string) string { return fmt.Sprintf("marshal.BytesToUint8Array(%s)", e) },
				Unwrap: func(e string) string { return fmt.Sprintf("marshal.Uint8ArrayToBytes(%s)", e) },
			}, nil
		}
		// The element wrap/unwrap closures are threaded through as func
		// literals rather than called here directly: list length is only
		// known at runtime, so the per-element conversion has to run inside
		// marshal.WrapList/UnwrapList's loop, not unrolled at generation time.
		return WrappedType{
			HostType: "[]" + elemW.HostType, JSType: "Array<" + elemW.JSType + ">",
			Wrap: func(e string) string {
				return fmt.Sprintf("marshal.WrapList(%s, func(__v %s) string { return %s })", e, elemW.HostType, elemW.Wrap("__v"))
			},
			Unwrap: func(e string) string {
				return fmt.Sprintf("marshal.UnwrapList(%s, func(__v any) %s { return %s })", e, elemW.HostType, elemW.Unwrap("__v"))
			},
		}, nil

	case wit.KindFixedList:
		elemW, err := m.WrapType(*t.Elem)
		if err != nil {
			return WrappedType{}, err
		}
		hostType := fmt.Sprintf("[%d]%s", t.FixedLen, elemW.HostType)
		return WrappedType{
			HostType: hostType,
			JSType:   fmt.Sprintf("Array<%s> /* len %d */", elemW.JSType, t.FixedLen),
			Wrap: func(e string) string {
				return fmt.Sprintf("marshal.WrapList(%s[:], func(__v %s) string { return %s })", e, elemW.HostType, elemW.Wrap("__v"))
			},
			Unwrap: func(e string) string {
				return fmt.Sprintf("func() %s { var __a %s; copy(__a[:], marshal.UnwrapList(%s, func(__v any) %s { return %s })); return __a }()",
					hostType, hostType, e, elemW.HostType, elemW.Unwrap("__v"))
			},
		}, nil

	case wit.KindOption:
		elemW, err := m.WrapType(*t.Elem)
		if err != nil {
			return WrappedType{}, err
		}
		return WrappedType{
			HostType: "*" + elemW.HostType, JSType: elemW.JSType + " | undefined",
			Wrap: func(e string) string {
				return fmt.Sprintf("marshal.WrapOption(%s, func(__v %s) string { return %s })", e, elemW.HostType, elemW.Wrap("__v"))
			},
			Unwrap: func(e string) string {
				return fmt.Sprintf("marshal.UnwrapOption(%s, func(__v any) %s { return %s })", e, elemW.HostType, elemW.Unwrap("__v"))
			},
		}, nil

	case wit.KindResult:
		okW := WrappedType{
			HostType: "struct{}", JSType: "undefined",
			Wrap:   func(string) string { return `"null"` },
			Unwrap: func(string) string { return "struct{}{}" },
		}
		if t.Ok != nil {
			w, err := m.WrapType(*t.Ok)
			if err != nil {
				return WrappedType{}, err
			}
			okW = w
		}
		errW := WrappedType{
			HostType: "string", JSType: "string",
			Wrap:   func(e string) string { return fmt.Sprintf("marshal.JSString(%s)", e) },
			Unwrap: func(e string) string { return fmt.Sprintf("marshal.AsString(%s)", e) },
		}
		if t.Err != nil {
			w, err := m.WrapType(*t.Err)
			if err != nil {
				return WrappedType{}, err
			}
			errW = w
		}
		return WrappedType{
			HostType: fmt.Sprintf("marshal.Result[%s, %s]", okW.HostType, errW.HostType),
			JSType:   "{tag: 'ok', val: " + okW.JSType + "} | {tag: 'err', val: " + errW.JSType + "}",
			Wrap: func(e string) string {
				return fmt.Sprintf("marshal.WrapResult(%s, func(__v %s) string { return %s }, func(__v %s) string { return %s })",
					e, okW.HostType, okW.Wrap("__v"), errW.HostType, errW.Wrap("__v"))
			},
			Unwrap: func(e string) string {
				return fmt.Sprintf("marshal.UnwrapResult(%s, func(__v any) %s { return %s }, func(__v any) %s { return %s })",
					e, okW.HostType, okW.Unwrap("__v"), errW.HostType, errW.Unwrap("__v"))
			},
		}, nil

	case wit.KindTuple:
		memWs := make([]WrappedType, len(t.Tuple))
		hostFields := make([]string, len(t.Tuple))
		jsFields := make([]string, len(t.Tuple))
		for i, mem := range t.Tuple {
			w, err := m.WrapType(mem)
			if err != nil {
				return WrappedType{}, err
			}
			memWs[i] = w
			hostFields[i] = w.HostType
			jsFields[i] = w.JSType
		}
		hostType := tupleStructType(hostFields)
		// Tuple arity is static, so unlike list/option the per-field
		// wrap/unwrap calls are unrolled directly here rather than threaded
		// through marshal as func literals.
		return WrappedType{
			HostType: hostType,
			JSType:   "[" + joinComma(jsFields) + "]",
			Wrap: func(e string) string {
				parts := make([]string, len(memWs))
				for i, w := range memWs {
					parts[i] = w.Wrap(fmt.Sprintf("%s.F%d", e, i))
				}
				return fmt.Sprintf("marshal.WrapTuple(strings.Join([]string{%s}, \", \"))", strings.Join(parts, ", "))
			},
			Unwrap: func(e string) string {
				fields := make([]string, len(memWs))
				for i, w := range memWs {
					fields[i] = fmt.Sprintf("F%d: %s", i, w.Unwrap(fmt.Sprintf("__t[%d]", i)))
				}
				return fmt.Sprintf("func() %s { __t := marshal.UnwrapTuple(%s); return %s{%s} }()", hostType, e, hostType, strings.Join(fields, ", "))
			},
		}, nil

	case wit.KindRecord, wit.KindVariant, wit.KindEnum, wit.KindFlags:
		def, ok := m.World.TypeByID(t.Def)
		if !ok {
			return WrappedType{}, fmt.Errorf("typemap: unknown type id %d", t.Def)
		}
		m.visited[t.Def] = true
		pair, err := names.Map(def.Name, names.KindType)
		if err != nil {
			return WrappedType{}, err
		}
		return m.wrapUserType(def, pair)

	case wit.KindResource:
		def, ok := m.World.TypeByID(t.Def)
		if !ok {
			return WrappedType{}, fmt.Errorf("typemap: unknown type id %d", t.Def)
		}
		m.visited[t.Def] = true
		pair, err := names.Map(def.Name, names.KindType)
		if err != nil {
			return WrappedType{}, err
		}
		return WrappedType{
			HostType: "*" + pair.Host + "Handle",
			JSType:   pair.JS,
			// e is the resource's bridge.Table handle id (uint64); Wrap
			// renders the lookup expression for the guest-table entry, Unwrap
			// calls Table.Adopt on the export's raw return value and yields
			// the fresh id (exportgen emits the Adopt call itself and passes
			// its id result through here as a formatted literal).
			Wrap:   func(e string) string { return fmt.Sprintf("bridge.Lookup(%s)", e) },
			Unwrap: func(e string) string { return e },
		}, nil

	case wit.KindOwnHandle:
		return m.WrapType(*t.Elem)

	case wit.KindBorrowHandle:
		inner, err := m.WrapType(*t.Elem)
		if err != nil {
			return WrappedType{}, err
		}
		inner.HostType = "Borrow[" + trimPointer(inner.HostType) + "]"
		return inner, nil

	case wit.KindAlias:
		def, ok := m.World.TypeByID(t.Def)
		if !ok || def.AliasOf == nil {
			return WrappedType{}, fmt.Errorf("typemap: unresolved alias %d", t.Def)
		}
		m.visited[t.Def] = true
		return m.WrapType(*def.AliasOf)

	default:
		return WrappedType{}, fmt.Errorf("typemap: unsupported kind %v", t.Kind)
	}
}

func (m *Mapper) wrapUserType(def *wit.TypeDef, pair names.Pair) (WrappedType, error) {
	switch def.Kind {
	case wit.TypeDefRecord:
		return WrappedType{
			HostType: pair.Host,
			JSType:   pair.JS,
			Wrap:     func(e string) string { return fmt.Sprintf("wrap%s(%s)", pair.Host, e) },
			Unwrap:   func(e string) string { return fmt.Sprintf("unwrap%s(%s)", pair.Host, e) },
		}, nil
	case wit.TypeDefVariant:
		return WrappedType{
			HostType: pair.Host,
			JSType:   pair.JS,
			// Wire form is exactly {tag: caseName[, val]}; unknown tags are
			// a marshaling error, never a panic, per the invariant.
			Wrap:   func(e string) string { return fmt.Sprintf("wrap%s(%s)", pair.Host, e) },
			Unwrap: func(e string) string { return fmt.Sprintf("unwrap%s(%s)", pair.Host, e) },
		}, nil
	case wit.TypeDefEnum:
		return WrappedType{
			HostType: pair.Host,
			JSType:   pair.JS,
			Wrap:     func(e string) string { return fmt.Sprintf("marshal.JSString(%s.String())", e) },
			Unwrap:   func(e string) string { return fmt.Sprintf("parse%s(marshal.AsString(%s))", pair.Host, e) },
		}, nil
	case wit.TypeDefFlags:
		return WrappedType{
			HostType: pair.Host,
			JSType:   pair.JS,
			Wrap:     func(e string) string { return fmt.Sprintf("wrap%s(%s)", pair.Host, e) },
			Unwrap:   func(e string) string { return fmt.Sprintf("unwrap%s(%s)", pair.Host, e) },
		}, nil
	default:
		return WrappedType{}, fmt.Errorf("typemap: %s is not a value type", def.Name)
	}
}

func intHostType(k wit.Kind) string {
	switch k {
	case wit.KindU8:
		return "uint8"
	case wit.KindU16:
		return "uint16"
	case wit.KindU32:
		return "uint32"
	case wit.KindS8:
		return "int8"
	case wit.KindS16:
		return "int16"
	case wit.KindS32:
		return "int32"
	default:
		return "int32"
	}
}

func tupleStructType(fields []string) string {
	s := "struct{"
	for i, f := range fields {
		s += fmt.Sprintf(" F%d %s;", i, f)
	}
	s += " }"
	return s
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

func trimPointer(s string) string {
	if len(s) > 0 && s[0] == '*' {
		return s[1:]
	}
	return s
}

// Package wit provides a read-only in-memory model of a WIT world: the
// packages, interfaces, functions, and type definitions the code generator
// walks to produce host adapters. It is an external collaborator to the
// core per the spec — this package only models and parses; it never
// generates code.
package wit

// Kind classifies a Type's shape for the purposes of the type mapper and
// wire-format rules. Mirrors the kind taxonomy in the data model: primitive,
// string, list, fixed-list, option, result, tuple, record, variant, enum,
// flags, resource, own-handle, borrow-handle, type alias.
type Kind int

const (
	KindBool Kind = iota
	KindU8
	KindU16
	KindU32
	KindU64
	KindS8
	KindS16
	KindS32
	KindS64
	KindF32
	KindF64
	KindChar
	KindString
	KindList
	KindFixedList
	KindOption
	KindResult
	KindTuple
	KindRecord
	KindVariant
	KindEnum
	KindFlags
	KindResource
	KindOwnHandle
	KindBorrowHandle
	KindAlias
)

// IsPrimitive reports whether k is one of the scalar kinds (bool, integers,
// floats, char) with no composite structure.
func (k Kind) IsPrimitive() bool {
	return k >= KindBool && k <= KindChar
}

// TypeID identifies a type definition within a World, stable across a
// single generation run.
type TypeID int

// Type is a reference to a WIT type: either a primitive/string kind that
// carries no further data, or a reference to a TypeDef by id (record,
// variant, enum, flags, resource, alias), or a composite built from other
// Types (list, option, result, tuple, handles).
type Type struct {
	Kind Kind

	// Elem is the element type for List, FixedList, Option, OwnHandle, and
	// BorrowHandle.
	Elem *Type

	// FixedLen is the element count for FixedList.
	FixedLen int

	// Ok and Err are the payload types for Result; either may be nil for a
	// payload-less ok/err case.
	Ok  *Type
	Err *Type

	// Tuple holds the member types for Tuple, in positional order.
	Tuple []Type

	// Def is set when Kind names a user type definition (Record, Variant,
	// Enum, Flags, Resource, Alias): the TypeID of that definition.
	Def TypeID
}

// Primitive constructs a Type for a scalar kind.
func Primitive(k Kind) Type { return Type{Kind: k} }

// ListOf constructs a `list<elem>` type.
func ListOf(elem Type) Type { return Type{Kind: KindList, Elem: &elem} }

// FixedListOf constructs a `list<elem, n>` fixed-length list type.
func FixedListOf(elem Type, n int) Type { return Type{Kind: KindFixedList, Elem: &elem, FixedLen: n} }

// OptionOf constructs an `option<elem>` type.
func OptionOf(elem Type) Type { return Type{Kind: KindOption, Elem: &elem} }

// ResultOf constructs a `result<ok, err>` type. Either may be nil.
func ResultOf(ok, err *Type) Type { return Type{Kind: KindResult, Ok: ok, Err: err} }

// TupleOf constructs a `tuple<...>` type.
func TupleOf(members ...Type) Type { return Type{Kind: KindTuple, Tuple: members} }

// RefTo constructs a Type referencing a user TypeDef by id and kind.
func RefTo(k Kind, id TypeID) Type { return Type{Kind: k, Def: id} }

// OwnOf constructs an `own<resource>` handle type.
func OwnOf(resource Type) Type { return Type{Kind: KindOwnHandle, Elem: &resource} }

// BorrowOf constructs a `borrow<resource>` handle type.
func BorrowOf(resource Type) Type { return Type{Kind: KindBorrowHandle, Elem: &resource} }

// Field is a named, typed member of a record, or a single case within a
// variant. HasPayload is always true for record fields; for a variant case
// it distinguishes a payload-less case (Type left at its zero value) from
// one actually typed bool (whose zero Type value would otherwise look
// identical).
type Field struct {
	Name       string
	Type       Type
	HasPayload bool
}

// TypeDefKind classifies what shape a TypeDef carries.
type TypeDefKind int

const (
	TypeDefRecord TypeDefKind = iota
	TypeDefVariant
	TypeDefEnum
	TypeDefFlags
	TypeDefResource
	TypeDefAlias
)

// TypeDef is a named, user-declared WIT type: a record, variant, enum,
// flags set, resource, or alias to another type.
type TypeDef struct {
	ID   TypeID
	Name string
	Kind TypeDefKind

	// Fields holds record fields or variant cases.
	Fields []Field

	// EnumCases and FlagsFields hold the bare case/flag names for enum and
	// flags defs respectively.
	EnumCases   []string
	FlagsFields []string

	// AliasOf is the target type when Kind == TypeDefAlias.
	AliasOf *Type

	// Resource-only: methods, static functions, and an optional constructor.
	Constructor *Function
	Methods     []*Function
	Statics     []*Function
}

// Function is a WIT function signature: a name, ordered parameters, an
// optional result type, and whether it is async (only exports may be
// async per the spec's non-goals).
type Function struct {
	Name    string
	Params  []Field
	Result  *Type
	IsAsync bool

	// ResourceMethod names the owning resource's TypeDef when this function
	// is a constructor/method/static rather than a free function; empty
	// otherwise.
	ResourceMethod TypeID
	IsResourceDef  bool
}

// Interface is a named collection of functions and type definitions,
// optionally qualified by a package.
type Interface struct {
	Name      string
	Functions []*Function
	Types     []*TypeDef
}

// World nominates which interfaces/functions are exported vs. imported.
// It is the top-level unit the code generator walks.
type World struct {
	Name       string
	Package    string
	Imports    []*Interface
	Exports    []*Interface
	ImportFns  []*Function
	ExportFns  []*Function
	typesByID  map[TypeID]*TypeDef
	nextTypeID TypeID
}

// NewWorld creates an empty world with the given package/world names.
func NewWorld(pkg, name string) *World {
	return &World{Name: name, Package: pkg, typesByID: make(map[TypeID]*TypeDef)}
}

// RegisterType assigns a fresh TypeID to def, records it, and returns the id.
func (w *World) RegisterType(def *TypeDef) TypeID {
	w.nextTypeID++
	def.ID = w.nextTypeID
	w.typesByID[def.ID] = def
	return def.ID
}

// TypeByID looks up a previously registered type definition.
func (w *World) TypeByID(id TypeID) (*TypeDef, bool) {
	d, ok := w.typesByID[id]
	return d, ok
}

// AllTypes returns every registered type definition, in registration order.
func (w *World) AllTypes() []*TypeDef {
	out := make([]*TypeDef, 0, len(w.typesByID))
	for id := TypeID(1); id <= w.nextTypeID; id++ {
		if d, ok := w.typesByID[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

package wit

import (
	"fmt"
	"strings"
	"unicode"
)

// ParseError reports a WIT syntax or semantic problem found at generation
// time, with enough context to point a user at the offending item. These
// are generation errors per the spec's error taxonomy: surfaced before any
// code is emitted, never at run time.
type ParseError struct {
	Pos     int
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("wit: line %d: %s", e.Line, e.Message)
}

// token kinds recognized by the lexer. WIT's lexical grammar is small
// enough that a hand-rolled scanner plus recursive-descent parser covers
// the subset this generator needs: packages, worlds, interfaces, type
// definitions, and function signatures. No existing Go library parses WIT,
// so this is deliberately stdlib-only; see the module's grounding ledger.
type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokString
	tokNumber
	tokPunct
)

type token struct {
	kind tokKind
	text string
	line int
}

type lexer struct {
	src  []rune
	pos  int
	line int
}

func newLexer(src string) *lexer {
	return &lexer{src: []rune(src), line: 1}
}

func (l *lexer) peekRune() (rune, bool) {
	if l.pos >= len(l.src) {
		return 0, false
	}
	return l.src[l.pos], true
}

func (l *lexer) next() token {
	l.skipTrivia()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, line: l.line}
	}
	r := l.src[l.pos]
	startLine := l.line

	if unicode.IsLetter(r) || r == '_' || r == '%' {
		start := l.pos
		l.pos++
		for l.pos < len(l.src) {
			c := l.src[l.pos]
			if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '-' || (c == ':' && l.pos+1 < len(l.src) && unicode.IsLetter(l.src[l.pos+1])) {
				l.pos++
				continue
			}
			break
		}
		return token{kind: tokIdent, text: string(l.src[start:l.pos]), line: startLine}
	}

	if unicode.IsDigit(r) {
		start := l.pos
		for l.pos < len(l.src) && (unicode.IsDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
			l.pos++
		}
		return token{kind: tokNumber, text: string(l.src[start:l.pos]), line: startLine}
	}

	if r == '"' {
		l.pos++
		start := l.pos
		for l.pos < len(l.src) && l.src[l.pos] != '"' {
			l.pos++
		}
		s := string(l.src[start:l.pos])
		if l.pos < len(l.src) {
			l.pos++
		}
		return token{kind: tokString, text: s, line: startLine}
	}

	// Punctuation: single-rune tokens are sufficient for this grammar
	// subset (braces, parens, angle brackets, colon, comma, semicolon,
	// equals, arrow built from '-' + '>').
	if r == '-' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '>' {
		l.pos += 2
		return token{kind: tokPunct, text: "->", line: startLine}
	}
	l.pos++
	return token{kind: tokPunct, text: string(r), line: startLine}
}

func (l *lexer) skipTrivia() {
	for l.pos < len(l.src) {
		r := l.src[l.pos]
		if r == '\n' {
			l.line++
			l.pos++
			continue
		}
		if unicode.IsSpace(r) {
			l.pos++
			continue
		}
		if r == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '/' {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
			continue
		}
		break
	}
}

// Parser consumes WIT source and builds a World.
type Parser struct {
	toks []token
	pos  int
	w    *World
	// named maps a declared type name to its registered TypeID, so later
	// references (fields, params, aliases) can resolve by name.
	named map[string]TypeID
	// topInterfaces collects top-level `interface` blocks so worlds can
	// reference them by name via `import foo;` / `export foo;`.
	topInterfaces []*Interface
}

// ParseWorld parses source (the concatenated contents of a WIT package
// directory) and returns the named world. If worldName is empty and
// exactly one world is declared, that world is returned.
func ParseWorld(source, worldName string) (*World, error) {
	lx := newLexer(source)
	var toks []token
	for {
		t := lx.next()
		toks = append(toks, t)
		if t.kind == tokEOF {
			break
		}
	}

	p := &Parser{toks: toks, named: make(map[string]TypeID)}
	pkgName := ""
	var worlds []*World

	for !p.atEOF() {
		switch {
		case p.peekIdent("package"):
			p.next()
			pkgName = p.expectIdent("package name")
			p.expectPunct(";")
		case p.peekIdent("world"):
			w, err := p.parseWorld(pkgName)
			if err != nil {
				return nil, err
			}
			worlds = append(worlds, w)
		case p.peekIdent("interface"):
			iface, err := p.parseInterfaceDecl()
			if err != nil {
				return nil, err
			}
			// Top-level interfaces are collected here, but nothing looks
			// them up: a world's `import name;` of one yields an empty
			// Interface with that name, not its declared functions/types.
			p.topInterfaces = append(p.topInterfaces, iface)
		default:
			// Skip unrecognized top-level tokens defensively rather than
			// failing the whole parse on constructs outside this subset
			// (e.g. `use`, doc comments already stripped as trivia).
			p.next()
		}
	}

	if len(worlds) == 0 {
		return nil, fmt.Errorf("wit: no world declarations found")
	}
	if worldName == "" {
		if len(worlds) > 1 {
			return nil, fmt.Errorf("wit: multiple worlds declared; --world is required")
		}
		return worlds[0], nil
	}
	for _, w := range worlds {
		if w.Name == worldName {
			return w, nil
		}
	}
	return nil, fmt.Errorf("wit: world %q not found", worldName)
}

func (p *Parser) atEOF() bool {
	return p.toks[p.pos].kind == tokEOF
}

func (p *Parser) peek() token { return p.toks[p.pos] }

func (p *Parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *Parser) peekIdent(s string) bool {
	t := p.peek()
	return t.kind == tokIdent && t.text == s
}

func (p *Parser) peekPunct(s string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == s
}

func (p *Parser) expectIdent(what string) string {
	t := p.next()
	if t.kind != tokIdent {
		return ""
	}
	_ = what
	return t.text
}

func (p *Parser) expectPunct(s string) bool {
	t := p.peek()
	if t.kind == tokPunct && t.text == s {
		p.next()
		return true
	}
	return false
}

func (p *Parser) parseWorld(pkg string) (*World, error) {
	p.next() // 'world'
	name := p.expectIdent("world name")
	w := NewWorld(pkg, name)
	p.w = w
	p.named = make(map[string]TypeID)

	if !p.expectPunct("{") {
		return nil, fmt.Errorf("wit: expected '{' after world %s", name)
	}

	for !p.peekPunct("}") && !p.atEOF() {
		switch {
		case p.peekIdent("import"):
			p.next()
			if err := p.parseImportExportItem(w, true); err != nil {
				return nil, err
			}
		case p.peekIdent("export"):
			p.next()
			if err := p.parseImportExportItem(w, false); err != nil {
				return nil, err
			}
		case p.peekIdent("type"), p.peekIdent("record"), p.peekIdent("variant"),
			p.peekIdent("enum"), p.peekIdent("flags"), p.peekIdent("resource"):
			if _, err := p.parseTypeDef(w); err != nil {
				return nil, err
			}
		default:
			p.next()
		}
	}
	p.expectPunct("}")
	return w, nil
}

// parseImportExportItem parses the tail of `import`/`export` inside a world
// body: either a bare interface reference (`import foo;`), an inline
// function signature (`import hello: func(...) -> ...;`), or an inline
// interface block (`import foo: interface { ... }`).
func (p *Parser) parseImportExportItem(w *World, isImport bool) error {
	name := p.expectIdent("import/export name")

	if p.peekPunct(":") {
		p.next()
		if p.peekIdent("func") {
			fn, err := p.parseFuncSig(name)
			if err != nil {
				return err
			}
			p.expectPunct(";")
			if isImport {
				w.ImportFns = append(w.ImportFns, fn)
			} else {
				w.ExportFns = append(w.ExportFns, fn)
			}
			return nil
		}
		if p.peekIdent("interface") {
			iface, err := p.parseInterfaceBody(name)
			if err != nil {
				return err
			}
			if isImport {
				w.Imports = append(w.Imports, iface)
			} else {
				w.Exports = append(w.Exports, iface)
			}
			return nil
		}
	}

	p.expectPunct(";")
	iface := &Interface{Name: name}
	if isImport {
		w.Imports = append(w.Imports, iface)
	} else {
		w.Exports = append(w.Exports, iface)
	}
	return nil
}

func (p *Parser) parseInterfaceDecl() (*Interface, error) {
	p.next() // 'interface'
	name := p.expectIdent("interface name")
	return p.parseInterfaceBody(name)
}

func (p *Parser) parseInterfaceBody(name string) (*Interface, error) {
	if p.peekIdent("interface") {
		p.next()
	}
	iface := &Interface{Name: name}
	if !p.expectPunct("{") {
		return iface, nil
	}
	for !p.peekPunct("}") && !p.atEOF() {
		switch {
		case p.peekIdent("type"), p.peekIdent("record"), p.peekIdent("variant"),
			p.peekIdent("enum"), p.peekIdent("flags"), p.peekIdent("resource"):
			def, err := p.parseTypeDefInto(iface)
			if err != nil {
				return nil, err
			}
			iface.Types = append(iface.Types, def)
		case p.peek().kind == tokIdent:
			fname := p.next().text
			if !p.expectPunct(":") {
				continue
			}
			if p.peekIdent("func") {
				fn, err := p.parseFuncSig(fname)
				if err != nil {
					return nil, err
				}
				p.expectPunct(";")
				iface.Functions = append(iface.Functions, fn)
			}
		default:
			p.next()
		}
	}
	p.expectPunct("}")
	return iface, nil
}

// parseTypeDef parses a world-scoped type definition and registers it.
func (p *Parser) parseTypeDef(w *World) (*TypeDef, error) {
	return p.parseTypeDefWith(w, nil)
}

func (p *Parser) parseTypeDefInto(iface *Interface) (*TypeDef, error) {
	return p.parseTypeDefWith(p.w, iface)
}

func (p *Parser) parseTypeDefWith(w *World, iface *Interface) (*TypeDef, error) {
	kindTok := p.next().text
	name := p.expectIdent("type name")
	def := &TypeDef{Name: name}

	switch kindTok {
	case "type":
		p.expectPunct("=")
		t := p.parseType()
		def.Kind = TypeDefAlias
		def.AliasOf = &t
		p.expectPunct(";")
	case "record":
		def.Kind = TypeDefRecord
		p.expectPunct("{")
		for !p.peekPunct("}") && !p.atEOF() {
			fname := p.expectIdent("field name")
			p.expectPunct(":")
			ft := p.parseType()
			def.Fields = append(def.Fields, Field{Name: fname, Type: ft, HasPayload: true})
			if !p.expectPunct(",") {
				break
			}
		}
		p.expectPunct("}")
	case "variant":
		def.Kind = TypeDefVariant
		p.expectPunct("{")
		for !p.peekPunct("}") && !p.atEOF() {
			cname := p.expectIdent("case name")
			var ct Type
			hasPayload := false
			if p.peekPunct("(") {
				p.next()
				ct = p.parseType()
				hasPayload = true
				p.expectPunct(")")
			}
			f := Field{Name: cname, HasPayload: hasPayload}
			if hasPayload {
				f.Type = ct
			}
			def.Fields = append(def.Fields, f)
			if !p.expectPunct(",") {
				break
			}
		}
		p.expectPunct("}")
	case "enum":
		def.Kind = TypeDefEnum
		p.expectPunct("{")
		for !p.peekPunct("}") && !p.atEOF() {
			cname := p.expectIdent("enum case")
			def.EnumCases = append(def.EnumCases, cname)
			if !p.expectPunct(",") {
				break
			}
		}
		p.expectPunct("}")
	case "flags":
		def.Kind = TypeDefFlags
		p.expectPunct("{")
		for !p.peekPunct("}") && !p.atEOF() {
			fname := p.expectIdent("flag name")
			def.FlagsFields = append(def.FlagsFields, fname)
			if !p.expectPunct(",") {
				break
			}
		}
		p.expectPunct("}")
	case "resource":
		def.Kind = TypeDefResource
		if p.peekPunct(";") {
			p.next()
			break
		}
		p.expectPunct("{")
		for !p.peekPunct("}") && !p.atEOF() {
			if p.peekIdent("constructor") {
				p.next()
				fn, err := p.parseParamsAndResult("constructor")
				if err != nil {
					return nil, err
				}
				fn.IsResourceDef = true
				def.Constructor = fn
				p.expectPunct(";")
				continue
			}
			isStatic := false
			if p.peekIdent("static") {
				p.next()
				isStatic = true
			}
			mname := p.expectIdent("method name")
			p.expectPunct(":")
			if p.peekIdent("func") {
				p.next()
			}
			fn, err := p.parseParamsAndResult(mname)
			if err != nil {
				return nil, err
			}
			fn.IsResourceDef = true
			if isStatic {
				def.Statics = append(def.Statics, fn)
			} else {
				def.Methods = append(def.Methods, fn)
			}
			p.expectPunct(";")
		}
		p.expectPunct("}")
	}

	if w != nil {
		id := w.RegisterType(def)
		p.named[name] = id
		def.ID = id
	}
	_ = iface
	return def, nil
}

func (p *Parser) parseFuncSig(name string) (*Function, error) {
	p.next() // 'func'
	return p.parseParamsAndResult(name)
}

func (p *Parser) parseParamsAndResult(name string) (*Function, error) {
	fn := &Function{Name: name}
	if !p.expectPunct("(") {
		return fn, nil
	}
	for !p.peekPunct(")") && !p.atEOF() {
		pname := p.expectIdent("param name")
		p.expectPunct(":")
		pt := p.parseType()
		fn.Params = append(fn.Params, Field{Name: pname, Type: pt})
		if !p.expectPunct(",") {
			break
		}
	}
	p.expectPunct(")")
	if p.peekPunct("->") {
		p.next()
		t := p.parseType()
		fn.Result = &t
	}
	return fn, nil
}

// parseType parses a single type reference: a primitive keyword, string,
// list<T>/list<T,N>, option<T>, result<T,E>/result<T>/result,
// tuple<T,U,...>, own<T>, borrow<T>, or a named reference to a
// previously-declared type.
func (p *Parser) parseType() Type {
	t := p.next()
	if t.kind != tokIdent {
		return Primitive(KindString)
	}

	switch t.text {
	case "bool":
		return Primitive(KindBool)
	case "u8":
		return Primitive(KindU8)
	case "u16":
		return Primitive(KindU16)
	case "u32":
		return Primitive(KindU32)
	case "u64":
		return Primitive(KindU64)
	case "s8":
		return Primitive(KindS8)
	case "s16":
		return Primitive(KindS16)
	case "s32":
		return Primitive(KindS32)
	case "s64":
		return Primitive(KindS64)
	case "f32":
		return Primitive(KindF32)
	case "f64":
		return Primitive(KindF64)
	case "char":
		return Primitive(KindChar)
	case "string":
		return Primitive(KindString)
	case "list":
		p.expectPunct("<")
		elem := p.parseType()
		if p.expectPunct(",") {
			n := p.next()
			ln := 0
			fmt.Sscanf(n.text, "%d", &ln)
			p.expectPunct(">")
			return FixedListOf(elem, ln)
		}
		p.expectPunct(">")
		return ListOf(elem)
	case "option":
		p.expectPunct("<")
		elem := p.parseType()
		p.expectPunct(">")
		return OptionOf(elem)
	case "result":
		if !p.peekPunct("<") {
			return ResultOf(nil, nil)
		}
		p.next()
		var ok, errT *Type
		if !p.peekPunct(",") && !p.peekPunct(">") {
			o := p.parseType()
			ok = &o
		}
		if p.expectPunct(",") {
			e := p.parseType()
			errT = &e
		}
		p.expectPunct(">")
		return ResultOf(ok, errT)
	case "tuple":
		p.expectPunct("<")
		var members []Type
		for !p.peekPunct(">") && !p.atEOF() {
			members = append(members, p.parseType())
			if !p.expectPunct(",") {
				break
			}
		}
		p.expectPunct(">")
		return TupleOf(members...)
	case "own":
		p.expectPunct("<")
		elem := p.parseType()
		p.expectPunct(">")
		return OwnOf(elem)
	case "borrow":
		p.expectPunct("<")
		elem := p.parseType()
		p.expectPunct(">")
		return BorrowOf(elem)
	default:
		// Named reference to a previously declared record/variant/enum/
		// flags/resource/alias. Kind is resolved from the registered
		// TypeDef so downstream code doesn't need a second pass.
		name := strings.TrimSpace(t.text)
		if id, ok := p.named[name]; ok {
			if def, ok := p.w.TypeByID(id); ok {
				return RefTo(defKindToTypeKind(def.Kind), id)
			}
			return RefTo(KindRecord, id)
		}
		// Forward reference (or unknown name): not resolved. The result has
		// Def -1, which the type mapper rejects as an unknown type id.
		return Type{Kind: KindRecord, Def: -1}
	}
}

func defKindToTypeKind(k TypeDefKind) Kind {
	switch k {
	case TypeDefRecord:
		return KindRecord
	case TypeDefVariant:
		return KindVariant
	case TypeDefEnum:
		return KindEnum
	case TypeDefFlags:
		return KindFlags
	case TypeDefResource:
		return KindResource
	case TypeDefAlias:
		return KindAlias
	default:
		return KindRecord
	}
}

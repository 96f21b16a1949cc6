// Package dtsgen implements the type-declaration emitter (spec §4.8): it
// walks a wit.World's exports and imports and renders the .d.ts text
// describing the JS-visible surface the user's bundled module is expected
// to implement (exports) and may call (imports).
package dtsgen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hostedat/jswit/internal/names"
	"github.com/hostedat/jswit/internal/typemap"
	"github.com/hostedat/jswit/internal/wit"
)

// Generate renders the .d.ts text for w.
func Generate(w *wit.World) (string, error) {
	m := typemap.New(w)
	var b strings.Builder

	fmt.Fprintf(&b, "// Generated from the %q world. DO NOT EDIT.\n\n", w.Name)

	if err := emitFunctions(&b, m, w.ExportFns, "export function"); err != nil {
		return "", err
	}
	for _, iface := range w.Exports {
		if err := emitInterfaceNamespace(&b, m, iface, true); err != nil {
			return "", err
		}
	}

	if len(w.ImportFns) > 0 {
		fmt.Fprint(&b, "declare global {\n")
		if err := emitFunctions(&b, m, w.ImportFns, "function"); err != nil {
			return "", err
		}
		fmt.Fprint(&b, "}\n\n")
	}
	for _, iface := range w.Imports {
		if err := emitInterfaceNamespace(&b, m, iface, false); err != nil {
			return "", err
		}
	}

	if err := emitTypeDefs(&b, m, w); err != nil {
		return "", err
	}

	return b.String(), nil
}

func emitFunctions(b *strings.Builder, m *typemap.Mapper, fns []*wit.Function, decl string) error {
	for _, fn := range fns {
		if fn.IsResourceDef || fn.ResourceMethod != 0 {
			continue
		}
		sig, err := functionSignature(m, fn)
		if err != nil {
			return err
		}
		fmt.Fprintf(b, "%s %s\n", decl, sig)
	}
	return nil
}

func emitInterfaceNamespace(b *strings.Builder, m *typemap.Mapper, iface *wit.Interface, isExport bool) error {
	pair, err := names.Map(iface.Name, names.KindType)
	if err != nil {
		return err
	}
	kw := "declare namespace"
	if isExport {
		kw = "export declare namespace"
	}
	fmt.Fprintf(b, "%s %s {\n", kw, pair.JS)
	for _, fn := range iface.Functions {
		if fn.IsResourceDef || fn.ResourceMethod != 0 {
			continue
		}
		sig, err := functionSignature(m, fn)
		if err != nil {
			return err
		}
		fmt.Fprintf(b, "\tfunction %s\n", sig)
	}
	fmt.Fprint(b, "}\n\n")
	return nil
}

func functionSignature(m *typemap.Mapper, fn *wit.Function) (string, error) {
	pair, err := names.Map(fn.Name, names.KindField)
	if err != nil {
		return "", err
	}
	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		pp, err := names.Map(p.Name, names.KindField)
		if err != nil {
			return "", err
		}
		wt, err := m.WrapType(p.Type)
		if err != nil {
			return "", err
		}
		params[i] = fmt.Sprintf("%s: %s", pp.JS, wt.JSType)
	}
	ret := "void"
	if fn.Result != nil {
		wt, err := m.WrapType(*fn.Result)
		if err != nil {
			return "", err
		}
		ret = wt.JSType
	}
	if fn.IsAsync {
		ret = fmt.Sprintf("Promise<%s>", ret)
	}
	return fmt.Sprintf("%s(%s): %s;", pair.JS, strings.Join(params, ", "), ret), nil
}

// emitTypeDefs renders every user type reached while mapping the world's
// functions: records as interfaces, variants as discriminated unions,
// enums as string literal unions, flags as an object type, and resources as
// a class declaration with a __dispose method per the wire convention.
func emitTypeDefs(b *strings.Builder, m *typemap.Mapper, w *wit.World) error {
	defs := m.Visited()
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })

	for _, def := range defs {
		pair, err := names.Map(def.Name, names.KindType)
		if err != nil {
			return err
		}
		switch def.Kind {
		case wit.TypeDefRecord:
			fmt.Fprintf(b, "export interface %s {\n", pair.JS)
			for _, f := range def.Fields {
				fp, err := names.Map(f.Name, names.KindField)
				if err != nil {
					return err
				}
				wt, err := m.WrapType(f.Type)
				if err != nil {
					return err
				}
				fmt.Fprintf(b, "\t%s: %s;\n", fp.JS, wt.JSType)
			}
			fmt.Fprint(b, "}\n\n")

		case wit.TypeDefVariant:
			cases := make([]string, len(def.Fields))
			for i, f := range def.Fields {
				fp, err := names.Map(f.Name, names.KindField)
				if err != nil {
					return err
				}
				if !f.HasPayload {
					cases[i] = fmt.Sprintf("{ tag: '%s' }", fp.JS)
					continue
				}
				wt, err := m.WrapType(f.Type)
				if err != nil {
					return err
				}
				cases[i] = fmt.Sprintf("{ tag: '%s'; val: %s }", fp.JS, wt.JSType)
			}
			fmt.Fprintf(b, "export type %s =\n\t| %s;\n\n", pair.JS, strings.Join(cases, "\n\t| "))

		case wit.TypeDefEnum:
			cases := make([]string, len(def.EnumCases))
			for i, c := range def.EnumCases {
				cp, err := names.Map(c, names.KindField)
				if err != nil {
					return err
				}
				cases[i] = fmt.Sprintf("'%s'", cp.JS)
			}
			fmt.Fprintf(b, "export type %s = %s;\n\n", pair.JS, strings.Join(cases, " | "))

		case wit.TypeDefFlags:
			fmt.Fprintf(b, "export interface %s {\n", pair.JS)
			for _, f := range def.FlagsFields {
				fp, err := names.Map(f, names.KindFlag)
				if err != nil {
					return err
				}
				fmt.Fprintf(b, "\t%s?: boolean;\n", fp.JS)
			}
			fmt.Fprint(b, "}\n\n")

		case wit.TypeDefResource:
			fmt.Fprintf(b, "export declare class %s {\n", pair.JS)
			if def.Constructor != nil {
				params := make([]string, len(def.Constructor.Params))
				for i, p := range def.Constructor.Params {
					pp, err := names.Map(p.Name, names.KindField)
					if err != nil {
						return err
					}
					wt, err := m.WrapType(p.Type)
					if err != nil {
						return err
					}
					params[i] = fmt.Sprintf("%s: %s", pp.JS, wt.JSType)
				}
				fmt.Fprintf(b, "\tconstructor(%s);\n", strings.Join(params, ", "))
			}
			for _, meth := range def.Methods {
				sig, err := methodSignature(m, meth)
				if err != nil {
					return err
				}
				fmt.Fprintf(b, "\t%s\n", sig)
			}
			for _, st := range def.Statics {
				sig, err := methodSignature(m, st)
				if err != nil {
					return err
				}
				fmt.Fprintf(b, "\tstatic %s\n", sig)
			}
			fmt.Fprint(b, "\t__dispose(): void;\n}\n\n")
		}
	}
	return nil
}

func methodSignature(m *typemap.Mapper, fn *wit.Function) (string, error) {
	name := names.ResourceMethodName(fn.Name)
	pair, err := names.Map(name, names.KindField)
	if err != nil {
		return "", err
	}
	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		pp, err := names.Map(p.Name, names.KindField)
		if err != nil {
			return "", err
		}
		wt, err := m.WrapType(p.Type)
		if err != nil {
			return "", err
		}
		params[i] = fmt.Sprintf("%s: %s", pp.JS, wt.JSType)
	}
	ret := "void"
	if fn.Result != nil {
		wt, err := m.WrapType(*fn.Result)
		if err != nil {
			return "", err
		}
		ret = wt.JSType
	}
	return fmt.Sprintf("%s(%s): %s;", pair.JS, strings.Join(params, ", "), ret), nil
}

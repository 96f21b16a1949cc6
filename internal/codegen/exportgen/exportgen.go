// Package exportgen implements the export adapter generator (spec §4.3):
// for every function and resource a world exports, it emits a Go function
// whose body calls host.CallExport (or, for resources, host.WithVM plus the
// bridge table), wrapping parameters with the type mapper's Wrap closures
// and unwrapping the result with Unwrap.
package exportgen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hostedat/jswit/internal/names"
	"github.com/hostedat/jswit/internal/typemap"
	"github.com/hostedat/jswit/internal/wit"
)

// Generate renders the Go source for every export adapter in w, as a single
// file in package pkgName. Its caller, cmd/generate-wrapper-crate, writes
// the result out as is, without running gofmt; this package only ever builds
// text, never invokes the Go toolchain.
func Generate(w *wit.World, pkgName string) (string, error) {
	m := typemap.New(w)
	var b strings.Builder

	fmt.Fprintf(&b, "// Code generated by generate-wrapper-crate from a WIT world. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package %s\n\n", pkgName)
	fmt.Fprint(&b, "import (\n"+
		"\t\"strings\"\n\n"+
		"\t\"github.com/hostedat/jswit/internal/bridge\"\n"+
		"\t\"github.com/hostedat/jswit/internal/host\"\n"+
		"\t\"github.com/hostedat/jswit/internal/marshal\"\n"+
		"\t\"modernc.org/quickjs\"\n"+
		")\n\n")
	fmt.Fprint(&b, "// theHost and resourceTable are set by the generated entry point\n"+
		"// (see internal/codegen/entrygen) before any export is called.\n"+
		"var theHost *host.Host\n"+
		"var resourceTable *bridge.Table\n\n"+
		"var _ = strings.Join\n"+
		"var _ = marshal.UnwrapList[any]\n"+
		"var _ quickjs.VM\n\n")

	for _, fn := range w.ExportFns {
		if fn.IsResourceDef || fn.ResourceMethod != 0 {
			continue
		}
		src, err := freeFunction(m, fn, "")
		if err != nil {
			return "", fmt.Errorf("exportgen: function %q: %w", fn.Name, err)
		}
		b.WriteString(src)
		b.WriteString("\n")
	}

	for _, iface := range w.Exports {
		ifacePair, err := names.Map(iface.Name, names.KindType)
		if err != nil {
			return "", fmt.Errorf("exportgen: interface %q: %w", iface.Name, err)
		}
		jsPath := ifacePair.JS
		for _, fn := range iface.Functions {
			if fn.IsResourceDef || fn.ResourceMethod != 0 {
				continue
			}
			src, err := freeFunction(m, fn, jsPath)
			if err != nil {
				return "", fmt.Errorf("exportgen: %s.%s: %w", iface.Name, fn.Name, err)
			}
			b.WriteString(src)
			b.WriteString("\n")
		}
	}

	for _, def := range sortedResources(w) {
		src, err := resourceType(m, def)
		if err != nil {
			return "", fmt.Errorf("exportgen: resource %q: %w", def.Name, err)
		}
		b.WriteString(src)
		b.WriteString("\n")
	}

	// Record/variant/enum/flags Go types and their wrap%s/unwrap%s codecs
	// are emitted here, once, covering every user type either this file or
	// importgen's sibling file in the same package references by name.
	userTypes, err := typemap.GenerateUserTypeCode(m)
	if err != nil {
		return "", fmt.Errorf("exportgen: user types: %w", err)
	}
	b.WriteString(userTypes)

	return b.String(), nil
}

func sortedResources(w *wit.World) []*wit.TypeDef {
	var out []*wit.TypeDef
	for _, def := range w.AllTypes() {
		if def.Kind == wit.TypeDefResource {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type paramInfo struct {
	hostName string
	sig      string
	wrap     typemap.WrappedType
}

func mapParams(m *typemap.Mapper, fields []wit.Field) ([]paramInfo, error) {
	out := make([]paramInfo, len(fields))
	for i, p := range fields {
		pp, err := names.Map(p.Name, names.KindField)
		if err != nil {
			return nil, err
		}
		wt, err := m.WrapType(p.Type)
		if err != nil {
			return nil, err
		}
		out[i] = paramInfo{hostName: pp.Host, sig: fmt.Sprintf("%s %s", pp.Host, wt.HostType), wrap: wt}
	}
	return out, nil
}

func argsJoinExpr(params []paramInfo) string {
	if len(params) == 0 {
		return `""`
	}
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.wrap.Wrap(p.hostName)
	}
	quoted := make([]string, len(parts))
	for i, e := range parts {
		quoted[i] = "(" + e + ")"
	}
	return "strings.Join([]string{" + strings.Join(quoted, ", ") + "}, \", \")"
}

func sigList(params []paramInfo) string {
	sigs := make([]string, len(params))
	for i, p := range params {
		sigs[i] = p.sig
	}
	return strings.Join(sigs, ", ")
}

// freeFunction renders one top-level or interface-scoped exported function
// as a Go function that drives host.CallExport. jsNamespace is the dotted
// path prefix under globalThis.__component_module__ ("" for a top-level
// world export, the interface's JS name otherwise).
func freeFunction(m *typemap.Mapper, fn *wit.Function, jsNamespace string) (string, error) {
	pair, err := names.Map(fn.Name, names.KindField)
	if err != nil {
		return "", err
	}
	goName := exportName(pair.Host)

	params, err := mapParams(m, fn.Params)
	if err != nil {
		return "", err
	}

	var resultType typemap.WrappedType
	hasResult := fn.Result != nil
	if hasResult {
		resultType, err = m.WrapType(*fn.Result)
		if err != nil {
			return "", err
		}
	}

	jsPath := pair.JS
	if jsNamespace != "" {
		jsPath = jsNamespace + "." + pair.JS
	}

	var b strings.Builder
	retSig := "error"
	if hasResult {
		retSig = fmt.Sprintf("(%s, error)", resultType.HostType)
	}
	fmt.Fprintf(&b, "// %s calls the %q export.\nfunc %s(%s) %s {\n", goName, jsPath, goName, sigList(params), retSig)
	fmt.Fprintf(&b, "\traw, err := theHost.CallExport(%q, func(vm *quickjs.VM) ([]string, error) {\n", jsPath)
	fmt.Fprintf(&b, "\t\treturn []string{%s}, nil\n\t})\n", joinArgList(params))
	fmt.Fprintf(&b, "\tif err != nil {\n")
	if hasResult {
		fmt.Fprintf(&b, "\t\tvar zero %s\n\t\treturn zero, err\n", resultType.HostType)
	} else {
		fmt.Fprintf(&b, "\t\treturn err\n")
	}
	fmt.Fprintf(&b, "\t}\n")
	if hasResult {
		fmt.Fprintf(&b, "\treturn %s, nil\n", resultType.Unwrap("raw"))
	} else {
		fmt.Fprintf(&b, "\t_ = raw\n\treturn nil\n")
	}
	fmt.Fprintf(&b, "}\n")
	return b.String(), nil
}

// joinArgList renders a Go slice-literal-body of each parameter's wrapped
// argument expression, individually — distinct from argsJoinExpr, which
// joins into ONE string for resource calls that pass a single pre-rendered
// argument-list string into bridge.Table.
func joinArgList(params []paramInfo) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.wrap.Wrap(p.hostName)
	}
	return strings.Join(parts, ", ")
}

func exportName(host string) string {
	if host == "" {
		return host
	}
	return strings.ToUpper(host[:1]) + host[1:]
}

// resourceType renders the Go wrapper type for an exported (guest-defined)
// resource: a handle struct plus constructor/method/static functions routed
// through bridge.Table via host.WithVM.
func resourceType(m *typemap.Mapper, def *wit.TypeDef) (string, error) {
	pair, err := names.Map(def.Name, names.KindType)
	if err != nil {
		return "", err
	}
	handleName := pair.Host + "Handle"

	var b strings.Builder
	fmt.Fprintf(&b, "// %s wraps a guest-exported %q resource instance.\n", handleName, pair.JS)
	fmt.Fprintf(&b, "type %s struct {\n\tid uint64\n}\n\n", handleName)

	if def.Constructor != nil {
		src, err := resourceConstructor(m, def.Constructor, handleName, pair.JS)
		if err != nil {
			return "", err
		}
		b.WriteString(src)
	}
	for _, meth := range def.Methods {
		src, err := resourceMethod(m, handleName, meth)
		if err != nil {
			return "", err
		}
		b.WriteString(src)
	}
	for _, st := range def.Statics {
		src, err := resourceStatic(m, handleName, pair.JS, st)
		if err != nil {
			return "", err
		}
		b.WriteString(src)
	}

	fmt.Fprintf(&b, "// Dispose releases the guest-side resource. Idempotent.\n")
	fmt.Fprintf(&b, "func (h *%s) Dispose() error {\n\treturn theHost.WithVM(func(vm *quickjs.VM) error {\n\t\treturn resourceTable.Dispose(vm, h.id)\n\t})\n}\n\n", handleName)

	return b.String(), nil
}

func resourceConstructor(m *typemap.Mapper, fn *wit.Function, handleName, jsClass string) (string, error) {
	params, err := mapParams(m, fn.Params)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "// New%s constructs the guest %q resource.\n", handleName, jsClass)
	fmt.Fprintf(&b, "func New%s(%s) (*%s, error) {\n", handleName, sigList(params), handleName)
	fmt.Fprintf(&b, "\tvar id uint64\n")
	fmt.Fprintf(&b, "\terr := theHost.WithVM(func(vm *quickjs.VM) error {\n")
	fmt.Fprintf(&b, "\t\tvar constructErr error\n")
	fmt.Fprintf(&b, "\t\tid, constructErr = resourceTable.Construct(vm, %q, %s)\n", jsClass, argsJoinExpr(params))
	fmt.Fprintf(&b, "\t\treturn constructErr\n\t})\n")
	fmt.Fprintf(&b, "\tif err != nil {\n\t\treturn nil, err\n\t}\n")
	fmt.Fprintf(&b, "\treturn &%s{id: id}, nil\n}\n\n", handleName)
	return b.String(), nil
}

func resourceMethod(m *typemap.Mapper, handleName string, fn *wit.Function) (string, error) {
	return resourceCall(m, handleName, fn, false)
}

func resourceStaticPrefix(handleName string) string { return handleName }

func resourceStatic(m *typemap.Mapper, handleName, jsClass string, fn *wit.Function) (string, error) {
	methName := names.ResourceMethodName(fn.Name)
	pair, err := names.Map(methName, names.KindField)
	if err != nil {
		return "", err
	}
	goName := exportName(pair.Host)

	params, err := mapParams(m, fn.Params)
	if err != nil {
		return "", err
	}

	var resultType typemap.WrappedType
	hasResult := fn.Result != nil
	if hasResult {
		resultType, err = m.WrapType(*fn.Result)
		if err != nil {
			return "", err
		}
	}
	retSig := "error"
	if hasResult {
		retSig = fmt.Sprintf("(%s, error)", resultType.HostType)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "// %s%s calls the static %q method.\n", resourceStaticPrefix(handleName), goName, methName)
	fmt.Fprintf(&b, "func %s%s(%s) %s {\n", handleName, goName, sigList(params), retSig)
	fmt.Fprintf(&b, "\tvar raw any\n")
	fmt.Fprintf(&b, "\terr := theHost.WithVM(func(vm *quickjs.VM) error {\n")
	fmt.Fprintf(&b, "\t\tif callErr := resourceTable.CallStatic(vm, %q, %q, %s); callErr != nil {\n\t\t\treturn callErr\n\t\t}\n", jsClass, methName, argsJoinExpr(params))
	fmt.Fprintf(&b, "\t\tvar readErr error\n\t\traw, readErr = bridge.ReadCallResult(vm)\n\t\treturn readErr\n\t})\n")
	if hasResult {
		fmt.Fprintf(&b, "\tif err != nil {\n\t\tvar zero %s\n\t\treturn zero, err\n\t}\n", resultType.HostType)
		fmt.Fprintf(&b, "\treturn %s, nil\n", resultType.Unwrap("raw"))
	} else {
		fmt.Fprintf(&b, "\t_ = raw\n\treturn err\n")
	}
	fmt.Fprintf(&b, "}\n\n")
	return b.String(), nil
}

func resourceCall(m *typemap.Mapper, handleName string, fn *wit.Function, static bool) (string, error) {
	methName := names.ResourceMethodName(fn.Name)
	pair, err := names.Map(methName, names.KindField)
	if err != nil {
		return "", err
	}
	goName := exportName(pair.Host)

	params, err := mapParams(m, fn.Params)
	if err != nil {
		return "", err
	}

	var resultType typemap.WrappedType
	hasResult := fn.Result != nil
	if hasResult {
		resultType, err = m.WrapType(*fn.Result)
		if err != nil {
			return "", err
		}
	}
	retSig := "error"
	if hasResult {
		retSig = fmt.Sprintf("(%s, error)", resultType.HostType)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "// %s calls the %q method.\n", goName, methName)
	fmt.Fprintf(&b, "func (h *%s) %s(%s) %s {\n", handleName, goName, sigList(params), retSig)
	fmt.Fprintf(&b, "\tvar raw any\n")
	fmt.Fprintf(&b, "\terr := theHost.WithVM(func(vm *quickjs.VM) error {\n")
	fmt.Fprintf(&b, "\t\tif callErr := resourceTable.CallMethod(vm, h.id, %q, %s); callErr != nil {\n\t\t\treturn callErr\n\t\t}\n", methName, argsJoinExpr(params))
	fmt.Fprintf(&b, "\t\tvar readErr error\n\t\traw, readErr = bridge.ReadCallResult(vm)\n\t\treturn readErr\n\t})\n")
	if hasResult {
		fmt.Fprintf(&b, "\tif err != nil {\n\t\tvar zero %s\n\t\treturn zero, err\n\t}\n", resultType.HostType)
		fmt.Fprintf(&b, "\treturn %s, nil\n", resultType.Unwrap("raw"))
	} else {
		fmt.Fprintf(&b, "\t_ = raw\n\treturn err\n")
	}
	fmt.Fprintf(&b, "}\n\n")
	return b.String(), nil
}

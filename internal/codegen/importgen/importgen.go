// Package importgen implements the import adapter generator (spec §4.4):
// for every function and resource a world imports, it emits (a) a Go
// interface the embedding application implements with the real
// functionality, and (b) setup code that registers each method as a
// native JS-callable function via host.RegisterGoFunc, so the bundled
// guest module can call imports the same way it calls any built-in.
//
// Arguments and results cross the RegisterGoFunc boundary as a single
// JSON-encoded argument list (mirroring how internal/builtins/fetch.go's
// __fetchStart already crosses its own start-a-request arguments), since
// modernc.org/quickjs's RegisterFunc reflection only binds concrete scalar
// Go parameter/return types -- it cannot auto-marshal a WIT record,
// variant, enum, flags, option, or result into its spec wire shape. The
// native function decodes the JSON into the type mapper's `any` Unwrap
// input and renders its result through Wrap, which produces JS *source
// text*; the JS-side alias evaluates that text (wrapped in parens, so a
// leading "{" parses as an object literal rather than a block) to recover
// the real value.
//
// Imported resources get the same host-side owner/borrow discipline
// exported resources get on the guest side: internal/bridge.Owner backs
// each live instance, Borrow hands methods a call-duration-only view, and
// a generated JS class (constructor, methods, statics, __dispose) is the
// instance's only handle to it. A resource exposing the pollable "ready"/
// "block" method pair additionally gets a "promise" method that polls
// readiness via the guest's own timer queue, so user JS can await a host
// pollable without the host needing a second suspension mechanism.
package importgen

import (
	"fmt"
	"strings"

	"github.com/hostedat/jswit/internal/names"
	"github.com/hostedat/jswit/internal/typemap"
	"github.com/hostedat/jswit/internal/wit"
)

// Generate renders the Go source implementing every import in w: one
// interface type per import surface (top-level world imports collapse into
// a single Imports interface; each imported wit interface gets its own),
// plus a SetupXxx function the generated entry point calls with an
// implementation of each.
func Generate(w *wit.World, pkgName string) (string, error) {
	m := typemap.New(w)
	var b strings.Builder

	fmt.Fprint(&b, "// Code generated by generate-wrapper-crate from a WIT world. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package %s\n\n", pkgName)
	fmt.Fprint(&b, "import (\n"+
		"\t\"encoding/json\"\n"+
		"\t\"fmt\"\n"+
		"\t\"strings\"\n\n"+
		"\t\"github.com/hostedat/jswit/internal/bridge\"\n"+
		"\t\"github.com/hostedat/jswit/internal/host\"\n"+
		"\t\"github.com/hostedat/jswit/internal/marshal\"\n"+
		"\t\"modernc.org/quickjs\"\n"+
		")\n\n")
	fmt.Fprint(&b, "var _ = strings.ReplaceAll\n"+
		"var _ = json.Unmarshal\n"+
		"var _ = fmt.Errorf\n"+
		"var _ = marshal.ArgAt\n"+
		"var _ = bridge.NewOwner[any]\n"+
		"var _ = host.RegisterGoFunc\n"+
		"var _ quickjs.VM\n\n")

	if len(w.ImportFns) > 0 {
		src, err := interfaceAndSetup(m, "Imports", "", w.ImportFns, nil)
		if err != nil {
			return "", fmt.Errorf("importgen: world imports: %w", err)
		}
		b.WriteString(src)
	}

	for _, iface := range w.Imports {
		pair, err := names.Map(iface.Name, names.KindType)
		if err != nil {
			return "", fmt.Errorf("importgen: interface %q: %w", iface.Name, err)
		}
		src, err := interfaceAndSetup(m, pair.Host+"Imports", pair.JS, iface.Functions, iface.Types)
		if err != nil {
			return "", fmt.Errorf("importgen: interface %q: %w", iface.Name, err)
		}
		b.WriteString(src)
	}

	return b.String(), nil
}

type paramInfo struct {
	hostName string
	sig      string
	wrap     typemap.WrappedType
}

type fnPlan struct {
	goName    string
	jsName    string
	params    []paramInfo
	result    typemap.WrappedType
	hasResult bool
}

// interfaceAndSetup renders one Go interface (ifaceName) covering fns, plus
// a SetupXxx(vm, impl) function registering each as a native JS function.
// jsNamespace is "" for top-level world imports (functions land directly on
// globalThis) or the interface's JS object name otherwise. types carries
// the interface's own type definitions, searched for resource defs (always
// empty for the top-level world import surface, since WIT does not allow a
// world to declare a resource directly).
func interfaceAndSetup(m *typemap.Mapper, ifaceName, jsNamespace string, fns []*wit.Function, types []*wit.TypeDef) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "// %s is implemented by the embedding application to satisfy this\n// world's imports; Setup%s registers it as native JS functions.\n", ifaceName, ifaceName)
	fmt.Fprintf(&b, "type %s interface {\n", ifaceName)

	plans := make([]fnPlan, 0, len(fns))
	for _, fn := range fns {
		if fn.IsResourceDef || fn.ResourceMethod != 0 {
			// Resource constructors/methods/statics are reached through
			// def.Constructor/Methods/Statics below, not this flat function
			// list; a WIT resource's own body functions are never appended
			// here, but the guard stays as a defensive no-op.
			continue
		}
		pair, err := names.Map(fn.Name, names.KindField)
		if err != nil {
			return "", err
		}
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
		goName := exportName(pair.Host)
		retSig := "error"
		if hasResult {
			retSig = fmt.Sprintf("(%s, error)", resultType.HostType)
		}
		fmt.Fprintf(&b, "\t%s(%s) %s\n", goName, sigList(params), retSig)
		plans = append(plans, fnPlan{goName: goName, jsName: pair.JS, params: params, result: resultType, hasResult: hasResult})
	}

	var resources []*importedResourcePlan
	for _, def := range types {
		if def.Kind != wit.TypeDefResource {
			continue
		}
		rp, err := planImportedResource(m, def)
		if err != nil {
			return "", fmt.Errorf("resource %q: %w", def.Name, err)
		}
		rp.writeInterfaceMethods(&b)
		resources = append(resources, rp)
	}
	fmt.Fprint(&b, "}\n\n")

	fmt.Fprintf(&b, "// Setup%s registers impl's methods as the native functions this world's\n// imports call through. Must run once per VM, after the built-in module\n// set (see internal/builtins) so imports load into a fully-formed globalThis.\n", ifaceName)
	fmt.Fprintf(&b, "func Setup%s(vm *quickjs.VM, impl %s) error {\n", ifaceName, ifaceName)

	if jsNamespace != "" {
		fmt.Fprintf(&b, "\tif err := host.EvalDiscard(vm, %q); err != nil {\n\t\treturn err\n\t}\n",
			fmt.Sprintf("globalThis[%q] = globalThis[%q] || {};", jsNamespace, jsNamespace))
	}
	fmt.Fprintf(&b, "\tif err := host.EvalDiscard(vm, %q); err != nil {\n\t\treturn err\n\t}\n", importArgsJSONHelper)

	for _, p := range plans {
		nativeName := nativeFuncName(jsNamespace, p.jsName)
		writeNativeFunc(&b, nativeName, p.params, p.hasResult, p.result, func(argExprs []string) string {
			return fmt.Sprintf("impl.%s(%s)", p.goName, strings.Join(argExprs, ", "))
		})

		if jsNamespace == "" {
			writePlainAlias(&b, p.jsName, nativeName, p.hasResult)
		} else {
			writeNamespacedAlias(&b, jsNamespace, p.jsName, nativeName, p.hasResult)
		}
	}

	for _, rp := range resources {
		if err := rp.writeSetup(&b, jsNamespace); err != nil {
			return "", err
		}
	}

	fmt.Fprint(&b, "\treturn nil\n}\n\n")
	return b.String(), nil
}

// writePlainAlias emits the globalThis assignment for a top-level world
// import (jsNamespace == ""): a thin wrapper encoding the call's arguments
// into the JSON array the native function takes, which for a function that
// returns a value also decodes the native function's Wrap-text result.
func writePlainAlias(b *strings.Builder, jsName, nativeName string, hasResult bool) {
	if !hasResult {
		fmt.Fprintf(b, "\tif err := host.EvalDiscard(vm, %q); err != nil {\n\t\treturn err\n\t}\n",
			fmt.Sprintf("globalThis[%q] = function() { globalThis[%q](__importArgsJSON(arguments)); };", jsName, nativeName))
		return
	}
	js := fmt.Sprintf(
		"globalThis[%q] = function() { var __r = globalThis[%q](__importArgsJSON(arguments)); return eval('(' + __r + ')'); };",
		jsName, nativeName)
	fmt.Fprintf(b, "\tif err := host.EvalDiscard(vm, %q); err != nil {\n\t\treturn err\n\t}\n", js)
}

// writeNamespacedAlias emits the globalThis[namespace][fn] assignment for a
// function belonging to an imported interface: nested property access into
// the namespace object Setup already created, not a literal dotted key.
func writeNamespacedAlias(b *strings.Builder, jsNamespace, jsName, nativeName string, hasResult bool) {
	if !hasResult {
		js := fmt.Sprintf("globalThis[%q][%q] = function() { globalThis[%q](__importArgsJSON(arguments)); };", jsNamespace, jsName, nativeName)
		fmt.Fprintf(b, "\tif err := host.EvalDiscard(vm, %q); err != nil {\n\t\treturn err\n\t}\n", js)
		return
	}
	js := fmt.Sprintf(
		"globalThis[%q][%q] = function() { var __r = globalThis[%q](__importArgsJSON(arguments)); return eval('(' + __r + ')'); };",
		jsNamespace, jsName, nativeName)
	fmt.Fprintf(b, "\tif err := host.EvalDiscard(vm, %q); err != nil {\n\t\treturn err\n\t}\n", js)
}

// importArgsJSONHelper is installed (idempotently) at the start of every
// generated Setup function; every function alias and imported-resource
// class encodes its call's arguments through it.
const importArgsJSONHelper = "globalThis.__importArgsJSON = globalThis.__importArgsJSON || function(args) {" +
	" return JSON.stringify(Array.prototype.slice.call(args), function(k, v) { return typeof v === 'bigint' ? v.toString() : v; });" +
	" };"

// writeNativeFunc registers one native Go function taking a single
// JSON-encoded argument array and returning either nothing, an error, or
// (per hasResult) a Wrap-text string plus an error. call builds the Go
// expression invoking the real implementation from the decoded, unwrapped
// argument expressions.
func writeNativeFunc(b *strings.Builder, nativeName string, params []paramInfo, hasResult bool, result typemap.WrappedType, call func(argExprs []string) string) {
	retDecl := "error"
	if hasResult {
		retDecl = "(string, error)"
	}
	fmt.Fprintf(b, "\tif err := host.RegisterGoFunc(vm, %q, func(__argsJSON string) %s {\n", nativeName, retDecl)
	writeArgDecode(b, params, hasResult)

	argExprs := make([]string, len(params))
	for i := range params {
		argExprs[i] = fmt.Sprintf("arg%d", i)
	}
	if hasResult {
		fmt.Fprintf(b, "\t\t__res, __err := %s\n\t\tif __err != nil {\n\t\t\treturn \"\", __err\n\t\t}\n", call(argExprs))
		fmt.Fprintf(b, "\t\treturn %s, nil\n", result.Wrap("__res"))
	} else {
		fmt.Fprintf(b, "\t\treturn %s\n", call(argExprs))
	}
	fmt.Fprint(b, "\t}, false); err != nil {\n\t\treturn err\n\t}\n")
}

// writeArgDecode emits the shared argument-decoding prologue every native
// import function opens with: parse the JSON array, then Unwrap each
// element by position. A decode failure returns early in whichever shape
// the enclosing function needs (bare error, or "" plus error).
func writeArgDecode(b *strings.Builder, params []paramInfo, hasResult bool) {
	errZero := ""
	if hasResult {
		errZero = `"", `
	}
	fmt.Fprint(b, "\t\tvar __args []any\n")
	fmt.Fprint(b, "\t\tif err := json.Unmarshal([]byte(__argsJSON), &__args); err != nil {\n")
	fmt.Fprintf(b, "\t\t\treturn %sfmt.Errorf(\"decoding arguments: %%w\", err)\n\t\t}\n", errZero)
	for i, p := range params {
		fmt.Fprintf(b, "\t\targ%d := %s\n", i, p.wrap.Unwrap(fmt.Sprintf("marshal.ArgAt(__args, %d)", i)))
	}
}

func nativeFuncName(jsNamespace, jsName string) string {
	if jsNamespace == "" {
		return "__import_" + jsName
	}
	return "__import_" + strings.ReplaceAll(jsNamespace, ".", "_") + "_" + jsName
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

func sigList(params []paramInfo) string {
	sigs := make([]string, len(params))
	for i, p := range params {
		sigs[i] = p.sig
	}
	return strings.Join(sigs, ", ")
}

func exportName(host string) string {
	if host == "" {
		return host
	}
	return strings.ToUpper(host[:1]) + host[1:]
}

package importgen

import (
	"fmt"
	"strings"

	"github.com/hostedat/jswit/internal/names"
	"github.com/hostedat/jswit/internal/typemap"
	"github.com/hostedat/jswit/internal/wit"
)

// importedResourcePlan carries everything needed to emit the Go interface
// methods, native registrations, and JS class for one host-implemented
// (imported) resource.
type importedResourcePlan struct {
	goName      string // PascalCase Go method-name prefix, e.g. "Widget"
	jsClass     string // JS class name under the interface namespace
	constructor *resourceFnPlan
	methods     []*resourceFnPlan
	statics     []*resourceFnPlan
	pollable    bool // exposes both a "ready" and "block" method
}

type resourceFnPlan struct {
	goName    string
	jsName    string
	params    []paramInfo
	result    typemap.WrappedType
	hasResult bool
}

func planImportedResource(m *typemap.Mapper, def *wit.TypeDef) (*importedResourcePlan, error) {
	pair, err := names.Map(def.Name, names.KindType)
	if err != nil {
		return nil, err
	}
	rp := &importedResourcePlan{goName: pair.Host, jsClass: pair.JS}

	if def.Constructor != nil {
		fp, err := planResourceFn(m, def.Constructor)
		if err != nil {
			return nil, err
		}
		rp.constructor = fp
	}

	hasReady, hasBlock := false, false
	for _, meth := range def.Methods {
		fp, err := planResourceFn(m, meth)
		if err != nil {
			return nil, err
		}
		rp.methods = append(rp.methods, fp)
		if fp.jsName == "ready" && len(fp.params) == 0 && fp.hasResult {
			hasReady = true
		}
		if fp.jsName == "block" && len(fp.params) == 0 {
			hasBlock = true
		}
	}
	rp.pollable = hasReady && hasBlock

	for _, st := range def.Statics {
		fp, err := planResourceFn(m, st)
		if err != nil {
			return nil, err
		}
		rp.statics = append(rp.statics, fp)
	}

	return rp, nil
}

func planResourceFn(m *typemap.Mapper, fn *wit.Function) (*resourceFnPlan, error) {
	methName := names.ResourceMethodName(fn.Name)
	pair, err := names.Map(methName, names.KindField)
	if err != nil {
		return nil, err
	}
	params, err := mapParams(m, fn.Params)
	if err != nil {
		return nil, err
	}
	var resultType typemap.WrappedType
	hasResult := fn.Result != nil
	if hasResult {
		resultType, err = m.WrapType(*fn.Result)
		if err != nil {
			return nil, err
		}
	}
	return &resourceFnPlan{goName: exportName(pair.Host), jsName: pair.JS, params: params, result: resultType, hasResult: hasResult}, nil
}

// writeInterfaceMethods appends this resource's constructor/method/static
// signatures to the enclosing Imports interface. Every signature threads a
// host-native `any` handle rather than a concrete Go type, since the
// embedding application's own handle type is opaque to generated code: New
// returns the handle the registry then owns on the application's behalf,
// methods borrow it for the call's duration, and Dispose releases it.
func (rp *importedResourcePlan) writeInterfaceMethods(b *strings.Builder) {
	if rp.constructor != nil {
		fmt.Fprintf(b, "\tNew%s(%s) (any, error)\n", rp.goName, sigList(rp.constructor.params))
	}
	for _, fp := range rp.methods {
		params := append([]paramInfo{{sig: "self any"}}, fp.params...)
		retSig := "error"
		if fp.hasResult {
			retSig = fmt.Sprintf("(%s, error)", fp.result.HostType)
		}
		fmt.Fprintf(b, "\t%s%s(%s) %s\n", rp.goName, fp.goName, sigList(params), retSig)
	}
	for _, fp := range rp.statics {
		retSig := "error"
		if fp.hasResult {
			retSig = fmt.Sprintf("(%s, error)", fp.result.HostType)
		}
		fmt.Fprintf(b, "\t%s%s(%s) %s\n", rp.goName, fp.goName, sigList(fp.params), retSig)
	}
	fmt.Fprintf(b, "\tDispose%s(self any)\n", rp.goName)
}

// writeSetup emits the owner registry, native functions, and JS class for
// this resource inside the enclosing Setup<Iface>Imports function body.
// jsNamespace is always non-empty here: WIT does not allow a world to
// declare a resource outside an interface.
func (rp *importedResourcePlan) writeSetup(b *strings.Builder, jsNamespace string) error {
	regVar := "__reg" + rp.goName
	fmt.Fprintf(b, "\t%s := bridge.NewOwnerRegistry(%q)\n", regVar, rp.jsClass)

	ctorNative := rp.nativeName(jsNamespace, "new")
	if rp.constructor != nil {
		fmt.Fprintf(b, "\tif err := host.RegisterGoFunc(vm, %q, func(__argsJSON string) (string, error) {\n", ctorNative)
		writeArgDecode(b, rp.constructor.params, true)
		fmt.Fprintf(b, "\t\t__handle, __err := impl.New%s(%s)\n", rp.goName, strings.Join(argExprList(len(rp.constructor.params)), ", "))
		fmt.Fprint(b, "\t\tif __err != nil {\n\t\t\treturn \"\", __err\n\t\t}\n")
		fmt.Fprintf(b, "\t\t__owner := bridge.NewOwner[any](__handle, func(h any) { impl.Dispose%s(h) })\n", rp.goName)
		fmt.Fprintf(b, "\t\treturn marshal.JSString(%s.Store(__owner)), nil\n", regVar)
		fmt.Fprint(b, "\t}, false); err != nil {\n\t\treturn err\n\t}\n")
	}

	for _, fp := range rp.methods {
		native := rp.nativeName(jsNamespace, "m_"+fp.jsName)
		retDecl := "error"
		errZero := ""
		if fp.hasResult {
			retDecl = "(string, error)"
			errZero = `"", `
		}
		fmt.Fprintf(b, "\tif err := host.RegisterGoFunc(vm, %q, func(__id string, __argsJSON string) %s {\n", native, retDecl)
		fmt.Fprintf(b, "\t\t__owner, __lookupErr := %s.Get(__id)\n\t\tif __lookupErr != nil {\n\t\t\treturn %s__lookupErr\n\t\t}\n", regVar, errZero)
		fmt.Fprint(b, "\t\t__borrow := bridge.NewBorrow(__owner.Handle())\n")
		writeArgDecode(b, fp.params, fp.hasResult)
		callArgs := append([]string{"__borrow.Handle()"}, argExprList(len(fp.params))...)
		if fp.hasResult {
			fmt.Fprintf(b, "\t\t__res, __callErr := impl.%s%s(%s)\n\t\tif __callErr != nil {\n\t\t\treturn \"\", __callErr\n\t\t}\n", rp.goName, fp.goName, strings.Join(callArgs, ", "))
			fmt.Fprintf(b, "\t\treturn %s, nil\n", fp.result.Wrap("__res"))
		} else {
			fmt.Fprintf(b, "\t\treturn impl.%s%s(%s)\n", rp.goName, fp.goName, strings.Join(callArgs, ", "))
		}
		fmt.Fprint(b, "\t}, false); err != nil {\n\t\treturn err\n\t}\n")
	}

	for _, fp := range rp.statics {
		native := rp.nativeName(jsNamespace, "s_"+fp.jsName)
		writeNativeFunc(b, native, fp.params, fp.hasResult, fp.result, func(argExprs []string) string {
			return fmt.Sprintf("impl.%s%s(%s)", rp.goName, fp.goName, strings.Join(argExprs, ", "))
		})
	}

	disposeNative := rp.nativeName(jsNamespace, "dispose")
	fmt.Fprintf(b, "\tif err := host.RegisterGoFunc(vm, %q, func(__id string) error {\n\t\t%s.Drop(__id)\n\t\treturn nil\n\t}, false); err != nil {\n\t\treturn err\n\t}\n",
		disposeNative, regVar)

	js := rp.renderClass(jsNamespace, ctorNative, disposeNative)
	fmt.Fprintf(b, "\tif err := host.EvalDiscard(vm, %q); err != nil {\n\t\treturn err\n\t}\n", js)
	return nil
}

func (rp *importedResourcePlan) nativeName(jsNamespace, suffix string) string {
	return "__import_res_" + strings.ReplaceAll(jsNamespace, ".", "_") + "_" + rp.jsClass + "_" + suffix
}

// renderClass builds the JS class wrapping this resource's native
// functions: a constructor that stores the registry-issued id, one method
// per instance method, one static per static function, __dispose to
// release the owner, and (for a pollable: a "ready"/"block" method pair)
// a promise method that polls readiness through the guest's own timer
// queue rather than requiring a second host-side suspension mechanism.
func (rp *importedResourcePlan) renderClass(jsNamespace, ctorNative, disposeNative string) string {
	var j strings.Builder
	fmt.Fprint(&j, "(function() {\n")
	fmt.Fprint(&j, "function Ctor() {\n")
	if rp.constructor != nil {
		fmt.Fprintf(&j, "this.__id = globalThis[%q](__importArgsJSON(arguments));\n", ctorNative)
	} else {
		fmt.Fprintf(&j, "throw new TypeError(%s);\n", jsQuoteGo(rp.jsClass+" cannot be constructed directly"))
	}
	fmt.Fprint(&j, "}\n")

	for _, fp := range rp.methods {
		native := rp.nativeName(jsNamespace, "m_"+fp.jsName)
		fmt.Fprintf(&j, "Ctor.prototype[%s] = function() {\n", jsQuoteGo(fp.jsName))
		if fp.hasResult {
			fmt.Fprintf(&j, "var __r = globalThis[%q](this.__id, __importArgsJSON(arguments));\n", native)
			fmt.Fprint(&j, "return eval('(' + __r + ')');\n")
		} else {
			fmt.Fprintf(&j, "globalThis[%q](this.__id, __importArgsJSON(arguments));\n", native)
		}
		fmt.Fprint(&j, "};\n")
	}

	for _, fp := range rp.statics {
		native := rp.nativeName(jsNamespace, "s_"+fp.jsName)
		fmt.Fprintf(&j, "Ctor[%s] = function() {\n", jsQuoteGo(fp.jsName))
		if fp.hasResult {
			fmt.Fprintf(&j, "var __r = globalThis[%q](__importArgsJSON(arguments));\n", native)
			fmt.Fprint(&j, "return eval('(' + __r + ')');\n")
		} else {
			fmt.Fprintf(&j, "globalThis[%q](__importArgsJSON(arguments));\n", native)
		}
		fmt.Fprint(&j, "};\n")
	}

	fmt.Fprint(&j, "Ctor.prototype.__dispose = function() {\n")
	fmt.Fprintf(&j, "if (this.__id != null) { globalThis[%q](this.__id); }\n", disposeNative)
	fmt.Fprint(&j, "this.__id = null;\n};\n")

	if rp.pollable {
		fmt.Fprint(&j, "Ctor.prototype.promise = function() {\n")
		fmt.Fprint(&j, "var self = this;\n")
		fmt.Fprint(&j, "return new Promise(function(resolve) {\n")
		fmt.Fprint(&j, "var __poll = function() {\n")
		fmt.Fprint(&j, "if (self.ready()) { resolve(undefined); return; }\n")
		fmt.Fprint(&j, "setTimeout(__poll, 0);\n")
		fmt.Fprint(&j, "};\n__poll();\n});\n};\n")
	}

	fmt.Fprintf(&j, "globalThis[%q][%q] = Ctor;\n", jsNamespace, rp.jsClass)
	fmt.Fprint(&j, "})();")
	return j.String()
}

func argExprList(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("arg%d", i)
	}
	return out
}

// jsQuoteGo renders s as a Go string literal holding a JS double-quoted
// string literal -- i.e. the same escaping marshal.JSString would produce,
// inlined here since this file builds raw JS text rather than Go source
// text evaluating to JS text.
func jsQuoteGo(s string) string {
	return fmt.Sprintf("%q", s)
}

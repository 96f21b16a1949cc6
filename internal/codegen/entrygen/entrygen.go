// Package entrygen renders the generated package's entry-point file: the
// glue that constructs the runtime host, wires the resource bridge and
// built-in module set into every worker VM, and wires the embedding
// application's import implementation in before any export is called.
package entrygen

import (
	"fmt"
	"strings"

	"github.com/hostedat/jswit/internal/names"
	"github.com/hostedat/jswit/internal/wit"
)

// Options configures the generated entry point.
type Options struct {
	PackageName   string
	BundleVarName string // Go identifier in pkgName holding the bundled JS source, e.g. "bundledSource"
	PoolSize      int
}

// Generate renders entry.go: an Init function the embedding application
// calls once at startup with its import implementations, before calling any
// export or constructing any resource.
func Generate(w *wit.World, opts Options) (string, error) {
	var b strings.Builder
	fmt.Fprint(&b, "// Code generated by generate-wrapper-crate from a WIT world. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package %s\n\n", opts.PackageName)
	fmt.Fprint(&b, "import (\n"+
		"\t\"github.com/hostedat/jswit/internal/bridge\"\n"+
		"\t\"github.com/hostedat/jswit/internal/builtins\"\n"+
		"\t\"github.com/hostedat/jswit/internal/host\"\n"+
		"\t\"modernc.org/quickjs\"\n"+
		")\n\n")

	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = 1
	}

	ifaceParams := importParams(w)

	fmt.Fprint(&b, "// Init constructs the runtime host for this component: one JS engine\n"+
		"// instance (or PoolSize of them) holding the bundled guest module,\n"+
		"// the built-in module set every guest module can assume is present, and\n"+
		"// the embedding application's implementation of this world's imports.\n"+
		"// Must run once, before calling any generated export function or\n"+
		"// constructing any generated resource handle.\n")
	fmt.Fprintf(&b, "func Init(cfg host.Config%s) error {\n", ifaceParamList(ifaceParams))
	fmt.Fprintf(&b, "\tif cfg.PoolSize <= 0 {\n\t\tcfg.PoolSize = %d\n\t}\n", poolSize)
	fmt.Fprint(&b, "\tresourceTable = bridge.NewTable()\n\n")

	fmt.Fprint(&b, "\tsetupFns := append([]host.SetupFunc{bridge.InitTable}, builtins.All(builtins.Config{\n"+
		"\t\tFetchTimeoutSec:  cfg.FetchTimeoutSec,\n"+
		"\t\tMaxResponseBytes: cfg.MaxResponseBytes,\n"+
		"\t\tOrigin:           cfg.Origin,\n"+
		"\t})...)\n")
	for _, p := range ifaceParams {
		fmt.Fprintf(&b, "\tsetupFns = append(setupFns, func(vm *quickjs.VM, _ *host.EventLoop) error { return Setup%s(vm, %s) })\n", p.ifaceName, p.argName)
	}
	fmt.Fprint(&b, "\n")

	fmt.Fprintf(&b, "\th, err := host.New(cfg, %s, setupFns)\n\tif err != nil {\n\t\treturn err\n\t}\n", opts.BundleVarName)
	fmt.Fprint(&b, "\th.SetDropDrainer(resourceTable)\n\ttheHost = h\n\treturn nil\n}\n\n")

	fmt.Fprint(&b, "// Shutdown releases the runtime host's pooled engine workers.\n")
	fmt.Fprint(&b, "func Shutdown() {\n\tif theHost != nil {\n\t\ttheHost.Shutdown()\n\t}\n}\n")

	return b.String(), nil
}

type ifaceParam struct {
	ifaceName string
	argName   string
	typeName  string
}

// importParams enumerates the Imports-interface parameters Init needs: one
// for top-level world imports (if any) plus one per imported wit interface,
// matching the surfaces importgen.Generate splits functions across.
func importParams(w *wit.World) []ifaceParam {
	var out []ifaceParam
	if len(w.ImportFns) > 0 {
		out = append(out, ifaceParam{ifaceName: "Imports", argName: "imports", typeName: "Imports"})
	}
	for _, iface := range w.Imports {
		pair, err := names.Map(iface.Name, names.KindType)
		if err != nil {
			continue
		}
		name := pair.Host + "Imports"
		argName := strings.ToLower(pair.Host[:1]) + pair.Host[1:] + "Imports"
		out = append(out, ifaceParam{ifaceName: name, argName: argName, typeName: name})
	}
	return out
}

func ifaceParamList(params []ifaceParam) string {
	var b strings.Builder
	for _, p := range params {
		fmt.Fprintf(&b, ", %s %s", p.argName, p.typeName)
	}
	return b.String()
}

package host

import "github.com/evanw/esbuild/pkg/api"

// BundleModule transforms an ES module source into a script that assigns
// its exports to globalThis.__component_module__. It uses esbuild's
// Transform API to parse the JS AST properly and wrap the module as an IIFE
// assigned to that global, rather than attempting a regex-based rewrite.
//
// If the source has no exports (a plain script), the IIFE wrapping is
// harmless. If esbuild reports errors, the source is returned unchanged so
// the QuickJS compile step surfaces the real syntax error to the caller.
func BundleModule(source string) string {
	result := api.Transform(source, api.TransformOptions{
		Format:     api.FormatIIFE,
		GlobalName: "globalThis.__component_module__",
		Target:     api.ESNext,
	})
	if len(result.Errors) > 0 {
		return source
	}
	code := string(result.Code)
	// esbuild places a default export under a .default property when
	// converting ESM to IIFE. Unwrap it so export adapters can reach
	// named/default-exported functions and classes directly on
	// __component_module__.
	code += "if(globalThis.__component_module__&&globalThis.__component_module__.default&&typeof globalThis.__component_module__.default==='object'){Object.assign(globalThis.__component_module__,globalThis.__component_module__.default);}\n"
	return code
}

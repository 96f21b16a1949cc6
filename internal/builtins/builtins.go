// Package builtins installs the JS-visible surface a bundled component
// expects at module-load time: console, timers, Streams, WHATWG fetch and
// related URL/Headers/Request/Response classes, text encoding, a trimmed
// crypto surface, node:path/node:fs/node:process shims, and the handful of
// ambient globals (structuredClone, queueMicrotask, reportError) real-world
// bundles probe for even when unused.
package builtins

import (
	"github.com/hostedat/jswit/internal/host"
	"modernc.org/quickjs"
)

// Config controls the built-ins that take runtime parameters (currently
// only fetch).
type Config struct {
	FetchTimeoutSec  int
	MaxResponseBytes int64

	// Origin is this component's own scheme+host+port, forwarded from
	// host.Config so fetch's same-origin credentials check (§8) has
	// something to compare a request URL against.
	Origin string
}

// All returns the ordered set of setup functions a Pool worker should run
// against every freshly constructed VM. Order matters: each entry may
// reference globals a prior entry installed (e.g. fetch's AbortSignal,
// textstreams' TransformStream, reportError's Event/EventTarget).
func All(cfg Config) []host.SetupFunc {
	return []host.SetupFunc{
		// Event/EventTarget/AbortController live first: console and later
		// stages don't need them, but fetch, reportError, and any
		// bundle-supplied event wiring all assume they already exist.
		SetupAbort,

		SetupConsole,
		SetupConsoleExt,
		SetupTimers,
		SetupGlobals,

		SetupEncoding,
		SetupStreams,
		SetupTextStreams,

		SetupWebAPI,
		SetupURLSearchParamsExt,
		SetupCompression,

		func(vm *quickjs.VM, el *host.EventLoop) error {
			return SetupFetch(vm, el, cfg.FetchTimeoutSec, cfg.MaxResponseBytes, cfg.Origin)
		},

		SetupCrypto,
		SetupPath,
		SetupFS,
		SetupProcess,

		// reportError dispatches through globalThis as an EventTarget,
		// installed by SetupAbort above.
		SetupReportError,
	}
}

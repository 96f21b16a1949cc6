// Package host implements the runtime host: the process-wide singleton that
// owns the embedded JS engine, pumps its microtask queue, drives timers, and
// blocks exported calls until a turn has fully quiesced.
package host

import "time"

// Config configures a Host instance. Mirrors the shape of a component's
// runtime.toml/world options: pool sizing, memory ceilings, and the
// timeouts applied to host-async operations built-ins may issue.
type Config struct {
	// PoolSize is the number of pre-warmed VM workers kept ready. Components
	// are single-instance by spec, so this is usually 1; values above 1 let
	// a host process serve disjoint component instantiations concurrently
	// without resharing resource tables between them.
	PoolSize int

	// MemoryLimitMB caps the QuickJS heap per worker. Zero means no limit.
	MemoryLimitMB int

	// CallTimeout bounds how long a single exported call's turn may run,
	// including all transitively scheduled tasks, before the host gives up
	// and returns a timeout error.
	CallTimeout time.Duration

	// MaxFetchRequests is not read by the host and is not passed on to the
	// built-ins; fetch() puts no cap on the number of in-flight requests.
	MaxFetchRequests int

	// FetchTimeoutSec bounds a single fetch() round trip.
	FetchTimeoutSec int

	// MaxResponseBytes caps the body size fetch() will buffer before
	// rejecting the response.
	MaxResponseBytes int64

	// MaxScriptSizeKB makes New reject source modules larger than this,
	// before compiling them. Zero means no limit.
	MaxScriptSizeKB int

	// Origin is this component's own scheme+host+port, compared against a
	// fetch() target to decide whether "same-origin" credentials (cookies,
	// Authorization) may be forwarded. Empty means the component has no
	// origin of its own, so every fetch is treated as cross-origin for
	// credential purposes.
	Origin string
}

// DefaultConfig returns sane defaults for embedding a single component
// instance.
func DefaultConfig() Config {
	return Config{
		PoolSize:         1,
		MemoryLimitMB:    256,
		CallTimeout:      30 * time.Second,
		MaxFetchRequests: 50,
		FetchTimeoutSec:  30,
		MaxResponseBytes: 25 * 1024 * 1024,
		MaxScriptSizeKB:  1024,
	}
}

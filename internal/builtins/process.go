package builtins

import (
	"encoding/json"
	"os"

	"github.com/hostedat/jswit/internal/host"
	"modernc.org/quickjs"
)

// processJS exposes a minimal node:process-shaped object: argv and env,
// the only two surfaces a component's bundled dependencies commonly probe
// at module-load time.
const processJS = `
(function() {
	const process = {
		argv: __processArgv(),
		env: JSON.parse(__processEnv()),
		platform: 'wasi',
		version: 'v0.0.0',
	};
	globalThis.__nodeProcess = process;
	globalThis.process = process;
})();
`

// SetupProcess registers process.argv/process.env. argv is the placeholder
// "component" (standing where Node puts its own binary path) followed by the
// host process's own command-line arguments (os.Args[1:]).
func SetupProcess(vm *quickjs.VM, _ *host.EventLoop) error {
	if err := host.RegisterGoFunc(vm, "__processArgv", func() []string {
		return append([]string{"component"}, os.Args[1:]...)
	}, false); err != nil {
		return err
	}

	if err := host.RegisterGoFunc(vm, "__processEnv", func() (string, error) {
		env := map[string]string{}
		for _, kv := range os.Environ() {
			for i := 0; i < len(kv); i++ {
				if kv[i] == '=' {
					env[kv[:i]] = kv[i+1:]
					break
				}
			}
		}
		b, err := json.Marshal(env)
		return string(b), err
	}, false); err != nil {
		return err
	}

	return host.EvalDiscard(vm, processJS)
}

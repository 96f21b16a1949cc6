package builtins

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hostedat/jswit/internal/host"
	"modernc.org/quickjs"
)

// fsJS wraps the registered Go file helpers into a node:fs-shaped
// synchronous surface, the only mode the embedded interpreter's
// single-threaded scheduler can support without blocking the whole turn.
const fsJS = `
(function() {
	const fs = {};
	fs.readFileSync = function(path, options) {
		const encoding = typeof options === 'string' ? options : (options && options.encoding);
		if (encoding) {
			return __fsReadFileString(String(path), encoding);
		}
		return __fsReadFileBytes(String(path));
	};
	fs.writeFileSync = function(path, data, options) {
		const encoding = typeof options === 'string' ? options : (options && options.encoding) || 'utf8';
		if (typeof data === 'string') {
			__fsWriteFileString(String(path), encoding, data);
		} else {
			__fsWriteFileBytes(String(path), data);
		}
	};
	fs.existsSync = function(path) { return __fsExists(String(path)); };
	globalThis.__nodeFs = fs;
})();
`

// SetupFS registers the node:fs subset at globalThis.__nodeFs:
// readFileSync/writeFileSync/existsSync, synchronous because the scheduler
// has nothing else to run while an export's turn is in progress. There is no
// asynchronous readFile/writeFile and no fs.promises. Text reads and writes
// accept only the utf8 encoding; writes create missing parent directories.
func SetupFS(vm *quickjs.VM, _ *host.EventLoop) error {
	if err := host.RegisterGoFunc(vm, "__fsReadFileString", func(path, encoding string) (string, error) {
		if encoding != "utf8" && encoding != "utf-8" {
			return "", fmt.Errorf("readFileSync: unsupported encoding %q", encoding)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("readFileSync %s: %w", path, err)
		}
		return string(b), nil
	}, false); err != nil {
		return err
	}

	if err := host.RegisterGoFunc(vm, "__fsReadFileBytes", func(path string) (string, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("readFileSync %s: %w", path, err)
		}
		return base64.StdEncoding.EncodeToString(b), nil
	}, false); err != nil {
		return err
	}

	if err := host.RegisterGoFunc(vm, "__fsWriteFileString", func(path, encoding, content string) error {
		if encoding != "utf8" && encoding != "utf-8" {
			return fmt.Errorf("writeFileSync: unsupported encoding %q", encoding)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("writeFileSync %s: %w", path, err)
		}
		return os.WriteFile(path, []byte(content), 0o644)
	}, false); err != nil {
		return err
	}

	if err := host.RegisterGoFunc(vm, "__fsWriteFileBytes", func(path string, data []byte) error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("writeFileSync %s: %w", path, err)
		}
		return os.WriteFile(path, data, 0o644)
	}, false); err != nil {
		return err
	}

	if err := host.RegisterGoFunc(vm, "__fsExists", func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	}, false); err != nil {
		return err
	}

	return host.EvalDiscard(vm, fsJS)
}

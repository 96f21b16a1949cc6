package builtins

import (
	"encoding/json"
	"strings"

	"github.com/hostedat/jswit/internal/host"
	"modernc.org/quickjs"
)

// normalizePathImpl is the POSIX-only path normalizer every other path
// function composes with: collapse "." segments, resolve ".." against
// what precedes it, and preserve leading-slash absoluteness.
func normalizePathImpl(path string) string {
	if path == "" {
		return "."
	}
	isAbsolute := strings.HasPrefix(path, "/")

	var result []string
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." {
			continue
		}
		if part == ".." {
			if len(result) > 0 {
				if result[len(result)-1] == ".." {
					result = append(result, "..")
				} else {
					result = result[:len(result)-1]
				}
			} else if !isAbsolute {
				result = append(result, "..")
			}
			continue
		}
		result = append(result, part)
	}

	if len(result) == 0 {
		if isAbsolute {
			return "/"
		}
		return "."
	}
	joined := strings.Join(result, "/")
	if isAbsolute {
		return "/" + joined
	}
	return joined
}

func joinPathImpl(parts []string) string {
	if len(parts) == 0 {
		return "."
	}
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	joined := strings.Join(kept, "/")
	if joined == "" {
		return "."
	}
	return normalizePathImpl(joined)
}

func resolvePathImpl(parts []string) string {
	resolved := ""
	absolute := false
	for i := len(parts) - 1; i >= 0; i-- {
		p := parts[i]
		if p == "" {
			continue
		}
		if resolved == "" {
			resolved = p
		} else {
			resolved = p + "/" + resolved
		}
		if strings.HasPrefix(p, "/") {
			absolute = true
			break
		}
	}
	if !absolute {
		if resolved == "" {
			resolved = "/"
		} else {
			resolved = "/" + resolved
		}
	}
	return normalizePathImpl(resolved)
}

func relativePathImpl(from, to string) string {
	fromRes := resolvePathImpl([]string{from})
	toRes := resolvePathImpl([]string{to})

	fromParts := splitNonEmpty(fromRes)
	toParts := splitNonEmpty(toRes)

	common := 0
	for common < len(fromParts) && common < len(toParts) && fromParts[common] == toParts[common] {
		common++
	}

	var result []string
	for i := common; i < len(fromParts); i++ {
		result = append(result, "..")
	}
	result = append(result, toParts[common:]...)
	return strings.Join(result, "/")
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, p := range strings.Split(s, "/") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

type parsedPath struct {
	Root string `json:"root"`
	Dir  string `json:"dir"`
	Base string `json:"base"`
	Ext  string `json:"ext"`
	Name string `json:"name"`
}

func parsePathImpl(path string) parsedPath {
	if path == "" {
		return parsedPath{}
	}
	root := ""
	if strings.HasPrefix(path, "/") {
		root = "/"
	}
	dir, base := "", path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		dir, base = path[:i], path[i+1:]
		if dir == "" {
			dir = "/"
		}
	}
	ext := ""
	if i := strings.LastIndex(base, "."); i > 0 {
		ext = base[i:]
	}
	name := strings.TrimSuffix(base, ext)
	return parsedPath{Root: root, Dir: dir, Base: base, Ext: ext, Name: name}
}

func formatPathImpl(p parsedPath) string {
	dir := p.Dir
	if dir == "" {
		dir = p.Root
	}
	base := p.Base
	if base == "" {
		ext := p.Ext
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		base = p.Name + ext
	}
	if dir == "" {
		return base
	}
	if dir == p.Root {
		return dir + base
	}
	return dir + "/" + base
}

// pathJS wraps the registered Go functions into the node:path-shaped POSIX
// surface a bundled module expects to import.
const pathJS = `
(function() {
	const path = {};
	path.basename = function(p, suffix) {
		var parts = String(p).split('/');
		var base = parts[parts.length - 1] || '';
		if (suffix && base.endsWith(suffix) && base !== suffix) {
			base = base.slice(0, base.length - suffix.length);
		}
		return base;
	};
	path.dirname = function(p) { return __pathDirname(String(p)); };
	path.extname = function(p) {
		var base = path.basename(p);
		var i = base.lastIndexOf('.');
		return i > 0 ? base.slice(i) : '';
	};
	path.isAbsolute = function(p) { return String(p).startsWith('/'); };
	path.join = function() { return __pathJoin(Array.prototype.slice.call(arguments).map(String)); };
	path.normalize = function(p) { return __pathNormalize(String(p)); };
	path.resolve = function() { return __pathResolve(Array.prototype.slice.call(arguments).map(String)); };
	path.relative = function(from, to) { return __pathRelative(String(from), String(to)); };
	path.parse = function(p) { return JSON.parse(__pathParse(String(p))); };
	path.format = function(obj) { return __pathFormat(JSON.stringify(obj || {})); };
	path.sep = '/';
	path.delimiter = ':';
	globalThis.__nodePath = path;
})();
`

// SetupPath registers the Go-backed POSIX path helpers and the node:path
// compatible wrapper object at globalThis.__nodePath. The bundler does not
// rewrite `node:path` imports to this global; code reaches it by that name.
func SetupPath(vm *quickjs.VM, _ *host.EventLoop) error {
	registrations := []struct {
		name string
		fn   any
	}{
		{"__pathDirname", func(p string) string {
			n := normalizePathImpl(p)
			if i := strings.LastIndex(n, "/"); i > 0 {
				return n[:i]
			} else if i == 0 {
				return "/"
			}
			return "."
		}},
		{"__pathJoin", func(parts []string) string { return joinPathImpl(parts) }},
		{"__pathNormalize", func(p string) string { return normalizePathImpl(p) }},
		{"__pathResolve", func(parts []string) string { return resolvePathImpl(parts) }},
		{"__pathRelative", func(from, to string) string { return relativePathImpl(from, to) }},
		{"__pathParse", func(p string) (string, error) {
			b, err := json.Marshal(parsePathImpl(p))
			return string(b), err
		}},
		{"__pathFormat", func(objJSON string) (string, error) {
			var p parsedPath
			if err := json.Unmarshal([]byte(objJSON), &p); err != nil {
				return "", err
			}
			return formatPathImpl(p), nil
		}},
	}
	for _, r := range registrations {
		if err := host.RegisterGoFunc(vm, r.name, r.fn, false); err != nil {
			return err
		}
	}
	return host.EvalDiscard(vm, pathJS)
}

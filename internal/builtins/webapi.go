package builtins

import (
	"encoding/json"
	"fmt"

	"github.com/hostedat/jswit/internal/host"
	"github.com/nlnwa/whatwg-url/url"
	"modernc.org/quickjs"
)

// urlParser is shared across calls; NewParser is safe for concurrent use
// and carries no per-call state.
var urlParser = url.NewParser()

// webAPIsJS defines the Web API classes bundled component source commonly
// touches: Headers, Request, Response, URL, URLSearchParams, TextEncoder,
// TextDecoder.
const webAPIsJS = `
class Headers {
	constructor(init) {
		this._map = {};
		if (init) {
			if (init instanceof Headers) {
				for (const [k, v] of Object.entries(init._map)) this._map[k] = v;
			} else if (Array.isArray(init)) {
				for (const [k, v] of init) this._map[k.toLowerCase()] = String(v);
			} else {
				for (const [k, v] of Object.entries(init)) this._map[k.toLowerCase()] = String(v);
			}
		}
	}
	get(name) { return this._map[name.toLowerCase()] ?? null; }
	set(name, value) { this._map[name.toLowerCase()] = String(value); }
	has(name) { return name.toLowerCase() in this._map; }
	delete(name) { delete this._map[name.toLowerCase()]; }
	append(name, value) {
		const key = name.toLowerCase();
		this._map[key] = this._map[key] ? this._map[key] + ', ' + String(value) : String(value);
	}
	forEach(cb) { for (const [k, v] of Object.entries(this._map)) cb(v, k, this); }
	entries() { return Object.entries(this._map)[Symbol.iterator](); }
	keys() { return Object.keys(this._map)[Symbol.iterator](); }
	values() { return Object.values(this._map)[Symbol.iterator](); }
}

class URL {
	constructor(input, base) {
		const parsed = JSON.parse(__parseURL(input, base || ''));
		if (parsed.error) throw new TypeError(parsed.error);
		this.href = parsed.href;
		this.protocol = parsed.protocol;
		this.hostname = parsed.hostname;
		this.port = parsed.port;
		this.pathname = parsed.pathname;
		this.search = parsed.search;
		this.hash = parsed.hash;
		this.origin = parsed.origin;
		this.host = parsed.host;
		this.username = parsed.username || '';
		this.password = parsed.password || '';
		this.searchParams = new URLSearchParams(this.search);
		this.searchParams._url = this;
	}
	toString() { return this.href; }
	static canParse(url, base) {
		try {
			new URL(url === null || url === undefined ? String(url) : url, base == null ? base : String(base));
			return true;
		} catch {
			return false;
		}
	}
}

class URLSearchParams {
	constructor(init) {
		this._entries = [];
		if (typeof init === 'string') {
			const s = init.startsWith('?') ? init.slice(1) : init;
			if (s) {
				for (const pair of s.split('&')) {
					const [k, ...rest] = pair.split('=');
					this._entries.push([decodeURIComponent(k.replace(/\+/g, '%20')), decodeURIComponent(rest.join('=').replace(/\+/g, '%20'))]);
				}
			}
		}
	}
	get(name) {
		const e = this._entries.find(([k]) => k === name);
		return e ? e[1] : null;
	}
	has(name) { return this._entries.some(([k]) => k === name); }
	toString() { return this._entries.map(([k, v]) => encodeURIComponent(k) + '=' + encodeURIComponent(v)).join('&'); }
	forEach(cb) { for (const [k, v] of this._entries) cb(v, k, this); }
	entries() { return this._entries[Symbol.iterator](); }
	keys() { return this._entries.map(([k]) => k)[Symbol.iterator](); }
	values() { return this._entries.map(([, v]) => v)[Symbol.iterator](); }
}

function __bodyToStream(content) {
	return new ReadableStream({
		start(controller) {
			if (typeof content === 'string') {
				controller.enqueue(new TextEncoder().encode(content));
			} else if (content instanceof ArrayBuffer) {
				controller.enqueue(new Uint8Array(content));
			} else if (ArrayBuffer.isView(content)) {
				controller.enqueue(new Uint8Array(content.buffer, content.byteOffset, content.byteLength));
			} else {
				controller.enqueue(new TextEncoder().encode(String(content)));
			}
			controller.close();
		}
	});
}

class Request {
	constructor(input, init) {
		init = init || {};
		if (input instanceof Request) {
			this.url = input.url;
			this.method = input.method;
			this.headers = new Headers(input.headers);
			this._body = input._body;
			this.credentials = input.credentials;
			this.referrer = input.referrer;
			this.referrerPolicy = input.referrerPolicy;
			this.redirect = input.redirect;
			this.signal = input.signal;
		} else {
			try { this.url = new URL(String(input)).href; } catch(e) { this.url = String(input); }
			this.method = (init.method || 'GET').toUpperCase();
			this.headers = new Headers(init.headers);
			this._body = init.body !== undefined ? init.body : null;
			this.credentials = 'same-origin';
			this.referrer = 'about:client';
			this.referrerPolicy = '';
			this.redirect = 'follow';
			this.signal = null;
		}
		if (init.method) this.method = init.method.toUpperCase();
		if (init.headers) this.headers = new Headers(init.headers);
		if (init.body !== undefined) this._body = init.body;
		if (init.credentials !== undefined) this.credentials = init.credentials;
		if (init.referrer !== undefined) this.referrer = init.referrer;
		if (init.referrerPolicy !== undefined) this.referrerPolicy = init.referrerPolicy;
		if (init.redirect !== undefined) this.redirect = init.redirect;
		if (init.signal !== undefined) this.signal = init.signal;
	}
	get body() {
		if (this._body === null || this._body === undefined) return null;
		if (this._body instanceof ReadableStream) return this._body;
		this._body = __bodyToStream(this._body);
		return this._body;
	}
	get bodyUsed() { return this._body instanceof ReadableStream ? !!this._body._locked : false; }
	async text() { return __bodyToString(this._body); }
	async json() { return JSON.parse(await this.text()); }
	async arrayBuffer() { return new TextEncoder().encode(await this.text()).buffer; }
	async bytes() { return new TextEncoder().encode(await this.text()); }
	async formData() { return __bodyToFormData(this._body, this.headers); }
	clone() { return new Request(this); }
}

class Response {
	constructor(body, init) {
		init = init || {};
		this._body = body !== undefined && body !== null ? body : null;
		this.status = init.status !== undefined ? init.status : 200;
		this.statusText = init.statusText || '';
		this.headers = new Headers(init.headers);
		this.ok = this.status >= 200 && this.status < 300;
		this.url = init.url || '';
	}
	get body() {
		if (this._body === null || this._body === undefined) return null;
		if (this._body instanceof ReadableStream) return this._body;
		this._body = __bodyToStream(this._body);
		return this._body;
	}
	get bodyUsed() { return this._body instanceof ReadableStream ? !!this._body._locked : false; }
	async text() { return __bodyToString(this._body); }
	async json() { return JSON.parse(await this.text()); }
	async arrayBuffer() { return new TextEncoder().encode(await this.text()).buffer; }
	async bytes() { return new TextEncoder().encode(await this.text()); }
	async formData() { return __bodyToFormData(this._body, this.headers); }
	clone() {
		return new Response(this._body, { status: this.status, statusText: this.statusText, headers: new Headers(this.headers) });
	}
	static json(data, init) {
		init = init || {};
		const headers = new Headers(init.headers);
		if (!headers.has('content-type')) headers.set('content-type', 'application/json');
		return new Response(JSON.stringify(data), Object.assign({}, init, { headers }));
	}
	static redirect(url, status) {
		status = status || 302;
		if ([301, 302, 303, 307, 308].indexOf(status) === -1) {
			throw new RangeError('Invalid redirect status: ' + status);
		}
		return new Response(null, { status, headers: { location: url } });
	}
	static error() {
		const r = new Response(null, { status: 0, statusText: '' });
		r.type = 'error';
		return r;
	}
}

if (typeof TextEncoder === 'undefined') {
	globalThis.TextEncoder = class TextEncoder {
		encode(str) {
			str = String(str);
			const buf = [];
			for (let i = 0; i < str.length; i++) {
				let c = str.charCodeAt(i);
				if (c < 0x80) {
					buf.push(c);
				} else if (c < 0x800) {
					buf.push(0xc0 | (c >> 6), 0x80 | (c & 0x3f));
				} else if (c >= 0xd800 && c <= 0xdbff && i + 1 < str.length) {
					const next = str.charCodeAt(++i);
					const cp = ((c - 0xd800) << 10) + (next - 0xdc00) + 0x10000;
					buf.push(0xf0 | (cp >> 18), 0x80 | ((cp >> 12) & 0x3f), 0x80 | ((cp >> 6) & 0x3f), 0x80 | (cp & 0x3f));
				} else {
					buf.push(0xe0 | (c >> 12), 0x80 | ((c >> 6) & 0x3f), 0x80 | (c & 0x3f));
				}
			}
			return new Uint8Array(buf);
		}
	};
}

if (typeof TextDecoder === 'undefined') {
	globalThis.TextDecoder = class TextDecoder {
		decode(buf) {
			if (!buf) return '';
			const bytes = new Uint8Array(buf.buffer || buf);
			let result = '';
			for (let i = 0; i < bytes.length;) {
				const b = bytes[i];
				if (b < 0x80) { result += String.fromCharCode(b); i++; }
				else if ((b & 0xe0) === 0xc0) { result += String.fromCharCode(((b & 0x1f) << 6) | (bytes[i+1] & 0x3f)); i += 2; }
				else if ((b & 0xf0) === 0xe0) { result += String.fromCharCode(((b & 0x0f) << 12) | ((bytes[i+1] & 0x3f) << 6) | (bytes[i+2] & 0x3f)); i += 3; }
				else if ((b & 0xf8) === 0xf0) {
					const cp = ((b & 0x07) << 18) | ((bytes[i+1] & 0x3f) << 12) | ((bytes[i+2] & 0x3f) << 6) | (bytes[i+3] & 0x3f);
					result += String.fromCodePoint(cp); i += 4;
				} else { result += '�'; i++; }
			}
			return result;
		}
	};
}

globalThis.Headers = Headers;
globalThis.URL = URL;
globalThis.URLSearchParams = URLSearchParams;
globalThis.Request = Request;
globalThis.Response = Response;
`

// formdataJS implements Blob, File, and FormData, the multipart-capable
// body types §4.5 names alongside Request/Response. A request or response
// whose body holds one of these renders through __bodyToString/
// __bodyToFormData below rather than the plain String(body) coercion a
// scalar body gets.
const formdataJS = `
(function() {

class Blob {
	constructor(parts, options) {
		options = options || {};
		var t = String(options.type || '').toLowerCase();
		this.type = /^[\x20-\x7e]*$/.test(t) ? t : '';
		this._parts = [];
		this._size = 0;

		if (parts) {
			const enc = new TextEncoder();
			for (const part of parts) {
				if (typeof part === 'string') {
					this._parts.push(part);
					this._size += enc.encode(part).length;
				} else if (part instanceof Blob) {
					this._parts.push(...part._parts);
					this._size += part._size;
				} else if (part instanceof ArrayBuffer) {
					const arr = new Uint8Array(part);
					const CHUNK = 1024;
					let s = '';
					for (let i = 0; i < arr.length; i += CHUNK) {
						const end = Math.min(i + CHUNK, arr.length);
						s += String.fromCharCode.apply(null, arr.subarray(i, end));
					}
					this._parts.push(s);
					this._size += arr.length;
				} else if (ArrayBuffer.isView(part)) {
					const arr = new Uint8Array(part.buffer, part.byteOffset, part.byteLength);
					const CHUNK = 1024;
					let s = '';
					for (let i = 0; i < arr.length; i += CHUNK) {
						const end = Math.min(i + CHUNK, arr.length);
						s += String.fromCharCode.apply(null, arr.subarray(i, end));
					}
					this._parts.push(s);
					this._size += arr.length;
				} else {
					const str = String(part);
					this._parts.push(str);
					this._size += enc.encode(str).length;
				}
			}
		}
	}

	get size() {
		return this._size;
	}

	slice(start, end, contentType) {
		const size = this._size;
		let s = start === undefined ? 0 : start < 0 ? Math.max(size + start, 0) : Math.min(start, size);
		let e = end === undefined ? size : end < 0 ? Math.max(size + end, 0) : Math.min(end, size);
		const full = this._parts.join('');
		const sliced = full.slice(s, e);
		const ct = contentType !== undefined ? String(contentType).toLowerCase() : this.type;
		return new Blob([sliced], { type: ct });
	}

	async text() {
		return this._parts.join('');
	}

	async arrayBuffer() {
		const text = this._parts.join('');
		const enc = new TextEncoder();
		return enc.encode(text).buffer;
	}

	stream() {
		var blob = this;
		return new ReadableStream({
			start: function(controller) {
				blob.arrayBuffer().then(function(buf) {
					controller.enqueue(new Uint8Array(buf));
					controller.close();
				});
			}
		});
	}

	bytes() {
		return this.arrayBuffer().then(function(buf) { return new Uint8Array(buf); });
	}

	get [Symbol.toStringTag]() { return 'Blob'; }
}

class File extends Blob {
	constructor(parts, name, options) {
		super(parts, options);
		this.name = name;
		this.lastModified = (options && options.lastModified) || Date.now();
		this.webkitRelativePath = '';
	}

	get [Symbol.toStringTag]() { return 'File'; }
}

class FormData {
	constructor() {
		this._entries = [];
	}

	append(name, value, filename) {
		if (value instanceof Blob && !(value instanceof File)) {
			value = new File([value], filename || 'blob', { type: value.type });
		}
		this._entries.push([String(name), value]);
	}

	set(name, value, filename) {
		if (value instanceof Blob && !(value instanceof File)) {
			value = new File([value], filename || 'blob', { type: value.type });
		}
		const sName = String(name);
		let found = false;
		const filtered = [];
		for (let i = 0; i < this._entries.length; i++) {
			if (this._entries[i][0] === sName) {
				if (!found) {
					filtered.push([sName, value]);
					found = true;
				}
			} else {
				filtered.push(this._entries[i]);
			}
		}
		if (!found) filtered.push([sName, value]);
		this._entries = filtered;
	}

	get(name) {
		const entry = this._entries.find(([k]) => k === name);
		return entry ? entry[1] : null;
	}

	getAll(name) {
		return this._entries.filter(([k]) => k === name).map(([, v]) => v);
	}

	has(name) {
		return this._entries.some(([k]) => k === name);
	}

	delete(name) {
		this._entries = this._entries.filter(([k]) => k !== name);
	}

	entries() {
		return this._entries[Symbol.iterator]();
	}

	keys() {
		return this._entries.map(([k]) => k)[Symbol.iterator]();
	}

	values() {
		return this._entries.map(([, v]) => v)[Symbol.iterator]();
	}

	forEach(callback, thisArg) {
		for (const [name, value] of this._entries) {
			callback.call(thisArg, value, name, this);
		}
	}

	[Symbol.iterator]() {
		return this.entries();
	}

	get [Symbol.toStringTag]() { return 'FormData'; }
}

globalThis.Blob = Blob;
globalThis.File = File;
globalThis.FormData = FormData;

})();
`

// bodyHelpersJS centralizes the body-coercion logic Request/Response/fetch
// all need: rendering any supported body type to a wire string, multipart
// encoding a FormData body, and parsing one back out of a response/request.
const bodyHelpersJS = `
(function() {

function __toBinaryString(view) {
	var s = '';
	var CHUNK = 1024;
	for (var i = 0; i < view.length; i += CHUNK) {
		s += String.fromCharCode.apply(null, view.subarray(i, Math.min(i + CHUNK, view.length)));
	}
	return s;
}

globalThis.__formDataBoundary = function() {
	return '----FormDataBoundary' + Math.random().toString(36).slice(2);
};

globalThis.__formDataEncode = function(fd, boundary) {
	var result = '';
	fd.forEach(function(value, name) {
		result += '--' + boundary + '\r\n';
		if (typeof value === 'string') {
			result += 'Content-Disposition: form-data; name="' + name + '"\r\n\r\n';
			result += value + '\r\n';
		} else {
			var fname = value.name || 'blob';
			result += 'Content-Disposition: form-data; name="' + name + '"; filename="' + fname + '"\r\n';
			if (value.type) result += 'Content-Type: ' + value.type + '\r\n';
			result += '\r\n';
			result += value._parts.join('') + '\r\n';
		}
	});
	result += '--' + boundary + '--\r\n';
	return result;
};

globalThis.__bodyToString = function(body) {
	if (body === null || body === undefined) return '';
	if (typeof body === 'string') return body;
	if (body instanceof ArrayBuffer) return __toBinaryString(new Uint8Array(body));
	if (ArrayBuffer.isView(body)) return __toBinaryString(new Uint8Array(body.buffer, body.byteOffset, body.byteLength));
	if (body instanceof Blob) return body._parts.join('');
	if (body instanceof URLSearchParams) return body.toString();
	if (body instanceof FormData) return __formDataEncode(body, __formDataBoundary());
	if (body instanceof ReadableStream) {
		var s = '';
		for (var i = 0; i < body._queue.length; i++) {
			var chunk = body._queue[i];
			if (typeof chunk === 'string') { s += chunk; }
			else if (chunk instanceof Uint8Array) { s += __toBinaryString(chunk); }
			else { s += String(chunk); }
		}
		body._queue = [];
		return s;
	}
	return String(body);
};

function __parseMultipart(text, contentType) {
	var fd = new FormData();
	var m = contentType.match(/boundary=([^\s;]+)/);
	if (!m) return fd;
	var boundary = m[1];
	var parts = text.split('--' + boundary);
	for (var i = 1; i < parts.length; i++) {
		var part = parts[i];
		if (part.indexOf('--') === 0) break;
		var sepIdx = part.indexOf('\r\n\r\n');
		if (sepIdx === -1) continue;
		var headerSection = part.slice(0, sepIdx);
		var body = part.slice(sepIdx + 4).replace(/\r\n$/, '');
		var dispMatch = headerSection.match(/Content-Disposition:\s*form-data;\s*name="([^"]+)"(?:;\s*filename="([^"]+)")?/i);
		if (!dispMatch) continue;
		var name = dispMatch[1];
		var filename = dispMatch[2];
		if (filename !== undefined) {
			var ctMatch = headerSection.match(/Content-Type:\s*([^\r\n]+)/i);
			var ftype = ctMatch ? ctMatch[1].trim() : '';
			fd.append(name, new File([body], filename, { type: ftype }));
		} else {
			fd.append(name, body);
		}
	}
	return fd;
}

globalThis.__bodyToFormData = function(body, headers) {
	var ct = (headers && headers.get('content-type')) || '';
	if (body instanceof FormData) return body;
	var text = __bodyToString(body);
	if (ct.indexOf('application/x-www-form-urlencoded') !== -1) {
		var fd = new FormData();
		var params = new URLSearchParams(text);
		params.forEach(function(v, k) { fd.append(k, v); });
		return fd;
	}
	if (ct.indexOf('multipart/form-data') !== -1) {
		return __parseMultipart(text, ct);
	}
	throw new TypeError('Could not parse content as FormData');
};

})();
`

// bufferSourceJS provides __bufferSourceToB64 and __b64ToBuffer, shared by
// fetch and crypto-adjacent helpers.
const bufferSourceJS = `
globalThis.__bufferSourceToB64 = function(data) {
	var bytes;
	if (data instanceof ArrayBuffer) {
		bytes = new Uint8Array(data);
	} else if (ArrayBuffer.isView(data)) {
		bytes = new Uint8Array(data.buffer, data.byteOffset, data.byteLength);
	} else if (typeof data === 'string') {
		return btoa(data);
	} else {
		bytes = new Uint8Array(data);
	}
	var binary = '';
	for (var i = 0; i < bytes.length; i++) binary += String.fromCharCode(bytes[i]);
	return btoa(binary);
};

globalThis.__b64ToBuffer = function(b64) {
	var binary = atob(b64);
	var bytes = new Uint8Array(binary.length);
	for (var i = 0; i < binary.length; i++) bytes[i] = binary.charCodeAt(i);
	return bytes.buffer;
};
`

// urlSearchParamsExtJS patches URLSearchParams with mutation methods and
// keeps a parent URL's href in sync, mirroring the spec's URL/search
// two-way binding.
const urlSearchParamsExtJS = `
(function() {
var USP = URLSearchParams.prototype;

USP._sync = function() {
	if (this._url) {
		var s = this.toString();
		this._url.search = s ? '?' + s : '';
		this._url.href = this._url.origin + this._url.pathname + this._url.search + this._url.hash;
	}
};

USP.getAll = function(name) {
	return this._entries.filter(function(e) { return e[0] === name; }).map(function(e) { return e[1]; });
};

USP.set = function(name, value) {
	var s = String(value);
	var found = false;
	var filtered = [];
	for (var i = 0; i < this._entries.length; i++) {
		var entry = this._entries[i];
		if (entry[0] === name) {
			if (!found) { filtered.push([name, s]); found = true; }
		} else {
			filtered.push(entry);
		}
	}
	if (!found) filtered.push([name, s]);
	this._entries = filtered;
	this._sync();
};

USP.append = function(name, value) {
	this._entries.push([name, String(value)]);
	this._sync();
};

USP['delete'] = function(name) {
	this._entries = this._entries.filter(function(e) { return e[0] !== name; });
	this._sync();
};

USP.sort = function() {
	this._entries.sort(function(a, b) { return a[0] < b[0] ? -1 : a[0] > b[0] ? 1 : 0; });
	this._sync();
};
})();
`

// SetupURLSearchParamsExt evaluates the URLSearchParams extension polyfill.
// Must run after SetupWebAPI.
func SetupURLSearchParamsExt(vm *quickjs.VM, _ *host.EventLoop) error {
	return host.EvalDiscard(vm, urlSearchParamsExtJS)
}

// SetupWebAPI registers the Go-backed URL parser and evaluates the Web API
// class definitions and buffer-source helpers.
func SetupWebAPI(vm *quickjs.VM, _ *host.EventLoop) error {
	if err := host.RegisterGoFunc(vm, "__parseURL", func(rawURL, base string) (string, error) {
		parsed, err := parseURL(rawURL, base)
		if err != nil {
			return fmt.Sprintf(`{"error":%q}`, err.Error()), nil
		}
		data, _ := json.Marshal(parsed)
		return string(data), nil
	}, false); err != nil {
		return err
	}

	if err := host.EvalDiscard(vm, webAPIsJS); err != nil {
		return fmt.Errorf("builtins: evaluating web API classes: %w", err)
	}
	if err := host.EvalDiscard(vm, formdataJS); err != nil {
		return fmt.Errorf("builtins: evaluating FormData/Blob/File: %w", err)
	}
	if err := host.EvalDiscard(vm, bodyHelpersJS); err != nil {
		return fmt.Errorf("builtins: evaluating body helpers: %w", err)
	}

	return host.EvalDiscard(vm, bufferSourceJS)
}

// urlParsed is the JSON structure __parseURL returns to the URL constructor.
type urlParsed struct {
	Href     string `json:"href"`
	Protocol string `json:"protocol"`
	Hostname string `json:"hostname"`
	Port     string `json:"port"`
	Pathname string `json:"pathname"`
	Search   string `json:"search"`
	Hash     string `json:"hash"`
	Origin   string `json:"origin"`
	Host     string `json:"host"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func parseURL(rawURL, base string) (*urlParsed, error) {
	var u *url.Url
	var err error

	if base != "" {
		u, err = urlParser.ParseRef(base, rawURL)
	} else {
		u, err = urlParser.Parse(rawURL)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %s", rawURL)
	}

	return &urlParsed{
		Href:     u.Href(false),
		Protocol: u.Protocol(),
		Hostname: u.Hostname(),
		Port:     u.Port(),
		Pathname: u.Pathname(),
		Search:   u.Search(),
		Hash:     u.Hash(),
		Origin:   u.Origin(),
		Host:     u.Host(),
		Username: u.Username(),
		Password: u.Password(),
	}, nil
}

package builtins

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"github.com/hostedat/jswit/internal/host"
	"modernc.org/quickjs"
)

// cryptoJS wires up the global crypto object with getRandomValues and
// randomUUID backed by Go. crypto.subtle is intentionally absent: the
// built-in's contract covers only these two entry points, not the wider
// digest/sign/encrypt surface.
const cryptoJS = `
(function() {
	const _b64d = new Uint8Array(128);
	const _b64e = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	for (let i = 0; i < _b64e.length; i++) _b64d[_b64e.charCodeAt(i)] = i;

	const crypto = {};

	crypto.getRandomValues = function(typedArray) {
		if (!typedArray || typeof typedArray.length !== 'number') {
			throw new TypeError('getRandomValues requires a TypedArray');
		}
		const b64 = __cryptoGetRandomBytes(typedArray.length);
		let j = 0;
		for (let i = 0; i < b64.length; i += 4) {
			const a = _b64d[b64.charCodeAt(i)];
			const b = _b64d[b64.charCodeAt(i + 1)];
			const c = _b64d[b64.charCodeAt(i + 2)];
			const d = _b64d[b64.charCodeAt(i + 3)];
			if (j < typedArray.length) typedArray[j++] = (a << 2) | (b >> 4);
			if (j < typedArray.length) typedArray[j++] = ((b & 15) << 4) | (c >> 2);
			if (j < typedArray.length) typedArray[j++] = ((c & 3) << 6) | d;
		}
		return typedArray;
	};

	crypto.randomUUID = function() {
		return __cryptoRandomUUID();
	};

	globalThis.crypto = crypto;
})();
`

// SetupCrypto registers the Go-backed getRandomValues/randomUUID primitives
// and evaluates the JS wrapper.
func SetupCrypto(vm *quickjs.VM, _ *host.EventLoop) error {
	if err := host.RegisterGoFunc(vm, "__cryptoGetRandomBytes", func(n int) (string, error) {
		if n <= 0 || n > 65536 {
			return "", fmt.Errorf("getRandomValues: byte length must be 1-65536")
		}
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("crypto/rand: %w", err)
		}
		return base64.StdEncoding.EncodeToString(buf), nil
	}, false); err != nil {
		return err
	}

	if err := host.RegisterGoFunc(vm, "__cryptoRandomUUID", func() (string, error) {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", fmt.Errorf("crypto/rand: %w", err)
		}
		return id.String(), nil
	}, false); err != nil {
		return err
	}

	if err := host.EvalDiscard(vm, cryptoJS); err != nil {
		return fmt.Errorf("builtins: evaluating crypto: %w", err)
	}
	return nil
}

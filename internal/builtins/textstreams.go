package builtins

import (
	"fmt"

	"github.com/hostedat/jswit/internal/host"
	"modernc.org/quickjs"
)

// textStreamsJS implements TextEncoderStream and TextDecoderStream as pure
// JS polyfills over TransformStream.
const textStreamsJS = `
(function() {

class TextEncoderStream extends TransformStream {
	constructor() {
		const encoder = new TextEncoder();
		super({
			transform(chunk, controller) {
				if (typeof chunk !== 'string') {
					throw new TypeError('TextEncoderStream expects string chunks');
				}
				controller.enqueue(encoder.encode(chunk));
			}
		});
		this._encoding = 'utf-8';
	}
	get encoding() { return this._encoding; }
}

class TextDecoderStream extends TransformStream {
	constructor(label, options) {
		const decoder = new TextDecoder(label, options);
		super({
			transform(chunk, controller) {
				let data;
				if (chunk instanceof ArrayBuffer) {
					data = new Uint8Array(chunk);
				} else if (ArrayBuffer.isView(chunk)) {
					data = new Uint8Array(chunk.buffer, chunk.byteOffset, chunk.byteLength);
				} else {
					throw new TypeError('TextDecoderStream expects BufferSource chunks');
				}
				const text = decoder.decode(data, { stream: true });
				if (text.length > 0) controller.enqueue(text);
			},
			flush(controller) {
				const text = decoder.decode();
				if (text.length > 0) controller.enqueue(text);
			}
		});
		this._encoding = decoder.encoding || 'utf-8';
	}
	get encoding() { return this._encoding; }
}

class IdentityTransformStream extends TransformStream {
	constructor() { super(); }
}

globalThis.TextEncoderStream = TextEncoderStream;
globalThis.TextDecoderStream = TextDecoderStream;
globalThis.IdentityTransformStream = IdentityTransformStream;

})();
`

// SetupTextStreams evaluates the text stream polyfills. Must run after
// SetupStreams (for TransformStream). TextEncoder/TextDecoder are only looked
// up when a stream is constructed, so SetupWebAPI may install them later.
func SetupTextStreams(vm *quickjs.VM, _ *host.EventLoop) error {
	if err := host.EvalDiscard(vm, textStreamsJS); err != nil {
		return fmt.Errorf("builtins: evaluating text streams: %w", err)
	}
	return nil
}

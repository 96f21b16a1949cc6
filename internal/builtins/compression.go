package builtins

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/andybalholm/brotli"
	"github.com/hostedat/jswit/internal/host"
	"modernc.org/quickjs"
)

const maxDecompressedSize = 128 * 1024 * 1024

// compressStreamState holds the Go-side state for one streaming compressor
// or decompressor. Compression writes compressed chunks into buf;
// decompression feeds an io.Pipe into a background goroutine running the
// decompressor, which accumulates decompressed output incrementally.
type compressStreamState struct {
	buf    bytes.Buffer
	writer io.WriteCloser

	decompPW   *io.PipeWriter
	decompMu   sync.Mutex
	decompOut  bytes.Buffer
	decompErr  error
	decompDone chan struct{}
}

var (
	compressStreamsMu  sync.Mutex
	compressStreams    = map[string]*compressStreamState{}
	compressStreamNext uint64
)

func newCompressStreamID() string {
	return strconv.FormatUint(atomic.AddUint64(&compressStreamNext, 1), 10)
}

func newCompressWriter(buf *bytes.Buffer, format string) (io.WriteCloser, error) {
	switch format {
	case "gzip":
		return gzip.NewWriter(buf), nil
	case "deflate", "deflate-raw":
		return flate.NewWriter(buf, flate.DefaultCompression)
	case "br":
		return brotli.NewWriter(buf), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// compressionJS implements CompressionStream/DecompressionStream as
// TransformStream-backed classes over the Go streaming primitives below.
const compressionJS = `
(function() {

function __chunkToUint8Array(chunk) {
	if (typeof chunk === 'string') {
		return new TextEncoder().encode(chunk);
	} else if (chunk instanceof ArrayBuffer) {
		return new Uint8Array(chunk);
	} else if (ArrayBuffer.isView(chunk)) {
		return new Uint8Array(chunk.buffer, chunk.byteOffset, chunk.byteLength);
	} else {
		return new TextEncoder().encode(String(chunk));
	}
}

function __b64ToUint8Array(b64) {
	var buf = __b64ToBuffer(b64);
	return new Uint8Array(buf);
}

class CompressionStream {
	constructor(format) {
		if (format !== 'gzip' && format !== 'deflate' && format !== 'deflate-raw' && format !== 'br') {
			throw new TypeError('Unsupported compression format: ' + format);
		}
		var streamID = __compressInit(format);
		var ts = new TransformStream({
			transform(chunk, controller) {
				var data = __chunkToUint8Array(chunk);
				var resultB64 = __compressChunk(streamID, __bufferSourceToB64(data));
				if (resultB64.length > 0) controller.enqueue(__b64ToUint8Array(resultB64));
			},
			flush(controller) {
				var resultB64 = __compressFlush(streamID);
				if (resultB64.length > 0) controller.enqueue(__b64ToUint8Array(resultB64));
			}
		});
		this.readable = ts.readable;
		this.writable = ts.writable;
	}
}

class DecompressionStream {
	constructor(format) {
		if (format !== 'gzip' && format !== 'deflate' && format !== 'deflate-raw' && format !== 'br') {
			throw new TypeError('Unsupported compression format: ' + format);
		}
		var streamID = __decompressInit(format);
		var ts = new TransformStream({
			transform(chunk, controller) {
				var data = __chunkToUint8Array(chunk);
				var resultB64 = __decompressChunk(streamID, __bufferSourceToB64(data));
				if (resultB64.length > 0) controller.enqueue(__b64ToUint8Array(resultB64));
			},
			flush(controller) {
				var resultB64 = __decompressFlush(streamID);
				if (resultB64.length > 0) controller.enqueue(__b64ToUint8Array(resultB64));
			}
		});
		this.readable = ts.readable;
		this.writable = ts.writable;
	}
}

globalThis.CompressionStream = CompressionStream;
globalThis.DecompressionStream = DecompressionStream;

})();
`

// SetupCompression registers the Go-backed streaming compress/decompress
// primitives and evaluates the CompressionStream/DecompressionStream
// classes. Must run after SetupStreams, SetupEncoding, and SetupWebAPI
// (for __bufferSourceToB64/__b64ToBuffer).
func SetupCompression(vm *quickjs.VM, _ *host.EventLoop) error {
	if err := host.RegisterGoFunc(vm, "__compressInit", func(format string) (string, error) {
		ss := &compressStreamState{}
		w, err := newCompressWriter(&ss.buf, format)
		if err != nil {
			return "", fmt.Errorf("compressInit: %w", err)
		}
		ss.writer = w

		streamID := newCompressStreamID()
		compressStreamsMu.Lock()
		compressStreams[streamID] = ss
		compressStreamsMu.Unlock()
		return streamID, nil
	}, false); err != nil {
		return err
	}

	if err := host.RegisterGoFunc(vm, "__compressChunk", func(streamID, dataB64 string) (string, error) {
		data, err := base64.StdEncoding.DecodeString(dataB64)
		if err != nil {
			return "", fmt.Errorf("compressChunk: invalid base64")
		}
		compressStreamsMu.Lock()
		ss, ok := compressStreams[streamID]
		compressStreamsMu.Unlock()
		if !ok {
			return "", fmt.Errorf("compressChunk: unknown stream")
		}
		ss.buf.Reset()
		if _, err := ss.writer.Write(data); err != nil {
			return "", fmt.Errorf("compressChunk: %w", err)
		}
		return base64.StdEncoding.EncodeToString(ss.buf.Bytes()), nil
	}, false); err != nil {
		return err
	}

	if err := host.RegisterGoFunc(vm, "__compressFlush", func(streamID string) (string, error) {
		compressStreamsMu.Lock()
		ss, ok := compressStreams[streamID]
		delete(compressStreams, streamID)
		compressStreamsMu.Unlock()
		if !ok {
			return "", fmt.Errorf("compressFlush: unknown stream")
		}
		ss.buf.Reset()
		if err := ss.writer.Close(); err != nil {
			return "", fmt.Errorf("compressFlush: %w", err)
		}
		return base64.StdEncoding.EncodeToString(ss.buf.Bytes()), nil
	}, false); err != nil {
		return err
	}

	if err := host.RegisterGoFunc(vm, "__decompressInit", func(format string) (string, error) {
		pr, pw := io.Pipe()
		ss := &compressStreamState{decompPW: pw, decompDone: make(chan struct{})}

		go func() {
			defer close(ss.decompDone)
			defer func() { _ = pr.Close() }()

			var reader io.ReadCloser
			switch format {
			case "gzip":
				r, err := gzip.NewReader(pr)
				if err != nil {
					ss.decompMu.Lock()
					ss.decompErr = err
					ss.decompMu.Unlock()
					return
				}
				reader = r
			case "deflate", "deflate-raw":
				reader = flate.NewReader(pr)
			case "br":
				reader = io.NopCloser(brotli.NewReader(pr))
			default:
				ss.decompMu.Lock()
				ss.decompErr = fmt.Errorf("unsupported format %q", format)
				ss.decompMu.Unlock()
				return
			}
			defer func() { _ = reader.Close() }()

			buf := make([]byte, 32*1024)
			for {
				n, err := reader.Read(buf)
				if n > 0 {
					ss.decompMu.Lock()
					ss.decompOut.Write(buf[:n])
					ss.decompMu.Unlock()
				}
				if err != nil {
					if err != io.EOF {
						ss.decompMu.Lock()
						ss.decompErr = err
						ss.decompMu.Unlock()
					}
					return
				}
			}
		}()

		streamID := newCompressStreamID()
		compressStreamsMu.Lock()
		compressStreams[streamID] = ss
		compressStreamsMu.Unlock()
		return streamID, nil
	}, false); err != nil {
		return err
	}

	if err := host.RegisterGoFunc(vm, "__decompressChunk", func(streamID, dataB64 string) (string, error) {
		data, err := base64.StdEncoding.DecodeString(dataB64)
		if err != nil {
			return "", fmt.Errorf("decompressChunk: invalid base64")
		}
		compressStreamsMu.Lock()
		ss, ok := compressStreams[streamID]
		compressStreamsMu.Unlock()
		if !ok {
			return "", fmt.Errorf("decompressChunk: unknown stream")
		}

		errCh := make(chan error, 1)
		go func() {
			_, werr := ss.decompPW.Write(data)
			errCh <- werr
		}()
		if werr := <-errCh; werr != nil {
			return "", fmt.Errorf("decompressChunk: %w", werr)
		}

		ss.decompMu.Lock()
		out := make([]byte, ss.decompOut.Len())
		copy(out, ss.decompOut.Bytes())
		ss.decompOut.Reset()
		derr := ss.decompErr
		ss.decompMu.Unlock()
		if derr != nil {
			return "", fmt.Errorf("decompressChunk: %w", derr)
		}
		if len(out) > maxDecompressedSize {
			return "", fmt.Errorf("decompressChunk: output exceeds maximum allowed size")
		}
		return base64.StdEncoding.EncodeToString(out), nil
	}, false); err != nil {
		return err
	}

	if err := host.RegisterGoFunc(vm, "__decompressFlush", func(streamID string) (string, error) {
		compressStreamsMu.Lock()
		ss, ok := compressStreams[streamID]
		delete(compressStreams, streamID)
		compressStreamsMu.Unlock()
		if !ok {
			return "", fmt.Errorf("decompressFlush: unknown stream")
		}

		_ = ss.decompPW.Close()
		<-ss.decompDone

		ss.decompMu.Lock()
		result := make([]byte, ss.decompOut.Len())
		copy(result, ss.decompOut.Bytes())
		ss.decompOut.Reset()
		derr := ss.decompErr
		ss.decompMu.Unlock()
		if derr != nil {
			return "", fmt.Errorf("decompressFlush: %w", derr)
		}
		return base64.StdEncoding.EncodeToString(result), nil
	}, false); err != nil {
		return err
	}

	return host.EvalDiscard(vm, compressionJS)
}

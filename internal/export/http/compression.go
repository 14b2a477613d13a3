package http

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compression type constants.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
	CompressionZlib   = "zlib"
	CompressionSnappy = "snappy"
)

// contentEncodings maps algorithms to their Content-Encoding value.
var contentEncodings = map[string]string{
	CompressionNone:   "",
	CompressionGzip:   "gzip",
	CompressionZstd:   "zstd",
	CompressionZlib:   "deflate",
	CompressionSnappy: "snappy",
}

// ValidCompression reports whether algorithm is supported. The empty
// string means none.
func ValidCompression(algorithm string) bool {
	if algorithm == "" {
		return true
	}

	_, ok := contentEncodings[algorithm]

	return ok
}

// Compressor compresses request bodies. It is safe for concurrent use by
// the batch processor's workers.
type Compressor struct {
	algorithm string
	zstd      *zstd.Encoder
	buffers   sync.Pool
}

// NewCompressor creates a Compressor for algorithm.
func NewCompressor(algorithm string) (*Compressor, error) {
	if !ValidCompression(algorithm) {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	c := &Compressor{
		algorithm: algorithm,
		buffers: sync.Pool{New: func() any {
			return new(bytes.Buffer)
		}},
	}

	if algorithm == CompressionZstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.zstd = enc
	}

	return c, nil
}

// ContentEncoding returns the Content-Encoding header value, or "" when
// the body is sent uncompressed.
func (c *Compressor) ContentEncoding() string {
	return contentEncodings[c.algorithm]
}

// Compress returns data encoded with the configured algorithm. The
// returned slice is owned by the caller.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case CompressionNone, "":
		return data, nil
	case CompressionZstd:
		return c.zstd.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	}

	buf := c.buffers.Get().(*bytes.Buffer)
	buf.Reset()

	defer c.buffers.Put(buf)

	var w io.WriteCloser

	switch c.algorithm {
	case CompressionGzip:
		w = gzip.NewWriter(buf)
	case CompressionZlib:
		w = zlib.NewWriter(buf)
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", c.algorithm)
	}

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%s write: %w", c.algorithm, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s close: %w", c.algorithm, err)
	}

	return bytes.Clone(buf.Bytes()), nil
}

// Close releases encoder resources.
func (c *Compressor) Close() error {
	if c.zstd != nil {
		return c.zstd.Close()
	}

	return nil
}

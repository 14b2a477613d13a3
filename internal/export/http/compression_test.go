package http

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decompress(t *testing.T, algorithm string, data []byte) []byte {
	t.Helper()

	var (
		r   io.Reader
		err error
	)

	switch algorithm {
	case CompressionGzip:
		r, err = gzip.NewReader(bytes.NewReader(data))
	case CompressionZlib:
		r, err = zlib.NewReader(bytes.NewReader(data))
	case CompressionZstd:
		var dec *zstd.Decoder

		dec, err = zstd.NewReader(bytes.NewReader(data))
		if err == nil {
			defer dec.Close()
		}

		r = dec
	case CompressionSnappy:
		out, err := snappy.Decode(nil, data)
		require.NoError(t, err)

		return out
	default:
		return data
	}

	require.NoError(t, err)

	out, err := io.ReadAll(r)
	require.NoError(t, err)

	return out
}

func TestCompressor_RoundTrip(t *testing.T) {
	original := []byte(strings.Repeat(`{"series":"FrameTime","avg":16.6,"min":15.1,"max":19.8}`+"\n", 20))

	tests := []struct {
		algorithm string
		encoding  string
	}{
		{algorithm: CompressionNone, encoding: ""},
		{algorithm: CompressionGzip, encoding: "gzip"},
		{algorithm: CompressionZstd, encoding: "zstd"},
		{algorithm: CompressionZlib, encoding: "deflate"},
		{algorithm: CompressionSnappy, encoding: "snappy"},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			c, err := NewCompressor(tt.algorithm)
			require.NoError(t, err)
			defer c.Close()

			assert.Equal(t, tt.encoding, c.ContentEncoding())

			compressed, err := c.Compress(original)
			require.NoError(t, err)

			if tt.algorithm != CompressionNone {
				assert.Less(t, len(compressed), len(original))
			}

			assert.Equal(t, original, decompress(t, tt.algorithm, compressed))
		})
	}
}

func TestCompressor_ReusesBuffers(t *testing.T) {
	c, err := NewCompressor(CompressionGzip)
	require.NoError(t, err)

	first, err := c.Compress([]byte("first payload"))
	require.NoError(t, err)

	second, err := c.Compress([]byte("second payload, longer than the first"))
	require.NoError(t, err)

	assert.Equal(t, []byte("first payload"), decompress(t, CompressionGzip, first))
	assert.Equal(t, []byte("second payload, longer than the first"), decompress(t, CompressionGzip, second))
}

func TestCompressor_Unsupported(t *testing.T) {
	_, err := NewCompressor("brotli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported compression algorithm")
}

func TestConfig_Validate(t *testing.T) {
	disabled := Config{}
	require.NoError(t, disabled.Validate())

	cfg := Config{Enabled: true, Address: "http://localhost:8080"}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, CompressionGzip, cfg.Compression)
	assert.True(t, cfg.IsKeepAlive())

	noAddr := cfg
	noAddr.Address = ""
	assert.ErrorContains(t, noAddr.Validate(), "address is required")

	bigBatch := cfg
	bigBatch.BatchSize = cfg.MaxQueueSize + 1
	assert.ErrorContains(t, bigBatch.Validate(), "batch_size cannot be greater")

	badCompression := cfg
	badCompression.Compression = "lzma"
	assert.ErrorContains(t, badCompression.Validate(), "invalid compression type")
}

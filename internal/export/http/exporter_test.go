package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	Series string  `json:"series"`
	Avg    float64 `json:"avg"`
}

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestExporter_ExportItems(t *testing.T) {
	var (
		body            []byte
		contentType     string
		contentEncoding string
		custom          string
		userAgent       string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		contentEncoding = r.Header.Get("Content-Encoding")
		custom = r.Header.Get("X-Custom-Header")
		userAgent = r.Header.Get("User-Agent")
		body, _ = io.ReadAll(r.Body)

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	exporter, err := NewExporter[testRecord](testLog(), Config{
		Enabled:     true,
		Address:     server.URL,
		Compression: CompressionGzip,
		Headers:     map[string]string{"X-Custom-Header": "test-value"},
	})
	require.NoError(t, err)
	defer exporter.Shutdown(context.Background())

	err = exporter.ExportItems(context.Background(), []*testRecord{
		{Series: "FPS", Avg: 60},
		nil,
		{Series: "Memory", Avg: 512},
	})
	require.NoError(t, err)

	assert.Equal(t, "application/x-ndjson", contentType)
	assert.Equal(t, "gzip", contentEncoding)
	assert.Equal(t, "test-value", custom)
	assert.True(t, strings.HasPrefix(userAgent, "stat2csv/"))

	lines := strings.Split(strings.TrimSpace(string(decompress(t, CompressionGzip, body))), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"series":"FPS"`)
	assert.Contains(t, lines[1], `"series":"Memory"`)
}

func TestExporter_StatusError(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{code: http.StatusInternalServerError, retryable: true},
		{code: http.StatusTooManyRequests, retryable: true},
		{code: http.StatusBadRequest, retryable: false},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.code)
		}))

		exporter, err := NewExporter[testRecord](testLog(), Config{
			Enabled:     true,
			Address:     server.URL,
			Compression: CompressionNone,
		})
		require.NoError(t, err)

		err = exporter.ExportItems(context.Background(), []*testRecord{{Series: "FPS"}})
		server.Close()

		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr), "code %d", tt.code)
		assert.Equal(t, tt.code, statusErr.Code)
		assert.Equal(t, tt.retryable, statusErr.Retryable())
	}
}

func TestExporter_EmptyBatch(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exporter, err := NewExporter[testRecord](testLog(), Config{Enabled: true, Address: server.URL})
	require.NoError(t, err)

	require.NoError(t, exporter.ExportItems(context.Background(), nil))
	require.NoError(t, exporter.ExportItems(context.Background(), []*testRecord{nil}))
	assert.Zero(t, calls.Load())
}

func TestNewExporter_InvalidConfig(t *testing.T) {
	_, err := NewExporter[testRecord](testLog(), Config{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

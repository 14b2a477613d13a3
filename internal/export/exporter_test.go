package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpexport "github.com/ethpandaops/stat2csv/internal/export/http"
)

func sampleRecords() []WindowRecord {
	end := time.Date(2025, 1, 2, 15, 30, 5, 0, time.UTC)

	return []WindowRecord{
		{
			SessionID: "s1", Context: "boss", WindowIndex: 4, WindowEnd: end,
			Elapsed: 5 * time.Second, Series: "FPS",
			Average: 58.5, Min: 40, Max: 61, Samples: 33,
		},
		{
			SessionID: "s1", Context: "boss", WindowIndex: 4, WindowEnd: end,
			Elapsed: 5 * time.Second, Series: "Memory",
			Average: 512, Min: 510, Max: 514, Samples: 33,
		},
	}
}

func TestClickHouseConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClickHouseConfig
		wantErr string
	}{
		{name: "disabled", cfg: ClickHouseConfig{}},
		{
			name: "valid",
			cfg:  ClickHouseConfig{Enabled: true, Endpoint: "localhost:9000", Database: "default"},
		},
		{
			name:    "no endpoint",
			cfg:     ClickHouseConfig{Enabled: true, Database: "default"},
			wantErr: "endpoint is required",
		},
		{
			name:    "no database",
			cfg:     ClickHouseConfig{Enabled: true, Endpoint: "localhost:9000"},
			wantErr: "database is required",
		},
		{
			name: "negative timeout",
			cfg: ClickHouseConfig{
				Enabled: true, Endpoint: "localhost:9000", Database: "default",
				InsertTimeout: -time.Second,
			},
			wantErr: "insert_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClickHouseWriter_Defaults(t *testing.T) {
	w := NewClickHouseWriter(testLog(), ClickHouseConfig{
		Endpoint: "localhost:9000",
		Database: "perf",
		Username: "recorder",
	})

	cfg := w.Config()
	assert.Equal(t, "window_stats", cfg.Table)
	assert.Equal(t, 10*time.Second, cfg.InsertTimeout)
	assert.Nil(t, w.Conn())
	assert.NoError(t, w.Stop())

	opts := cfg.Options()
	assert.Equal(t, []string{"localhost:9000"}, opts.Addr)
	assert.Equal(t, "perf", opts.Auth.Database)
	assert.Equal(t, "recorder", opts.Auth.Username)
	assert.Equal(t, clickhouse.CompressionLZ4, opts.Compression.Method)
	assert.Equal(t, 1, opts.MaxOpenConns)
}

func TestClickHouseExporter_NotStarted(t *testing.T) {
	h := NewHealthMetrics(testLog(), HealthConfig{Addr: "-"})
	e := NewClickHouseExporter(testLog(), NewClickHouseWriter(testLog(), ClickHouseConfig{}), h)

	assert.Equal(t, "clickhouse", e.Name())
	require.NoError(t, e.Export(context.Background(), nil))

	err := e.Export(context.Background(), sampleRecords())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not started")

	require.NoError(t, e.Stop())
}

func TestInsertQuery(t *testing.T) {
	q := insertQuery("perf", "window_stats")

	assert.Contains(t, q, "INSERT INTO perf.window_stats")
	assert.Contains(t, q, "session_id")
	assert.Contains(t, q, "meta_client_name")
}

type ndjsonCollector struct {
	mu   sync.Mutex
	rows []WindowJSON
}

func (c *ndjsonCollector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var row WindowJSON
		if err := json.Unmarshal(sc.Bytes(), &row); err == nil {
			c.rows = append(c.rows, row)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (c *ndjsonCollector) received() []WindowJSON {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]WindowJSON(nil), c.rows...)
}

func TestHTTPExporter_MirrorsWindows(t *testing.T) {
	collector := &ndjsonCollector{}
	server := httptest.NewServer(collector)
	defer server.Close()

	cfg := httpexport.DefaultConfig()
	cfg.Enabled = true
	cfg.Address = server.URL
	cfg.Compression = httpexport.CompressionNone
	cfg.BatchTimeout = 20 * time.Millisecond
	cfg.MetaClientName = "rig-1"

	e, err := NewHTTPExporter(testLog(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "http", e.Name())

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Export(context.Background(), sampleRecords()))

	require.Eventually(t, func() bool {
		return len(collector.received()) == 2
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, e.Stop())

	rows := collector.received()
	bySeries := map[string]WindowJSON{rows[0].Series: rows[0], rows[1].Series: rows[1]}

	fps := bySeries["FPS"]
	assert.Equal(t, "s1", fps.SessionID)
	assert.Equal(t, "boss", fps.Context)
	assert.Equal(t, uint32(4), fps.WindowIndex)
	assert.Equal(t, "2025-01-02 15:30:05.000", fps.WindowEnd)
	assert.InDelta(t, 5.0, fps.ElapsedSeconds, 1e-9)
	assert.InDelta(t, 58.5, fps.Avg, 1e-9)
	assert.Equal(t, uint32(33), fps.Samples)
	assert.Equal(t, "rig-1", fps.MetaClientName)

	assert.InDelta(t, 512.0, bySeries["Memory"].Avg, 1e-9)
}

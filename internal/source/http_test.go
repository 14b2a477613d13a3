package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractValues_TopLevel(t *testing.T) {
	vals, err := extractValues([]byte(`{"FrameTime":16.6,"GPUTime":9,"name":"game","nested":{"x":1}}`), nil)
	require.NoError(t, err)
	assert.Equal(t, Values{"FrameTime": 16.6, "GPUTime": 9}, vals)
}

func TestExtractValues_Paths(t *testing.T) {
	body := []byte(`{"stats":{"frame":{"ms":16.6},"gpu":"n/a"}}`)

	vals, err := extractValues(body, map[string]string{
		"FrameTime": "stats.frame.ms",
		"GPUTime":   "stats.gpu",
		"Missing":   "stats.none",
	})
	require.NoError(t, err)
	assert.Equal(t, Values{"FrameTime": 16.6}, vals)
}

func TestExtractValues_Invalid(t *testing.T) {
	_, err := extractValues([]byte(`{not json`), nil)
	require.Error(t, err)
}

func TestHTTP_PollsEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"FrameTime":16,"GameTime":12}`))
	}))
	defer srv.Close()

	h, err := NewHTTP(testLog(), HTTPConfig{
		Endpoint:     srv.URL,
		Headers:      map[string]string{"X-Token": "secret"},
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = h.Sample()
	require.ErrorIs(t, err, ErrNoData)

	require.NoError(t, h.Start(context.Background()))
	defer func() { require.NoError(t, h.Stop()) }()

	require.Eventually(t, func() bool {
		vals, err := h.Sample()

		return err == nil && vals["FrameTime"] == 16 && vals["GameTime"] == 12
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHTTP_Stale(t *testing.T) {
	h, err := NewHTTP(testLog(), HTTPConfig{Endpoint: "http://unused", StaleAfter: time.Millisecond})
	require.NoError(t, err)

	h.mu.Lock()
	h.values = Values{"A": 1}
	h.updated = time.Now().Add(-time.Second)
	h.mu.Unlock()

	_, err = h.Sample()
	require.ErrorIs(t, err, ErrStale)
}

func TestHTTP_RequiresEndpoint(t *testing.T) {
	_, err := NewHTTP(testLog(), HTTPConfig{})
	require.Error(t, err)
}

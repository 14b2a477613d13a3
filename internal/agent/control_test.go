package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/stat2csv/internal/export"
	"github.com/ethpandaops/stat2csv/internal/lifecycle"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	return log
}

type fakeSession struct {
	id      string
	label   string
	stopErr error
}

func (f *fakeSession) ID() string                    { return f.id }
func (f *fakeSession) Context() string               { return f.label }
func (f *fakeSession) Start(_ context.Context) error { return nil }
func (f *fakeSession) Stop() error                   { return f.stopErr }

// startControl serves control endpoints for a lifecycle of fake sessions.
func startControl(t *testing.T, stopErr error) (string, *lifecycle.Lifecycle) {
	t.Helper()

	var n atomic.Int32

	health := export.NewHealthMetrics(testLog(), export.HealthConfig{Addr: "127.0.0.1:0"})
	lc := lifecycle.New(testLog(), func(label string) (lifecycle.Session, error) {
		return &fakeSession{
			id:      fmt.Sprintf("s%d", n.Add(1)),
			label:   label,
			stopErr: stopErr,
		}, nil
	}, health)

	newControl(testLog(), lc, "auto").register(health)
	require.NoError(t, health.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())

	go func() { _ = lc.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-lc.Done()
		_ = health.Stop()
	})

	return "http://" + health.Addr(), lc
}

func doControl(t *testing.T, method, url string) (int, controlResponse) {
	t.Helper()

	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	var body controlResponse

	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}

	return resp.StatusCode, body
}

func TestControl_StartEndStatus(t *testing.T) {
	base, lc := startControl(t, nil)

	code, body := doControl(t, http.MethodGet, base+"/session")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", body.State)

	code, body = doControl(t, http.MethodPost, base+"/session/start?context=boss-fight")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "active", body.State)
	assert.Equal(t, "s1", body.SessionID)
	assert.Equal(t, "boss-fight", body.Context)
	assert.Equal(t, lifecycle.Active, lc.State())

	// Restart without a label falls back to the default.
	code, body = doControl(t, http.MethodPost, base+"/session/start")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "s2", body.SessionID)
	assert.Equal(t, "auto", body.Context)

	code, body = doControl(t, http.MethodPost, base+"/session/end")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", body.State)
	assert.Empty(t, body.SessionID)

	// Ending while idle is a no-op.
	code, _ = doControl(t, http.MethodPost, base+"/session/end")
	assert.Equal(t, http.StatusOK, code)
}

func TestControl_MethodNotAllowed(t *testing.T) {
	base, _ := startControl(t, nil)

	code, _ := doControl(t, http.MethodGet, base+"/session/start")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestControl_EndErrorReported(t *testing.T) {
	base, lc := startControl(t, errors.New("disk full"))

	code, _ := doControl(t, http.MethodPost, base+"/session/start?context=x")
	require.Equal(t, http.StatusOK, code)

	code, body := doControl(t, http.MethodPost, base+"/session/end")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, body.Error, "disk full")
	assert.Equal(t, "idle", body.State)
	assert.Equal(t, lifecycle.Idle, lc.State())
}

func TestControl_ClosedAfterExit(t *testing.T) {
	base, lc := startControl(t, nil)

	require.NoError(t, lc.OnProcessExit(context.Background()))
	<-lc.Done()

	code, body := doControl(t, http.MethodPost, base+"/session/start")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Error, lifecycle.ErrClosed.Error())
}

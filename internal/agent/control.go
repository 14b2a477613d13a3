package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/stat2csv/internal/export"
	"github.com/ethpandaops/stat2csv/internal/lifecycle"
)

// triggerTimeout bounds how long a control request waits for the
// lifecycle, which includes flushing the previous session.
const triggerTimeout = 30 * time.Second

// control exposes lifecycle triggers over HTTP.
type control struct {
	log          logrus.FieldLogger
	lc           *lifecycle.Lifecycle
	defaultLabel string
}

func newControl(log logrus.FieldLogger, lc *lifecycle.Lifecycle, defaultLabel string) *control {
	return &control{
		log:          log.WithField("component", "control"),
		lc:           lc,
		defaultLabel: defaultLabel,
	}
}

func (c *control) register(h *export.HealthMetrics) {
	h.Handle("POST /session/start", http.HandlerFunc(c.handleStart))
	h.Handle("POST /session/end", http.HandlerFunc(c.handleEnd))
	h.Handle("GET /session", http.HandlerFunc(c.handleStatus))
}

func (c *control) handleStart(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("context")
	if label == "" {
		label = c.defaultLabel
	}

	ctx, cancel := context.WithTimeout(r.Context(), triggerTimeout)
	defer cancel()

	c.reply(w, c.lc.OnSessionStart(ctx, label))
}

func (c *control) handleEnd(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), triggerTimeout)
	defer cancel()

	c.reply(w, c.lc.OnSessionEnd(ctx))
}

func (c *control) handleStatus(w http.ResponseWriter, _ *http.Request) {
	c.reply(w, nil)
}

type controlResponse struct {
	lifecycle.Status
	Error string `json:"error,omitempty"`
}

func (c *control) reply(w http.ResponseWriter, err error) {
	resp := controlResponse{Status: c.lc.Status()}
	code := http.StatusOK

	if err != nil {
		resp.Error = err.Error()

		switch {
		case errors.Is(err, lifecycle.ErrClosed):
			code = http.StatusServiceUnavailable
		case errors.Is(err, context.DeadlineExceeded):
			code = http.StatusGatewayTimeout
		default:
			code = http.StatusInternalServerError
		}

		c.log.WithError(err).Warn("Session trigger failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		c.log.WithError(encErr).Debug("Failed to write control response")
	}
}

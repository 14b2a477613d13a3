package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const maxResponseBytes = 1 << 20

var (
	// ErrNoData is returned before the first successful poll.
	ErrNoData = errors.New("no data polled yet")
	// ErrStale is returned when the last successful poll is too old.
	ErrStale = errors.New("polled data is stale")
)

// HTTPConfig configures a source that polls a JSON stats endpoint exposed
// by the host application.
type HTTPConfig struct {
	// Endpoint is the URL returning a JSON document of current values.
	Endpoint string `yaml:"endpoint"`

	// Paths maps series names to gjson paths within the document. When
	// empty, every top-level numeric field is reported under its key.
	Paths map[string]string `yaml:"paths"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers"`

	// PollInterval is the delay between polls. Defaults to 100ms.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Timeout bounds a single request. Defaults to 2s.
	Timeout time.Duration `yaml:"timeout"`

	// StaleAfter makes Sample fail once the last good poll is older than
	// this. Defaults to 5s.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// HTTP polls a JSON endpoint in the background and serves the latest
// values from memory, so Sample never blocks on the network.
type HTTP struct {
	log  logrus.FieldLogger
	cfg  HTTPConfig
	http *http.Client

	mu      sync.RWMutex
	values  Values
	updated time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

var (
	_ Source = (*HTTP)(nil)
	_ Runner = (*HTTP)(nil)
)

// NewHTTP creates an HTTP polling source.
func NewHTTP(log logrus.FieldLogger, cfg HTTPConfig) (*HTTP, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("http source endpoint is required")
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Second
	}

	return &HTTP{
		log:  log.WithField("source", "http"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		done: make(chan struct{}),
	}, nil
}

func (h *HTTP) Name() string { return "http" }

// Start begins polling.
func (h *HTTP) Start(ctx context.Context) error {
	ctx, h.cancel = context.WithCancel(ctx)

	go h.run(ctx)

	h.log.WithFields(logrus.Fields{
		"endpoint": h.cfg.Endpoint,
		"interval": h.cfg.PollInterval,
	}).Info("HTTP source started")

	return nil
}

// Stop halts polling and waits for the poller to exit.
func (h *HTTP) Stop() error {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}

	return nil
}

func (h *HTTP) Sample() (Values, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.updated.IsZero() {
		return nil, ErrNoData
	}

	if time.Since(h.updated) > h.cfg.StaleAfter {
		return nil, ErrStale
	}

	out := make(Values, len(h.values))
	for k, v := range h.values {
		out[k] = v
	}

	return out, nil
}

func (h *HTTP) run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	h.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pollOnce(ctx)
		}
	}
}

func (h *HTTP) pollOnce(ctx context.Context) {
	vals, err := h.poll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			h.log.WithError(err).Debug("Stats poll failed")
		}

		return
	}

	h.mu.Lock()
	h.values = vals
	h.updated = time.Now()
	h.mu.Unlock()
}

func (h *HTTP) poll(ctx context.Context) (Values, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	return extractValues(body, h.cfg.Paths)
}

// extractValues reads numeric values out of a JSON document.
func extractValues(body []byte, paths map[string]string) (Values, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("response is not valid JSON")
	}

	vals := make(Values, 16)

	if len(paths) == 0 {
		gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
			if value.Type == gjson.Number {
				vals[key.String()] = value.Float()
			}

			return true
		})

		return vals, nil
	}

	for name, path := range paths {
		res := gjson.GetBytes(body, path)
		if res.Type != gjson.Number {
			continue
		}

		vals[name] = res.Float()
	}

	return vals, nil
}

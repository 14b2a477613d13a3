package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "stat2csv"

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Addr is the listen address for the health metrics server.
	// Defaults to ":9090". Set to "-" to disable the server.
	Addr string `yaml:"addr"`
}

// Disabled reports whether the health server should not be started.
func (c HealthConfig) Disabled() bool {
	return c.Addr == "-"
}

// HealthMetrics exposes Prometheus metrics for recorder health. The
// metrics are usable whether or not the server was started.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	mux      *http.ServeMux
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Sampling.
	SamplesTotal   prometheus.Counter
	SampleErrors   *prometheus.CounterVec // source
	SampleInterval prometheus.Histogram   // observed tick spacing

	// Windows.
	WindowsClosed  prometheus.Counter
	WindowsSkipped prometheus.Counter
	WindowWidth    prometheus.Histogram // observed window width
	PendingWindows prometheus.Gauge

	// CSV log.
	WindowsFlushed prometheus.Counter
	FlushErrors    prometheus.Counter
	FlushDuration  prometheus.Histogram
	SummaryWrites  *prometheus.CounterVec // status

	// Sessions.
	SessionActive   prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsEnded   prometheus.Counter

	// Mirrors.
	MirrorRecords           *prometheus.CounterVec   // exporter
	MirrorErrors            *prometheus.CounterVec   // exporter, error_type
	ClickHouseConnected     prometheus.Gauge         // 1=yes, 0=no
	ClickHouseBatchDuration *prometheus.HistogramVec // operation

	running atomic.Bool
}

// NewHealthMetrics creates a new health metrics server.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		mux:      http.NewServeMux(),
		registry: reg,

		SamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Total sampling ticks that recorded at least one series.",
		}),
		SampleErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sample_errors_total",
				Help:      "Total failed source reads by source.",
			},
			[]string{"source"},
		),
		SampleInterval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sample_interval_seconds",
			Help:      "Observed time between sampling ticks.",
			Buckets:   []float64{0.01, 0.02, 0.03, 0.04, 0.05, 0.1, 0.25, 1},
		}),
		WindowsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_closed_total",
			Help:      "Total windows closed across all sessions.",
		}),
		WindowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_skipped_total",
			Help:      "Total window boundaries passed without any sample.",
		}),
		WindowWidth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "window_width_seconds",
			Help:      "Observed width of closed windows.",
			Buckets:   []float64{0.5, 0.9, 1, 1.05, 1.1, 1.25, 1.5, 2, 5},
		}),
		PendingWindows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_windows",
			Help:      "Closed windows not yet written to the CSV log.",
		}),
		WindowsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_flushed_total",
			Help:      "Total windows durably appended to the CSV log.",
		}),
		FlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_errors_total",
			Help:      "Total failed CSV appends.",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time to append and sync a batch of windows.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5}, // 100us-500ms
		}),
		SummaryWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "summary_writes_total",
				Help:      "Total summary file writes by status.",
			},
			[]string{"status"},
		),
		SessionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_active",
			Help:      "Whether a recording session is active (1=yes, 0=no).",
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total recording sessions started.",
		}),
		SessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total recording sessions ended.",
		}),
		MirrorRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mirror_records_total",
				Help:      "Total window records handed to mirrors by exporter.",
			},
			[]string{"exporter"},
		),
		MirrorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mirror_errors_total",
				Help:      "Total mirror export errors by exporter and error type.",
			},
			[]string{"exporter", "error_type"},
		),
		ClickHouseConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clickhouse_connected",
			Help:      "Whether the ClickHouse connection is established (1=yes, 0=no).",
		}),
		ClickHouseBatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "clickhouse_batch_duration_seconds",
				Help:      "Time to write a batch to ClickHouse by operation.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5}, // 1ms-500ms
			},
			[]string{"operation"},
		),
	}

	reg.MustRegister(
		h.SamplesTotal,
		h.SampleErrors,
		h.SampleInterval,
		h.WindowsClosed,
		h.WindowsSkipped,
		h.WindowWidth,
		h.PendingWindows,
		h.WindowsFlushed,
		h.FlushErrors,
		h.FlushDuration,
		h.SummaryWrites,
		h.SessionActive,
		h.SessionsStarted,
		h.SessionsEnded,
		h.MirrorRecords,
		h.MirrorErrors,
		h.ClickHouseConnected,
		h.ClickHouseBatchDuration,
	)

	return h
}

// Handle registers an extra handler on the health server. Must be called
// before Start.
func (h *HealthMetrics) Handle(pattern string, handler http.Handler) {
	h.mux.Handle(pattern, handler)
}

// Start begins serving /metrics, /healthz, pprof and any extra handlers.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9090"
	}

	h.mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	h.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	h.mux.HandleFunc("/debug/pprof/", pprof.Index)
	h.mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	h.mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	h.mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	h.mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: h.mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Registry returns the metrics registry.
func (h *HealthMetrics) Registry() *prometheus.Registry {
	return h.registry
}

// Stop shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}

// Package metrics exposes Prometheus collectors for the storage system
// and a standalone metrics listener, kept separate from the service
// listener so scraping is never affected by drain state.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifactstore_uploads_total",
			Help: "Total number of artifact store operations by outcome.",
		},
		[]string{"provider", "artifact_type", "result"},
	)
	UploadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "artifactstore_upload_duration_seconds",
			Help:    "Duration of artifact uploads including retries.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
	UploadRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifactstore_upload_retries_total",
			Help: "Total number of upload attempts beyond the first.",
		},
		[]string{"provider"},
	)
	ValidationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifactstore_validation_rejections_total",
			Help: "Store requests rejected before provider selection.",
		},
		[]string{"reason"},
	)
	SecurityRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "artifactstore_security_rejections_total",
			Help: "Operations rejected by key sanitization or path containment.",
		},
	)
	ServeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifactstore_serve_requests_total",
			Help: "Total number of file-serving requests by status.",
		},
		[]string{"status"},
	)
)

// Init registers all collectors with the default registry.
func Init() {
	prometheus.MustRegister(
		UploadsTotal,
		UploadDuration,
		UploadRetriesTotal,
		ValidationRejectionsTotal,
		SecurityRejectionsTotal,
		ServeRequestsTotal,
	)
}

// MetricsServer serves the Prometheus scrape endpoint on its own listener.
type MetricsServer struct {
	srv *http.Server
	log *slog.Logger
}

// New creates a metrics server listening on addr. The name is used only
// for log attribution.
func New(name, addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		log: slog.Default().With("component", name+"-metrics"),
	}, nil
}

// RunInBackground starts the listener in a goroutine.
func (m *MetricsServer) RunInBackground() {
	go func() {
		m.log.Info("Metrics server starting", "addr", m.srv.Addr)
		if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Error("Metrics server failed", "err", err)
		}
	}()
}

// Shutdown gracefully stops the listener.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sawpanic/etftrend/internal/metrics"
)

// metricsServer exposes the run's collectors while a command executes
type metricsServer struct {
	srv      *http.Server
	recorder *metrics.Prometheus
}

func newMetricsRouter(reg *prometheus.Registry) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	}).Methods(http.MethodGet)
	return r
}

func startMetricsServer(addr string, logger zerolog.Logger) (*metricsServer, error) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewPrometheus(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	srv := &http.Server{
		Handler:      newMetricsRouter(reg),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	return &metricsServer{srv: srv, recorder: rec}, nil
}

func (m *metricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

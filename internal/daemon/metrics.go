package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/config"
	"github.com/matheus3301/huddle/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsServer serves /metrics over HTTP. It is disabled when no address
// is configured.
type MetricsServer struct {
	addr   string
	srv    *http.Server
	ln     net.Listener
	logger *zap.Logger
}

// NewMetricsServer exports the default registry plus this daemon's bus
// drop and subscriber counts.
func NewMetricsServer(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *MetricsServer {
	local := prometheus.NewRegistry()
	local.MustRegister(
		metrics.BusDropsCollector(b.Dropped),
		metrics.BusSubscribersCollector(b.Subscribers),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		prometheus.Gatherers{prometheus.DefaultGatherer, local},
		promhttp.HandlerOpts{},
	))
	return &MetricsServer{
		addr:   cfg.MetricsAddr,
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
}

// Start listens on the configured address and serves in the background.
func (m *MetricsServer) Start() error {
	if m.addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", m.addr)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}
	m.ln = ln
	m.logger.Info("metrics server starting", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" when not serving.
func (m *MetricsServer) Addr() string {
	if m.ln == nil {
		return ""
	}
	return m.ln.Addr().String()
}

// Stop shuts the server down.
func (m *MetricsServer) Stop(ctx context.Context) {
	if m.ln == nil {
		return
	}
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Warn("metrics server shutdown", zap.Error(err))
	}
}

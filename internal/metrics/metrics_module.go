// Package metrics exposes the generator and publisher statistics counters
// as Prometheus collectors, plus the HTTP handler that serves them.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the metrics registry, the generator/publisher collector
// sets, and registers the Prometheus scrape handler.
var Module = fx.Options(
	fx.Provide(NewPrometheusRegistry),
	fx.Provide(NewGeneratorMetrics),
	fx.Provide(NewPublisherMetrics),
	fx.Invoke(RegisterMetricsHandler),
)

// NewPrometheusRegistry creates the registry every collector set registers
// itself into.
func NewPrometheusRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Config describes a scrape handler listen address. RegisterMetricsHandler
// does not take a Config; it always listens on ":9090".
type Config struct {
	Addr string
}

// RegisterMetricsHandler starts an HTTP server serving /metrics for
// registry, tied to the fx app lifecycle.
func RegisterMetricsHandler(lifecycle fx.Lifecycle, registry *prometheus.Registry, logger *zap.Logger) {
	addr := ":9090"
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}

	lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting metrics server", zap.String("addr", addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping metrics server")
			return server.Shutdown(ctx)
		},
	})
}

package adapters

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds the counters exported by the adapters. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	cache    *prometheus.CounterVec
	degraded *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "composer_repos",
			Name:      "http_requests_total",
			Help:      "Metadata requests by host and outcome",
		}, []string{"host", "outcome"}),
		cache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "composer_repos",
			Name:      "cache_lookups_total",
			Help:      "Metadata cache lookups by backend and result",
		}, []string{"backend", "result"}),
		degraded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "composer_repos",
			Name:      "degraded_repositories_total",
			Help:      "Repositories that fell back to cached metadata",
		}, []string{"repository"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) observeRequest(host string, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(host, outcome).Inc()
}

func (m *Metrics) observeCache(backend string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(backend, result).Inc()
}

// ObserveDegraded counts a repository entering degraded mode.
func (m *Metrics) ObserveDegraded(repository string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(repository).Inc()
}

// Serve exposes the registry on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	log.Ctx(ctx).Info().Str("addr", addr).Msg("serving metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

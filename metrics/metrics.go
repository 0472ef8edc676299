// Package metrics exposes Prometheus collectors for monitor activity.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "deploy_monitor"

// Collector records event outcomes, open monitors and stream reconnects. A nil
// *Collector is valid and records nothing.
type Collector struct {
	events     *prometheus.CounterVec
	open       prometheus.Gauge
	reconnects prometheus.Counter
}

// New registers the collectors with reg, reusing collectors that are already
// registered so several monitors in one process share the same series.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound deployment events by kind and dispatch outcome",
		}, []string{"kind", "outcome"}),
		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_monitors",
			Help:      "Number of monitors currently open",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Successful event stream reconnects",
		}),
	}

	if err := reg.Register(c.events); err != nil {
		existing, ok := alreadyRegistered[*prometheus.CounterVec](err)
		if !ok {
			return nil, fmt.Errorf("register events_total: %w", err)
		}
		c.events = existing
	}
	if err := reg.Register(c.open); err != nil {
		existing, ok := alreadyRegistered[prometheus.Gauge](err)
		if !ok {
			return nil, fmt.Errorf("register open_monitors: %w", err)
		}
		c.open = existing
	}
	if err := reg.Register(c.reconnects); err != nil {
		existing, ok := alreadyRegistered[prometheus.Counter](err)
		if !ok {
			return nil, fmt.Errorf("register stream_reconnects_total: %w", err)
		}
		c.reconnects = existing
	}
	return c, nil
}

func alreadyRegistered[T prometheus.Collector](err error) (T, bool) {
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, true
		}
	}
	var zero T
	return zero, false
}

func (c *Collector) ObserveEvent(kind, outcome string) {
	if c == nil {
		return
	}
	if kind == "" {
		kind = "none"
	}
	c.events.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) MonitorOpened() {
	if c == nil {
		return
	}
	c.open.Inc()
}

func (c *Collector) MonitorClosed() {
	if c == nil {
		return
	}
	c.open.Dec()
}

func (c *Collector) StreamReconnected() {
	if c == nil {
		return
	}
	c.reconnects.Inc()
}

// Serve exposes gatherer on :port/metrics until ctx is cancelled.
func Serve(ctx context.Context, port int, gatherer prometheus.Gatherer, logger zerolog.Logger) error {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", port).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

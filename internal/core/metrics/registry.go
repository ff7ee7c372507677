package metrics

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pennine-ops/wms-alerting-go/pkg/errors"
)

// Provider supplies current values for a set of named metrics. Values are
// returned as strings; the evaluator coerces them when comparing against
// numeric thresholds.
type Provider interface {
	Metrics() []string
	Collect(ctx context.Context, metric string) (string, error)
}

// Registry routes metric lookups to the provider that serves them
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallback  Provider
	logger    *logrus.Logger
}

// NewRegistry creates a new metric registry
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		logger:    logger,
	}
}

// SetFallback installs the provider consulted for metrics no registered
// provider declares. Pushed gauges arrive after registration, so the
// gauge provider is installed here.
func (r *Registry) SetFallback(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Register adds a provider for all metrics it declares. A later
// registration for the same metric name wins.
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, metric := range provider.Metrics() {
		r.providers[metric] = provider
	}
}

// Value resolves the current value of a metric
func (r *Registry) Value(ctx context.Context, metric string) (string, error) {
	r.mu.RLock()
	provider, ok := r.providers[metric]
	if !ok {
		provider = r.fallback
	}
	r.mu.RUnlock()

	if provider == nil {
		return "", errors.NewConfiguration("unknown metric: " + metric)
	}

	if !ok {
		value, err := provider.Collect(ctx, metric)
		if err != nil {
			return "", errors.NewConfiguration("unknown metric: " + metric)
		}
		return value, nil
	}

	value, err := provider.Collect(ctx, metric)
	if err != nil {
		r.logger.WithError(err).WithField("metric", metric).Warn("Metric collection failed")
		return "", errors.NewTransient("failed to collect metric "+metric, err)
	}

	return value, nil
}

// MetricNames returns all registered metric names
func (r *Registry) MetricNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// GaugeProvider holds externally pushed metric values. Warehouse feeds
// report readings through the API and rules evaluate against the latest
// value seen.
type GaugeProvider struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewGaugeProvider creates an empty gauge provider
func NewGaugeProvider() *GaugeProvider {
	return &GaugeProvider{values: make(map[string]string)}
}

// Set records the latest value for a metric
func (g *GaugeProvider) Set(metric, value string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[metric] = value
}

// Metrics returns the metric names currently held
func (g *GaugeProvider) Metrics() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.values))
	for name := range g.values {
		names = append(names, name)
	}
	return names
}

// Collect returns the last pushed value for a metric
func (g *GaugeProvider) Collect(ctx context.Context, metric string) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	value, ok := g.values[metric]
	if !ok {
		return "", errors.NewNotFound("metric", metric)
	}
	return value, nil
}

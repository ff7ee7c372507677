package metrics

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennine-ops/wms-alerting-go/pkg/errors"
)

type staticProvider struct {
	values map[string]string
}

func (p *staticProvider) Metrics() []string {
	names := make([]string, 0, len(p.values))
	for name := range p.values {
		names = append(names, name)
	}
	return names
}

func (p *staticProvider) Collect(ctx context.Context, metric string) (string, error) {
	return p.values[metric], nil
}

func TestRegistryRoutesToProvider(t *testing.T) {
	registry := NewRegistry(logrus.New())
	registry.Register(&staticProvider{values: map[string]string{
		"warehouse.stuck_orders": "7",
	}})

	value, err := registry.Value(context.Background(), "warehouse.stuck_orders")
	require.NoError(t, err)
	assert.Equal(t, "7", value)
}

func TestRegistryUnknownMetric(t *testing.T) {
	registry := NewRegistry(logrus.New())

	_, err := registry.Value(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestRegistryFallbackGauge(t *testing.T) {
	registry := NewRegistry(logrus.New())
	gauge := NewGaugeProvider()
	registry.SetFallback(gauge)

	_, err := registry.Value(context.Background(), "warehouse.pallet_queue")
	require.Error(t, err, "gauge has no value yet")

	gauge.Set("warehouse.pallet_queue", "12")

	value, err := registry.Value(context.Background(), "warehouse.pallet_queue")
	require.NoError(t, err)
	assert.Equal(t, "12", value)
}

func TestRegistryLaterRegistrationWins(t *testing.T) {
	registry := NewRegistry(logrus.New())
	registry.Register(&staticProvider{values: map[string]string{"m": "1"}})
	registry.Register(&staticProvider{values: map[string]string{"m": "2"}})

	value, err := registry.Value(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, "2", value)
}

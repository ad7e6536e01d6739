package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := New(registry)

	if m.TransfersTotal == nil || m.TransferErrors == nil || m.StoreOperations == nil {
		t.Fatalf("expected key metrics to be initialized: %+v", m)
	}

	m.TransfersTotal.Inc()
	m.TransferErrors.WithLabelValues("UPI003").Inc()
	m.TransferAmount.Observe(5000)

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	if len(metricFamilies) == 0 {
		t.Fatalf("expected registered metrics, got none")
	}
}

func TestNewWithSeparateRegistries(t *testing.T) {
	// Two instances must not collide as long as they use distinct registries.
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())

	a.TransfersTotal.Inc()
	b.TransfersTotal.Inc()
}

// Package metrics exposes Prometheus metrics for the persistence gateway.
package metrics

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
)

// Registry holds the gateway metrics and the Go runtime collectors.
type Registry struct {
	registry *prometheus.Registry
}

// NewRegistry creates a registry with the gateway and runtime collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(gatewayOperationsTotal)
	reg.MustRegister(gatewayOperationDuration)
	reg.MustRegister(gatewayTransactionsInFlight)

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Registry{registry: reg}
}

// WriteText writes every metric family whose name starts with prefix in the
// text exposition format. An empty prefix writes everything.
func (r *Registry) WriteText(w io.Writer, prefix string) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), prefix) {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode metric family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValues gathers reg and returns counter values keyed by family name and label value
func counterValues(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, f := range families {
		for _, m := range f.GetMetric() {
			key := f.GetName()
			for _, l := range m.GetLabel() {
				key += "/" + l.GetValue()
			}
			if c := m.GetCounter(); c != nil {
				values[key] = c.GetValue()
			}
		}
	}
	return values
}

func TestNewMetrics_RegistersOnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.FilesIndexedTotal.WithLabelValues("ok").Inc()
	m.FilesIndexedTotal.WithLabelValues("malformed_block").Add(2)
	m.BlobPutsTotal.WithLabelValues("deduplicated").Inc()

	values := counterValues(t, reg)
	assert.Equal(t, float64(1), values["musicmaid_files_indexed_total/ok"])
	assert.Equal(t, float64(2), values["musicmaid_files_indexed_total/malformed_block"])
	assert.Equal(t, float64(1), values["musicmaid_blob_puts_total/deduplicated"])
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	regA := prometheus.NewRegistry()
	regB := prometheus.NewRegistry()
	a := NewMetrics(regA)
	NewMetrics(regB)

	a.RewritesTotal.WithLabelValues("in_place").Inc()

	assert.Equal(t, float64(1), counterValues(t, regA)["musicmaid_rewrites_total/in_place"])
	assert.NotContains(t, counterValues(t, regB), "musicmaid_rewrites_total/in_place")
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard().BlobsPrunedTotal.Add(3)
		Discard().BlobsPrunedTotal.Add(3)
	})
}

package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels prometheus.Labels) float64 {
	t.Helper()
	c, err := vec.GetMetricWith(labels)
	require.NoError(t, err)
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestNew_RegistersAgainstInjectedRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := New(reg, false)
	require.NoError(t, err)
	require.NotNil(t, sink)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["entity_cache_lookups_total"])
	assert.True(t, names["entity_cache_invalidated_keys_total"])
}

func TestNew_DoubleRegisterAgainstSameRegistererFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg, false)
	require.NoError(t, err)

	_, err = New(reg, false)
	assert.Error(t, err)
}

func TestRecordLookup_SeparatePerTypeFalseCollapsesTypename(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := New(reg, false)
	require.NoError(t, err)

	sink.RecordLookup("inventory", "Product", true)
	sink.RecordLookup("inventory", "Review", false)

	assert.Equal(t, 2.0, counterValue(t, sink.lookups, prometheus.Labels{"subgraph": "inventory", "typename": "", "outcome": "hit"})+
		counterValue(t, sink.lookups, prometheus.Labels{"subgraph": "inventory", "typename": "", "outcome": "miss"}))
}

func TestRecordLookup_SeparatePerTypeTrueKeepsTypename(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := New(reg, true)
	require.NoError(t, err)

	sink.RecordLookup("inventory", "Product", true)
	sink.RecordLookup("inventory", "Review", false)

	assert.Equal(t, 1.0, counterValue(t, sink.lookups, prometheus.Labels{"subgraph": "inventory", "typename": "Product", "outcome": "hit"}))
	assert.Equal(t, 1.0, counterValue(t, sink.lookups, prometheus.Labels{"subgraph": "inventory", "typename": "Review", "outcome": "miss"}))
}

func TestRecordInvalidation_AddsDeletedCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := New(reg, false)
	require.NoError(t, err)

	sink.RecordInvalidation("inventory", "external", 3)
	sink.RecordInvalidation("inventory", "external", 2)

	assert.Equal(t, 5.0, counterValue(t, sink.invalidation, prometheus.Labels{"subgraph": "inventory", "origin": "external"}))
}

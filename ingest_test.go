package main

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, declarations ...MappingConfig) *Pipeline {
	t.Helper()
	mappings, err := compileMappings(declarations)
	require.NoError(t, err)
	return NewPipeline(NewRouter(mappings), NewSink(), newSelfMetrics(prometheus.NewRegistry()))
}

func TestIngestUpdatesSink(t *testing.T) {
	p := newTestPipeline(t, MappingConfig{Subscribe: "sensors/#"})

	p.Ingest("sensors/foo", []byte("12"))

	fam := gatherFamily(t, p.sink, "sensors_foo")
	require.Len(t, fam.Metric, 1)
	assert.Equal(t, 12.0, fam.Metric[0].GetGauge().GetValue())
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.messagesReceived))
}

func TestIngestRunningCounterTotal(t *testing.T) {
	p := newTestPipeline(t, MappingConfig{
		Subscribe:  "bitlair/pos/product",
		MetricType: "counter",
		Labels:     map[string]LabelSource{"product": {Payload: true}},
	})

	p.Ingest("bitlair/pos/product", []byte("Tosti"))
	p.Ingest("bitlair/pos/product", []byte("Tosti"))

	fam := gatherFamily(t, p.sink, "bitlair_pos_product")
	require.Len(t, fam.Metric, 1)
	assert.Equal(t, 2.0, fam.Metric[0].GetCounter().GetValue())
}

func TestIngestDropsInvalidUTF8(t *testing.T) {
	p := newTestPipeline(t, MappingConfig{Subscribe: "sensors/#"})

	p.Ingest("sensors/foo", []byte{0xff, 0xfe, 0xfd})

	families, err := p.sink.Registry().Gather()
	require.NoError(t, err)
	assert.Empty(t, families, "no instrument may be created for an undecodable event")
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.decodeFailures))
}

func TestIngestCountsUnmatched(t *testing.T) {
	p := newTestPipeline(t, MappingConfig{Subscribe: "sensors/#"})

	p.Ingest("actuators/foo", []byte("1"))

	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.unmatchedTopics))
}

func TestIngestCountsExtractionFailures(t *testing.T) {
	p := newTestPipeline(t, MappingConfig{Subscribe: "sensors/#"})

	p.Ingest("sensors/foo", []byte("not a number"))

	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.extractionFailures))
	families, err := p.sink.Registry().Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}

func TestIngestContinuesAcrossMappings(t *testing.T) {
	// Two mappings tie on the same topic; a failure in one must not
	// stop the other.
	p := newTestPipeline(t,
		MappingConfig{Subscribe: "sensors/+location/power", MetricName: "power_regex", ValueRegex: `^v=(\d+)$`},
		MappingConfig{Subscribe: "sensors/+zone/power", MetricName: "power_raw"},
	)

	p.Ingest("sensors/foo/power", []byte("12"))

	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.extractionFailures))
	fam := gatherFamily(t, p.sink, "power_raw")
	require.Len(t, fam.Metric, 1)
	assert.Equal(t, 12.0, fam.Metric[0].GetGauge().GetValue())
}

func TestIngestSinkErrorCounted(t *testing.T) {
	p := newTestPipeline(t,
		MappingConfig{Subscribe: "a/+x", MetricName: "same_name"},
		MappingConfig{Subscribe: "b/+y/+z", MetricName: "same_name"},
	)

	p.Ingest("a/one", []byte("1"))
	p.Ingest("b/one/two", []byte("2"))

	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.sinkErrors))
}

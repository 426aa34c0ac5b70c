package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Described("gemini")
	m.Described("gemini")
	m.Skipped("gemini")
	m.Failed("ollama", "provider")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.photosProcessed.WithLabelValues("gemini", "described")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.photosProcessed.WithLabelValues("gemini", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.photoErrors.WithLabelValues("ollama", "provider")))

	done := m.TrackRequest("gemini")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inflight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inflight))
	assert.Equal(t, 1, testutil.CollectAndCount(m.providerDuration))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Described("x")
		m.Skipped("x")
		m.Failed("x", "y")
		m.TrackRequest("x")()
	})
}

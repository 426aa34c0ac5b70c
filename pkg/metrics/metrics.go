package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "photosearch"

// Metrics 处理流程的 Prometheus 指标。nil 接收者上的方法均为空操作
type Metrics struct {
	photosProcessed  *prometheus.CounterVec
	photoErrors      *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	inflight         prometheus.Gauge
}

// New 在 reg 上注册全部指标
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		photosProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "photos_processed_total",
			Help:      "Photos that finished processing, by provider and outcome (described or skipped).",
		}, []string{"provider", "outcome"}),
		photoErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "photo_errors_total",
			Help:      "Photos that failed processing, by provider and error kind.",
		}, []string{"provider", "kind"}),
		providerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Latency of describe calls to the AI provider.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"provider"}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_inflight",
			Help:      "Provider calls currently in flight.",
		}),
	}
}

func (m *Metrics) Described(provider string) {
	if m == nil {
		return
	}
	m.photosProcessed.WithLabelValues(provider, "described").Inc()
}

func (m *Metrics) Skipped(provider string) {
	if m == nil {
		return
	}
	m.photosProcessed.WithLabelValues(provider, "skipped").Inc()
}

func (m *Metrics) Failed(provider, kind string) {
	if m == nil {
		return
	}
	m.photoErrors.WithLabelValues(provider, kind).Inc()
}

// TrackRequest 记录一次提供方调用，返回的函数在调用结束时执行
func (m *Metrics) TrackRequest(provider string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.inflight.Inc()
	return func() {
		m.inflight.Dec()
		m.providerDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}
}

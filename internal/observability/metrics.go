package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	Sessions         *prometheus.CounterVec
	Transcriptions   *prometheus.CounterVec
	Matches          *prometheus.CounterVec
	Enforcements     *prometheus.CounterVec
	NormalizeSeconds prometheus.Histogram
	WhisperSeconds   prometheus.Histogram
}

// NewMetrics registers instruments on reg. Pass a fresh registry in
// tests to avoid duplicate-registration panics.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of speaker sessions currently open.",
		}),
		Sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Speaker sessions by outcome.",
		}, []string{"outcome"}),
		Transcriptions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Transcription runs by status.",
		}, []string{"status"}),
		Matches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Banned-term matches by term.",
		}, []string{"term"}),
		Enforcements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enforcements_total",
			Help:      "Enforcement actions by kind.",
		}, []string{"action"}),
		NormalizeSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "normalize_seconds",
			Help:      "Wall time of the audio normalization process.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		WhisperSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "whisper_seconds",
			Help:      "Wall time of the transcription process.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
}

func (m *Metrics) ObserveNormalize(d time.Duration) {
	m.NormalizeSeconds.Observe(d.Seconds())
}

func (m *Metrics) ObserveWhisper(d time.Duration) {
	m.WhisperSeconds.Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

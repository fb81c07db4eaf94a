package chat

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report conversation activity.
type Metrics struct {
	turns        *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	inflight     prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics instance registered with the
// global Prometheus registry. The collectors are created only once so that every
// controller in the process reports into the same series.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Tests should pass a fresh prometheus.NewRegistry(). Registration errors other
// than an identical collector already being registered panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	turns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finchat",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Chat turns by outcome.",
		},
		[]string{"outcome"},
	)
	turnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finchat",
			Subsystem: "chat",
			Name:      "turn_duration_seconds",
			Help:      "Time from submit until the assistant reply settled.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finchat",
			Subsystem: "chat",
			Name:      "retries_total",
			Help:      "User-initiated retries by entry point.",
		},
		[]string{"entry"},
	)
	inflight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "finchat",
			Subsystem: "chat",
			Name:      "turns_inflight",
			Help:      "Number of assistant replies currently streaming.",
		},
	)

	collectors := []prometheus.Collector{turns, turnDuration, retries, inflight}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				// Reuse the existing collector when it matches the expected type.
				switch target := collector.(type) {
				case *prometheus.HistogramVec:
					turnDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case *prometheus.CounterVec:
					switch target { //nolint:exhaustive
					case turns:
						turns = already.ExistingCollector.(*prometheus.CounterVec)
					case retries:
						retries = already.ExistingCollector.(*prometheus.CounterVec)
					}
				case prometheus.Gauge:
					inflight = already.ExistingCollector.(prometheus.Gauge)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		turns:        turns,
		turnDuration: turnDuration,
		retries:      retries,
		inflight:     inflight,
	}
}

// ObserveTurn records a finished turn with its outcome.
func (m *Metrics) ObserveTurn(outcome Outcome, duration time.Duration) {
	if m == nil || m.turns == nil {
		return
	}
	m.turns.WithLabelValues(string(outcome)).Inc()
	m.turnDuration.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}

// IncRetry counts a retry from the given entry point ("last" or "bubble").
func (m *Metrics) IncRetry(entry string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(entry).Inc()
}

// IncInflight marks a reply as streaming.
func (m *Metrics) IncInflight() {
	if m == nil || m.inflight == nil {
		return
	}
	m.inflight.Inc()
}

// DecInflight marks a streaming reply as settled.
func (m *Metrics) DecInflight() {
	if m == nil || m.inflight == nil {
		return
	}
	m.inflight.Dec()
}

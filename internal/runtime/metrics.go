package runtime

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/gnssflow/internal/runtime/consumer"
)

const metricsNamespace = "gnssflow"

// ingestMetrics exports consumer events to Prometheus. It implements
// consumer.Observer.
type ingestMetrics struct {
	messages   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	replies    *prometheus.CounterVec
	state      prometheus.Gauge
	reconnects prometheus.Counter
}

func newIngestMetrics(reg prometheus.Registerer) (*ingestMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &ingestMetrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_total",
			Help:      "Deliveries settled, by queue, message type and outcome.",
		}, []string{"queue", "type", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "message_duration_seconds",
			Help:      "Time from delivery to settlement.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"queue", "type"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "replies_total",
			Help:      "Registration replies, by outcome.",
		}, []string{"outcome"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "consumer_state",
			Help:      "Consumer lifecycle state: 0 disconnected, 1 connecting, 2 subscribed, 3 consuming, 4 error, 5 closed.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnects_total",
			Help:      "Successful broker reconnections after a lost session.",
		}),
	}

	var err error
	if m.messages, err = register(reg, m.messages); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.replies, err = register(reg, m.replies); err != nil {
		return nil, err
	}
	if m.state, err = register(reg, m.state); err != nil {
		return nil, err
	}
	if m.reconnects, err = register(reg, m.reconnects); err != nil {
		return nil, err
	}
	return m, nil
}

// register returns the already registered collector when an identical one
// exists, so several services can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *ingestMetrics) StateChanged(state consumer.State) {
	m.state.Set(float64(state))
}

func (m *ingestMetrics) Reconnected() {
	m.reconnects.Inc()
}

func (m *ingestMetrics) Received(string) {}

func (m *ingestMetrics) Settled(queue, messageType string, outcome consumer.Outcome, took time.Duration) {
	if messageType == "" {
		messageType = "unknown"
	}
	m.messages.WithLabelValues(queue, messageType, string(outcome)).Inc()
	m.duration.WithLabelValues(queue, messageType).Observe(took.Seconds())
}

func (m *ingestMetrics) Replied(ok bool) {
	outcome := "published"
	if !ok {
		outcome = "abandoned"
	}
	m.replies.WithLabelValues(outcome).Inc()
}

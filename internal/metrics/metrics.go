package metrics

import (
	"connector-queue-manager/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "connector_queues"
)

var (
	// Broker Metrics
	QueueMessages = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_messages",
		Help:      "Messages held by a broker queue at the last poll.",
	}, []string{"queue"})

	QueueConsumers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_consumers",
		Help:      "Consumers attached to a broker queue at the last poll.",
	}, []string{"queue"})

	BrokerUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "broker_up",
		Help:      "1 if the broker connection was healthy at the last check.",
	})

	PollFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_failures_total",
		Help:      "Count of failed broker polls.",
	}, []string{"poll"})

	// Lifecycle Metrics
	RegisteredConnectors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registered_connectors",
		Help:      "Number of connectors with a registry entry.",
	})

	RegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registrations_total",
		Help:      "Count of connector registration attempts.",
	}, []string{"status"})

	DeregistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deregistrations_total",
		Help:      "Count of connector deregistration attempts.",
	}, []string{"status"})

	DrainedMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "drained_messages_total",
		Help:      "Messages discarded by deleting connector queues.",
	}, []string{"direction"})

	PushedMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pushed_messages_total",
		Help:      "Messages published to connector listen queues.",
	})
)

// Status label values
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusPartial = "partial"
)

// ObserveSnapshot replaces the per-queue gauges with the snapshot's values.
// Queues missing from the snapshot are dropped so deleted queues stop
// reporting.
func ObserveSnapshot(snap models.BrokerMetricsSnapshot) {
	QueueMessages.Reset()
	QueueConsumers.Reset()
	for _, q := range snap.Queues {
		QueueMessages.WithLabelValues(q.Name).Set(float64(q.MessageCount))
		QueueConsumers.WithLabelValues(q.Name).Set(float64(q.ConsumerCount))
	}
}

// ObserveDrain adds a deregistration's drained counts
func ObserveDrain(report models.DrainReport) {
	DrainedMessagesTotal.WithLabelValues("listen").Add(float64(report.Listen.MessageCount))
	DrainedMessagesTotal.WithLabelValues("push").Add(float64(report.Push.MessageCount))
}

func SetBrokerUp(up bool) {
	if up {
		BrokerUp.Set(1)
		return
	}
	BrokerUp.Set(0)
}

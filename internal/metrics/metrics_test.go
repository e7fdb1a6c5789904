package metrics

import (
	"testing"

	"connector-queue-manager/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveSnapshot_ReplacesQueues(t *testing.T) {
	ObserveSnapshot(models.BrokerMetricsSnapshot{Queues: []models.QueueStats{
		{Name: "listen_a", MessageCount: 3, ConsumerCount: 1},
		{Name: "push_a", MessageCount: 0},
	}})
	assert.Equal(t, 3.0, testutil.ToFloat64(QueueMessages.WithLabelValues("listen_a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(QueueConsumers.WithLabelValues("listen_a")))
	assert.Equal(t, 2, testutil.CollectAndCount(QueueMessages))

	ObserveSnapshot(models.BrokerMetricsSnapshot{Queues: []models.QueueStats{
		{Name: "listen_b", MessageCount: 7},
	}})
	assert.Equal(t, 1, testutil.CollectAndCount(QueueMessages))
	assert.Equal(t, 7.0, testutil.ToFloat64(QueueMessages.WithLabelValues("listen_b")))
}

func TestObserveDrain(t *testing.T) {
	listen := testutil.ToFloat64(DrainedMessagesTotal.WithLabelValues("listen"))
	push := testutil.ToFloat64(DrainedMessagesTotal.WithLabelValues("push"))

	ObserveDrain(models.DrainReport{
		Listen: models.QueueDrain{MessageCount: 4},
		Push:   models.QueueDrain{MessageCount: 1},
	})

	assert.Equal(t, listen+4, testutil.ToFloat64(DrainedMessagesTotal.WithLabelValues("listen")))
	assert.Equal(t, push+1, testutil.ToFloat64(DrainedMessagesTotal.WithLabelValues("push")))
}

func TestSetBrokerUp(t *testing.T) {
	SetBrokerUp(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(BrokerUp))
	SetBrokerUp(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(BrokerUp))
}

package queue

import (
	"context"
	"errors"

	"connector-queue-manager/internal/models"
)

// ErrBrokerUnavailable is returned when the broker connection is down or a
// call did not complete before its deadline. Callers own the retry policy.
var ErrBrokerUnavailable = errors.New("broker unavailable")

const (
	ExchangeDirect = "direct"
	ExchangeTopic  = "topic"
	ExchangeFanout = "fanout"
)

type HealthStatus struct {
	OK      bool
	Details string
}

// Provider is the broker client used by every component.
//
// Declare calls must be idempotent: repeating a declare with the same
// arguments is a no-op and never resets the contents of an existing queue.
type Provider interface {
	Connect(ctx context.Context) error
	Close() error
	Health() HealthStatus

	// URI is the connection string handed to connectors
	URI() string
	Connection() models.ConnectionInfo

	DeclareExchange(ctx context.Context, name, kind string) error
	DeclareQueue(ctx context.Context, name string, args map[string]interface{}) error
	BindQueue(ctx context.Context, queue, exchange, routingKey string, args map[string]interface{}) error
	// DeleteQueue returns the number of messages the queue held. Deleting a
	// missing queue returns 0 and no error.
	DeleteQueue(ctx context.Context, name string) (int, error)
	Publish(ctx context.Context, exchange, routingKey string, body []byte, headers map[string]interface{}) error

	// Query actual state from provider
	Overview(ctx context.Context) (models.BrokerOverview, error)
	ListQueues(ctx context.Context) ([]models.QueueStats, error)
	ListExchanges(ctx context.Context) ([]string, error)
}

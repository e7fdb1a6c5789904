package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ConnectorStatus describes where a registry entry is in its lifecycle
type ConnectorStatus string

const (
	StatusActive ConnectorStatus = "active"
	// StatusCleanupPending marks a connector whose deregistration failed after
	// at least one of its queues was already deleted.
	StatusCleanupPending ConnectorStatus = "cleanup_pending"
)

// ConnectionInfo is the broker endpoint broken out of the AMQP URI so that
// connectors do not need to parse it themselves
type ConnectionInfo struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	VHost  string `json:"vhost"`
	UseSSL bool   `json:"use_ssl"`
	User   string `json:"user"`
	Pass   string `json:"pass"`
}

// RoutingMeta carries the connector type and scope. It never takes part in
// resource naming.
type RoutingMeta struct {
	Type  string `json:"type"`
	Scope string `json:"scope"`
}

// ConnectorQueueConfig is the immutable resource set provisioned for one connector
type ConnectorQueueConfig struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	URI            string         `json:"uri"`
	Push           string         `json:"push"`
	PushRouting    string         `json:"push_routing"`
	PushExchange   string         `json:"push_exchange"`
	Listen         string         `json:"listen"`
	ListenRouting  string         `json:"listen_routing"`
	ListenExchange string         `json:"listen_exchange"`
	Routing        RoutingMeta    `json:"routing"`
	Connection     ConnectionInfo `json:"connection"`
}

// Value implements the driver.Valuer interface so the config can be stored in a JSONB column
func (c ConnectorQueueConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements the sql.Scanner interface
func (c *ConnectorQueueConfig) Scan(value interface{}) error {
	if value == nil {
		*c = ConnectorQueueConfig{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported config column type %T", value)
	}
	return json.Unmarshal(raw, c)
}

// QueueDrain is the number of messages a queue held when it was deleted
type QueueDrain struct {
	MessageCount int `json:"messageCount"`
}

// DrainReport is returned by deregistration. Counted messages are discarded.
type DrainReport struct {
	Listen QueueDrain `json:"listen"`
	Push   QueueDrain `json:"push"`
}

// Add returns the sum of two reports
func (r DrainReport) Add(other DrainReport) DrainReport {
	return DrainReport{
		Listen: QueueDrain{MessageCount: r.Listen.MessageCount + other.Listen.MessageCount},
		Push:   QueueDrain{MessageCount: r.Push.MessageCount + other.Push.MessageCount},
	}
}

// ConnectorRecord is a registry entry as held in memory and persisted by the repository
type ConnectorRecord struct {
	ID        int64                `json:"-"`
	UUID      string               `json:"uuid"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	Status    ConnectorStatus      `json:"status"`
	Config    ConnectorQueueConfig `json:"config"`
	// Drained accumulates counts from deregistration attempts that did not complete
	Drained DrainReport `json:"drained"`
}

// BrokerOverview is the version/build information reported by the broker
type BrokerOverview struct {
	ManagementVersion string `json:"management_version"`
	RabbitMQVersion   string `json:"rabbitmq_version"`
	ErlangVersion     string `json:"erlang_version"`
	Node              string `json:"node"`
}

// QueueStats is the runtime state of one broker queue
type QueueStats struct {
	Name          string `json:"name"`
	MessageCount  int    `json:"message_count"`
	ConsumerCount int    `json:"consumer_count"`
}

// BrokerMetricsSnapshot is recomputed on every query and never persisted
type BrokerMetricsSnapshot struct {
	Overview BrokerOverview `json:"overview"`
	Queues   []QueueStats   `json:"queues"`
}

// Queue returns the stats for the named queue
func (s BrokerMetricsSnapshot) Queue(name string) (QueueStats, bool) {
	for _, q := range s.Queues {
		if q.Name == name {
			return q, true
		}
	}
	return QueueStats{}, false
}

// APIResponse is the envelope every HTTP endpoint answers with
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

type LookupFunc func(key string) (string, bool)

const (
	DefaultListenExchange = "amqp.connector.exchange"
	DefaultPushExchange   = "amqp.worker.exchange"
	DefaultBrokerTimeout  = 10 * time.Second
	DefaultConnectRetries = 5
	DefaultSchedule       = "@every 30s"
	DefaultEventsSubject  = "connectors.events"
	DefaultBrokerVersion  = "3.11"
)

type Config struct {
	AppHost       string
	AppPort       string
	PostgresURI   string
	RabbitAMQPURI string
	RabbitHTTPURI string
	QueueProvider string

	// Shared exchanges every connector queue is bound to
	ListenExchange string
	PushExchange   string

	BrokerTimeout         time.Duration
	BrokerConnectRetries  int
	ExpectedBrokerVersion string

	HealthSchedule  string
	MetricsSchedule string

	NATSURL       string
	EventsSubject string
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.AppHost, c.AppPort)
}

func LoadFromEnv(lookup LookupFunc) (Config, error) {
	cfg := Config{}

	var ok bool
	if cfg.AppHost, ok = lookup("APP_HOST"); !ok || cfg.AppHost == "" {
		return Config{}, errors.New("APP_HOST is required")
	}
	if cfg.AppPort, ok = lookup("APP_PORT"); !ok || cfg.AppPort == "" {
		return Config{}, errors.New("APP_PORT is required")
	}

	// Optional at this stage; validated when specific integrations are enabled
	cfg.PostgresURI = optional(lookup, "POSTGRES_URI", "")
	cfg.RabbitAMQPURI = optional(lookup, "RABBITMQ_AMQP_URI", "")
	cfg.RabbitHTTPURI = optional(lookup, "RABBITMQ_HTTP_URI", "")
	cfg.QueueProvider = optional(lookup, "QUEUE_PROVIDER", "RABBITMQ")

	cfg.ListenExchange = optional(lookup, "CONNECTOR_LISTEN_EXCHANGE", DefaultListenExchange)
	cfg.PushExchange = optional(lookup, "CONNECTOR_PUSH_EXCHANGE", DefaultPushExchange)
	if cfg.ListenExchange == cfg.PushExchange {
		return Config{}, errors.New("CONNECTOR_LISTEN_EXCHANGE and CONNECTOR_PUSH_EXCHANGE must differ")
	}

	var err error
	if cfg.BrokerTimeout, err = durationValue(lookup, "BROKER_TIMEOUT", DefaultBrokerTimeout); err != nil {
		return Config{}, err
	}
	if cfg.BrokerConnectRetries, err = intValue(lookup, "BROKER_CONNECT_RETRIES", DefaultConnectRetries); err != nil {
		return Config{}, err
	}
	cfg.ExpectedBrokerVersion = optional(lookup, "EXPECTED_BROKER_VERSION", DefaultBrokerVersion)

	cfg.HealthSchedule = optional(lookup, "HEALTH_SCHEDULE", DefaultSchedule)
	cfg.MetricsSchedule = optional(lookup, "METRICS_SCHEDULE", DefaultSchedule)

	cfg.NATSURL = optional(lookup, "NATS_URL", "")
	cfg.EventsSubject = optional(lookup, "EVENTS_SUBJECT", DefaultEventsSubject)
	return cfg, nil
}

func optional(lookup LookupFunc, key, def string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return def
}

func durationValue(lookup LookupFunc, key string, def time.Duration) (time.Duration, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func intValue(lookup LookupFunc, key string, def int) (int, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return n, nil
}

// Package events publishes connector lifecycle events for other platform
// services. Publishing is best effort: a lost event never fails the
// operation that produced it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"connector-queue-manager/internal/models"

	"github.com/nats-io/nats.go"
)

type Type string

const (
	ConnectorRegistered     Type = "connector.registered"
	ConnectorUnregistered   Type = "connector.unregistered"
	ConnectorCleanupPending Type = "connector.cleanup_pending"
)

// Event is the JSON document published for each lifecycle change
type Event struct {
	Type        Type                `json:"type"`
	ConnectorID string              `json:"connector_id"`
	Listen      string              `json:"listen,omitempty"`
	Push        string              `json:"push,omitempty"`
	Drained     *models.DrainReport `json:"drained,omitempty"`
	Error       string              `json:"error,omitempty"`
	Timestamp   int64               `json:"timestamp"`
}

// NewEvent stamps an event for cfg with the current time
func NewEvent(t Type, cfg models.ConnectorQueueConfig) Event {
	return Event{
		Type:        t,
		ConnectorID: cfg.ID,
		Listen:      cfg.Listen,
		Push:        cfg.Push,
		Timestamp:   time.Now().Unix(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// Nop drops every event. Used when NATS_URL is unset.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close()                               {}

// NATSPublisher publishes events as JSON on a single subject
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
	publish func(subject string, data []byte) error
}

func NewNATSPublisher(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("connector-queue-manager"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", url, err)
	}

	logger = logger.With("component", "events")
	logger.Info("event publisher connected", "url", url, "subject", subject)

	return &NATSPublisher{
		conn:    conn,
		subject: subject,
		logger:  logger,
		publish: conn.Publish,
	}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}
	if err := p.publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	p.logger.Debug("published event", "type", event.Type, "connector_id", event.ConnectorID)
	return nil
}

func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
		p.logger.Info("event publisher disconnected")
	}
}

func (p *NATSPublisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Close() {}

// Events returns a copy of everything published so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the type of each published event in order
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

package connector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"connector-queue-manager/internal/models"
	"connector-queue-manager/internal/queue"
)

const (
	defaultRollbackTimeout = 10 * time.Second

	argConnectorType  = "x-connector-type"
	argConnectorScope = "x-connector-scope"
)

// Request describes a connector asking for its queues
type Request struct {
	ID    string
	Name  string
	Type  string
	Scope string
}

// Exchanges names the two shared exchanges. They are process-wide
// singletons, declared at startup and never deleted by this package.
type Exchanges struct {
	Listen string
	Push   string
}

type Provisioner struct {
	broker          queue.Provider
	exchanges       Exchanges
	rollbackTimeout time.Duration
	logger          *slog.Logger
}

func NewProvisioner(broker queue.Provider, exchanges Exchanges, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		broker:          broker,
		exchanges:       exchanges,
		rollbackTimeout: defaultRollbackTimeout,
		logger:          logger.With("component", "provisioner"),
	}
}

// Config assembles the resource set for a request without touching the broker
func (p *Provisioner) Config(req Request) models.ConnectorQueueConfig {
	return models.ConnectorQueueConfig{
		ID:             req.ID,
		Name:           req.Name,
		URI:            p.broker.URI(),
		Push:           PushQueue(req.ID),
		PushRouting:    PushRoutingKey(req.ID),
		PushExchange:   p.exchanges.Push,
		Listen:         ListenQueue(req.ID),
		ListenRouting:  ListenRoutingKey(req.ID),
		ListenExchange: p.exchanges.Listen,
		Routing:        models.RoutingMeta{Type: req.Type, Scope: req.Scope},
		Connection:     p.broker.Connection(),
	}
}

// DeclareExchanges declares both shared exchanges. Safe to repeat.
func (p *Provisioner) DeclareExchanges(ctx context.Context) error {
	for _, name := range []string{p.exchanges.Listen, p.exchanges.Push} {
		if err := p.broker.DeclareExchange(ctx, name, queue.ExchangeDirect); err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}
	return nil
}

// Provision declares the connector's listen and push queues and binds them
// to the shared exchanges. On failure every queue touched by this attempt is
// deleted again before the error is returned.
func (p *Provisioner) Provision(ctx context.Context, req Request) (models.ConnectorQueueConfig, error) {
	cfg := p.Config(req)

	if err := p.DeclareExchanges(ctx); err != nil {
		return models.ConnectorQueueConfig{}, err
	}

	var touched []string
	for _, b := range bindingsFor(cfg) {
		// A declare that times out may still have created the queue
		touched = append(touched, b.queue)
		if err := p.declare(ctx, b); err != nil {
			p.rollback(req.ID, touched)
			return models.ConnectorQueueConfig{}, fmt.Errorf("provision connector %s: %w", req.ID, err)
		}
	}

	p.logger.Info("connector queues provisioned",
		"connector_id", req.ID, "listen", cfg.Listen, "push", cfg.Push)
	return cfg, nil
}

// Ensure re-declares the queues of an existing config without rollback.
// Existing queue contents are kept.
func (p *Provisioner) Ensure(ctx context.Context, cfg models.ConnectorQueueConfig) error {
	for _, b := range bindingsFor(cfg) {
		if err := p.declare(ctx, b); err != nil {
			return fmt.Errorf("ensure connector %s: %w", cfg.ID, err)
		}
	}
	return nil
}

// Rollback deletes both queues of cfg, discarding their contents
func (p *Provisioner) Rollback(cfg models.ConnectorQueueConfig) {
	p.rollback(cfg.ID, []string{cfg.Listen, cfg.Push})
}

type queueBinding struct {
	queue      string
	exchange   string
	routingKey string
	args       map[string]interface{}
}

func bindingsFor(cfg models.ConnectorQueueConfig) []queueBinding {
	args := routingArgs(cfg.Routing)
	return []queueBinding{
		{queue: cfg.Listen, exchange: cfg.ListenExchange, routingKey: cfg.ListenRouting, args: args},
		{queue: cfg.Push, exchange: cfg.PushExchange, routingKey: cfg.PushRouting, args: args},
	}
}

func routingArgs(r models.RoutingMeta) map[string]interface{} {
	args := map[string]interface{}{}
	if r.Type != "" {
		args[argConnectorType] = r.Type
	}
	if r.Scope != "" {
		args[argConnectorScope] = r.Scope
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

func (p *Provisioner) declare(ctx context.Context, b queueBinding) error {
	if err := p.broker.DeclareQueue(ctx, b.queue, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", b.queue, err)
	}
	if err := p.broker.BindQueue(ctx, b.queue, b.exchange, b.routingKey, b.args); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
	}
	return nil
}

// rollback runs on a fresh context; the caller's may already have expired
func (p *Provisioner) rollback(id string, queues []string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.rollbackTimeout)
	defer cancel()

	for _, name := range queues {
		if _, err := p.broker.DeleteQueue(ctx, name); err != nil {
			p.logger.Warn("rollback left queue behind",
				"connector_id", id, "queue", name, "error", err)
			continue
		}
		p.logger.Info("rolled back queue", "connector_id", id, "queue", name)
	}
}

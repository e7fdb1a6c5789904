package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"connector-queue-manager/internal/config"
	"connector-queue-manager/internal/connector"
	"connector-queue-manager/internal/queue"
	"connector-queue-manager/internal/queue/rabbitmq"
)

const ProviderRabbitMQ = "RABBITMQ"

// NewProvider builds the broker client selected by QUEUE_PROVIDER
func NewProvider(cfg config.Config) (queue.Provider, error) {
	name := strings.ToUpper(strings.TrimSpace(cfg.QueueProvider))
	switch name {
	case "", ProviderRabbitMQ:
		p := rabbitmq.NewWithHTTP(cfg.RabbitAMQPURI, cfg.RabbitHTTPURI)
		if cfg.BrokerTimeout > 0 {
			p.SetTimeout(cfg.BrokerTimeout)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported QUEUE_PROVIDER %q", cfg.QueueProvider)
	}
}

// Exchanges returns the shared exchange names from config
func Exchanges(cfg config.Config) connector.Exchanges {
	return connector.Exchanges{Listen: cfg.ListenExchange, Push: cfg.PushExchange}
}

// Result describes what a bootstrap pass declared
type Result struct {
	Restored int
	Ensured  []string
	Skipped  []string
	Errors   []string
}

// Run prepares a freshly connected broker: it declares the shared
// exchanges, restores the registry from its store, and re-declares the
// queues of every active connector.
func Run(ctx context.Context, p *connector.Provisioner, r *connector.Registry, logger *slog.Logger) (*Result, error) {
	if err := p.DeclareExchanges(ctx); err != nil {
		return &Result{}, err
	}
	records, err := r.LoadFromStore(ctx)
	if err != nil {
		return &Result{}, err
	}
	result := ensureAll(ctx, r, logger)
	result.Restored = len(records)
	return result, nil
}

// Redeclare repeats the broker side of Run without touching the store.
// Used after a reconnect.
func Redeclare(ctx context.Context, p *connector.Provisioner, r *connector.Registry, logger *slog.Logger) (*Result, error) {
	if err := p.DeclareExchanges(ctx); err != nil {
		return &Result{}, err
	}
	return ensureAll(ctx, r, logger), nil
}

func ensureAll(ctx context.Context, r *connector.Registry, logger *slog.Logger) *Result {
	if logger == nil {
		logger = slog.Default()
	}
	result := &Result{Ensured: []string{}, Skipped: []string{}, Errors: []string{}}
	for _, rec := range r.List() {
		id := rec.Config.ID
		ensured, err := r.Repair(ctx, id)
		switch {
		case err != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("connector %s: %v", id, err))
			logger.Warn("could not ensure connector queues", "component", "bootstrap", "connector_id", id, "error", err)
		case ensured:
			result.Ensured = append(result.Ensured, id)
		default:
			result.Skipped = append(result.Skipped, id)
		}
	}
	logger.Info("bootstrap completed", "component", "bootstrap",
		"ensured", len(result.Ensured), "skipped", len(result.Skipped), "errors", len(result.Errors))
	return result
}

// Package brokerstats reads broker-wide state from the management API: the
// overview block and per-queue depth and consumer counts.
package brokerstats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"connector-queue-manager/internal/models"
	"connector-queue-manager/internal/queue"

	"golang.org/x/sync/errgroup"
)

var ErrMetricsUnavailable = errors.New("broker metrics unavailable")

// Source is the part of queue.Provider the aggregator reads from
type Source interface {
	Overview(ctx context.Context) (models.BrokerOverview, error)
	ListQueues(ctx context.Context) ([]models.QueueStats, error)
}

var _ Source = (queue.Provider)(nil)

type Aggregator struct {
	source Source
	logger *slog.Logger
}

func NewAggregator(source Source, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{source: source, logger: logger.With("component", "brokerstats")}
}

// Snapshot fetches the overview and the queue list concurrently. Either
// failure fails the whole snapshot; a partial one is never returned.
func (a *Aggregator) Snapshot(ctx context.Context) (models.BrokerMetricsSnapshot, error) {
	var (
		overview models.BrokerOverview
		queues   []models.QueueStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ov, err := a.source.Overview(gctx)
		if err != nil {
			return fmt.Errorf("overview: %w", err)
		}
		overview = ov
		return nil
	})
	g.Go(func() error {
		qs, err := a.source.ListQueues(gctx)
		if err != nil {
			return fmt.Errorf("queues: %w", err)
		}
		queues = qs
		return nil
	})
	if err := g.Wait(); err != nil {
		a.logger.Warn("broker snapshot failed", "error", err)
		return models.BrokerMetricsSnapshot{}, fmt.Errorf("%w: %w", ErrMetricsUnavailable, err)
	}

	return models.BrokerMetricsSnapshot{
		Overview: overview,
		Queues:   normalize(queues),
	}, nil
}

// BrokerVersion returns the management plugin version, falling back to the
// server version on brokers that leave it empty.
func (a *Aggregator) BrokerVersion(ctx context.Context) (string, error) {
	ov, err := a.source.Overview(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMetricsUnavailable, err)
	}
	if ov.ManagementVersion != "" {
		return ov.ManagementVersion, nil
	}
	if ov.RabbitMQVersion != "" {
		return ov.RabbitMQVersion, nil
	}
	return "", fmt.Errorf("%w: overview carries no version", ErrMetricsUnavailable)
}

// CheckVersion reports whether version belongs to the expected release
// line. expected is a dotted prefix such as "3.11"; "3.11.28" matches it,
// "3.110.0" does not.
func CheckVersion(version, expected string) bool {
	version = strings.TrimSpace(version)
	expected = strings.TrimSuffix(strings.TrimSpace(expected), ".")
	if version == "" || expected == "" {
		return false
	}
	if version == expected {
		return true
	}
	return strings.HasPrefix(version, expected+".")
}

// normalize keeps one entry per queue name, the last reported, sorted by name
func normalize(queues []models.QueueStats) []models.QueueStats {
	byName := make(map[string]models.QueueStats, len(queues))
	for _, q := range queues {
		byName[q.Name] = q
	}
	out := make([]models.QueueStats, 0, len(byName))
	for _, q := range byName {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

package brokerstats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"connector-queue-manager/internal/models"
	"connector-queue-manager/internal/queue"
	"connector-queue-manager/internal/queue/queuetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSource is a mock implementation of Source
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Overview(ctx context.Context) (models.BrokerOverview, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.BrokerOverview), args.Error(1)
}

func (m *MockSource) ListQueues(ctx context.Context) ([]models.QueueStats, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.QueueStats), args.Error(1)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSnapshot_FromBroker(t *testing.T) {
	ctx := context.Background()
	b := queuetest.New()
	require.NoError(t, b.DeclareExchange(ctx, "ex", queue.ExchangeDirect))
	require.NoError(t, b.DeclareQueue(ctx, "push_c1", nil))
	require.NoError(t, b.DeclareQueue(ctx, "listen_c1", nil))
	require.NoError(t, b.BindQueue(ctx, "listen_c1", "ex", "k", nil))
	require.NoError(t, b.Publish(ctx, "ex", "k", []byte(`{}`), nil))
	b.SetConsumers("listen_c1", 2)

	snap, err := NewAggregator(b, discard()).Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, "3.11.28", snap.Overview.ManagementVersion)
	require.Len(t, snap.Queues, 2)
	assert.Equal(t, "listen_c1", snap.Queues[0].Name)
	assert.Equal(t, 1, snap.Queues[0].MessageCount)
	assert.Equal(t, 2, snap.Queues[0].ConsumerCount)

	push, ok := snap.Queue("push_c1")
	require.True(t, ok)
	assert.Zero(t, push.MessageCount)
}

func TestSnapshot_DeduplicatesAndSorts(t *testing.T) {
	src := new(MockSource)
	src.On("Overview", mock.Anything).Return(models.BrokerOverview{ManagementVersion: "3.11.2"}, nil)
	src.On("ListQueues", mock.Anything).Return([]models.QueueStats{
		{Name: "b", MessageCount: 1},
		{Name: "a", MessageCount: 2},
		{Name: "b", MessageCount: 5},
	}, nil)

	snap, err := NewAggregator(src, discard()).Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []models.QueueStats{
		{Name: "a", MessageCount: 2},
		{Name: "b", MessageCount: 5},
	}, snap.Queues)
}

func TestSnapshot_EmptyBroker(t *testing.T) {
	snap, err := NewAggregator(queuetest.New(), discard()).Snapshot(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, snap.Queues)
	assert.Empty(t, snap.Queues)
}

func TestSnapshot_Failures(t *testing.T) {
	tests := []struct {
		name string
		op   queuetest.Op
	}{
		{name: "overview fails", op: queuetest.OpOverview},
		{name: "queue list fails", op: queuetest.OpListQueues},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := queuetest.New()
			b.FailAlways(tt.op, errors.New("503 Service Unavailable"))

			snap, err := NewAggregator(b, discard()).Snapshot(context.Background())
			assert.ErrorIs(t, err, ErrMetricsUnavailable)
			assert.Empty(t, snap.Queues)
			assert.Empty(t, snap.Overview.ManagementVersion)
		})
	}
}

func TestSnapshot_BrokerDown(t *testing.T) {
	b := queuetest.New()
	b.Disconnect()

	_, err := NewAggregator(b, discard()).Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrMetricsUnavailable)
	assert.ErrorIs(t, err, queue.ErrBrokerUnavailable)
}

func TestBrokerVersion(t *testing.T) {
	tests := []struct {
		name     string
		overview models.BrokerOverview
		want     string
		wantErr  bool
	}{
		{name: "management version", overview: models.BrokerOverview{ManagementVersion: "3.11.9", RabbitMQVersion: "3.11.8"}, want: "3.11.9"},
		{name: "falls back to server version", overview: models.BrokerOverview{RabbitMQVersion: "3.11.8"}, want: "3.11.8"},
		{name: "no version", overview: models.BrokerOverview{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := new(MockSource)
			src.On("Overview", mock.Anything).Return(tt.overview, nil)

			got, err := NewAggregator(src, discard()).BrokerVersion(context.Background())
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMetricsUnavailable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBrokerVersion_Unavailable(t *testing.T) {
	b := queuetest.New()
	b.FailAlways(queuetest.OpOverview, errors.New("connection refused"))

	_, err := NewAggregator(b, discard()).BrokerVersion(context.Background())
	assert.ErrorIs(t, err, ErrMetricsUnavailable)
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		version  string
		expected string
		want     bool
	}{
		{"3.11.28", "3.11", true},
		{"3.11.0", "3.11.", true},
		{"3.11", "3.11", true},
		{"3.12.1", "3.11", false},
		{"3.110.0", "3.11", false},
		{"13.11.0", "3.11", false},
		{"", "3.11", false},
		{"3.11.28", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.version+"~"+tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckVersion(tt.version, tt.expected))
		})
	}
}

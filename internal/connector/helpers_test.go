package connector

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"connector-queue-manager/internal/models"
	"connector-queue-manager/internal/queue/queuetest"

	"github.com/stretchr/testify/mock"
)

var testExchanges = Exchanges{Listen: "amqp.connector.exchange", Push: "amqp.worker.exchange"}

// MockStore is a mock implementation of Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) SaveConnector(ctx context.Context, rec models.ConnectorRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockStore) DeleteConnector(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) ListConnectors(ctx context.Context) ([]models.ConnectorRecord, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.ConnectorRecord), args.Error(1)
}

type fixture struct {
	broker      *queuetest.Broker
	provisioner *Provisioner
	registry    *Registry
	coordinator *Coordinator
}

func newFixture(t *testing.T, store Store) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broker := queuetest.New()
	p := NewProvisioner(broker, testExchanges, logger)
	reg := NewRegistry(p, store, logger)
	return &fixture{
		broker:      broker,
		provisioner: p,
		registry:    reg,
		coordinator: NewCoordinator(reg, broker, logger),
	}
}

func request(id string) Request {
	return Request{ID: id, Name: "MY STIX IMPORTER", Type: "INTERNAL_IMPORT_FILE", Scope: "application/json"}
}

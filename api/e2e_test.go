package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connector-queue-manager/internal/connector"
	"connector-queue-manager/internal/logging"
	"connector-queue-manager/internal/models"
	"connector-queue-manager/internal/queue/queuetest"
	"connector-queue-manager/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func newE2E(t *testing.T) (*gin.Engine, *queuetest.Broker) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	broker := queuetest.New()
	svc := service.NewQueueService(broker, service.Options{
		Exchanges: connector.Exchanges{Listen: "amqp.connector.exchange", Push: "amqp.worker.exchange"},
		Timeout:   time.Second,
		Logger:    logging.Discard(),
	})
	r := gin.New()
	RegisterRoutes(r, svc, "3.11")
	return r, broker
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func TestHealthzE2E(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, nil, "3.11")

	w, env := do(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
}

func TestConnectorLifecycleE2E(t *testing.T) {
	r, broker := newE2E(t)

	w, env := do(t, r, http.MethodPost, "/connectors", RegisterConnectorRequest{
		ID: "c1", Name: "importer", Type: "INTERNAL_IMPORT_FILE", Scope: "application/json",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var cfg models.ConnectorQueueConfig
	require.NoError(t, json.Unmarshal(env.Data, &cfg))
	assert.Equal(t, "listen_c1", cfg.Listen)
	assert.Equal(t, "push_c1", cfg.Push)
	assert.Equal(t, "listen_routing_c1", cfg.ListenRouting)

	w, env = do(t, r, http.MethodPost, "/connectors", RegisterConnectorRequest{ID: "c1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_REGISTERED", env.Error.Code)

	w, _ = do(t, r, http.MethodPost, "/connectors/c1/messages", map[string]string{"work_id": "w1"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, broker.Depth("listen_c1"))

	w, env = do(t, r, http.MethodGet, "/broker/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap models.BrokerMetricsSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	q, ok := snap.Queue("listen_c1")
	require.True(t, ok)
	assert.Equal(t, 1, q.MessageCount)

	w, env = do(t, r, http.MethodGet, "/connectors", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.ConnectorRecord
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, models.StatusActive, list[0].Status)

	w, env = do(t, r, http.MethodDelete, "/connectors/c1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"listen":{"messageCount":1},"push":{"messageCount":0}}`, string(env.Data))

	w, env = do(t, r, http.MethodGet, "/connectors/c1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	w, _ = do(t, r, http.MethodDelete, "/connectors/c1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBrokerVersionE2E(t *testing.T) {
	r, broker := newE2E(t)

	w, env := do(t, r, http.MethodGet, "/broker/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var v BrokerVersionResponse
	require.NoError(t, json.Unmarshal(env.Data, &v))
	assert.Equal(t, BrokerVersionResponse{Version: "3.11.28", Expected: "3.11", Compatible: true}, v)

	broker.SetVersion("3.13.0")
	_, env = do(t, r, http.MethodGet, "/broker/version?expect=3.13", nil)
	require.NoError(t, json.Unmarshal(env.Data, &v))
	assert.True(t, v.Compatible)
	assert.Equal(t, "3.13", v.Expected)
}

func TestReconcileE2E(t *testing.T) {
	r, broker := newE2E(t)
	require.NoError(t, broker.DeclareQueue(t.Context(), "push_orphan", nil))

	w, env := do(t, r, http.MethodPost, "/admin/reconcile?dry_run=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp ReconcileResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.True(t, resp.Result.DryRun)
	assert.Equal(t, 1, resp.Summary["queuesDeleted"])
	assert.True(t, broker.HasQueue("push_orphan"))

	w, _ = do(t, r, http.MethodPost, "/admin/reconcile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, broker.HasQueue("push_orphan"))

	w, env = do(t, r, http.MethodPost, "/admin/reconcile?dry_run=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PARAMETER", env.Error.Code)
}

func TestBrokerDownE2E(t *testing.T) {
	r, broker := newE2E(t)
	broker.Disconnect()

	w, env := do(t, r, http.MethodPost, "/connectors", RegisterConnectorRequest{ID: "c1"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "BROKER_UNAVAILABLE", env.Error.Code)

	w, _ = do(t, r, http.MethodGet, "/broker/metrics", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

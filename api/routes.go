package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"connector-queue-manager/internal/brokerstats"
	"connector-queue-manager/internal/connector"
	"connector-queue-manager/internal/models"
	"connector-queue-manager/internal/queue"
	"connector-queue-manager/internal/reconciliation"

	"github.com/gin-gonic/gin"
)

type (
	APIResponse = models.APIResponse
	APIError    = models.APIError
)

// ConnectorService is the part of service.QueueService the HTTP API uses
type ConnectorService interface {
	RegisterConnectorQueues(ctx context.Context, id, name, connectorType, scope string) (models.ConnectorQueueConfig, error)
	UnregisterConnector(ctx context.Context, id string) (models.DrainReport, error)
	PushToConnector(ctx context.Context, id string, payload interface{}) error
	Record(id string) (models.ConnectorRecord, error)
	ListConnectors() []models.ConnectorRecord
	Metrics(ctx context.Context) (models.BrokerMetricsSnapshot, error)
	BrokerVersion(ctx context.Context) (string, error)
	Reconcile(ctx context.Context, dryRun bool) (*reconciliation.ReconciliationResult, error)
	Health() queue.HealthStatus
}

// RegisterConnectorRequest is the body of POST /connectors
type RegisterConnectorRequest struct {
	ID    string `json:"id" binding:"required"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Scope string `json:"scope"`
}

// BrokerVersionResponse is returned by GET /broker/version
type BrokerVersionResponse struct {
	Version    string `json:"version"`
	Expected   string `json:"expected"`
	Compatible bool   `json:"compatible"`
}

// ReconcileResponse is returned by POST /admin/reconcile
type ReconcileResponse struct {
	Result  *reconciliation.ReconciliationResult `json:"result"`
	Summary map[string]int                       `json:"summary"`
}

func RegisterRoutes(r *gin.Engine, svc ConnectorService, expectedVersion string) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, APIResponse{Success: true, Data: map[string]string{"status": "ok"}})
	})

	h := &handlers{svc: svc, expectedVersion: expectedVersion}
	g := r.Group("/", h.requireService)
	g.POST("/connectors", h.registerConnector)
	g.GET("/connectors", h.listConnectors)
	g.GET("/connectors/:id", h.getConnector)
	g.DELETE("/connectors/:id", h.unregisterConnector)
	g.POST("/connectors/:id/messages", h.pushMessage)
	g.GET("/broker/metrics", h.brokerMetrics)
	g.GET("/broker/version", h.brokerVersion)
	g.POST("/admin/reconcile", h.reconcile)
}

type handlers struct {
	svc             ConnectorService
	expectedVersion string
}

func (h *handlers) requireService(c *gin.Context) {
	if h.svc == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Error: &APIError{
				Code:    "SERVICE_UNAVAILABLE",
				Message: "Queue service not available",
			},
		})
		return
	}
	c.Next()
}

func (h *handlers) registerConnector(c *gin.Context) {
	var req RegisterConnectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "request body must be JSON with a non-empty id")
		return
	}

	cfg, err := h.svc.RegisterConnectorQueues(c.Request.Context(), req.ID, req.Name, req.Type, req.Scope)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: cfg})
}

func (h *handlers) listConnectors(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: h.svc.ListConnectors()})
}

func (h *handlers) getConnector(c *gin.Context) {
	rec, err := h.svc.Record(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: rec})
}

func (h *handlers) unregisterConnector(c *gin.Context) {
	report, err := h.svc.UnregisterConnector(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: report})
}

func (h *handlers) pushMessage(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil || !json.Valid(body) {
		badRequest(c, "request body must be valid JSON")
		return
	}

	if err := h.svc.PushToConnector(c.Request.Context(), c.Param("id"), json.RawMessage(body)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, APIResponse{Success: true})
}

func (h *handlers) brokerMetrics(c *gin.Context) {
	snap, err := h.svc.Metrics(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: snap})
}

func (h *handlers) brokerVersion(c *gin.Context) {
	version, err := h.svc.BrokerVersion(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	expected := c.DefaultQuery("expect", h.expectedVersion)
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: BrokerVersionResponse{
		Version:    version,
		Expected:   expected,
		Compatible: brokerstats.CheckVersion(version, expected),
	}})
}

func (h *handlers) reconcile(c *gin.Context) {
	dryRun := false
	if raw := c.Query("dry_run"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "dry_run must be a boolean")
			return
		}
		dryRun = v
	}

	result, err := h.svc.Reconcile(c.Request.Context(), dryRun)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: ReconcileResponse{Result: result, Summary: result.Summary()}})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, APIResponse{
		Success: false,
		Error:   &APIError{Code: "INVALID_PARAMETER", Message: message},
	})
}

// writeError maps domain errors onto HTTP statuses
func writeError(c *gin.Context, err error) {
	var partial *connector.PartialDeregistrationError
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	var data interface{}

	switch {
	case errors.As(err, &partial):
		code = "PARTIAL_DEREGISTRATION"
		data = partial.Report
	case errors.Is(err, connector.ErrInvalidIdentity):
		status, code = http.StatusBadRequest, "INVALID_PARAMETER"
	case errors.Is(err, connector.ErrNotFound), errors.Is(err, connector.ErrUnknownConnector):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, connector.ErrAlreadyRegistered):
		status, code = http.StatusConflict, "ALREADY_REGISTERED"
	case errors.Is(err, queue.ErrBrokerUnavailable), errors.Is(err, brokerstats.ErrMetricsUnavailable):
		status, code = http.StatusServiceUnavailable, "BROKER_UNAVAILABLE"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "TIMEOUT"
	}

	c.JSON(status, APIResponse{
		Success: false,
		Data:    data,
		Error:   &APIError{Code: code, Message: err.Error()},
	})
}

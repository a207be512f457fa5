package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/dubarr/internal/database"
)

// HealthHandler handles the liveness endpoint.
type HealthHandler struct {
	db      *database.DB
	version string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db *database.DB, version string) *HealthHandler {
	return &HealthHandler{db: db, version: version}
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/health",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, h.Get)
}

// HealthInput is the input for the health check.
type HealthInput struct{}

// HealthOutput is the output for the health check.
type HealthOutput struct {
	Body struct {
		Status    string    `json:"status"`
		Version   string    `json:"version"`
		Database  string    `json:"database"`
		Timestamp time.Time `json:"timestamp"`
	}
}

// Get reports process and database liveness.
func (h *HealthHandler) Get(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	resp := &HealthOutput{}
	resp.Body.Status = "ok"
	resp.Body.Version = h.version
	resp.Body.Timestamp = time.Now()

	resp.Body.Database = "ok"
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			resp.Body.Status = "degraded"
			resp.Body.Database = err.Error()
		}
	}
	return resp, nil
}

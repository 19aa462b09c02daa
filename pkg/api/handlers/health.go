package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/marmos91/cnabflow/pkg/objectstore"
	"github.com/marmos91/cnabflow/pkg/store"
)

// HealthCheckTimeout bounds how long a single dependency check may take
// before a readiness probe gives up on it.
const HealthCheckTimeout = 5 * time.Second

// HealthHandler serves the liveness/readiness/dependency probes.
type HealthHandler struct {
	db          *store.DB
	objectStore *objectstore.Store
}

// NewHealthHandler returns a handler bound to the pipeline's database and
// object store collaborators.
func NewHealthHandler(db *store.DB, objectStore *objectstore.Store) *HealthHandler {
	return &HealthHandler{db: db, objectStore: objectStore}
}

// Liveness handles GET /health. Always succeeds once the process can serve
// HTTP at all.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{"service": "cnabflow"}))
}

// Readiness handles GET /health/ready: the database must be reachable.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
	defer cancel()

	if err := h.db.HealthCheck(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("database unreachable: "+err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(nil))
}

// DependencyHealth reports one collaborator's health.
type DependencyHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// DependenciesResponse is the detailed health payload of GET /health/dependencies.
type DependenciesResponse struct {
	Dependencies []DependencyHealth `json:"dependencies"`
}

// Dependencies handles GET /health/dependencies: checks both the database
// and the object store, per spec.md's storage/queue ambient stack.
func (h *HealthHandler) Dependencies(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
	defer cancel()

	response := DependenciesResponse{Dependencies: make([]DependencyHealth, 0, 2)}
	allHealthy := true

	start := time.Now()
	dbErr := h.db.HealthCheck(ctx)
	dbHealth := DependencyHealth{Name: "database", Latency: time.Since(start).String()}
	if dbErr != nil {
		dbHealth.Status = "unhealthy"
		dbHealth.Error = dbErr.Error()
		allHealthy = false
	} else {
		dbHealth.Status = "healthy"
	}
	response.Dependencies = append(response.Dependencies, dbHealth)

	start = time.Now()
	osErr := h.objectStore.HealthCheck(ctx)
	osHealth := DependencyHealth{Name: "object-store", Latency: time.Since(start).String()}
	if osErr != nil {
		osHealth.Status = "unhealthy"
		osHealth.Error = osErr.Error()
		allHealthy = false
	} else {
		osHealth.Status = "healthy"
	}
	response.Dependencies = append(response.Dependencies, osHealth)

	if allHealthy {
		writeJSON(w, http.StatusOK, healthyResponse(response))
	} else {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(response))
	}
}

func unhealthyResponseWithData(data interface{}) Response {
	return Response{Status: "unhealthy", Timestamp: time.Now().UTC(), Data: data}
}

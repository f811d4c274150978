package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/contestradar/crawler-http-service/common"
	"github.com/contestradar/crawler-http-service/common/db"
	"github.com/contestradar/crawler-http-service/common/utils"
	"github.com/go-chi/chi/v5"
)

// HealthHandler reports service liveness and dependency health
type HealthHandler struct {
	db     *db.DB
	router *chi.Mux
}

// NewHealthHandler creates the health handler
func NewHealthHandler(database *db.DB) *HealthHandler {
	h := &HealthHandler{
		db: database,
	}

	r := chi.NewRouter()
	r.Get("/", h.handleHealthCheck)

	h.router = r
	return h
}

// Router returns the handler's route tree
func (h *HealthHandler) Router() *chi.Mux {
	return h.router
}

func (h *HealthHandler) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := map[string]interface{}{
		"status":    "healthy",
		"service":   common.AppName,
		"timestamp": time.Now().UTC(),
	}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			response["status"] = "unhealthy"
			response["database"] = err.Error()
			utils.WriteJSON(w, http.StatusServiceUnavailable, response)
			return
		}
	}

	utils.WriteJSON(w, http.StatusOK, response)
}

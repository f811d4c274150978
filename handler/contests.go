package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/contestradar/crawler-http-service/common/models"
	"github.com/contestradar/crawler-http-service/common/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// ContestStore is the read surface the contest endpoints need
type ContestStore interface {
	List(ctx context.Context, page, perPage int) ([]models.Contest, error)
	Count(ctx context.Context) (int64, error)
}

// ContestHandler serves the stored contests
type ContestHandler struct {
	store  ContestStore
	router *chi.Mux
}

// NewContestHandler creates the contest read handler
func NewContestHandler(store ContestStore) *ContestHandler {
	h := &ContestHandler{
		store: store,
	}

	r := chi.NewRouter()
	r.Get("/", h.handleList)

	h.router = r
	return h
}

// Router returns the handler's route tree
func (h *ContestHandler) Router() *chi.Mux {
	return h.router
}

func (h *ContestHandler) handleList(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)

	contests, err := h.store.List(r.Context(), page, perPage)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list contests")
		utils.WriteError(w, http.StatusInternalServerError, "Failed to list contests")
		return
	}

	total, err := h.store.Count(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to count contests")
		utils.WriteError(w, http.StatusInternalServerError, "Failed to list contests")
		return
	}

	utils.WritePagination(w, http.StatusOK, contests, page, perPage, total)
}

// pagination reads page/per_page query parameters with sane clamps
func pagination(r *http.Request) (int, int) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			page = parsed
		}
	}

	perPage := 20
	if raw := r.URL.Query().Get("per_page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			perPage = parsed
		}
	}

	return page, perPage
}

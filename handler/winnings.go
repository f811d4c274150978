package handler

import (
	"context"
	"net/http"

	"github.com/contestradar/crawler-http-service/common/models"
	"github.com/contestradar/crawler-http-service/common/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// WinningStore is the read surface the winning endpoints need
type WinningStore interface {
	List(ctx context.Context, page, perPage int) ([]models.Winning, error)
	Count(ctx context.Context) (int64, error)
}

// WinningHandler serves the stored winner reports
type WinningHandler struct {
	store  WinningStore
	router *chi.Mux
}

// NewWinningHandler creates the winning read handler
func NewWinningHandler(store WinningStore) *WinningHandler {
	h := &WinningHandler{
		store: store,
	}

	r := chi.NewRouter()
	r.Get("/", h.handleList)

	h.router = r
	return h
}

// Router returns the handler's route tree
func (h *WinningHandler) Router() *chi.Mux {
	return h.router
}

func (h *WinningHandler) handleList(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)

	winnings, err := h.store.List(r.Context(), page, perPage)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list winnings")
		utils.WriteError(w, http.StatusInternalServerError, "Failed to list winnings")
		return
	}

	total, err := h.store.Count(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to count winnings")
		utils.WriteError(w, http.StatusInternalServerError, "Failed to list winnings")
		return
	}

	utils.WritePagination(w, http.StatusOK, winnings, page, perPage, total)
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/contestradar/crawler-http-service/common"
	"github.com/contestradar/crawler-http-service/common/logger"
	"github.com/contestradar/crawler-http-service/common/queue"
	"github.com/contestradar/crawler-http-service/common/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// defaultLogCount bounds the admin log endpoint when no count is given
const defaultLogCount = 50

// CrawlRunner is the slice of the crawl service the admin API drives
type CrawlRunner interface {
	RunAll(ctx context.Context, force, isCron bool) (string, error)
	RunOne(ctx context.Context, strategyID string, force bool) (string, error)
	Logs(ctx context.Context, limit int64) ([]logger.LogEntry, error)
}

// CrawlHandler exposes the admin crawl endpoints
type CrawlHandler struct {
	service CrawlRunner
	router  *chi.Mux
}

// NewCrawlHandler creates the admin crawl handler
func NewCrawlHandler(service CrawlRunner) *CrawlHandler {
	h := &CrawlHandler{
		service: service,
	}

	r := chi.NewRouter()
	r.Post("/run", h.handleRunAll)
	r.Post("/run/{strategyId}", h.handleRunOne)
	r.Get("/logs", h.handleLogs)

	h.router = r
	return h
}

// Router returns the handler's route tree
func (h *CrawlHandler) Router() *chi.Mux {
	return h.router
}

type crawlRunParams struct {
	Force bool `json:"force"`
}

// readRunParams decodes the optional run body; an empty body means defaults
func readRunParams(r *http.Request) (crawlRunParams, error) {
	var p crawlRunParams
	err := json.NewDecoder(r.Body).Decode(&p)
	if err != nil && !errors.Is(err, io.EOF) {
		return crawlRunParams{}, err
	}
	return p, nil
}

func (h *CrawlHandler) handleRunAll(w http.ResponseWriter, r *http.Request) {
	p, err := readRunParams(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	cycle, err := h.service.RunAll(r.Context(), p.Force, false)
	if err != nil {
		writeCrawlError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusAccepted, map[string]string{"cycle": cycle})
}

func (h *CrawlHandler) handleRunOne(w http.ResponseWriter, r *http.Request) {
	strategyID := chi.URLParam(r, "strategyId")

	p, err := readRunParams(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	cycle, err := h.service.RunOne(r.Context(), strategyID, p.Force)
	if err != nil {
		writeCrawlError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusAccepted, map[string]string{"cycle": cycle, "strategy_id": strategyID})
}

func (h *CrawlHandler) handleLogs(w http.ResponseWriter, r *http.Request) {
	count := int64(defaultLogCount)
	if raw := r.URL.Query().Get("count"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			utils.WriteError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = parsed
	}

	entries, err := h.service.Logs(r.Context(), count)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read crawl log")
		utils.WriteError(w, http.StatusInternalServerError, "Failed to read crawl log")
		return
	}

	utils.WriteJSON(w, http.StatusOK, entries)
}

func writeCrawlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrUnknownStrategy):
		utils.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrInactiveStrategy):
		utils.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrRunInProgress):
		utils.WriteError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg("Crawl dispatch failed")
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

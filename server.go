package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/contestradar/crawler-http-service/common/config"
	"github.com/contestradar/crawler-http-service/common/crawler"
	"github.com/contestradar/crawler-http-service/common/db"
	"github.com/contestradar/crawler-http-service/common/services"
	"github.com/contestradar/crawler-http-service/handler"
	"github.com/contestradar/crawler-http-service/middlewares"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

type AppHttpServer struct {
	router       *chi.Mux
	cfg          config.Config
	server       *http.Server
	db           *db.DB
	crawlService *crawler.CrawlService
	contests     *services.ContestRepository
	winnings     *services.WinningRepository
}

func NewAppHttpServer(cfg config.Config) (*AppHttpServer, error) {
	r := chi.NewRouter()

	// Basic CORS
	// for more ideas, see: https://developer.github.com/v3/#cross-origin-resource-sharing
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", middlewares.ApiKeyHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Set a timeout value on the request context (ctx), that will signal
	// through ctx.Done() that the request has timed out and further
	// processing should be stopped.
	r.Use(middleware.Timeout(2 * time.Minute))

	server := &AppHttpServer{
		router: r,
		cfg:    cfg,
	}
	return server, nil
}

// SetDB sets the database dependency
func (s *AppHttpServer) SetDB(db *db.DB) {
	s.db = db
	s.contests = services.NewContestRepository(db.Pool)
	s.winnings = services.NewWinningRepository(db.Pool)
}

// SetCrawlService sets the crawl service the admin endpoints drive
func (s *AppHttpServer) SetCrawlService(service *crawler.CrawlService) {
	s.crawlService = service
}

func (s *AppHttpServer) setupRoute() {
	r := s.router

	if s.db == nil {
		log.Warn().Msg("DB dependency not set, read endpoints will be unavailable")
	}
	if s.crawlService == nil {
		log.Warn().Msg("Crawl service dependency not set, admin endpoints will be unavailable")
	}

	// Public health endpoint (no authentication required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"crawler-http-service"}`))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middlewares.ApiKey(s.cfg.Security.BackendApiKey))

		// Handlers
		contestHandler := handler.NewContestHandler(s.contests)
		winningHandler := handler.NewWinningHandler(s.winnings)
		healthHandler := handler.NewHealthHandler(s.db)

		r.Mount("/contests", contestHandler.Router())
		r.Mount("/winnings", winningHandler.Router())
		r.Mount("/health", healthHandler.Router())

		if s.crawlService != nil {
			crawlHandler := handler.NewCrawlHandler(s.crawlService)
			r.Mount("/admin/crawl", crawlHandler.Router())
		}
	})
}

func (s *AppHttpServer) start() error {
	r := s.router
	cfg := s.cfg
	log.Info().Msg("Starting up server...")

	s.server = &http.Server{
		Addr:         cfg.Listen.Addr(),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// This starts the server in a goroutine from main
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// stop gracefully shuts down the server
func (s *AppHttpServer) stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

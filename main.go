package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/contestradar/crawler-http-service/common/config"
	"github.com/contestradar/crawler-http-service/common/crawler"
	"github.com/contestradar/crawler-http-service/common/db"
	"github.com/contestradar/crawler-http-service/common/logger"
	"github.com/contestradar/crawler-http-service/common/messaging"
	"github.com/contestradar/crawler-http-service/common/notify"
	"github.com/contestradar/crawler-http-service/common/queue"
	"github.com/contestradar/crawler-http-service/common/scraper"
	"github.com/contestradar/crawler-http-service/common/services"
	"github.com/contestradar/crawler-http-service/common/storage"
	"github.com/contestradar/crawler-http-service/crawlers"

	"github.com/rs/zerolog/log"

	"github.com/joho/godotenv"
)

func main() {
	// INITIATE CONFIGURATION
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("Error loading .env file, using environment variables")
	}

	cfg := config.DefaultConfig()
	cfg.LoadFromEnv()

	// Create a base context with cancel for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// INITIATE DATABASES
	dbConn, err := db.SetupDatabase(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to setup database")
	}
	defer dbConn.Close()

	// INITIATE NATS CLIENT
	natsClient, err := messaging.SetupNatsBroker(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to setup NATS client")
	}
	defer natsClient.Close()

	// Optional raw-page archive
	archive, err := storage.SetupArchive(ctx, cfg.Archive)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to setup page archive")
	}

	// Notification channels
	senders, err := notify.SetupSenders(cfg.Notify)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to setup notification channels")
	}
	dispatcher := notify.NewDispatcher(senders...)

	crawlLog := logger.NewCrawlLog(dbConn.Redis)

	// Sync engines over the two stored entities
	contestEngine, err := services.NewContestSyncEngine(services.NewContestRepository(dbConn.Pool))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build contest sync engine")
	}
	winningEngine, err := services.NewWinningSyncEngine(services.NewWinningRepository(dbConn.Pool))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build winning sync engine")
	}

	fetcher, err := scraper.NewFetcher(cfg.Scraper)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build page fetcher")
	}

	// Register all source strategies
	if err := crawlers.RegisterAll(crawlers.Dependencies{
		Fetcher:  fetcher,
		Contests: contestEngine,
		Winnings: winningEngine,
		Archive:  archive,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register strategies")
	}

	// INITIATE QUEUE
	queueClient, err := queue.NewClient(natsClient, queue.NewRedisFlowStore(dbConn.Redis), cfg.Crawl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create queue client")
	}
	if err := queueClient.Setup(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to setup queue streams")
	}

	// INITIATE WORKERS
	scanWorker := crawler.NewScanWorker(queueClient, natsClient, crawlLog, dispatcher)
	if err := scanWorker.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scan worker")
	}

	detailWorker, err := crawler.NewDetailWorker(queueClient, natsClient, crawlLog, dispatcher, cfg.Crawl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create detail worker")
	}
	if err := detailWorker.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start detail worker")
	}

	summaryWorker := crawler.NewSummaryWorker(queueClient, natsClient, crawlLog, dispatcher)
	if err := summaryWorker.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start summary worker")
	}

	// INITIATE CRAWL SERVICE
	crawlService := crawler.NewCrawlService(queueClient, queue.NewDispatchGuard(dbConn.Redis), crawlLog, dispatcher, cfg.Crawl)
	if err := crawlService.StartCron(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start crawl scheduler")
	}

	// INITIATE SERVER
	server, err := NewAppHttpServer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create the server")
	}

	// Inject dependencies
	server.SetDB(dbConn)
	server.SetCrawlService(crawlService)

	// Setup routes
	server.setupRoute()

	// Start server in a goroutine
	go func() {
		if err := server.start(); err != nil {
			log.Error().Err(err).Msg("Server error")
			cancel()
		}
	}()

	log.Info().Str("address", cfg.Listen.Addr()).Msg("Server started successfully")

	// Wait for shutdown signal
	select {
	case <-shutdown:
		log.Info().Msg("Shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down")
	}

	crawlService.StopCron()
	scanWorker.Stop()
	detailWorker.Stop()
	summaryWorker.Stop()

	// Create a timeout context for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Server gracefully stopped")
}

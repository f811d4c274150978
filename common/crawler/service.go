package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contestradar/crawler-http-service/common"
	"github.com/contestradar/crawler-http-service/common/config"
	"github.com/contestradar/crawler-http-service/common/logger"
	"github.com/contestradar/crawler-http-service/common/notify"
	"github.com/contestradar/crawler-http-service/common/queue"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/samber/mo"
)

// fullRunLock names the dispatch-guard lock for whole-crawl runs
const fullRunLock = "full-crawl"

// CrawlService drives crawl runs: the nightly scheduled one and the ad-hoc
// ones triggered over the admin API
type CrawlService struct {
	client     *queue.Client
	guard      RunGuard
	crawlLog   RunLog
	dispatcher *notify.Dispatcher
	cfg        config.CrawlConfig
	cron       *cron.Cron
}

// NewCrawlService creates a crawl service
func NewCrawlService(client *queue.Client, guard RunGuard, crawlLog RunLog, dispatcher *notify.Dispatcher, cfg config.CrawlConfig) *CrawlService {
	return &CrawlService{
		client:     client,
		guard:      guard,
		crawlLog:   crawlLog,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// ActiveStrategies returns the registered strategies enabled by config
func (s *CrawlService) ActiveStrategies() []string {
	return lo.Filter(StrategyIDs(), func(id string, _ int) bool {
		return s.cfg.IsStrategyActive(id)
	})
}

// RunAll starts a full crawl: clean every queue and the previous run's log,
// then dispatch one scan per active strategy. The clean and dispatch run
// under a lock so two overlapping runs cannot drop each other's jobs.
// Scheduled runs pass isCron so their start notification stays silent.
func (s *CrawlService) RunAll(ctx context.Context, force, isCron bool) (string, error) {
	active := s.ActiveStrategies()
	if len(active) == 0 {
		return "", errors.New("no active strategies configured")
	}

	if err := s.guard.Start(ctx, fullRunLock); err != nil {
		return "", err
	}
	defer s.guard.Finish(ctx, fullRunLock)

	if err := s.client.CleanAllQueues(ctx); err != nil {
		return "", fmt.Errorf("cleaning queues: %w", err)
	}
	if err := s.crawlLog.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to clear crawl log")
	}

	cycle, err := s.client.DispatchScanJobs(ctx, active, force)
	if err != nil {
		return "", fmt.Errorf("dispatching scans: %w", err)
	}

	s.crawlLog.Info(ctx, "", fmt.Sprintf("full crawl %s dispatched for %d strategies", cycle, len(active)))
	s.notifyStart(ctx, active, isCron)
	return cycle, nil
}

func (s *CrawlService) notifyStart(ctx context.Context, active []string, isCron bool) {
	if s.dispatcher == nil {
		return
	}

	s.dispatcher.Dispatch(ctx, notify.Payload{
		Message:  fmt.Sprintf("🕷 Crawl started for %d sources", len(active)),
		ImageURL: mo.None[string](),
		Silent:   isCron,
	}, nil)
}

// RunOne dispatches a scan for a single strategy. Unknown and inactive
// strategies are rejected. Queues are left untouched so a single-strategy
// run can ride alongside a full one.
func (s *CrawlService) RunOne(ctx context.Context, strategyID string, force bool) (string, error) {
	if _, err := GetStrategy(strategyID); err != nil {
		return "", err
	}
	if !s.cfg.IsStrategyActive(strategyID) {
		return "", fmt.Errorf("%w: %s", common.ErrInactiveStrategy, strategyID)
	}

	cycle, err := s.client.DispatchScanJobs(ctx, []string{strategyID}, force)
	if err != nil {
		return "", fmt.Errorf("dispatching scan: %w", err)
	}

	s.crawlLog.Info(ctx, strategyID, fmt.Sprintf("single crawl %s dispatched", cycle))
	return cycle, nil
}

// Logs returns the most recent crawl log entries
func (s *CrawlService) Logs(ctx context.Context, limit int64) ([]logger.LogEntry, error) {
	return s.crawlLog.Get(ctx, limit)
}

// StartCron schedules the recurring full crawl
func (s *CrawlService) StartCron() error {
	if s.cfg.CronSchedule == "" {
		log.Info().Msg("Crawl schedule disabled")
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(s.cfg.CronSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if _, err := s.RunAll(ctx, false, true); err != nil {
			if errors.Is(err, queue.ErrRunInProgress) {
				log.Warn().Msg("Skipping scheduled crawl, previous run still dispatching")
				return
			}
			log.Error().Err(err).Msg("Scheduled crawl failed")
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling crawl: %w", err)
	}

	c.Start()
	s.cron = c
	log.Info().Str("schedule", s.cfg.CronSchedule).Msg("Crawl schedule started")
	return nil
}

// StopCron stops the scheduler and waits for a running trigger to return
func (s *CrawlService) StopCron() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

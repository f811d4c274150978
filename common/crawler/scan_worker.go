package crawler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/contestradar/crawler-http-service/common"
	"github.com/contestradar/crawler-http-service/common/notify"
	"github.com/contestradar/crawler-http-service/common/queue"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
	"github.com/samber/mo"
)

// ScanWorker consumes scan jobs: it runs a strategy's listing phase and
// dispatches the resulting scrape flow
type ScanWorker struct {
	client     *queue.Client
	broker     queue.Broker
	crawlLog   RunLog
	dispatcher *notify.Dispatcher

	consumeCtx jetstream.ConsumeContext
}

// NewScanWorker creates a scan worker
func NewScanWorker(client *queue.Client, broker queue.Broker, crawlLog RunLog, dispatcher *notify.Dispatcher) *ScanWorker {
	return &ScanWorker{
		client:     client,
		broker:     broker,
		crawlLog:   crawlLog,
		dispatcher: dispatcher,
	}
}

// Start subscribes the worker to the scan stream
func (w *ScanWorker) Start(ctx context.Context) error {
	consumer, err := w.broker.CreateConsumer(ctx, queue.StreamScan, queue.ScanConsumerConfig())
	if err != nil {
		return fmt.Errorf("creating scan consumer: %w", err)
	}

	consumeCtx, err := w.broker.Consume(ctx, consumer, func(msg jetstream.Msg) {
		w.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consuming scan stream: %w", err)
	}

	w.consumeCtx = consumeCtx
	log.Info().Msg("Scan worker started")
	return nil
}

// Stop unsubscribes the worker
func (w *ScanWorker) Stop() {
	if w.consumeCtx != nil {
		w.consumeCtx.Stop()
	}
}

func (w *ScanWorker) handleMessage(ctx context.Context, msg jetstream.Msg) {
	var job queue.ScanJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		log.Error().Err(err).Msg("Malformed scan job, dropping")
		_ = msg.Term()
		return
	}

	if err := w.handleScan(ctx, job); err != nil {
		// Scan jobs are not retried: a broken listing page needs a human,
		// not a redelivery loop.
		w.crawlLog.Error(ctx, job.StrategyID, fmt.Sprintf("scan failed: %v", err))
		w.notifyScanFailure(ctx, job.StrategyID, err)
		_ = msg.Term()
		return
	}

	_ = msg.Ack()
}

func (w *ScanWorker) handleScan(ctx context.Context, job queue.ScanJob) error {
	strategy, err := GetStrategy(job.StrategyID)
	if err != nil {
		return err
	}

	w.crawlLog.Info(ctx, job.StrategyID, "scan started")

	links, err := strategy.ScanListing(ctx, job.Force)
	if err != nil {
		return fmt.Errorf("%w: scanning: %v", common.ErrCrawlerFailed, err)
	}

	// An empty listing is a normal outcome: no flow, the scan just ends.
	if len(links) == 0 {
		w.crawlLog.Info(ctx, job.StrategyID, "scan found no links, nothing to do")
		return nil
	}

	flowID, err := w.client.DispatchScrapeFlow(ctx, job.StrategyID, links)
	if err != nil {
		return fmt.Errorf("dispatching flow: %w", err)
	}

	w.crawlLog.Info(ctx, job.StrategyID,
		fmt.Sprintf("scan found %d links, flow %s dispatched", len(links), flowID))
	return nil
}

// notifyScanFailure raises a loud notification: a dead listing means the
// whole source went dark, which should not wait for someone to read logs
func (w *ScanWorker) notifyScanFailure(ctx context.Context, strategyID string, scanErr error) {
	if w.dispatcher == nil {
		return
	}

	name := strategyID
	if strategy, err := GetStrategy(strategyID); err == nil {
		name = strategy.FriendlyName()
	}

	w.dispatcher.Dispatch(ctx, notify.Payload{
		Message:  fmt.Sprintf("⚠️ %s: scan failed\n%v", name, scanErr),
		ImageURL: mo.None[string](),
		Silent:   false,
	}, nil)
}

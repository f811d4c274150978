package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/contestradar/crawler-http-service/common/notify"
	"github.com/contestradar/crawler-http-service/common/queue"
	"github.com/contestradar/crawler-http-service/common/syncengine"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// SummaryWorker consumes summary jobs: it collects a finished flow's detail
// outcomes, hands them to the strategy for notification building, and fans
// the notifications out
type SummaryWorker struct {
	client     *queue.Client
	broker     queue.Broker
	crawlLog   RunLog
	dispatcher *notify.Dispatcher

	consumeCtx jetstream.ConsumeContext
}

// NewSummaryWorker creates a summary worker
func NewSummaryWorker(client *queue.Client, broker queue.Broker, crawlLog RunLog, dispatcher *notify.Dispatcher) *SummaryWorker {
	return &SummaryWorker{
		client:     client,
		broker:     broker,
		crawlLog:   crawlLog,
		dispatcher: dispatcher,
	}
}

// Start subscribes the worker to the summary stream
func (w *SummaryWorker) Start(ctx context.Context) error {
	consumer, err := w.broker.CreateConsumer(ctx, queue.StreamSummary, queue.SummaryConsumerConfig())
	if err != nil {
		return fmt.Errorf("creating summary consumer: %w", err)
	}

	consumeCtx, err := w.broker.Consume(ctx, consumer, func(msg jetstream.Msg) {
		w.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consuming summary stream: %w", err)
	}

	w.consumeCtx = consumeCtx
	log.Info().Msg("Summary worker started")
	return nil
}

// Stop unsubscribes the worker
func (w *SummaryWorker) Stop() {
	if w.consumeCtx != nil {
		w.consumeCtx.Stop()
	}
}

func (w *SummaryWorker) handleMessage(ctx context.Context, msg jetstream.Msg) {
	var job queue.SummaryJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		log.Error().Err(err).Msg("Malformed summary job, dropping")
		_ = msg.Term()
		return
	}

	if err := w.handleSummary(ctx, job); err != nil {
		log.Error().Err(err).Str("flow", job.FlowID).Msg("Summary handling failed")
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()
}

func (w *SummaryWorker) handleSummary(ctx context.Context, job queue.SummaryJob) error {
	strategy, err := GetStrategy(job.StrategyID)
	if err != nil {
		return err
	}

	results, failed, err := w.collectResults(ctx, job)
	if err != nil {
		return err
	}

	summary := tallyResults(results, failed)
	w.crawlLog.Info(ctx, job.StrategyID,
		fmt.Sprintf("crawl finished: %d created, %d updated, %d unchanged, %d failed",
			summary.Created, summary.Updated, summary.Unchanged, summary.Failed))

	if notification := strategy.FormatSummary(ctx, results, job.Total, failed); notification != nil {
		w.dispatcher.Dispatch(ctx, notification.Payload, notification.Channels)
	}

	if err := w.client.FinishFlow(ctx, job.FlowID); err != nil {
		// Bookkeeping expires on its own, losing the delete is harmless
		log.Warn().Err(err).Str("flow", job.FlowID).Msg("Failed to drop flow bookkeeping")
	}

	return nil
}

// collectResults loads the flow's recorded outcomes in detail-job order
func (w *SummaryWorker) collectResults(ctx context.Context, job queue.SummaryJob) ([]ProcessResult, int, error) {
	values, failed, err := w.client.FlowResults(ctx, job)
	if err != nil {
		return nil, 0, fmt.Errorf("collecting flow results: %w", err)
	}

	indexes := make([]int, 0, len(values))
	for index := range values {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	results := make([]ProcessResult, 0, len(values))
	for _, index := range indexes {
		var result ProcessResult
		if err := json.Unmarshal(values[index], &result); err != nil {
			// A malformed value counts as a failed detail rather than
			// poisoning the whole summary
			log.Warn().Err(err).Str("flow", job.FlowID).Int("index", index).Msg("Skipping malformed flow value")
			failed++
			continue
		}
		results = append(results, result)
	}

	return results, failed, nil
}

func tallyResults(results []ProcessResult, failed int) syncengine.Summary {
	summary := syncengine.Summary{Failed: failed}
	for _, result := range results {
		switch result.Status {
		case syncengine.StatusCreated:
			summary.Created++
		case syncengine.StatusUpdated:
			summary.Updated++
		case syncengine.StatusUnchanged:
			summary.Unchanged++
		}
	}
	return summary
}

package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/contestradar/crawler-http-service/common/config"
	"github.com/contestradar/crawler-http-service/common/notify"
	"github.com/contestradar/crawler-http-service/common/queue"
	"github.com/contestradar/crawler-http-service/common/work"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// retryBaseDelay is the first redelivery delay, doubled per attempt
const retryBaseDelay = time.Second

// DetailWorker consumes detail jobs on a bounded worker pool. Each job runs a
// strategy's detail phase for one link and reports its resolution back to the
// flow, so the summary fires once the last detail lands.
type DetailWorker struct {
	client     *queue.Client
	broker     queue.Broker
	crawlLog   RunLog
	dispatcher *notify.Dispatcher
	cfg        config.CrawlConfig
	pool       *work.Pool[ProcessResult]

	consumeCtx jetstream.ConsumeContext
}

// NewDetailWorker creates a detail worker
func NewDetailWorker(client *queue.Client, broker queue.Broker, crawlLog RunLog, dispatcher *notify.Dispatcher, cfg config.CrawlConfig) (*DetailWorker, error) {
	workers := cfg.DetailWorkers
	if workers <= 0 {
		workers = 5
	}

	pool, err := work.NewWorkerPool[ProcessResult](workers, workers*2)
	if err != nil {
		return nil, err
	}

	return &DetailWorker{
		client:     client,
		broker:     broker,
		crawlLog:   crawlLog,
		dispatcher: dispatcher,
		cfg:        cfg,
		pool:       pool,
	}, nil
}

// Start subscribes the worker to the detail stream
func (w *DetailWorker) Start(ctx context.Context) error {
	w.pool.Start(ctx, "detail-worker")

	go w.drainResults()

	consumer, err := w.broker.CreateConsumer(ctx, queue.StreamDetail, queue.DetailConsumerConfig(w.cfg))
	if err != nil {
		return fmt.Errorf("creating detail consumer: %w", err)
	}

	consumeCtx, err := w.broker.Consume(ctx, consumer, func(msg jetstream.Msg) {
		w.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consuming detail stream: %w", err)
	}

	w.consumeCtx = consumeCtx
	log.Info().Msg("Detail worker started")
	return nil
}

// Stop unsubscribes the worker and drains the pool
func (w *DetailWorker) Stop() {
	if w.consumeCtx != nil {
		w.consumeCtx.Stop()
	}
	w.pool.Stop()
}

// drainResults keeps the pool's result channel from filling; outcomes are
// already handled inside each task
func (w *DetailWorker) drainResults() {
	for range w.pool.Results() {
	}
}

func (w *DetailWorker) handleMessage(ctx context.Context, msg jetstream.Msg) {
	var job queue.DetailJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		log.Error().Err(err).Msg("Malformed detail job, dropping")
		_ = msg.Term()
		return
	}

	task, err := work.NewTask[ProcessResult](
		func(taskCtx context.Context) (ProcessResult, error) {
			w.spread(taskCtx)
			result, err := w.processDetail(taskCtx, job)
			w.resolve(taskCtx, msg, job, result, err)
			return result, err
		},
		work.WithID[ProcessResult](job.DedupID()),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build detail task")
		_ = msg.NakWithDelay(retryBaseDelay)
		return
	}

	if err := w.pool.AddTask(ctx, task); err != nil {
		log.Error().Err(err).Msg("Failed to queue detail task")
		_ = msg.NakWithDelay(retryBaseDelay)
	}
}

func (w *DetailWorker) processDetail(ctx context.Context, job queue.DetailJob) (ProcessResult, error) {
	strategy, err := GetStrategy(job.StrategyID)
	if err != nil {
		return ProcessResult{}, err
	}
	return strategy.ProcessDetail(ctx, job.Link)
}

// resolve acknowledges the message and advances the flow. A failed job is
// redelivered with exponential backoff until its attempt budget runs out,
// then counted as a terminal flow failure.
func (w *DetailWorker) resolve(ctx context.Context, msg jetstream.Msg, job queue.DetailJob, result ProcessResult, procErr error) {
	if procErr == nil {
		if err := w.client.CompleteDetail(ctx, job, result); err != nil {
			log.Error().Err(err).Str("flow", job.FlowID).Msg("Failed to record detail completion")
			_ = msg.NakWithDelay(retryBaseDelay)
			return
		}
		_ = msg.Ack()

		// Per-item notifications ride along with the sync result; dropping
		// one must not fail the flow.
		if result.Notification != nil && w.dispatcher != nil {
			w.dispatcher.Dispatch(ctx, result.Notification.Payload, result.Notification.Channels)
		}
		return
	}

	meta, err := msg.Metadata()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read message metadata")
		_ = msg.NakWithDelay(retryBaseDelay)
		return
	}

	attempts := w.cfg.DetailAttempts
	if attempts <= 0 {
		attempts = 3
	}

	if int(meta.NumDelivered) >= attempts {
		w.crawlLog.Error(ctx, job.StrategyID,
			fmt.Sprintf("detail %d of flow %s failed terminally: %v", job.Index, job.FlowID, procErr))
		// The flow advances only once the failure is recorded. Recording is
		// idempotent per index, so Nak and let the spare delivery retry it
		// rather than Term and stall the flow until its TTL.
		if err := w.client.FailDetail(ctx, job); err != nil {
			log.Error().Err(err).Str("flow", job.FlowID).Msg("Failed to record detail failure")
			_ = msg.NakWithDelay(retryBaseDelay)
			return
		}
		_ = msg.Term()
		return
	}

	delay := retryBaseDelay << (meta.NumDelivered - 1)
	log.Warn().
		Err(procErr).
		Str("flow", job.FlowID).
		Int("index", job.Index).
		Dur("retry_in", delay).
		Msg("Detail job failed, scheduling retry")
	_ = msg.NakWithDelay(delay)
}

// spread sleeps a random slice of the configured window so a burst of detail
// jobs does not hit the source all at once
func (w *DetailWorker) spread(ctx context.Context) {
	if w.cfg.DetailSpreadMax <= 0 {
		return
	}

	delay := time.Duration(rand.Int63n(int64(w.cfg.DetailSpreadMax)))
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/contestradar/crawler-http-service/common/config"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// dedupWindow is how long JetStream remembers published message IDs. It must
// outlast the longest plausible crawl cycle so re-dispatched jobs collapse.
const dedupWindow = 2 * time.Hour

// Broker is the slice of the NATS broker the queue client needs
type Broker interface {
	PublishMsg(ctx context.Context, msg *nats.Msg) (*jetstream.PubAck, error)
	CreateStream(ctx context.Context, config jetstream.StreamConfig) (jetstream.Stream, error)
	PurgeStream(ctx context.Context, streamName string) error
	CreateConsumer(ctx context.Context, streamName string, config jetstream.ConsumerConfig) (jetstream.Consumer, error)
	Consume(ctx context.Context, consumer jetstream.Consumer, handler jetstream.MessageHandler) (jetstream.ConsumeContext, error)
}

// Client dispatches crawl jobs and tracks scrape flows. A scrape flow is one
// summary job gated on N detail jobs: the summary is published only after
// every detail has resolved, by whichever worker resolves last.
type Client struct {
	broker Broker
	flows  FlowStore
	cfg    config.CrawlConfig
}

// NewClient creates a queue client
func NewClient(broker Broker, flows FlowStore, cfg config.CrawlConfig) (*Client, error) {
	if broker == nil {
		return nil, errors.New("cannot use nil broker")
	}
	if flows == nil {
		return nil, errors.New("cannot use nil flow store")
	}
	return &Client{
		broker: broker,
		flows:  flows,
		cfg:    cfg,
	}, nil
}

// Setup creates or updates the three crawl streams
func (c *Client) Setup(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:       StreamScan,
			Subjects:   []string{SubjectScanPrefix + ">"},
			Retention:  jetstream.WorkQueuePolicy,
			Duplicates: dedupWindow,
		},
		{
			Name:       StreamDetail,
			Subjects:   []string{SubjectDetailPrefix + ">"},
			Retention:  jetstream.WorkQueuePolicy,
			Duplicates: dedupWindow,
		},
		{
			Name:       StreamSummary,
			Subjects:   []string{SubjectSummaryPrefix + ">"},
			Retention:  jetstream.WorkQueuePolicy,
			Duplicates: dedupWindow,
		},
	}

	for _, stream := range streams {
		if _, err := c.broker.CreateStream(ctx, stream); err != nil {
			return fmt.Errorf("setting up stream %s: %w", stream.Name, err)
		}
	}

	return nil
}

// CleanAllQueues drops every pending job from all crawl streams. Used before
// a full crawl run so stale jobs from an aborted run never execute.
func (c *Client) CleanAllQueues(ctx context.Context) error {
	for _, stream := range []string{StreamScan, StreamDetail, StreamSummary} {
		if err := c.broker.PurgeStream(ctx, stream); err != nil {
			return fmt.Errorf("cleaning stream %s: %w", stream, err)
		}
	}

	log.Info().Msg("Cleaned all crawl queues")
	return nil
}

// DispatchScanJobs publishes one scan job per strategy and returns the cycle
// identifier. Jobs inside the same cycle deduplicate on re-publish.
func (c *Client) DispatchScanJobs(ctx context.Context, strategyIDs []string, force bool) (string, error) {
	cycle := time.Now().UTC().Format("20060102T150405")

	for _, strategyID := range strategyIDs {
		job := ScanJob{
			StrategyID: strategyID,
			Cycle:      cycle,
			Force:      force,
		}
		if err := c.publish(ctx, job.Subject(), job.DedupID(), job); err != nil {
			return "", fmt.Errorf("dispatching scan for %s: %w", strategyID, err)
		}
		log.Info().Str("strategy", strategyID).Str("cycle", cycle).Msg("Dispatched scan job")
	}

	return cycle, nil
}

// DispatchScrapeFlow starts a flow for one strategy's listed links: N detail
// jobs gating one summary job. The flow record and its total are committed
// before any detail is published, so completion counting can never race the
// dispatch. Returns the flow ID.
func (c *Client) DispatchScrapeFlow(ctx context.Context, strategyID string, links []string) (string, error) {
	if len(links) == 0 {
		return "", errors.New("cannot dispatch a flow without links")
	}

	flowID, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating flow id: %w", err)
	}

	meta := FlowMeta{
		StrategyID: strategyID,
		Total:      len(links),
	}
	if err := c.flows.CreateFlow(ctx, flowID.String(), meta); err != nil {
		return "", fmt.Errorf("creating flow: %w", err)
	}

	for index, link := range links {
		job := DetailJob{
			FlowID:     flowID.String(),
			StrategyID: strategyID,
			Index:      index,
			Total:      len(links),
			Link:       link,
		}
		if err := c.publish(ctx, job.Subject(), job.DedupID(), job); err != nil {
			return "", fmt.Errorf("dispatching detail %d of flow %s: %w", index, flowID, err)
		}
	}

	log.Info().
		Str("strategy", strategyID).
		Str("flow", flowID.String()).
		Int("details", len(links)).
		Msg("Dispatched scrape flow")

	return flowID.String(), nil
}

// CompleteDetail records a successful detail job and publishes the flow's
// summary when this was the last one to resolve.
func (c *Client) CompleteDetail(ctx context.Context, job DetailJob, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling detail value: %w", err)
	}
	if err := c.flows.SetValue(ctx, job.FlowID, job.Index, data); err != nil {
		return err
	}

	return c.resolveDetail(ctx, job)
}

// FailDetail records a terminally failed detail job. The flow still advances,
// the summary counts the missing value as a failure.
func (c *Client) FailDetail(ctx context.Context, job DetailJob) error {
	log.Warn().
		Str("flow", job.FlowID).
		Int("index", job.Index).
		Msg("Detail job failed terminally")

	return c.resolveDetail(ctx, job)
}

func (c *Client) resolveDetail(ctx context.Context, job DetailJob) error {
	done, err := c.flows.CompleteOne(ctx, job.FlowID, job.Index)
	if err != nil {
		return err
	}

	// A redelivered resolution can land after the count already reached the
	// total; re-publishing is safe because the summary's dedup ID collapses it.
	if done >= int64(job.Total) {
		return c.publishSummary(ctx, job.FlowID, job.StrategyID, job.Total)
	}
	return nil
}

func (c *Client) publishSummary(ctx context.Context, flowID, strategyID string, total int) error {
	job := SummaryJob{
		FlowID:     flowID,
		StrategyID: strategyID,
		Total:      total,
	}
	if err := c.publish(ctx, job.Subject(), job.DedupID(), job); err != nil {
		return fmt.Errorf("dispatching summary for flow %s: %w", flowID, err)
	}
	return nil
}

// FlowResults returns the flow's recorded detail values and failure count
func (c *Client) FlowResults(ctx context.Context, job SummaryJob) (map[int][]byte, int, error) {
	values, err := c.flows.Values(ctx, job.FlowID)
	if err != nil {
		return nil, 0, err
	}

	failed := job.Total - len(values)
	if failed < 0 {
		failed = 0
	}
	return values, failed, nil
}

// FinishFlow drops a flow's bookkeeping once its summary has been handled
func (c *Client) FinishFlow(ctx context.Context, flowID string) error {
	return c.flows.DeleteFlow(ctx, flowID)
}

func (c *Client) publish(ctx context.Context, subject, dedupID string, job interface{}) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(nats.MsgIdHdr, dedupID)

	_, err = c.broker.PublishMsg(ctx, msg)
	return err
}

/* Consumer configuration */

// ScanConsumerConfig builds the scan worker consumer. Listing failures are
// not retried: a broken listing page should surface loudly, not loop.
func ScanConsumerConfig() jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       ConsumerScan,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    1,
		AckWait:       10 * time.Minute,
		MaxAckPending: 2,
	}
}

// DetailConsumerConfig builds the detail worker consumer. Failed details are
// redelivered with backoff up to the configured attempt budget.
func DetailConsumerConfig(cfg config.CrawlConfig) jetstream.ConsumerConfig {
	attempts := cfg.DetailAttempts
	if attempts <= 0 {
		attempts = 3
	}
	workers := cfg.DetailWorkers
	if workers <= 0 {
		workers = 5
	}

	// One delivery beyond the attempt budget is reserved for flow
	// bookkeeping: the worker marks the job terminal at the budget and only
	// Naks past it when recording the failure itself failed.
	return jetstream.ConsumerConfig{
		Durable:       ConsumerDetail,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    attempts + 1,
		AckWait:       5 * time.Minute,
		MaxAckPending: workers,
	}
}

// SummaryConsumerConfig builds the summary worker consumer
func SummaryConsumerConfig() jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       ConsumerSummary,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    2,
		AckWait:       5 * time.Minute,
		MaxAckPending: 2,
	}
}

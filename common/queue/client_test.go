package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/contestradar/crawler-http-service/common/config"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// fakeBroker records published messages and stream operations
type fakeBroker struct {
	mu        sync.Mutex
	published []*nats.Msg
	purged    []string
	created   []string
	// seenIDs emulates the server-side duplicate window
	seenIDs map[string]bool
	// summaryFailures makes the next N summary publishes fail, simulating a
	// transient broker outage
	summaryFailures int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		seenIDs: make(map[string]bool),
	}
}

func (b *fakeBroker) PublishMsg(ctx context.Context, msg *nats.Msg) (*jetstream.PubAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.summaryFailures > 0 && strings.HasPrefix(msg.Subject, SubjectSummaryPrefix) {
		b.summaryFailures--
		return nil, errors.New("broker unavailable")
	}

	id := msg.Header.Get(nats.MsgIdHdr)
	if id != "" && b.seenIDs[id] {
		return &jetstream.PubAck{Duplicate: true}, nil
	}
	if id != "" {
		b.seenIDs[id] = true
	}

	b.published = append(b.published, msg)
	return &jetstream.PubAck{}, nil
}

func (b *fakeBroker) CreateStream(ctx context.Context, config jetstream.StreamConfig) (jetstream.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, config.Name)
	return nil, nil
}

func (b *fakeBroker) PurgeStream(ctx context.Context, streamName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.purged = append(b.purged, streamName)
	return nil
}

func (b *fakeBroker) CreateConsumer(ctx context.Context, streamName string, config jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	return nil, nil
}

func (b *fakeBroker) Consume(ctx context.Context, consumer jetstream.Consumer, handler jetstream.MessageHandler) (jetstream.ConsumeContext, error) {
	return nil, nil
}

func (b *fakeBroker) messages() []*nats.Msg {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*nats.Msg(nil), b.published...)
}

func (b *fakeBroker) messagesOn(subjectPrefix string) []*nats.Msg {
	var out []*nats.Msg
	for _, msg := range b.messages() {
		if strings.HasPrefix(msg.Subject, subjectPrefix) {
			out = append(out, msg)
		}
	}
	return out
}

func newTestClient(t *testing.T) (*Client, *fakeBroker) {
	t.Helper()
	broker := newFakeBroker()
	client, err := NewClient(broker, NewMemoryFlowStore(), config.CrawlConfig{})
	if err != nil {
		t.Fatal(err)
	}
	return client, broker
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(nil, NewMemoryFlowStore(), config.CrawlConfig{}); err == nil {
		t.Error("Expected error for nil broker")
	}
	if _, err := NewClient(newFakeBroker(), nil, config.CrawlConfig{}); err == nil {
		t.Error("Expected error for nil flow store")
	}
}

func TestSetupCreatesStreams(t *testing.T) {
	client, broker := newTestClient(t)

	if err := client.Setup(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(broker.created) != 3 {
		t.Errorf("Expected 3 streams, got %v", broker.created)
	}
}

func TestCleanAllQueues(t *testing.T) {
	client, broker := newTestClient(t)

	if err := client.CleanAllQueues(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []string{StreamScan, StreamDetail, StreamSummary}
	if len(broker.purged) != len(want) {
		t.Fatalf("Expected %d purges, got %d", len(want), len(broker.purged))
	}
	for i, stream := range want {
		if broker.purged[i] != stream {
			t.Errorf("Expected purge of %s, got %s", stream, broker.purged[i])
		}
	}
}

func TestDispatchScanJobs(t *testing.T) {
	client, broker := newTestClient(t)

	cycle, err := client.DispatchScanJobs(context.Background(), []string{"alpha", "beta"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if cycle == "" {
		t.Fatal("Expected non-empty cycle")
	}

	msgs := broker.messages()
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 scan jobs, got %d", len(msgs))
	}

	var job ScanJob
	if err := json.Unmarshal(msgs[0].Data, &job); err != nil {
		t.Fatal(err)
	}
	if job.StrategyID != "alpha" || job.Cycle != cycle || !job.Force {
		t.Errorf("Unexpected scan job: %+v", job)
	}
	if msgs[0].Subject != SubjectScanPrefix+"alpha" {
		t.Errorf("Unexpected subject: %s", msgs[0].Subject)
	}
	if got := msgs[0].Header.Get(nats.MsgIdHdr); got != "scan-alpha-"+cycle {
		t.Errorf("Unexpected dedup id: %s", got)
	}
}

func TestDispatchScanJobsDeduplicates(t *testing.T) {
	client, broker := newTestClient(t)
	ctx := context.Background()

	// Publishing the same job twice inside the dedup window collapses
	broker.mu.Lock()
	broker.seenIDs["scan-alpha-x"] = true
	broker.mu.Unlock()

	job := ScanJob{StrategyID: "alpha", Cycle: "x"}
	if err := client.publish(ctx, job.Subject(), job.DedupID(), job); err != nil {
		t.Fatal(err)
	}
	if len(broker.messages()) != 0 {
		t.Error("Expected duplicate to be dropped")
	}
}

func TestDispatchScrapeFlow(t *testing.T) {
	client, broker := newTestClient(t)
	ctx := context.Background()

	links := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}
	flowID, err := client.DispatchScrapeFlow(ctx, "alpha", links)
	if err != nil {
		t.Fatal(err)
	}

	details := broker.messagesOn(SubjectDetailPrefix)
	if len(details) != 3 {
		t.Fatalf("Expected 3 detail jobs, got %d", len(details))
	}
	// No summary yet, it is gated on the details
	if got := broker.messagesOn(SubjectSummaryPrefix); len(got) != 0 {
		t.Fatalf("Expected no summary before details resolve, got %d", len(got))
	}

	var job DetailJob
	if err := json.Unmarshal(details[1].Data, &job); err != nil {
		t.Fatal(err)
	}
	if job.FlowID != flowID || job.Index != 1 || job.Total != 3 {
		t.Errorf("Unexpected detail job: %+v", job)
	}
	if job.Link != "https://example.com/b" {
		t.Errorf("Unexpected link: %s", job.Link)
	}
}

func TestDispatchScrapeFlowRejectsEmpty(t *testing.T) {
	client, broker := newTestClient(t)

	// No links means no flow: the scan just ends
	if _, err := client.DispatchScrapeFlow(context.Background(), "alpha", nil); err == nil {
		t.Fatal("Expected error for a flow without links")
	}
	if got := broker.messages(); len(got) != 0 {
		t.Errorf("Expected no jobs published, got %d", len(got))
	}
}

func TestSummaryPublishesAfterLastDetail(t *testing.T) {
	client, broker := newTestClient(t)
	ctx := context.Background()

	links := []string{"https://example.com/a", "https://example.com/b"}
	flowID, err := client.DispatchScrapeFlow(ctx, "alpha", links)
	if err != nil {
		t.Fatal(err)
	}

	jobs := make([]DetailJob, 2)
	for i, msg := range broker.messagesOn(SubjectDetailPrefix) {
		if err := json.Unmarshal(msg.Data, &jobs[i]); err != nil {
			t.Fatal(err)
		}
	}

	if err := client.CompleteDetail(ctx, jobs[0], map[string]string{"status": "created"}); err != nil {
		t.Fatal(err)
	}
	if got := broker.messagesOn(SubjectSummaryPrefix); len(got) != 0 {
		t.Fatal("Summary published before all details resolved")
	}

	if err := client.FailDetail(ctx, jobs[1]); err != nil {
		t.Fatal(err)
	}
	summaries := broker.messagesOn(SubjectSummaryPrefix)
	if len(summaries) != 1 {
		t.Fatalf("Expected exactly one summary, got %d", len(summaries))
	}

	var summary SummaryJob
	if err := json.Unmarshal(summaries[0].Data, &summary); err != nil {
		t.Fatal(err)
	}
	if summary.FlowID != flowID || summary.Total != 2 {
		t.Errorf("Unexpected summary: %+v", summary)
	}

	// One value recorded, one failure
	values, failed, err := client.FlowResults(ctx, summary)
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 1 || failed != 1 {
		t.Errorf("Expected 1 value and 1 failure, got %d and %d", len(values), failed)
	}
}

func TestSummaryRecoversFromTransientPublishFailure(t *testing.T) {
	client, broker := newTestClient(t)
	ctx := context.Background()

	links := []string{"https://example.com/a", "https://example.com/b"}
	if _, err := client.DispatchScrapeFlow(ctx, "alpha", links); err != nil {
		t.Fatal(err)
	}

	jobs := make([]DetailJob, 2)
	for i, msg := range broker.messagesOn(SubjectDetailPrefix) {
		if err := json.Unmarshal(msg.Data, &jobs[i]); err != nil {
			t.Fatal(err)
		}
	}

	if err := client.CompleteDetail(ctx, jobs[0], "ok"); err != nil {
		t.Fatal(err)
	}

	// The broker drops the summary publish once; the worker Naks and the
	// completion is redelivered
	broker.mu.Lock()
	broker.summaryFailures = 1
	broker.mu.Unlock()

	if err := client.CompleteDetail(ctx, jobs[1], "ok"); err == nil {
		t.Fatal("Expected the summary publish failure to propagate")
	}

	if err := client.CompleteDetail(ctx, jobs[1], "ok"); err != nil {
		t.Fatal(err)
	}
	if summaries := broker.messagesOn(SubjectSummaryPrefix); len(summaries) != 1 {
		t.Fatalf("Expected exactly one summary after the retry, got %d", len(summaries))
	}
}

func TestRedeliveredCompletionDoesNotOvershoot(t *testing.T) {
	client, broker := newTestClient(t)
	ctx := context.Background()

	links := []string{"https://example.com/a", "https://example.com/b"}
	if _, err := client.DispatchScrapeFlow(ctx, "alpha", links); err != nil {
		t.Fatal(err)
	}

	jobs := make([]DetailJob, 2)
	for i, msg := range broker.messagesOn(SubjectDetailPrefix) {
		if err := json.Unmarshal(msg.Data, &jobs[i]); err != nil {
			t.Fatal(err)
		}
	}

	// A lost Ack redelivers an already-completed detail; counting it twice
	// must not satisfy the flow on its own
	if err := client.CompleteDetail(ctx, jobs[0], "ok"); err != nil {
		t.Fatal(err)
	}
	if err := client.CompleteDetail(ctx, jobs[0], "ok"); err != nil {
		t.Fatal(err)
	}
	if got := broker.messagesOn(SubjectSummaryPrefix); len(got) != 0 {
		t.Fatal("Summary published before every distinct detail resolved")
	}

	if err := client.FailDetail(ctx, jobs[1]); err != nil {
		t.Fatal(err)
	}
	if summaries := broker.messagesOn(SubjectSummaryPrefix); len(summaries) != 1 {
		t.Fatalf("Expected exactly one summary, got %d", len(summaries))
	}
}

func TestConcurrentDetailCompletionPublishesOneSummary(t *testing.T) {
	client, broker := newTestClient(t)
	ctx := context.Background()

	const total = 20
	links := make([]string, total)
	for i := range links {
		links[i] = fmt.Sprintf("https://example.com/%d", i)
	}
	if _, err := client.DispatchScrapeFlow(ctx, "alpha", links); err != nil {
		t.Fatal(err)
	}

	jobs := make([]DetailJob, 0, total)
	for _, msg := range broker.messagesOn(SubjectDetailPrefix) {
		var job DetailJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			t.Fatal(err)
		}
		jobs = append(jobs, job)
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(j DetailJob) {
			defer wg.Done()
			if err := client.CompleteDetail(ctx, j, "ok"); err != nil {
				t.Error(err)
			}
		}(job)
	}
	wg.Wait()

	if summaries := broker.messagesOn(SubjectSummaryPrefix); len(summaries) != 1 {
		t.Errorf("Expected exactly one summary, got %d", len(summaries))
	}
}

func TestFinishFlowDropsBookkeeping(t *testing.T) {
	store := NewMemoryFlowStore()
	broker := newFakeBroker()
	client, err := NewClient(broker, store, config.CrawlConfig{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	flowID, err := client.DispatchScrapeFlow(ctx, "alpha", []string{"https://example.com/a"})
	if err != nil {
		t.Fatal(err)
	}
	if err := client.FinishFlow(ctx, flowID); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := store.Meta(ctx, flowID); found {
		t.Error("Expected flow meta to be deleted")
	}
}

func TestConsumerConfigs(t *testing.T) {
	if got := ScanConsumerConfig().MaxDeliver; got != 1 {
		t.Errorf("Scan jobs must not be retried, MaxDeliver=%d", got)
	}

	// One delivery on top of the attempt budget is the bookkeeping spare
	detail := DetailConsumerConfig(config.CrawlConfig{DetailAttempts: 5, DetailWorkers: 8})
	if detail.MaxDeliver != 6 {
		t.Errorf("Expected MaxDeliver 6, got %d", detail.MaxDeliver)
	}
	if detail.MaxAckPending != 8 {
		t.Errorf("Expected MaxAckPending 8, got %d", detail.MaxAckPending)
	}

	// Zero config falls back to sane defaults
	fallback := DetailConsumerConfig(config.CrawlConfig{})
	if fallback.MaxDeliver <= 0 || fallback.MaxAckPending <= 0 {
		t.Errorf("Expected positive defaults, got %+v", fallback)
	}
}

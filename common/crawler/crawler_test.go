package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/contestradar/crawler-http-service/common"
	"github.com/contestradar/crawler-http-service/common/config"
	"github.com/contestradar/crawler-http-service/common/logger"
	"github.com/contestradar/crawler-http-service/common/notify"
	"github.com/contestradar/crawler-http-service/common/queue"
	"github.com/contestradar/crawler-http-service/common/syncengine"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

/* Test doubles */

type fakeStrategy struct {
	id         string
	links      []string
	scanErr    error
	scanCalls  int
	detailErr  error
	summary    *notify.TargetedNotification
	gotResults []ProcessResult
	gotTotal   int
	gotFailed  int
	mu         sync.Mutex
}

func (s *fakeStrategy) ID() string           { return s.id }
func (s *fakeStrategy) FriendlyName() string { return strings.ToUpper(s.id) }
func (s *fakeStrategy) BaseURL() string      { return "https://" + s.id + ".example.com" }

func (s *fakeStrategy) ScanListing(ctx context.Context, force bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanCalls++
	return s.links, s.scanErr
}

func (s *fakeStrategy) ProcessDetail(ctx context.Context, link string) (ProcessResult, error) {
	if s.detailErr != nil {
		return ProcessResult{}, s.detailErr
	}
	return ProcessResult{Status: syncengine.StatusCreated, Link: link, Title: link}, nil
}

func (s *fakeStrategy) FormatSummary(ctx context.Context, results []ProcessResult, totalChildren, failed int) *notify.TargetedNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotResults = results
	s.gotTotal = totalChildren
	s.gotFailed = failed
	return s.summary
}

type fakeBroker struct {
	mu        sync.Mutex
	published []*nats.Msg
	purged    []string
}

func (b *fakeBroker) PublishMsg(ctx context.Context, msg *nats.Msg) (*jetstream.PubAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, msg)
	return &jetstream.PubAck{}, nil
}

func (b *fakeBroker) CreateStream(ctx context.Context, config jetstream.StreamConfig) (jetstream.Stream, error) {
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

func (b *fakeBroker) messagesOn(prefix string) []*nats.Msg {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*nats.Msg
	for _, msg := range b.published {
		if strings.HasPrefix(msg.Subject, prefix) {
			out = append(out, msg)
		}
	}
	return out
}

type fakeRunLog struct {
	mu      sync.Mutex
	entries []string
	cleared int
}

func (l *fakeRunLog) Info(ctx context.Context, strategyID, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, "info:"+strategyID+":"+message)
}

func (l *fakeRunLog) Error(ctx context.Context, strategyID, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, "error:"+strategyID+":"+message)
}

func (l *fakeRunLog) Get(ctx context.Context, limit int64) ([]logger.LogEntry, error) {
	return nil, nil
}

func (l *fakeRunLog) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleared++
	return nil
}

type fakeGuard struct {
	locked map[string]bool
	busy   bool
}

func (g *fakeGuard) Start(ctx context.Context, name string) error {
	if g.busy {
		return queue.ErrRunInProgress
	}
	if g.locked == nil {
		g.locked = make(map[string]bool)
	}
	g.locked[name] = true
	return nil
}

func (g *fakeGuard) Finish(ctx context.Context, name string) {
	delete(g.locked, name)
}

type collectingSender struct {
	id  string
	mu  sync.Mutex
	got []notify.Payload
}

func (s *collectingSender) ID() string { return s.id }

func (s *collectingSender) Send(ctx context.Context, payload notify.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, payload)
	return nil
}

func newTestQueueClient(t *testing.T, broker *fakeBroker) *queue.Client {
	t.Helper()
	client, err := queue.NewClient(broker, queue.NewMemoryFlowStore(), config.CrawlConfig{})
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func registerStrategy(t *testing.T, s Strategy) {
	t.Helper()
	ResetRegistry()
	t.Cleanup(ResetRegistry)
	if err := RegisterStrategy(s); err != nil {
		t.Fatal(err)
	}
}

/* Registry */

func TestRegistry(t *testing.T) {
	ResetRegistry()
	t.Cleanup(ResetRegistry)

	if err := RegisterStrategy(&fakeStrategy{id: "alpha"}); err != nil {
		t.Fatal(err)
	}
	if err := RegisterStrategy(&fakeStrategy{id: "beta"}); err != nil {
		t.Fatal(err)
	}

	// Duplicate registration fails
	if err := RegisterStrategy(&fakeStrategy{id: "alpha"}); err == nil {
		t.Error("Expected error for duplicate registration")
	}
	// Empty id fails
	if err := RegisterStrategy(&fakeStrategy{}); err == nil {
		t.Error("Expected error for empty id")
	}

	s, err := GetStrategy("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if s.ID() != "alpha" {
		t.Errorf("Expected alpha, got %s", s.ID())
	}

	if _, err := GetStrategy("nope"); !errors.Is(err, common.ErrUnknownStrategy) {
		t.Errorf("Expected ErrUnknownStrategy, got %v", err)
	}

	ids := StrategyIDs()
	if len(ids) != 2 || ids[0] != "alpha" || ids[1] != "beta" {
		t.Errorf("Expected sorted ids, got %v", ids)
	}
}

/* Scan worker */

func TestScanWorkerDispatchesFlow(t *testing.T) {
	strategy := &fakeStrategy{
		id:    "alpha",
		links: []string{"https://alpha.example.com/1", "https://alpha.example.com/2"},
	}
	registerStrategy(t, strategy)

	broker := &fakeBroker{}
	client := newTestQueueClient(t, broker)
	runLog := &fakeRunLog{}
	worker := NewScanWorker(client, broker, runLog, notify.NewDispatcher())

	job := queue.ScanJob{StrategyID: "alpha", Cycle: "c1", Force: true}
	if err := worker.handleScan(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	if strategy.scanCalls != 1 {
		t.Errorf("Expected 1 scan call, got %d", strategy.scanCalls)
	}
	if details := broker.messagesOn(queue.SubjectDetailPrefix); len(details) != 2 {
		t.Errorf("Expected 2 detail jobs, got %d", len(details))
	}
}

func TestScanWorkerUnknownStrategy(t *testing.T) {
	ResetRegistry()
	t.Cleanup(ResetRegistry)

	broker := &fakeBroker{}
	worker := NewScanWorker(newTestQueueClient(t, broker), broker, &fakeRunLog{}, notify.NewDispatcher())

	err := worker.handleScan(context.Background(), queue.ScanJob{StrategyID: "ghost"})
	if !errors.Is(err, common.ErrUnknownStrategy) {
		t.Errorf("Expected ErrUnknownStrategy, got %v", err)
	}
}

func TestScanWorkerEmptyListing(t *testing.T) {
	registerStrategy(t, &fakeStrategy{id: "alpha"})

	broker := &fakeBroker{}
	client := newTestQueueClient(t, broker)
	worker := NewScanWorker(client, broker, &fakeRunLog{}, notify.NewDispatcher())

	if err := worker.handleScan(context.Background(), queue.ScanJob{StrategyID: "alpha"}); err != nil {
		t.Fatal(err)
	}

	// An empty listing creates no flow: no detail jobs, no summary
	if got := broker.messages(); len(got) != 0 {
		t.Errorf("Expected no jobs for an empty listing, got %d", len(got))
	}
}

func TestScanWorkerFailureNotifies(t *testing.T) {
	strategy := &fakeStrategy{id: "alpha", scanErr: errors.New("listing gone")}
	registerStrategy(t, strategy)

	sender := &collectingSender{id: "tg"}
	broker := &fakeBroker{}
	worker := NewScanWorker(newTestQueueClient(t, broker), broker, &fakeRunLog{}, notify.NewDispatcher(sender))

	job := queue.ScanJob{StrategyID: "alpha", Cycle: "c1"}
	err := worker.handleScan(context.Background(), job)
	if err == nil {
		t.Fatal("Expected scan error")
	}
	worker.notifyScanFailure(context.Background(), job.StrategyID, err)

	if len(sender.got) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(sender.got))
	}
	if !strings.Contains(sender.got[0].Message, "ALPHA") || !strings.Contains(sender.got[0].Message, "listing gone") {
		t.Errorf("Unexpected notification: %q", sender.got[0].Message)
	}
	if sender.got[0].Silent {
		t.Error("Scan failure notification must not be silent")
	}
}

/* Summary worker */

func TestSummaryWorkerNotifies(t *testing.T) {
	sender := &collectingSender{id: "tg"}
	strategy := &fakeStrategy{
		id:      "alpha",
		summary: &notify.TargetedNotification{Payload: notify.Payload{Message: "2 new contests"}},
	}
	registerStrategy(t, strategy)

	broker := &fakeBroker{}
	client := newTestQueueClient(t, broker)
	ctx := context.Background()

	links := []string{
		"https://alpha.example.com/1",
		"https://alpha.example.com/2",
		"https://alpha.example.com/3",
	}
	flowID, err := client.DispatchScrapeFlow(ctx, "alpha", links)
	if err != nil {
		t.Fatal(err)
	}

	// Two details succeed, one fails terminally
	for i := 0; i < 2; i++ {
		job := queue.DetailJob{FlowID: flowID, StrategyID: "alpha", Index: i, Total: 3}
		result := ProcessResult{Status: syncengine.StatusCreated, Title: fmt.Sprintf("item %d", i)}
		if err := client.CompleteDetail(ctx, job, result); err != nil {
			t.Fatal(err)
		}
	}
	if err := client.FailDetail(ctx, queue.DetailJob{FlowID: flowID, StrategyID: "alpha", Index: 2, Total: 3}); err != nil {
		t.Fatal(err)
	}

	runLog := &fakeRunLog{}
	worker := NewSummaryWorker(client, broker, runLog, notify.NewDispatcher(sender))

	job := queue.SummaryJob{FlowID: flowID, StrategyID: "alpha", Total: 3}
	if err := worker.handleSummary(ctx, job); err != nil {
		t.Fatal(err)
	}

	if len(strategy.gotResults) != 2 {
		t.Errorf("Expected 2 results passed to FormatSummary, got %d", len(strategy.gotResults))
	}
	if strategy.gotTotal != 3 {
		t.Errorf("Expected total 3, got %d", strategy.gotTotal)
	}
	if strategy.gotFailed != 1 {
		t.Errorf("Expected 1 failure, got %d", strategy.gotFailed)
	}
	if len(sender.got) != 1 || sender.got[0].Message != "2 new contests" {
		t.Errorf("Expected notification to be dispatched, got %v", sender.got)
	}
}

func TestSummaryWorkerNilSummary(t *testing.T) {
	sender := &collectingSender{id: "tg"}
	registerStrategy(t, &fakeStrategy{id: "alpha"})

	broker := &fakeBroker{}
	client := newTestQueueClient(t, broker)
	ctx := context.Background()

	flowID, err := client.DispatchScrapeFlow(ctx, "alpha", []string{"https://alpha.example.com/1"})
	if err != nil {
		t.Fatal(err)
	}
	job := queue.DetailJob{FlowID: flowID, StrategyID: "alpha", Index: 0, Total: 1}
	if err := client.CompleteDetail(ctx, job, ProcessResult{Status: syncengine.StatusUnchanged}); err != nil {
		t.Fatal(err)
	}

	worker := NewSummaryWorker(client, broker, &fakeRunLog{}, notify.NewDispatcher(sender))
	if err := worker.handleSummary(ctx, queue.SummaryJob{FlowID: flowID, StrategyID: "alpha", Total: 1}); err != nil {
		t.Fatal(err)
	}

	// A nil summary means nothing worth reporting, so nothing goes out
	if len(sender.got) != 0 {
		t.Errorf("Expected no notifications, got %v", sender.got)
	}
}

func TestTallyResults(t *testing.T) {
	results := []ProcessResult{
		{Status: syncengine.StatusCreated},
		{Status: syncengine.StatusCreated},
		{Status: syncengine.StatusUpdated},
		{Status: syncengine.StatusUnchanged},
	}

	summary := tallyResults(results, 2)
	if summary.Created != 2 || summary.Updated != 1 || summary.Unchanged != 1 || summary.Failed != 2 {
		t.Errorf("Unexpected tally: %+v", summary)
	}
}

/* Crawl service */

func TestRunAllCleansAndDispatches(t *testing.T) {
	registerStrategy(t, &fakeStrategy{id: "alpha"})
	if err := RegisterStrategy(&fakeStrategy{id: "beta"}); err != nil {
		t.Fatal(err)
	}

	sender := &collectingSender{id: "tg"}
	broker := &fakeBroker{}
	client := newTestQueueClient(t, broker)
	runLog := &fakeRunLog{}
	service := NewCrawlService(client, &fakeGuard{}, runLog, notify.NewDispatcher(sender), config.CrawlConfig{
		ActiveStrategies: []string{"alpha"},
	})

	cycle, err := service.RunAll(context.Background(), false, false)
	if err != nil {
		t.Fatal(err)
	}
	if cycle == "" {
		t.Error("Expected non-empty cycle")
	}

	if len(broker.purged) != 3 {
		t.Errorf("Expected all queues cleaned, got %v", broker.purged)
	}
	// The previous run's log is dropped with the queues
	if runLog.cleared != 1 {
		t.Errorf("Expected crawl log cleared once, got %d", runLog.cleared)
	}
	// Only the active strategy gets a scan job
	scans := broker.messagesOn(queue.SubjectScanPrefix)
	if len(scans) != 1 {
		t.Fatalf("Expected 1 scan job, got %d", len(scans))
	}
	if scans[0].Subject != queue.SubjectScanPrefix+"alpha" {
		t.Errorf("Unexpected subject: %s", scans[0].Subject)
	}

	if len(sender.got) != 1 {
		t.Fatalf("Expected start notification, got %d", len(sender.got))
	}
	if sender.got[0].Silent {
		t.Error("Manual run start notification must not be silent")
	}
}

func TestRunAllCronIsSilent(t *testing.T) {
	registerStrategy(t, &fakeStrategy{id: "alpha"})

	sender := &collectingSender{id: "tg"}
	broker := &fakeBroker{}
	service := NewCrawlService(newTestQueueClient(t, broker), &fakeGuard{}, &fakeRunLog{}, notify.NewDispatcher(sender), config.CrawlConfig{
		ActiveStrategies: []string{"alpha"},
	})

	if _, err := service.RunAll(context.Background(), false, true); err != nil {
		t.Fatal(err)
	}
	if len(sender.got) != 1 || !sender.got[0].Silent {
		t.Errorf("Expected silent start notification for scheduled run, got %v", sender.got)
	}
}

func TestRunAllBlockedByGuard(t *testing.T) {
	registerStrategy(t, &fakeStrategy{id: "alpha"})

	broker := &fakeBroker{}
	service := NewCrawlService(newTestQueueClient(t, broker), &fakeGuard{busy: true}, &fakeRunLog{}, notify.NewDispatcher(), config.CrawlConfig{
		ActiveStrategies: []string{"alpha"},
	})

	_, err := service.RunAll(context.Background(), false, false)
	if !errors.Is(err, queue.ErrRunInProgress) {
		t.Errorf("Expected ErrRunInProgress, got %v", err)
	}
	if len(broker.purged) != 0 {
		t.Error("Expected no queue clean while guarded")
	}
}

func TestRunAllNoActiveStrategies(t *testing.T) {
	registerStrategy(t, &fakeStrategy{id: "alpha"})

	broker := &fakeBroker{}
	service := NewCrawlService(newTestQueueClient(t, broker), &fakeGuard{}, &fakeRunLog{}, notify.NewDispatcher(), config.CrawlConfig{})

	if _, err := service.RunAll(context.Background(), false, false); err == nil {
		t.Error("Expected error with no active strategies")
	}
}

func TestRunOne(t *testing.T) {
	registerStrategy(t, &fakeStrategy{id: "alpha"})

	broker := &fakeBroker{}
	service := NewCrawlService(newTestQueueClient(t, broker), &fakeGuard{}, &fakeRunLog{}, notify.NewDispatcher(), config.CrawlConfig{
		ActiveStrategies: []string{"alpha"},
	})
	ctx := context.Background()

	if _, err := service.RunOne(ctx, "alpha", true); err != nil {
		t.Fatal(err)
	}
	if scans := broker.messagesOn(queue.SubjectScanPrefix); len(scans) != 1 {
		t.Errorf("Expected 1 scan job, got %d", len(scans))
	}
	// A single run leaves the queues alone
	if len(broker.purged) != 0 {
		t.Error("Expected no queue clean for single-strategy run")
	}

	if _, err := service.RunOne(ctx, "ghost", false); !errors.Is(err, common.ErrUnknownStrategy) {
		t.Errorf("Expected ErrUnknownStrategy, got %v", err)
	}

	if err := RegisterStrategy(&fakeStrategy{id: "sleepy"}); err != nil {
		t.Fatal(err)
	}
	if _, err := service.RunOne(ctx, "sleepy", false); !errors.Is(err, common.ErrInactiveStrategy) {
		t.Errorf("Expected ErrInactiveStrategy, got %v", err)
	}
}

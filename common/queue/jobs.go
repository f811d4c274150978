package queue

import (
	"fmt"
)

// Stream names for the three crawl phases
const (
	StreamScan    = "CRAWL_SCAN"
	StreamDetail  = "CRAWL_DETAIL"
	StreamSummary = "CRAWL_SUMMARY"
)

// Subject prefixes, one strategy per leaf token
const (
	SubjectScanPrefix    = "crawl.scan."
	SubjectDetailPrefix  = "crawl.detail."
	SubjectSummaryPrefix = "crawl.summary."
)

// Consumer names, one durable consumer per stream
const (
	ConsumerScan    = "scan-workers"
	ConsumerDetail  = "detail-workers"
	ConsumerSummary = "summary-workers"
)

// ScanJob asks a strategy to crawl its listing pages. Cycle identifies the
// crawl run so a re-published job inside the same cycle deduplicates.
type ScanJob struct {
	StrategyID string `json:"strategy_id"`
	Cycle      string `json:"cycle"`
	Force      bool   `json:"force"`
}

// Subject returns the NATS subject for this job
func (j ScanJob) Subject() string {
	return SubjectScanPrefix + j.StrategyID
}

// DedupID returns the idempotency key for this job
func (j ScanJob) DedupID() string {
	return fmt.Sprintf("scan-%s-%s", j.StrategyID, j.Cycle)
}

// DetailJob asks a strategy to process one listed link inside a flow.
// Strategies may smuggle listing metadata through the link's query string.
type DetailJob struct {
	FlowID     string `json:"flow_id"`
	StrategyID string `json:"strategy_id"`
	Index      int    `json:"index"`
	Total      int    `json:"total"`
	Link       string `json:"link"`
}

// Subject returns the NATS subject for this job
func (j DetailJob) Subject() string {
	return SubjectDetailPrefix + j.StrategyID
}

// DedupID returns the idempotency key for this job
func (j DetailJob) DedupID() string {
	return fmt.Sprintf("detail-%s-%d", j.FlowID, j.Index)
}

// SummaryJob aggregates a completed flow. It is published exactly once per
// flow, by whichever detail worker resolves last.
type SummaryJob struct {
	FlowID     string `json:"flow_id"`
	StrategyID string `json:"strategy_id"`
	Total      int    `json:"total"`
}

// Subject returns the NATS subject for this job
func (j SummaryJob) Subject() string {
	return SubjectSummaryPrefix + j.StrategyID
}

// DedupID returns the idempotency key for this job
func (j SummaryJob) DedupID() string {
	return "summary-" + j.FlowID
}

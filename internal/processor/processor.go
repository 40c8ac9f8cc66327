// Package processor orchestrates one triage pass: fetch unread
// alerts, skip already-handled ones, classify, route a summary to the
// matching team, and record the outcome in the ledger. Messages are
// processed strictly sequentially; one message's failure never aborts
// the pass.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aniiisha-23/alertiq/internal/fetcher"
	"github.com/aniiisha-23/alertiq/internal/metrics"
	"github.com/aniiisha-23/alertiq/internal/model"
	"github.com/aniiisha-23/alertiq/internal/retry"
	"github.com/aniiisha-23/alertiq/internal/sender"
)

// Ledger is the audit/dedup store contract the pipeline depends on,
// kept narrow so the backing store can be swapped.
type Ledger interface {
	Exists(messageID string) bool
	Get(messageID string) (*model.LedgerRecord, bool)
	Record(rec *model.LedgerRecord) error
}

// Classifier produces a routing decision for one message.
type Classifier interface {
	Classify(ctx context.Context, msg model.SourceMessage) (*model.Decision, error)
}

// Options configures pipeline behavior.
type Options struct {
	MaxBatchSize int
	Retry        retry.Policy
	// MaxMessageAttempts bounds re-delivery of a repeatedly failing
	// message; 0 means re-attempt on every pass.
	MaxMessageAttempts int
	// DryRun runs fetch and classification but suppresses delivery,
	// ledger writes and mark-read.
	DryRun bool
}

// Processor is the pipeline orchestrator.
type Processor struct {
	ledger     Ledger
	classifier Classifier
	source     fetcher.Fetcher
	sink       sender.Sender
	routes     map[model.Action]string
	metrics    *metrics.Metrics
	opts       Options
}

// New creates a processor. The routes map must cover all three
// actions; a missing address is a configuration error.
func New(ledger Ledger, classifier Classifier, source fetcher.Fetcher, sink sender.Sender, routes map[model.Action]string, m *metrics.Metrics, opts Options) (*Processor, error) {
	for _, action := range model.Actions() {
		if routes[action] == "" {
			return nil, fmt.Errorf("no team address configured for action %q", action)
		}
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 10
	}

	return &Processor{
		ledger:     ledger,
		classifier: classifier,
		source:     source,
		sink:       sink,
		routes:     routes,
		metrics:    m,
		opts:       opts,
	}, nil
}

// RunOnce executes one full pass and returns its statistics. A fetch
// failure aborts the pass; per-message failures are isolated and
// tallied.
func (p *Processor) RunOnce(ctx context.Context) (model.RunStats, error) {
	start := time.Now()
	stats := model.RunStats{}
	p.metrics.Passes.Inc()

	logrus.Info("Starting alert processing pass")

	messages, err := p.source.FetchUnread(ctx, p.opts.MaxBatchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch unread messages: %w", err)
	}

	stats.Fetched = len(messages)
	p.metrics.Fetched.Add(float64(len(messages)))
	logrus.Infof("Fetched %d unread messages", len(messages))

	for _, msg := range messages {
		p.processMessage(ctx, msg, &stats)
	}

	stats.Elapsed = time.Since(start)
	p.metrics.ProcessingTime.Observe(stats.Elapsed.Seconds())
	logrus.Infof("Pass completed: %s", stats)
	return stats, nil
}

// processMessage runs one message through dedup, classification,
// routing and recording. Every exit path leaves either no trace (skip,
// dry-run) or a terminal ledger row.
func (p *Processor) processMessage(ctx context.Context, msg model.SourceMessage, stats *model.RunStats) {
	if p.ledger.Exists(msg.ID) {
		logrus.Debugf("Message %s already processed, skipping", msg.ID)
		stats.Skipped++
		p.metrics.Skipped.Inc()
		return
	}

	prevAttempts := 0
	if prev, ok := p.ledger.Get(msg.ID); ok {
		prevAttempts = prev.Attempts
		// prev is Failed or Skipped here; Exists filtered out Success
		if p.opts.MaxMessageAttempts > 0 && prevAttempts >= p.opts.MaxMessageAttempts {
			logrus.Warnf("Message %s exhausted %d delivery attempts, skipping", msg.ID, prevAttempts)
			stats.Skipped++
			p.metrics.Skipped.Inc()
			p.record(&model.LedgerRecord{
				MessageID:  msg.ID,
				Subject:    msg.Subject,
				Sender:     msg.Sender,
				ReceivedAt: msg.ReceivedAt,
				Status:     model.StatusSkipped,
				Attempts:   prevAttempts,
				Error:      fmt.Sprintf("gave up after %d failed attempts", prevAttempts),
			})
			return
		}
	}

	decision, err := p.classifier.Classify(ctx, msg)
	if err == nil {
		err = decision.Validate()
	}
	if err != nil {
		logrus.Errorf("Failed to classify message %s: %v", msg.ID, err)
		stats.Failed++
		p.metrics.Failures.Inc()
		p.record(&model.LedgerRecord{
			MessageID:  msg.ID,
			Subject:    msg.Subject,
			Sender:     msg.Sender,
			ReceivedAt: msg.ReceivedAt,
			Status:     model.StatusFailed,
			Attempts:   prevAttempts + 1,
			Error:      fmt.Sprintf("classification failed: %v", err),
		})
		return
	}

	to := p.routes[decision.Action]
	subject := sender.SummarySubject(msg, *decision)
	body := sender.SummaryBody(msg, *decision)

	if p.opts.DryRun {
		logrus.Infof("Dry run: would route message %s to %s (action=%s)", msg.ID, to, decision.Action)
		stats.Succeeded++
		return
	}

	err = p.opts.Retry.Do(ctx, func() error {
		p.metrics.SendAttempts.Inc()
		return p.sink.Send(ctx, to, subject, body)
	})
	if err != nil {
		// left unread at the source so a later pass re-attempts it
		logrus.Errorf("Failed to deliver summary for message %s: %v", msg.ID, err)
		stats.Failed++
		p.metrics.Failures.Inc()
		p.record(&model.LedgerRecord{
			MessageID:  msg.ID,
			Subject:    msg.Subject,
			Sender:     msg.Sender,
			ReceivedAt: msg.ReceivedAt,
			Decision:   decision,
			RoutedTo:   to,
			Status:     model.StatusFailed,
			Attempts:   prevAttempts + 1,
			Error:      fmt.Sprintf("delivery failed: %v", err),
		})
		return
	}

	rec := &model.LedgerRecord{
		MessageID:  msg.ID,
		Subject:    msg.Subject,
		Sender:     msg.Sender,
		ReceivedAt: msg.ReceivedAt,
		Decision:   decision,
		RoutedTo:   to,
		Status:     model.StatusSuccess,
		Attempts:   prevAttempts + 1,
	}
	if err := p.ledger.Record(rec); err != nil {
		// without a success row the message stays unread and will be
		// re-attempted; dedup integrity wins over double delivery risk
		logrus.Errorf("Failed to record success for message %s: %v", msg.ID, err)
		stats.Failed++
		p.metrics.Failures.Inc()
		return
	}

	if err := p.source.MarkRead(ctx, msg.ID); err != nil {
		logrus.Warnf("Failed to mark message %s read: %v", msg.ID, err)
	}

	stats.Succeeded++
	p.metrics.Successes.Inc()
	logrus.Infof("Processed message %s: action=%s routed to %s", msg.ID, decision.Action, to)
}

// record writes a ledger row, logging rather than propagating write
// failures: other messages in the pass are independent.
func (p *Processor) record(rec *model.LedgerRecord) {
	if err := p.ledger.Record(rec); err != nil {
		logrus.Errorf("Failed to write ledger record for message %s: %v", rec.MessageID, err)
	}
}

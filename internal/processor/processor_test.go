package processor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aniiisha-23/alertiq/internal/ledger"
	"github.com/aniiisha-23/alertiq/internal/metrics"
	"github.com/aniiisha-23/alertiq/internal/model"
	"github.com/aniiisha-23/alertiq/internal/retry"
)

type fakeFetcher struct {
	messages  []model.SourceMessage
	fetchErr  error
	markedIDs []string
}

func (f *fakeFetcher) FetchUnread(ctx context.Context, max int) ([]model.SourceMessage, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.messages) > max {
		return f.messages[:max], nil
	}
	return f.messages, nil
}

func (f *fakeFetcher) MarkRead(ctx context.Context, messageID string) error {
	f.markedIDs = append(f.markedIDs, messageID)
	return nil
}

func (f *fakeFetcher) Close() error { return nil }

type fakeClassifier struct {
	decisions map[string]*model.Decision
	errs      map[string]error
	calls     map[string]int
}

func (c *fakeClassifier) Classify(ctx context.Context, msg model.SourceMessage) (*model.Decision, error) {
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[msg.ID]++
	if err, ok := c.errs[msg.ID]; ok {
		return nil, err
	}
	if d, ok := c.decisions[msg.ID]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("no decision configured for %s", msg.ID)
}

type fakeSink struct {
	transientFailures int
	calls             int
	sent              []string
}

func (s *fakeSink) Send(ctx context.Context, to, subject, body string) error {
	s.calls++
	if s.calls <= s.transientFailures {
		return retry.Transient(errors.New("connection reset"))
	}
	s.sent = append(s.sent, to)
	return nil
}

func (s *fakeSink) Verify(ctx context.Context) error { return nil }
func (s *fakeSink) Close() error                     { return nil }

func testRoutes() map[model.Action]string {
	return map[model.Action]string{
		model.ActionRehit:   "ops@company.com",
		model.ActionBackend: "backend@company.com",
		model.ActionCode:    "dev@company.com",
	}
}

func testLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.csv"), false)
	require.NoError(t, err)
	return l
}

func testMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func fastOpts() Options {
	return Options{
		MaxBatchSize: 10,
		Retry:        retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond},
	}
}

func backendDecision() *model.Decision {
	conf := 0.9
	return &model.Decision{Action: model.ActionBackend, Reason: "connection timeout", Confidence: &conf}
}

func message(id, subject string) model.SourceMessage {
	return model.SourceMessage{
		ID:         id,
		Subject:    subject,
		Sender:     "monitoring@company.com",
		Body:       "alert body",
		ReceivedAt: time.Now().Add(-time.Hour),
	}
}

func newProcessor(t *testing.T, l Ledger, c Classifier, f *fakeFetcher, s *fakeSink, opts Options) *Processor {
	t.Helper()
	p, err := New(l, c, f, s, testRoutes(), testMetrics(), opts)
	require.NoError(t, err)
	return p
}

func TestNewRejectsIncompleteRoutes(t *testing.T) {
	routes := testRoutes()
	delete(routes, model.ActionCode)

	_, err := New(testLedger(t), &fakeClassifier{}, &fakeFetcher{}, &fakeSink{}, routes, testMetrics(), fastOpts())
	assert.Error(t, err)
}

func TestEndToEndSingleMessage(t *testing.T) {
	l := testLedger(t)
	f := &fakeFetcher{messages: []model.SourceMessage{message("m1", "DB timeout")}}
	c := &fakeClassifier{decisions: map[string]*model.Decision{"m1": backendDecision()}}
	s := &fakeSink{}

	p := newProcessor(t, l, c, f, s, fastOpts())
	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Fetched)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 0, stats.Failed)

	rec, ok := l.Get("m1")
	require.True(t, ok)
	assert.Equal(t, model.StatusSuccess, rec.Status)
	assert.Equal(t, "backend@company.com", rec.RoutedTo)
	require.NotNil(t, rec.Decision)
	assert.Equal(t, "connection timeout", rec.Decision.Reason)

	assert.Equal(t, []string{"m1"}, f.markedIDs)
	assert.Equal(t, []string{"backend@company.com"}, s.sent)
}

func TestIdempotency(t *testing.T) {
	l := testLedger(t)
	require.NoError(t, l.Record(&model.LedgerRecord{
		MessageID: "m1",
		Decision:  backendDecision(),
		RoutedTo:  "backend@company.com",
		Status:    model.StatusSuccess,
	}))

	f := &fakeFetcher{messages: []model.SourceMessage{message("m1", "DB timeout")}}
	c := &fakeClassifier{decisions: map[string]*model.Decision{"m1": backendDecision()}}
	s := &fakeSink{}

	p := newProcessor(t, l, c, f, s, fastOpts())
	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Succeeded)
	assert.Equal(t, 0, c.calls["m1"], "classifier must not be called again")
	assert.Equal(t, 0, s.calls, "sink must not be called again")
	assert.Empty(t, f.markedIDs)
	assert.Equal(t, 1, l.Stats(time.Time{}).Total, "no duplicate ledger row")
}

func TestSameRunDuplicateSkipped(t *testing.T) {
	l := testLedger(t)
	f := &fakeFetcher{messages: []model.SourceMessage{
		message("m1", "DB timeout"),
		message("m1", "DB timeout"),
	}}
	c := &fakeClassifier{decisions: map[string]*model.Decision{"m1": backendDecision()}}
	s := &fakeSink{}

	p := newProcessor(t, l, c, f, s, fastOpts())
	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, c.calls["m1"])
	assert.Equal(t, 1, s.calls)
	assert.Equal(t, 1, l.Stats(time.Time{}).Succeeded)
}

func TestFailureIsolation(t *testing.T) {
	l := testLedger(t)
	f := &fakeFetcher{messages: []model.SourceMessage{
		message("m1", "alert one"),
		message("m2", "alert two"),
		message("m3", "alert three"),
	}}
	c := &fakeClassifier{
		decisions: map[string]*model.Decision{
			"m1": backendDecision(),
			"m3": {Action: model.ActionCode, Reason: "panic in handler"},
		},
		errs: map[string]error{
			"m2": errors.New("unparseable classifier reply: no JSON object in reply"),
		},
	}
	s := &fakeSink{}

	p := newProcessor(t, l, c, f, s, fastOpts())
	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)

	// every message reached a terminal ledger state
	for _, id := range []string{"m1", "m2", "m3"} {
		rec, ok := l.Get(id)
		require.True(t, ok, "message %s missing from ledger", id)
		assert.Contains(t, []model.Status{model.StatusSuccess, model.StatusFailed}, rec.Status)
	}

	rec, _ := l.Get("m2")
	assert.Equal(t, model.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "classification failed")
	assert.Empty(t, rec.RoutedTo, "failed classification must not be routed")
}

func TestRetryBoundSuccess(t *testing.T) {
	l := testLedger(t)
	f := &fakeFetcher{messages: []model.SourceMessage{message("m1", "DB timeout")}}
	c := &fakeClassifier{decisions: map[string]*model.Decision{"m1": backendDecision()}}
	s := &fakeSink{transientFailures: 2}

	opts := fastOpts()
	opts.Retry.MaxAttempts = 3

	p := newProcessor(t, l, c, f, s, opts)
	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 3, s.calls, "exactly R send attempts")
	assert.True(t, l.Exists("m1"))
}

func TestRetryBoundExhausted(t *testing.T) {
	l := testLedger(t)
	f := &fakeFetcher{messages: []model.SourceMessage{message("m1", "DB timeout")}}
	c := &fakeClassifier{decisions: map[string]*model.Decision{"m1": backendDecision()}}
	s := &fakeSink{transientFailures: 2}

	opts := fastOpts()
	opts.Retry.MaxAttempts = 2

	p := newProcessor(t, l, c, f, s, opts)
	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, s.calls)

	rec, ok := l.Get("m1")
	require.True(t, ok)
	assert.Equal(t, model.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "delivery failed")
	assert.Empty(t, f.markedIDs, "delivery failure must leave the message unread")
	assert.False(t, l.Exists("m1"), "failed row must not satisfy dedup")
}

func TestInvalidDecisionNeverReachesLedgerAsSuccess(t *testing.T) {
	l := testLedger(t)
	f := &fakeFetcher{messages: []model.SourceMessage{message("m1", "alert")}}
	c := &fakeClassifier{decisions: map[string]*model.Decision{
		"m1": {Action: "unknown", Reason: "?"},
	}}
	s := &fakeSink{}

	p := newProcessor(t, l, c, f, s, fastOpts())
	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, s.calls, "invalid decision must not be routed")

	rec, ok := l.Get("m1")
	require.True(t, ok)
	assert.Equal(t, model.StatusFailed, rec.Status)

	// empty reason is rejected the same way
	c.decisions["m1"] = &model.Decision{Action: model.ActionBackend, Reason: "  "}
	stats, err = p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.False(t, l.Exists("m1"))
}

func TestDryRunSuppressesSideEffects(t *testing.T) {
	l := testLedger(t)
	f := &fakeFetcher{messages: []model.SourceMessage{message("m1", "DB timeout")}}
	c := &fakeClassifier{decisions: map[string]*model.Decision{"m1": backendDecision()}}
	s := &fakeSink{}

	opts := fastOpts()
	opts.DryRun = true

	p := newProcessor(t, l, c, f, s, opts)
	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, c.calls["m1"], "dry run still classifies")
	assert.Equal(t, 0, s.calls)
	assert.Empty(t, f.markedIDs)
	assert.Equal(t, 0, l.Stats(time.Time{}).Total, "dry run must not mutate the ledger")
}

func TestBoundedRedelivery(t *testing.T) {
	l := testLedger(t)
	require.NoError(t, l.Record(&model.LedgerRecord{
		MessageID: "m1",
		Status:    model.StatusFailed,
		Attempts:  2,
		Error:     "delivery failed: connection reset",
	}))

	f := &fakeFetcher{messages: []model.SourceMessage{message("m1", "DB timeout")}}
	c := &fakeClassifier{decisions: map[string]*model.Decision{"m1": backendDecision()}}
	s := &fakeSink{}

	opts := fastOpts()
	opts.MaxMessageAttempts = 2

	p := newProcessor(t, l, c, f, s, opts)
	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, c.calls["m1"], "exhausted message must not be reclassified")
	assert.Equal(t, 0, s.calls)

	rec, ok := l.Get("m1")
	require.True(t, ok)
	assert.Equal(t, model.StatusSkipped, rec.Status)
	assert.Contains(t, rec.Error, "gave up")

	// stays skipped on every subsequent pass
	stats, err = p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, c.calls["m1"])
}

func TestFailedAttemptsAccumulate(t *testing.T) {
	l := testLedger(t)
	f := &fakeFetcher{messages: []model.SourceMessage{message("m1", "DB timeout")}}
	c := &fakeClassifier{decisions: map[string]*model.Decision{"m1": backendDecision()}}
	s := &fakeSink{transientFailures: 100}

	opts := fastOpts()
	opts.Retry.MaxAttempts = 1

	p := newProcessor(t, l, c, f, s, opts)

	for i := 1; i <= 3; i++ {
		_, err := p.RunOnce(context.Background())
		require.NoError(t, err)
		rec, ok := l.Get("m1")
		require.True(t, ok)
		assert.Equal(t, i, rec.Attempts)
	}
}

func TestFetchFailureAbortsPass(t *testing.T) {
	l := testLedger(t)
	f := &fakeFetcher{fetchErr: errors.New("connection refused")}
	p := newProcessor(t, l, &fakeClassifier{}, f, &fakeSink{}, fastOpts())

	_, err := p.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, l.Stats(time.Time{}).Total)
}

package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aniiisha-23/alertiq/internal/model"
)

func tempLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "processed_emails.csv")
	l, err := Open(path, false)
	require.NoError(t, err)
	return l
}

func successRecord(messageID string) *model.LedgerRecord {
	conf := 0.9
	return &model.LedgerRecord{
		MessageID:  messageID,
		Subject:    "DB timeout",
		Sender:     "monitoring@company.com",
		ReceivedAt: time.Now().Add(-time.Hour),
		Decision: &model.Decision{
			Action:     model.ActionBackend,
			Reason:     "connection timeout",
			Confidence: &conf,
		},
		RoutedTo: "backend@company.com",
		Status:   model.StatusSuccess,
		Attempts: 1,
	}
}

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "ledger.csv")
	_, err := Open(path, false)
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestRecordAndExists(t *testing.T) {
	l := tempLedger(t)

	assert.False(t, l.Exists("m1"))
	require.NoError(t, l.Record(successRecord("m1")))
	assert.True(t, l.Exists("m1"))

	// only success rows count for dedup
	require.NoError(t, l.Record(&model.LedgerRecord{
		MessageID: "m2",
		Status:    model.StatusFailed,
		Error:     "classification failed",
	}))
	assert.False(t, l.Exists("m2"))
}

func TestRecordUpsertsByMessageID(t *testing.T) {
	l := tempLedger(t)

	require.NoError(t, l.Record(&model.LedgerRecord{
		MessageID: "m1",
		Status:    model.StatusFailed,
		Error:     "delivery failed",
	}))
	require.NoError(t, l.Record(successRecord("m1")))

	// reload from disk: still exactly one row for m1
	reopened, err := Open(l.Path(), false)
	require.NoError(t, err)

	stats := reopened.Stats(time.Time{})
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 0, stats.Failed)
	assert.True(t, reopened.Exists("m1"))
}

func TestProcessedAtMonotonic(t *testing.T) {
	l := tempLedger(t)

	later := time.Now()
	require.NoError(t, l.Record(&model.LedgerRecord{
		MessageID:   "m1",
		Status:      model.StatusFailed,
		ProcessedAt: later,
		Error:       "delivery failed",
	}))

	// a retry stamped before the prior attempt gets clamped forward
	rec := successRecord("m1")
	rec.ProcessedAt = later.Add(-time.Minute)
	require.NoError(t, l.Record(rec))

	got, ok := l.Get("m1")
	require.True(t, ok)
	assert.False(t, got.ProcessedAt.Before(later))
}

func TestRecordRoundTrip(t *testing.T) {
	l := tempLedger(t)
	require.NoError(t, l.Record(successRecord("m1")))

	reopened, err := Open(l.Path(), false)
	require.NoError(t, err)

	got, ok := reopened.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "DB timeout", got.Subject)
	assert.Equal(t, "monitoring@company.com", got.Sender)
	require.NotNil(t, got.Decision)
	assert.Equal(t, model.ActionBackend, got.Decision.Action)
	assert.Equal(t, "connection timeout", got.Decision.Reason)
	require.NotNil(t, got.Decision.Confidence)
	assert.InDelta(t, 0.9, *got.Decision.Confidence, 1e-9)
	assert.Equal(t, model.StatusSuccess, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestMalformedRowSkippedOnLoad(t *testing.T) {
	l := tempLedger(t)
	require.NoError(t, l.Record(successRecord("m1")))

	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("garbage,row\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(l.Path(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Stats(time.Time{}).Total)
	assert.True(t, reopened.Exists("m1"))
}

func TestOpenUnreadableLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	// unbalanced quote makes the whole CSV unreadable
	require.NoError(t, os.WriteFile(path, []byte("id,message_id\n\"broken\n"), 0o644))

	_, err := Open(path, false)
	assert.Error(t, err)
	var perr *PersistenceError
	assert.ErrorAs(t, err, &perr)

	// permissive fallback starts with an empty table
	l, err := Open(path, true)
	require.NoError(t, err)
	assert.Equal(t, 0, l.Stats(time.Time{}).Total)
}

func TestPrune(t *testing.T) {
	l := tempLedger(t)

	old := successRecord("old")
	old.ProcessedAt = time.Now().Add(-40 * 24 * time.Hour)
	require.NoError(t, l.Record(old))

	recent := successRecord("recent")
	recent.ProcessedAt = time.Now().Add(-5 * 24 * time.Hour)
	require.NoError(t, l.Record(recent))

	removed, err := l.Prune(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.False(t, l.Exists("old"))
	assert.True(t, l.Exists("recent"))

	// survives reload
	reopened, err := Open(l.Path(), false)
	require.NoError(t, err)
	assert.True(t, reopened.Exists("recent"))
	assert.False(t, reopened.Exists("old"))
}

func TestStatsSinceFilter(t *testing.T) {
	l := tempLedger(t)

	old := successRecord("old")
	old.ProcessedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, l.Record(old))

	require.NoError(t, l.Record(successRecord("new")))
	require.NoError(t, l.Record(&model.LedgerRecord{
		MessageID: "bad",
		Status:    model.StatusFailed,
		Error:     "classification failed",
	}))

	all := l.Stats(time.Time{})
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, 2, all.Succeeded)
	assert.Equal(t, 1, all.Failed)
	assert.Equal(t, 2, all.ByAction[model.ActionBackend])
	assert.Equal(t, 2, all.ByTeam["backend@company.com"])

	recent := l.Stats(time.Now().Add(-24 * time.Hour))
	assert.Equal(t, 2, recent.Total)
	assert.Equal(t, 1, recent.Succeeded)
}

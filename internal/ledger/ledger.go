// Package ledger implements the flat-file audit and dedup store. One
// CSV row per processed message, keyed by message id; the whole table
// is loaded into memory at open, so bounded retention via Prune keeps
// lookups cheap.
package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/aniiisha-23/alertiq/internal/model"
)

// PersistenceError wraps a failure to read or write the backing file.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Summary aggregates ledger records by outcome.
type Summary struct {
	Total     int                  `json:"total"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Skipped   int                  `json:"skipped"`
	ByAction  map[model.Action]int `json:"by_action"`
	ByTeam    map[string]int       `json:"by_team"`
}

// Ledger is the durable per-message audit/dedup store. Safe for
// concurrent reads from a single process; writes are serialized.
type Ledger struct {
	path string

	mu      sync.RWMutex
	records map[string]*model.LedgerRecord
	order   []string // message ids in insertion order, for stable rewrites
}

// Open loads the ledger at path, creating the file (and its parent
// directory) when absent. An unreadable existing file is an error
// unless allowReset is set, in which case processing starts over with
// an empty table.
func Open(path string, allowReset bool) (*Ledger, error) {
	l := &Ledger{
		path:    path,
		records: make(map[string]*model.LedgerRecord),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &PersistenceError{Op: "create dir for", Path: path, Err: err}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := l.writeAll(); err != nil {
			return nil, err
		}
		logrus.Infof("Created ledger file: %s", path)
		return l, nil
	}

	if err := l.load(); err != nil {
		if !allowReset {
			return nil, err
		}
		logrus.Errorf("Ledger unreadable, starting with empty table: %v", err)
		l.records = make(map[string]*model.LedgerRecord)
		l.order = nil
	}
	return l, nil
}

// Path returns the backing file path.
func (l *Ledger) Path() string { return l.path }

// Exists reports whether a record with status success already exists
// for the given message id.
func (l *Ledger) Exists(messageID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[messageID]
	return ok && rec.Status == model.StatusSuccess
}

// Get returns the latest record for a message id, if any.
func (l *Ledger) Get(messageID string) (*model.LedgerRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[messageID]
	if !ok {
		return nil, false
	}
	copied := *rec
	return &copied, true
}

// Record upserts a record by message id. A later attempt for the same
// id overwrites the prior row; processed_at never moves backwards
// across the history of an id.
func (l *Ledger) Record(rec *model.LedgerRecord) error {
	if rec.MessageID == "" {
		return fmt.Errorf("ledger record has no message id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now()
	}

	prev, exists := l.records[rec.MessageID]
	if exists && rec.ProcessedAt.Before(prev.ProcessedAt) {
		rec.ProcessedAt = prev.ProcessedAt
	}

	stored := *rec
	l.records[rec.MessageID] = &stored

	if !exists {
		l.order = append(l.order, rec.MessageID)
		return l.appendRow(&stored)
	}
	return l.writeAll()
}

// Stats tallies records by status, action and routed team. A non-zero
// since restricts the scan to records processed at or after it.
func (l *Ledger) Stats(since time.Time) Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Summary{
		ByAction: make(map[model.Action]int),
		ByTeam:   make(map[string]int),
	}
	for _, rec := range l.records {
		if !since.IsZero() && rec.ProcessedAt.Before(since) {
			continue
		}
		s.Total++
		switch rec.Status {
		case model.StatusSuccess:
			s.Succeeded++
		case model.StatusFailed:
			s.Failed++
		case model.StatusSkipped:
			s.Skipped++
		}
		if rec.Decision != nil {
			s.ByAction[rec.Decision.Action]++
		}
		if rec.RoutedTo != "" {
			s.ByTeam[rec.RoutedTo]++
		}
	}
	return s
}

// Prune deletes records whose processed_at predates now minus
// olderThan and returns the number removed.
func (l *Ledger) Prune(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	l.mu.Lock()
	defer l.mu.Unlock()

	var kept []string
	removed := 0
	for _, id := range l.order {
		rec := l.records[id]
		if rec.ProcessedAt.Before(cutoff) {
			delete(l.records, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}

	if removed == 0 {
		return 0, nil
	}

	l.order = kept
	if err := l.writeAll(); err != nil {
		return removed, err
	}
	logrus.Infof("Pruned %d ledger records older than %s", removed, olderThan)
	return removed, nil
}

// load reads the whole table into memory. Malformed rows are logged
// and skipped so a hand-edited file never blocks startup.
func (l *Ledger) load() error {
	f, err := os.Open(l.path)
	if err != nil {
		return &PersistenceError{Op: "open", Path: l.path, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return &PersistenceError{Op: "read", Path: l.path, Err: err}
	}

	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		rec, err := decodeRow(row)
		if err != nil {
			logrus.Warnf("Skipping malformed ledger row %d: %v", i+1, err)
			continue
		}
		if _, dup := l.records[rec.MessageID]; !dup {
			l.order = append(l.order, rec.MessageID)
		}
		l.records[rec.MessageID] = rec
	}

	logrus.Debugf("Loaded %d ledger records from %s", len(l.records), l.path)
	return nil
}

// appendRow adds a single new row to the end of the file.
func (l *Ledger) appendRow(rec *model.LedgerRecord) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return &PersistenceError{Op: "append to", Path: l.path, Err: err}
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(encodeRow(rec)); err != nil {
		return &PersistenceError{Op: "append to", Path: l.path, Err: err}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return &PersistenceError{Op: "append to", Path: l.path, Err: err}
	}
	return nil
}

// writeAll rewrites the whole table atomically via a temp file rename.
func (l *Ledger) writeAll() error {
	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".ledger-*")
	if err != nil {
		return &PersistenceError{Op: "write", Path: l.path, Err: err}
	}
	tmpName := tmp.Name()

	w := csv.NewWriter(tmp)
	writeErr := w.Write(header)
	if writeErr == nil {
		for _, id := range l.order {
			if err := w.Write(encodeRow(l.records[id])); err != nil {
				writeErr = err
				break
			}
		}
	}
	w.Flush()
	if writeErr == nil {
		writeErr = w.Error()
	}
	if closeErr := tmp.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmpName)
		return &PersistenceError{Op: "write", Path: l.path, Err: writeErr}
	}

	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Op: "replace", Path: l.path, Err: err}
	}
	return nil
}

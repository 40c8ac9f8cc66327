package ledger

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aniiisha-23/alertiq/internal/model"
)

// header is the CSV column layout, one row per LedgerRecord.
var header = []string{
	"id", "message_id", "subject", "sender", "received_at",
	"processed_at", "action", "reason", "confidence", "routed_to",
	"status", "attempts", "error",
}

func encodeRow(rec *model.LedgerRecord) []string {
	action, reason, confidence := "", "", ""
	if rec.Decision != nil {
		action = string(rec.Decision.Action)
		reason = rec.Decision.Reason
		if rec.Decision.Confidence != nil {
			confidence = strconv.FormatFloat(*rec.Decision.Confidence, 'f', -1, 64)
		}
	}

	received := ""
	if !rec.ReceivedAt.IsZero() {
		received = rec.ReceivedAt.Format(time.RFC3339)
	}

	return []string{
		rec.ID,
		rec.MessageID,
		rec.Subject,
		rec.Sender,
		received,
		rec.ProcessedAt.Format(time.RFC3339),
		action,
		reason,
		confidence,
		rec.RoutedTo,
		string(rec.Status),
		strconv.Itoa(rec.Attempts),
		rec.Error,
	}
}

func decodeRow(row []string) (*model.LedgerRecord, error) {
	if len(row) != len(header) {
		return nil, fmt.Errorf("expected %d fields, got %d", len(header), len(row))
	}

	rec := &model.LedgerRecord{
		ID:        row[0],
		MessageID: row[1],
		Subject:   row[2],
		Sender:    row[3],
		RoutedTo:  row[9],
		Error:     row[12],
	}
	if rec.MessageID == "" {
		return nil, fmt.Errorf("empty message id")
	}

	if row[4] != "" {
		t, err := time.Parse(time.RFC3339, row[4])
		if err != nil {
			return nil, fmt.Errorf("received_at: %w", err)
		}
		rec.ReceivedAt = t
	}

	processedAt, err := time.Parse(time.RFC3339, row[5])
	if err != nil {
		return nil, fmt.Errorf("processed_at: %w", err)
	}
	rec.ProcessedAt = processedAt

	switch model.Status(row[10]) {
	case model.StatusSuccess, model.StatusFailed, model.StatusSkipped:
		rec.Status = model.Status(row[10])
	default:
		return nil, fmt.Errorf("unknown status %q", row[10])
	}

	if row[11] != "" {
		attempts, err := strconv.Atoi(row[11])
		if err != nil {
			return nil, fmt.Errorf("attempts: %w", err)
		}
		rec.Attempts = attempts
	}

	if row[6] != "" {
		action, err := model.ParseAction(row[6])
		if err != nil {
			return nil, err
		}
		d := &model.Decision{Action: action, Reason: row[7]}
		if row[8] != "" {
			conf, err := strconv.ParseFloat(row[8], 64)
			if err != nil {
				return nil, fmt.Errorf("confidence: %w", err)
			}
			d.Confidence = &conf
		}
		rec.Decision = d
	}

	return rec, nil
}

package model

import (
	"fmt"
	"strings"
	"time"
)

// Action is the three-way triage outcome that determines which team
// receives the alert summary.
type Action string

const (
	ActionRehit   Action = "Re-hit"
	ActionBackend Action = "Backend"
	ActionCode    Action = "Code"
)

// Actions returns all recognized actions in a fixed order.
func Actions() []Action {
	return []Action{ActionRehit, ActionBackend, ActionCode}
}

// ParseAction normalizes a raw action token. Matching is
// case-insensitive and tolerates the "Rehit" spelling.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "re-hit", "rehit":
		return ActionRehit, nil
	case "backend":
		return ActionBackend, nil
	case "code":
		return ActionCode, nil
	}
	return "", fmt.Errorf("unrecognized action %q", s)
}

// Status is the terminal outcome of one processing attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// SourceMessage is one inbound alert as returned by the mail source.
// Immutable once fetched; only its ID is persisted in the ledger.
type SourceMessage struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
	Labels     []string  `json:"labels,omitempty"`
}

// Decision is the classifier output for one SourceMessage.
type Decision struct {
	Action     Action   `json:"action"`
	Reason     string   `json:"reason"`
	Confidence *float64 `json:"confidence,omitempty"` // nil means unknown
}

// Validate checks the decision invariants: a recognized action, a
// non-empty reason, and a confidence inside [0,1] when present.
func (d *Decision) Validate() error {
	if _, err := ParseAction(string(d.Action)); err != nil {
		return err
	}
	if strings.TrimSpace(d.Reason) == "" {
		return fmt.Errorf("decision reason is empty")
	}
	if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 1) {
		return fmt.Errorf("confidence %v outside [0,1]", *d.Confidence)
	}
	return nil
}

// LedgerRecord is one durable audit row, keyed by MessageID.
type LedgerRecord struct {
	ID          string    `json:"id"`
	MessageID   string    `json:"message_id"`
	Subject     string    `json:"subject"`
	Sender      string    `json:"sender"`
	ReceivedAt  time.Time `json:"received_at"`
	ProcessedAt time.Time `json:"processed_at"`
	Decision    *Decision `json:"decision,omitempty"` // nil when classification failed
	RoutedTo    string    `json:"routed_to,omitempty"`
	Status      Status    `json:"status"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"` // empty when Status == success
}

// RunStats aggregates the outcome of one orchestrator pass.
type RunStats struct {
	Fetched   int           `json:"fetched"`
	Skipped   int           `json:"skipped"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
}

func (s RunStats) String() string {
	return fmt.Sprintf("fetched=%d skipped=%d succeeded=%d failed=%d elapsed=%s",
		s.Fetched, s.Skipped, s.Succeeded, s.Failed, s.Elapsed.Round(time.Millisecond))
}

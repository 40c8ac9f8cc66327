// Package analyzer is the classifier gateway: it turns an alert email
// into a three-way routing decision by prompting an external LLM
// oracle and strictly validating its reply.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/aniiisha-23/alertiq/internal/model"
	"github.com/aniiisha-23/alertiq/internal/retry"
)

// Oracle is the blocking text-completion boundary. The gateway owns
// prompt construction and reply parsing; the oracle only maps a prompt
// string to a free-text reply.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ParseError reports an oracle reply that does not match the expected
// decision shape. Deterministic for a given reply, so never retried.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable classifier reply: %s", e.Reason)
}

// Analyzer wraps the oracle with rate limiting, retry on transient
// failures, and reply validation.
type Analyzer struct {
	oracle  Oracle
	limiter *rate.Limiter
	retry   retry.Policy
}

// New creates an analyzer. requestsPerMinute bounds the oracle call
// rate; zero disables the limiter.
func New(oracle Oracle, requestsPerMinute int, policy retry.Policy) *Analyzer {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1)
	}
	return &Analyzer{oracle: oracle, limiter: limiter, retry: policy}
}

// Classify asks the oracle for a decision on one message. Transient
// oracle failures are retried per the policy; a reply that fails
// validation returns a ParseError without retrying.
func (a *Analyzer) Classify(ctx context.Context, msg model.SourceMessage) (*model.Decision, error) {
	prompt := BuildPrompt(msg)

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	logrus.Debugf("Classifying message %s: %s", msg.ID, msg.Subject)

	var reply string
	err := a.retry.Do(ctx, func() error {
		r, err := a.oracle.Complete(ctx, prompt)
		if err != nil {
			return err
		}
		reply = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("oracle call for message %s: %w", msg.ID, err)
	}

	decision, err := ParseDecision(reply)
	if err != nil {
		return nil, err
	}

	logrus.Infof("Classified message %s: action=%s confidence=%v", msg.ID, decision.Action, decision.Confidence)
	return decision, nil
}

// BatchResult pairs one input message with its decision or error.
type BatchResult struct {
	Message  model.SourceMessage
	Decision *model.Decision
	Err      error
}

// ClassifyBatch classifies every message independently, preserving
// input order. One message's failure never aborts the batch.
func (a *Analyzer) ClassifyBatch(ctx context.Context, msgs []model.SourceMessage) []BatchResult {
	results := make([]BatchResult, 0, len(msgs))
	for _, msg := range msgs {
		decision, err := a.Classify(ctx, msg)
		if err != nil {
			logrus.Errorf("Failed to classify message %s: %v", msg.ID, err)
		}
		results = append(results, BatchResult{Message: msg, Decision: decision, Err: err})
	}
	return results
}

// BuildPrompt constructs the classification prompt deterministically
// from the message's subject, sender, received time and body.
func BuildPrompt(msg model.SourceMessage) string {
	var b strings.Builder

	b.WriteString("You are an expert system administrator analyzing alert emails to determine the appropriate action.\n\n")
	b.WriteString("Please analyze the following alert email and determine what action should be taken:\n\n")
	b.WriteString("EMAIL DETAILS:\n")
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Sender: %s\n", msg.Sender)
	fmt.Fprintf(&b, "Received: %s\n\n", msg.ReceivedAt.Format("2006-01-02 15:04:05"))
	b.WriteString("EMAIL BODY:\n")
	b.WriteString(msg.Body)
	b.WriteString("\n\nINSTRUCTIONS:\n")
	b.WriteString("Based on the alert content, determine ONE of these three actions:\n\n")
	b.WriteString("1. \"Re-hit\" - a temporary issue that can be resolved by retrying the process\n")
	b.WriteString("   Examples: timeout errors, temporary network issues, rate limiting, temporary service unavailability\n\n")
	b.WriteString("2. \"Backend\" - a backend infrastructure or configuration issue\n")
	b.WriteString("   Examples: database connection issues, server errors, service configuration problems, resource exhaustion\n\n")
	b.WriteString("3. \"Code\" - a software bug that requires development intervention\n")
	b.WriteString("   Examples: application errors, logic bugs, null pointer exceptions, failed deployments\n\n")
	b.WriteString("RESPONSE FORMAT:\n")
	b.WriteString("Respond with a valid JSON object in exactly this format, and nothing else:\n")
	b.WriteString("{\"action\": \"Re-hit\" | \"Backend\" | \"Code\", \"reason\": \"one or two sentence explanation\", \"confidence\": 0.85}\n\n")
	b.WriteString("The action must be exactly one of: \"Re-hit\", \"Backend\", or \"Code\". ")
	b.WriteString("Confidence must be between 0.0 and 1.0.\n")

	return b.String()
}

// rawDecision is the expected JSON shape of the oracle reply.
type rawDecision struct {
	Action     string   `json:"action"`
	Reason     string   `json:"reason"`
	Confidence *float64 `json:"confidence"`
}

// ParseDecision extracts and validates the JSON decision object from a
// raw oracle reply. The gateway never guesses a default action: any
// shape violation is a ParseError for the caller to record.
func ParseDecision(reply string) (*model.Decision, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start == -1 || end == -1 || end < start {
		return nil, &ParseError{Reason: "no JSON object in reply"}
	}

	var raw rawDecision
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	action, err := model.ParseAction(raw.Action)
	if err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}

	reason := strings.TrimSpace(raw.Reason)
	if reason == "" {
		return nil, &ParseError{Reason: "empty reason"}
	}

	if raw.Confidence != nil && (*raw.Confidence < 0 || *raw.Confidence > 1) {
		return nil, &ParseError{Reason: fmt.Sprintf("confidence %v outside [0,1]", *raw.Confidence)}
	}

	return &model.Decision{Action: action, Reason: reason, Confidence: raw.Confidence}, nil
}

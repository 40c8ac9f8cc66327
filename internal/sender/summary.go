package sender

import (
	"fmt"
	"strings"
	"time"

	"github.com/aniiisha-23/alertiq/internal/model"
)

const bodyExcerptLimit = 1500

// SummarySubject builds the subject line routed to the team mailbox.
func SummarySubject(msg model.SourceMessage, d model.Decision) string {
	return fmt.Sprintf("Alert Analysis - Action Required: %s - %s", d.Action, msg.Subject)
}

// SummaryBody builds the plain-text summary delivered to the team:
// the decision, its rationale, and the identity of the original alert.
func SummaryBody(msg model.SourceMessage, d model.Decision) string {
	var b strings.Builder

	b.WriteString("An alert email has been analyzed and requires your team's attention.\n\n")

	b.WriteString("RECOMMENDED ACTION\n")
	fmt.Fprintf(&b, "Action: %s\n", d.Action)
	if d.Confidence != nil {
		fmt.Fprintf(&b, "Confidence: %.2f\n", *d.Confidence)
	}
	fmt.Fprintf(&b, "Reason: %s\n\n", d.Reason)

	b.WriteString("ORIGINAL ALERT\n")
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Sender: %s\n", msg.Sender)
	if !msg.ReceivedAt.IsZero() {
		fmt.Fprintf(&b, "Received: %s\n", msg.ReceivedAt.Format(time.RFC1123Z))
	}
	fmt.Fprintf(&b, "Message-ID: %s\n\n", msg.ID)

	body := strings.TrimSpace(msg.Body)
	if body == "" {
		b.WriteString("[No text content available]\n")
	} else {
		if len(body) > bodyExcerptLimit {
			body = body[:bodyExcerptLimit] + "\n[... truncated]"
		}
		b.WriteString("ALERT CONTENT\n")
		b.WriteString(body)
		b.WriteString("\n")
	}

	b.WriteString("\n--\nAlertIQ automated triage\n")
	return b.String()
}

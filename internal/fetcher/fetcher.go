// Package fetcher is the mail-source boundary: it yields unread alert
// messages and accepts mark-read instructions. Two transports are
// provided, the Gmail API and IMAP.
package fetcher

import (
	"context"

	"github.com/aniiisha-23/alertiq/internal/model"
)

// Fetcher is the mail-source contract used by the pipeline.
type Fetcher interface {
	// FetchUnread returns up to max unread messages.
	FetchUnread(ctx context.Context, max int) ([]model.SourceMessage, error)
	// MarkRead marks one message as handled at the source.
	MarkRead(ctx context.Context, messageID string) error
	Close() error
}

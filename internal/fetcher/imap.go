package fetcher

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"

	"github.com/aniiisha-23/alertiq/internal/config"
	"github.com/aniiisha-23/alertiq/internal/model"
)

// IMAPFetcher implements Fetcher over IMAP. Message ids are the
// RFC 5322 Message-ID header; the fetcher tracks the UID behind each
// id so MarkRead can flag the right message.
type IMAPFetcher struct {
	client *client.Client

	mu   sync.Mutex
	uids map[string]uint32
}

// NewIMAPFetcher connects and logs in to the configured IMAP server.
func NewIMAPFetcher(cfg *config.GmailConfig) (*IMAPFetcher, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(cfg.IMAPUser, cfg.IMAPPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	return &IMAPFetcher{
		client: c,
		uids:   make(map[string]uint32),
	}, nil
}

// FetchUnread returns up to max unseen messages from INBOX.
func (f *IMAPFetcher) FetchUnread(ctx context.Context, max int) ([]model.SourceMessage, error) {
	if _, err := f.client.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	ids, err := f.client.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > max {
		ids = ids[:max]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, len(ids))
	done := make(chan error, 1)

	go func() {
		done <- f.client.Fetch(seqset, items, ch)
	}()

	var messages []model.SourceMessage

	for m := range ch {
		msg, err := f.parseMessage(m, section)
		if err != nil {
			logrus.Warnf("Failed to parse IMAP message: %v", err)
			continue
		}

		f.mu.Lock()
		f.uids[msg.ID] = m.Uid
		f.mu.Unlock()

		messages = append(messages, msg)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return messages, nil
}

// MarkRead flags the message as seen.
func (f *IMAPFetcher) MarkRead(ctx context.Context, messageID string) error {
	f.mu.Lock()
	uid, ok := f.uids[messageID]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown message id %q", messageID)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := f.client.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("failed to mark message %s read: %w", messageID, err)
	}
	return nil
}

// parseMessage converts an IMAP message into a SourceMessage.
func (f *IMAPFetcher) parseMessage(m *imap.Message, section *imap.BodySectionName) (model.SourceMessage, error) {
	msg := model.SourceMessage{
		ReceivedAt: m.InternalDate,
	}

	if m.Envelope != nil {
		msg.ID = m.Envelope.MessageId
		msg.Subject = m.Envelope.Subject
		if len(m.Envelope.From) > 0 {
			msg.Sender = m.Envelope.From[0].Address()
		}
	}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("imap-uid-%d", m.Uid)
	}

	if err := f.parseBody(m, section, &msg); err != nil {
		return msg, err
	}

	return msg, nil
}

// parseBody extracts the plain-text body from the fetched section.
func (f *IMAPFetcher) parseBody(m *imap.Message, section *imap.BodySectionName, msg *model.SourceMessage) error {
	r := m.GetBody(section)
	if r == nil {
		return nil
	}

	entity, err := message.Read(r)
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	if mr := entity.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to read part: %w", err)
			}

			contentType := p.Header.Get("Content-Type")
			if !strings.Contains(contentType, "text/plain") {
				continue
			}

			content, err := io.ReadAll(p.Body)
			if err != nil {
				return fmt.Errorf("failed to read part body: %w", err)
			}
			msg.Body += string(content)
		}
		return nil
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}
	msg.Body = string(content)
	return nil
}

// Close logs out of the IMAP session.
func (f *IMAPFetcher) Close() error {
	return f.client.Logout()
}

// Verify checks the connection with a NOOP.
func (f *IMAPFetcher) Verify(ctx context.Context) error {
	if err := f.client.Noop(); err != nil {
		return fmt.Errorf("failed to verify IMAP connection: %w", err)
	}
	return nil
}

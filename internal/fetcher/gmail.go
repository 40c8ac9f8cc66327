package fetcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/aniiisha-23/alertiq/internal/config"
	"github.com/aniiisha-23/alertiq/internal/model"
)

// GmailFetcher implements Fetcher using the Gmail API.
type GmailFetcher struct {
	service   *gmail.Service
	userEmail string
}

// NewGmailFetcher creates a Gmail API fetcher. The modify scope is
// required so handled messages can be marked read.
func NewGmailFetcher(ctx context.Context, cfg *config.GmailConfig) (*GmailFetcher, error) {
	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailModifyScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}

	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailFetcher{
		service:   service,
		userEmail: cfg.UserEmail,
	}, nil
}

// FetchUnread returns up to max unread inbox messages.
func (f *GmailFetcher) FetchUnread(ctx context.Context, max int) ([]model.SourceMessage, error) {
	call := f.service.Users.Messages.List(f.userEmail).
		Q("is:unread in:inbox").
		MaxResults(int64(max)).
		Context(ctx)

	response, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var messages []model.SourceMessage

	for _, ref := range response.Messages {
		full, err := f.service.Users.Messages.Get(f.userEmail, ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			logrus.Warnf("Failed to get message %s: %v", ref.Id, err)
			continue
		}

		msg, err := f.parseMessage(full)
		if err != nil {
			logrus.Warnf("Failed to parse message %s: %v", ref.Id, err)
			continue
		}

		messages = append(messages, msg)
	}

	return messages, nil
}

// MarkRead removes the UNREAD label from a message.
func (f *GmailFetcher) MarkRead(ctx context.Context, messageID string) error {
	_, err := f.service.Users.Messages.Modify(f.userEmail, messageID, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to mark message %s read: %w", messageID, err)
	}
	return nil
}

// parseMessage converts a Gmail API message into a SourceMessage.
func (f *GmailFetcher) parseMessage(m *gmail.Message) (model.SourceMessage, error) {
	msg := model.SourceMessage{
		ID:     m.Id,
		Labels: m.LabelIds,
	}

	if m.InternalDate > 0 {
		msg.ReceivedAt = time.UnixMilli(m.InternalDate)
	}

	for _, header := range m.Payload.Headers {
		switch header.Name {
		case "Subject":
			msg.Subject = header.Value
		case "From":
			msg.Sender = header.Value
		}
	}

	if err := f.parseBody(m.Payload, &msg); err != nil {
		return msg, err
	}

	return msg, nil
}

// parseBody recursively walks the message parts for plain text.
func (f *GmailFetcher) parseBody(part *gmail.MessagePart, msg *model.SourceMessage) error {
	if part.Body != nil && part.Body.Data != "" && part.MimeType == "text/plain" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			return fmt.Errorf("failed to decode body data: %w", err)
		}
		msg.Body += string(data)
	}

	for _, sub := range part.Parts {
		if err := f.parseBody(sub, msg); err != nil {
			return err
		}
	}

	return nil
}

// Close is a no-op for the Gmail API.
func (f *GmailFetcher) Close() error {
	return nil
}

// Verify checks the Gmail API connection by fetching the user profile.
func (f *GmailFetcher) Verify(ctx context.Context) error {
	_, err := f.service.Users.GetProfile(f.userEmail).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to verify Gmail connection: %w", err)
	}
	return nil
}

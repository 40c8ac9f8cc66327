// Package sender is the mail-sink boundary: it delivers formatted
// summary emails to team mailboxes over SMTP.
package sender

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"

	"github.com/aniiisha-23/alertiq/internal/config"
)

// Sender is the mail-sink contract used by the pipeline. Send makes a
// single delivery attempt; retries belong to the caller's policy.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
	Verify(ctx context.Context) error
	Close() error
}

// SMTPSender implements Sender over SMTP with PLAIN authentication.
type SMTPSender struct {
	cfg *config.SMTPConfig
}

// NewSMTPSender creates an SMTP sender from configuration.
func NewSMTPSender(cfg *config.SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send delivers one message. The connection is established per call;
// the daemon's sequential, low-volume sends do not warrant pooling.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	msg := s.buildMessage(to, subject, body)
	auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)

	if err := smtp.SendMail(s.cfg.Addr(), auth, s.cfg.Sender(), []string{to}, strings.NewReader(msg)); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}

	logrus.Infof("Summary email sent to %s", to)
	return nil
}

// buildMessage assembles the RFC 5322 wire form of a summary email.
func (s *SMTPSender) buildMessage(to, subject, body string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.Sender())
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 7bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	return b.String()
}

// Verify dials the SMTP server and negotiates STARTTLS to confirm
// connectivity without sending anything.
func (s *SMTPSender) Verify(ctx context.Context) error {
	c, err := smtp.Dial(s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to dial SMTP server: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return fmt.Errorf("failed to negotiate STARTTLS: %w", err)
		}
	}

	if err := c.Noop(); err != nil {
		return fmt.Errorf("SMTP noop failed: %w", err)
	}
	return c.Quit()
}

// Close is a no-op; connections are per-send.
func (s *SMTPSender) Close() error {
	return nil
}

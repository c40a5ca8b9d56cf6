package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/mailgun/mailgun-go/v4"
)

type MailgunConfig struct {
	Domain    string
	APIKey    string
	FromEmail string
	FromName  string
	To        []string
}

// Mailgun delivers notifications as plain-text email.
type Mailgun struct {
	cfg    MailgunConfig
	client *mailgun.MailgunImpl
}

func NewMailgun(cfg MailgunConfig) *Mailgun {
	m := &Mailgun{cfg: cfg}
	if cfg.Domain != "" && cfg.APIKey != "" {
		m.client = mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	}
	return m
}

func (m *Mailgun) Name() string { return "email" }

func (m *Mailgun) Enabled() bool {
	return m.client != nil && m.cfg.FromEmail != "" && len(m.cfg.To) > 0
}

func (m *Mailgun) Notify(ctx context.Context, msg Message) error {
	if !m.Enabled() {
		return fmt.Errorf("mailgun not configured")
	}
	from := m.cfg.FromEmail
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.FromEmail)
	}
	message := m.client.NewMessage(from, msg.Subject, msg.Body, m.cfg.To...)

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, _, err := m.client.Send(sendCtx, message); err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	return nil
}

// Package notify sends operator email alerts. Delivery is best-effort: a
// failed alert is logged and never blocks or fails the message path.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	mg "github.com/mailgun/mailgun-go/v5"

	"github.com/vionhq/vion/internal/config"
	"github.com/vionhq/vion/internal/session"
)

// Sender delivers one email. Backed by the Mailgun client; swapped for a
// fake in tests.
type Sender interface {
	Send(ctx context.Context, m *mg.PlainMessage) error
}

type mailgunSender struct {
	client *mg.Client
}

func (s *mailgunSender) Send(ctx context.Context, m *mg.PlainMessage) error {
	_, err := s.client.Send(ctx, m)
	return err
}

// Notifier emails the operator when a new conversation starts.
type Notifier struct {
	cfg    config.NotifyConfig
	sender Sender
	logger *slog.Logger
}

func NewNotifier(log *slog.Logger, cfg config.NotifyConfig) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	n := &Notifier{
		cfg:    cfg,
		logger: log.With(slog.String("service", "notify")),
	}
	if cfg.Enabled() {
		n.sender = &mailgunSender{client: mg.NewMailgun(cfg.MailgunAPIKey)}
	}
	return n
}

// SessionStarted alerts the operator about a new session. First message text
// is truncated so the subject of long rants stays readable.
func (n *Notifier) SessionStarted(ctx context.Context, sess session.Session, firstMessage string) {
	if n.sender == nil {
		return
	}
	preview := strings.TrimSpace(firstMessage)
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	subject := fmt.Sprintf("New %s conversation for %s", sess.Channel, sess.TenantID)
	body := fmt.Sprintf(
		"A new conversation started.\n\nTenant: %s\nChannel: %s\nSession: %s\n\nFirst message:\n%s\n",
		sess.TenantID, sess.Channel, sess.ID, preview,
	)

	from := n.cfg.From
	if from == "" {
		from = "noreply@" + n.cfg.MailgunDomain
	}
	msg := mg.NewMessage(n.cfg.MailgunDomain, from, subject, body, n.cfg.OperatorEmail)
	if err := n.sender.Send(ctx, msg); err != nil {
		n.logger.Warn("operator alert failed",
			slog.String("session_id", sess.ID),
			slog.Any("error", err))
		return
	}
	n.logger.Info("operator alerted", slog.String("session_id", sess.ID))
}

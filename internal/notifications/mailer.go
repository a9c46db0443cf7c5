package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/printbound/printbound-backend/pkg/config"
	pkgerrors "github.com/printbound/printbound-backend/pkg/errors"
	"github.com/printbound/printbound-backend/pkg/logger"
	"github.com/printbound/printbound-backend/pkg/money"
)

// Mailer delivers transactional customer emails through the configured
// provider endpoint. When the provider is not configured (local dev,
// tests) sends are logged and dropped.
type Mailer struct {
	cfg    config.MailerConfig
	client *http.Client
	logg   *logger.Logger
}

// NewMailer constructs a mailer. Logger is required; provider credentials
// are optional.
func NewMailer(cfg config.MailerConfig, logg *logger.Logger) (*Mailer, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Mailer{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logg:   logg,
	}, nil
}

type email struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SendIssueMessageEmail tells the customer there is a new reply on their
// issue thread.
func (m *Mailer) SendIssueMessageEmail(ctx context.Context, to string, orderNumber int64) error {
	return m.send(ctx, email{
		To:      to,
		Subject: fmt.Sprintf("New reply on your issue for order #%d", orderNumber),
		Body: fmt.Sprintf(
			"There is a new message on the issue you reported for order #%d. Sign in to view and reply.",
			orderNumber),
	})
}

// SendRefundConfirmationEmail confirms a processed refund.
func (m *Mailer) SendRefundConfirmationEmail(ctx context.Context, to string, orderNumber, amountCents int64) error {
	return m.send(ctx, email{
		To:      to,
		Subject: fmt.Sprintf("Your refund for order #%d", orderNumber),
		Body: fmt.Sprintf(
			"We have issued a refund of %s for order #%d. It should appear on your statement within a few days.",
			money.FormatGBP(amountCents), orderNumber),
	})
}

// SendReprintConfirmationEmail confirms a free replacement order.
func (m *Mailer) SendReprintConfirmationEmail(ctx context.Context, to string, orderNumber int64) error {
	return m.send(ctx, email{
		To:      to,
		Subject: fmt.Sprintf("A replacement for order #%d is on its way", orderNumber),
		Body: fmt.Sprintf(
			"We are reprinting the affected item from order #%d at no cost. You will receive shipping updates as usual.",
			orderNumber),
	})
}

func (m *Mailer) send(ctx context.Context, msg email) error {
	if msg.To == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient email required")
	}
	msg.From = m.cfg.DefaultFrom

	if m.cfg.Endpoint == "" || m.cfg.APIKey == "" {
		logCtx := m.logg.WithFields(ctx, map[string]any{
			"to":      msg.To,
			"subject": msg.Subject,
		})
		m.logg.Info(logCtx, "mailer not configured, dropping email")
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode email")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build mail request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mail provider unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("mail provider returned status %d", resp.StatusCode))
	}
	return nil
}

package notifier

import (
	"errors"
	"fmt"
	"os"

	"github.com/ibeckermayer/qckeepalive/internal/config"
	"github.com/ibeckermayer/qckeepalive/internal/login"
	"github.com/ibeckermayer/qckeepalive/internal/notifier/providers"
)

// ErrDisabled is returned by NewFromConfig when no recipient or server is set.
var ErrDisabled = errors.New("notifications not configured")

// Notifier emails a report when a login fails
type Notifier struct {
	sender  Sender
	to      string
	builder *ReportBuilder
}

// Sender defines the interface for email sending
type Sender interface {
	Send(to, subject, htmlBody, plainBody string) error
}

// New creates a new notifier that mails to with sender
func New(sender Sender, to string) (*Notifier, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown host"
	}

	builder, err := NewReportBuilder(host)
	if err != nil {
		return nil, err
	}

	return &Notifier{sender: sender, to: to, builder: builder}, nil
}

// NewFromConfig creates an SMTP notifier based on configuration
func NewFromConfig(cfg config.NotifyConfig) (*Notifier, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}

	sender := providers.NewSMTPSender(
		cfg.SMTPHost,
		cfg.SMTPPort,
		cfg.SMTPUser,
		cfg.SMTPPass,
		cfg.FromAddr,
	)
	return New(sender, cfg.ToAddr)
}

// NotifyFailure sends a report for out. Successful runs send nothing.
func (n *Notifier) NotifyFailure(out login.Outcome) error {
	if out.OK() {
		return nil
	}

	report, err := n.builder.Build(out)
	if err != nil {
		return err
	}

	if err := n.sender.Send(n.to, report.Subject, report.HTMLBody, report.PlainBody); err != nil {
		return fmt.Errorf("failed to send failure report: %w", err)
	}
	return nil
}

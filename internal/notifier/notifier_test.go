package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/qckeepalive/internal/config"
	"github.com/ibeckermayer/qckeepalive/internal/login"
)

type fakeSender struct {
	calls []sentReport
	err   error
}

type sentReport struct {
	to, subject, html, plain string
}

func (f *fakeSender) Send(to, subject, htmlBody, plainBody string) error {
	f.calls = append(f.calls, sentReport{to, subject, htmlBody, plainBody})
	return f.err
}

func failedOutcome() login.Outcome {
	return login.Outcome{
		Status:         login.StatusTimedOut,
		URL:            "https://www.quantconnect.com/login?error=<bad>",
		ScreenshotPath: "login_failure_screenshot.png",
		Err:            &login.Error{Kind: login.ErrVerificationTimeout, Step: login.StepVerify, Cause: context.DeadlineExceeded},
		StartedAt:      time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC),
		Duration:       31250 * time.Millisecond,
	}
}

func TestNotifyFailure(t *testing.T) {
	sender := &fakeSender{}
	n, err := New(sender, "me@example.com")
	require.NoError(t, err)

	require.NoError(t, n.NotifyFailure(failedOutcome()))
	require.Len(t, sender.calls, 1)

	got := sender.calls[0]
	require.Equal(t, "me@example.com", got.to)
	require.Equal(t, "[qckeepalive] login timed_out (Jun 1 06:00 UTC)", got.subject)
	require.Contains(t, got.plain, "Status:   timed_out")
	require.Contains(t, got.plain, "Duration: 31.25s")
	require.Contains(t, got.plain, "login verification timed out")
	require.Contains(t, got.plain, "login_failure_screenshot.png")
	require.Contains(t, got.html, "error=&lt;bad&gt;", "html is escaped")
	require.NotContains(t, got.html, "<bad>")
}

func TestNotifyFailure_skipsSuccess(t *testing.T) {
	sender := &fakeSender{}
	n, err := New(sender, "me@example.com")
	require.NoError(t, err)

	require.NoError(t, n.NotifyFailure(login.Outcome{Status: login.StatusSuccess}))
	require.Empty(t, sender.calls)
}

func TestNotifyFailure_sendError(t *testing.T) {
	sender := &fakeSender{err: errors.New("connection refused")}
	n, err := New(sender, "me@example.com")
	require.NoError(t, err)

	err = n.NotifyFailure(failedOutcome())
	require.ErrorContains(t, err, "connection refused")
}

func TestReportBuilder_minimalOutcome(t *testing.T) {
	b, err := NewReportBuilder("runner-1")
	require.NoError(t, err)

	r, err := b.Build(login.Outcome{Status: login.StatusMissingCredentials, Err: login.Credentials{}.Validate()})
	require.NoError(t, err)
	require.NotContains(t, r.PlainBody, "Page:")
	require.NotContains(t, r.PlainBody, "Screenshot")
	require.Contains(t, r.PlainBody, "QC_EMAIL and QC_PASSWORD")

	_, err = b.Build(login.Outcome{Status: login.StatusSuccess})
	require.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default().Notify
	_, err := NewFromConfig(cfg)
	require.ErrorIs(t, err, ErrDisabled)

	cfg.SMTPHost = "smtp.example.com"
	cfg.ToAddr = "me@example.com"
	cfg.FromAddr = "alerts@example.com"
	n, err := NewFromConfig(cfg)
	require.NoError(t, err)
	require.NotNil(t, n)
}

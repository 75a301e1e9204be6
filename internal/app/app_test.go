package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/qckeepalive/internal/browser"
	"github.com/ibeckermayer/qckeepalive/internal/config"
	"github.com/ibeckermayer/qckeepalive/internal/login"
	"github.com/ibeckermayer/qckeepalive/internal/store"
)

// loggedInPage lands on the dashboard after every action.
type loggedInPage struct {
	dashboard string
	closed    int
}

func (p *loggedInPage) Navigate(context.Context, string, browser.WaitPolicy) error { return nil }
func (p *loggedInPage) Fill(context.Context, string, string, time.Duration) error  { return nil }
func (p *loggedInPage) Click(context.Context, string) error                        { return nil }
func (p *loggedInPage) WaitSelector(context.Context, string) error                 { return nil }
func (p *loggedInPage) WaitURLPrefix(context.Context, string) error                { return nil }
func (p *loggedInPage) URL(context.Context) (string, error)                        { return p.dashboard, nil }
func (p *loggedInPage) Screenshot(context.Context) ([]byte, error)                 { return nil, nil }
func (p *loggedInPage) Cookies(context.Context) ([]*network.Cookie, error)         { return nil, nil }
func (p *loggedInPage) Close() error                                               { p.closed++; return nil }

type fakeNotifier struct{ outcomes []login.Outcome }

func (f *fakeNotifier) NotifyFailure(out login.Outcome) error {
	f.outcomes = append(f.outcomes, out)
	return nil
}

type fakeObserver struct{ outcomes []login.Outcome }

func (f *fakeObserver) Observe(out login.Outcome) { f.outcomes = append(f.outcomes, out) }

type brokenHistory struct{}

func (brokenHistory) SaveRun(*store.Run) error { return errors.New("database is locked") }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Credentials.Email = "trader@example.com"
	cfg.Credentials.Password = "s3cret-pa55"
	cfg.Login.ScreenshotPath = filepath.Join(t.TempDir(), "login_failure_screenshot.png")
	return cfg
}

func runnerWith(cfg *config.Config, launcher login.Launcher) *login.Runner {
	opts, err := login.OptionsFromConfig(cfg)
	if err != nil {
		panic(err)
	}
	return login.NewRunner(launcher, opts)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunOnce_success(t *testing.T) {
	cfg := testConfig(t)
	page := &loggedInPage{dashboard: cfg.Site.DashboardURL}
	launcher := login.LauncherFunc(func(context.Context) (login.Page, error) { return page, nil })

	history := openStore(t)
	notify := &fakeNotifier{}
	observer := &fakeObserver{}
	a := New(cfg, runnerWith(cfg, launcher), WithHistory(history), WithNotifier(notify), WithObserver(observer))

	out := a.RunOnce(context.Background(), TriggerCLI)

	require.Equal(t, login.StatusSuccess, out.Status, "err: %v", out.Err)
	require.Equal(t, 1, page.closed)
	require.Empty(t, notify.outcomes)
	require.Len(t, observer.outcomes, 1)

	runs, err := history.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.True(t, runs[0].Succeeded())
	require.Equal(t, TriggerCLI, runs[0].Trigger)
	require.Equal(t, cfg.Site.DashboardURL, runs[0].FinalURL)
}

func TestRunOnce_failureIsRecordedAndNotified(t *testing.T) {
	cfg := testConfig(t)
	cfg.Credentials.Password = ""
	launcher := login.LauncherFunc(func(context.Context) (login.Page, error) {
		t.Fatal("launched without credentials")
		return nil, nil
	})

	history := openStore(t)
	notify := &fakeNotifier{}
	a := New(cfg, runnerWith(cfg, launcher), WithHistory(history), WithNotifier(notify))

	err := a.LoginJob()(context.Background())
	require.ErrorIs(t, err, login.ErrMissingCredentials)

	require.Len(t, notify.outcomes, 1)
	require.Equal(t, login.StatusMissingCredentials, notify.outcomes[0].Status)

	runs, err := history.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "missing_credentials", runs[0].Status)
	require.Equal(t, TriggerSchedule, runs[0].Trigger)
	require.Contains(t, runs[0].Error, "QC_PASSWORD")
	require.NotContains(t, runs[0].Error, "trader@example.com")
}

func TestRunOnce_historyFailureKeepsOutcome(t *testing.T) {
	cfg := testConfig(t)
	page := &loggedInPage{dashboard: cfg.Site.DashboardURL}
	launcher := login.LauncherFunc(func(context.Context) (login.Page, error) { return page, nil })

	a := New(cfg, runnerWith(cfg, launcher), WithHistory(brokenHistory{}))

	out := a.RunOnce(context.Background(), TriggerCLI)
	require.True(t, out.OK())
	require.NoError(t, a.LoginJob()(context.Background()))
}

func TestRunRecord(t *testing.T) {
	started := time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC)
	out := login.Outcome{
		Status:         login.StatusTimedOut,
		URL:            "https://www.quantconnect.com/login",
		ScreenshotPath: "login_failure_screenshot.png",
		Err:            &login.Error{Kind: login.ErrVerificationTimeout, Step: login.StepVerify},
		StartedAt:      started,
		Duration:       31 * time.Second,
	}

	r := RunRecord(out, TriggerSchedule)
	require.Equal(t, &store.Run{
		StartedAt:      started,
		Duration:       31 * time.Second,
		Status:         "timed_out",
		FinalURL:       "https://www.quantconnect.com/login",
		ScreenshotPath: "login_failure_screenshot.png",
		Error:          "verify: login verification timed out",
		Trigger:        TriggerSchedule,
	}, r)
}

func TestNewFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.DBPath = filepath.Join(t.TempDir(), "nested", "history.db")
	cfg.Login.CookieFile = filepath.Join(t.TempDir(), "cookies.json")
	cfg.Notify.SMTPHost = "smtp.example.com"
	cfg.Notify.ToAddr = "me@example.com"
	cfg.Notify.FromAddr = "alerts@example.com"

	a, err := NewFromConfig(context.Background(), cfg)
	require.NoError(t, err)

	require.NotNil(t, a.history)
	require.NotNil(t, a.notifier)
	_, err = os.Stat(cfg.History.DBPath)
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close(), "second close is a no-op")
}

func TestNewFromConfig_invalidBrowser(t *testing.T) {
	cfg := testConfig(t)
	cfg.Browser.Stealth = "paranoid"
	cfg.History.DBPath = filepath.Join(t.TempDir(), "history.db")

	_, err := NewFromConfig(context.Background(), cfg)
	require.Error(t, err)

	_, err = os.Stat(cfg.History.DBPath)
	require.ErrorIs(t, err, os.ErrNotExist, "nothing is opened when construction fails")
}

func TestReloadConfig(t *testing.T) {
	t.Setenv("QC_EMAIL", "rotated@example.com")
	t.Setenv("QC_PASSWORD", "rotated-pass")

	cfg := testConfig(t)
	a := New(cfg, runnerWith(cfg, nil))

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[site]
dashboard_url = "https://www.quantconnect.com/terminal"

[login]
verify_strategy = "url"
`), 0600))

	require.NoError(t, a.ReloadConfig(context.Background(), path))

	got := a.Config()
	require.Equal(t, "https://www.quantconnect.com/terminal", got.Site.DashboardURL)
	require.Equal(t, config.VerifyURL, got.Login.VerifyStrategy)
	require.Equal(t, "rotated@example.com", got.Credentials.Email)

	require.NoError(t, os.WriteFile(path, []byte(`[login]
wait_until = "whenever"
`), 0600))
	require.Error(t, a.ReloadConfig(context.Background(), path))
	require.Equal(t, got, a.Config(), "a rejected reload keeps the old config")
}

func TestReloadConfig_rebuildsNotifierAndHistory(t *testing.T) {
	t.Setenv("QC_EMAIL", "trader@example.com")
	t.Setenv("QC_PASSWORD", "s3cret-pa55")

	cfg := testConfig(t)
	a := New(cfg, runnerWith(cfg, nil))
	t.Cleanup(func() { a.Close() })

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	dbPath := filepath.Join(dir, "history.db")
	require.NoError(t, os.WriteFile(path, []byte(`
[history]
db_path = "`+filepath.ToSlash(dbPath)+`"

[notify]
smtp_host = "smtp.example.com"
from_address = "alerts@example.com"
to_address = "me@example.com"
`), 0600))

	require.NoError(t, a.ReloadConfig(context.Background(), path))

	s := a.getSnapshot()
	require.NotNil(t, s.notifier)
	require.NotNil(t, s.history)
	_, err := os.Stat(dbPath)
	require.NoError(t, err)

	page := &loggedInPage{dashboard: cfg.Site.DashboardURL}
	a.mu.Lock()
	a.runner = runnerWith(a.config, login.LauncherFunc(func(context.Context) (login.Page, error) { return page, nil }))
	a.mu.Unlock()
	require.True(t, a.RunOnce(context.Background(), TriggerSchedule).OK())

	runs, err := a.store.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1, "runs go to the reopened history")

	// Dropping both sections disables them again.
	require.NoError(t, os.WriteFile(path, []byte("[login]\nverify_strategy = \"url\"\n"), 0600))
	require.NoError(t, a.ReloadConfig(context.Background(), path))

	s = a.getSnapshot()
	require.Nil(t, s.notifier)
	require.Nil(t, s.history)
	require.Nil(t, a.store)
}

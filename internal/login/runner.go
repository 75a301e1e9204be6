package login

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ibeckermayer/qckeepalive/internal/browser"
	"github.com/ibeckermayer/qckeepalive/internal/config"
	"github.com/ibeckermayer/qckeepalive/internal/logger"
)

// VerifyStrategy selects how a successful login is recognised.
type VerifyStrategy string

const (
	// VerifySelector waits for the success element to become visible.
	VerifySelector VerifyStrategy = config.VerifySelector
	// VerifyURL waits for the tab to reach the dashboard URL.
	VerifyURL VerifyStrategy = config.VerifyURL
)

// screenshotTimeout bounds the failure capture, which runs even after the
// run's context has been cancelled.
const screenshotTimeout = 10 * time.Second

// Options configure a Runner.
type Options struct {
	LoginURL     string
	DashboardURL string
	Selectors    Selectors

	WaitUntil         browser.WaitPolicy
	NavigationTimeout time.Duration
	StepTimeout       time.Duration
	VerifyTimeout     time.Duration
	TypingDelay       time.Duration

	Strategy  VerifyStrategy
	StrictURL bool

	// ScreenshotPath is where the failure screenshot goes. Empty disables it.
	ScreenshotPath string
}

// DefaultOptions returns options for the live QuantConnect site.
func DefaultOptions() Options {
	return Options{
		LoginURL:          LoginURL,
		DashboardURL:      DashboardURL,
		Selectors:         DefaultSelectors(),
		WaitUntil:         browser.WaitDOMContentLoaded,
		NavigationTimeout: 60 * time.Second,
		StepTimeout:       30 * time.Second,
		VerifyTimeout:     30 * time.Second,
		Strategy:          VerifySelector,
		ScreenshotPath:    "login_failure_screenshot.png",
	}
}

// OptionsFromConfig builds runner options from the application config.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	wait, err := browser.ParseWaitPolicy(cfg.Login.WaitUntil)
	if err != nil {
		return Options{}, err
	}

	return Options{
		LoginURL:     cfg.Site.LoginURL,
		DashboardURL: cfg.Site.DashboardURL,
		Selectors: Selectors{
			Email:    cfg.Site.EmailSelector,
			Password: cfg.Site.PasswordSelector,
			Submit:   cfg.Site.SubmitSelector,
			Success:  cfg.Site.SuccessSelector,
		},
		WaitUntil:         wait,
		NavigationTimeout: cfg.Login.NavigationTimeout,
		StepTimeout:       cfg.Login.StepTimeout,
		VerifyTimeout:     cfg.Login.VerifyTimeout,
		TypingDelay:       cfg.Login.TypingDelay,
		Strategy:          VerifyStrategy(cfg.Login.VerifyStrategy),
		StrictURL:         cfg.Login.StrictURL,
		ScreenshotPath:    cfg.Login.ScreenshotPath,
	}, nil
}

// Runner performs one login attempt per call to Run.
type Runner struct {
	launcher Launcher
	opts     Options
	cookies  CookieSaver
	now      func() time.Time
}

// Option customises a Runner.
type Option func(*Runner)

// WithCookieSaver hands the session cookies of every verified login to s.
func WithCookieSaver(s CookieSaver) Option {
	return func(r *Runner) { r.cookies = s }
}

// NewRunner creates a runner that opens pages with launcher.
func NewRunner(launcher Launcher, opts Options, options ...Option) *Runner {
	r := &Runner{
		launcher: launcher,
		opts:     opts,
		now:      time.Now,
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// Run makes a single login attempt and reports how it went. It never
// retries. A page that was opened is closed exactly once before Run
// returns, and any failure after launch leaves a screenshot behind.
func (r *Runner) Run(ctx context.Context, creds Credentials) (out Outcome) {
	started := r.now()
	out.StartedAt = started
	defer func() {
		out.Duration = r.now().Sub(started)
		out.Status = statusOf(out.Err)
	}()

	if err := creds.Validate(); err != nil {
		logger.Error(ctx, "[login] credentials not configured", zap.Error(err))
		out.Err = err
		return out
	}

	logger.Info(ctx, "[login] launching browser")
	page, err := r.launcher.Launch(ctx)
	if err != nil {
		out.Err = newError(ErrUnexpected, StepLaunch, err)
		logger.Error(ctx, "[login] failed to launch browser", zap.Error(err))
		return out
	}
	defer func() {
		if err := page.Close(); err != nil {
			logger.Warn(ctx, "[login] failed to close browser", zap.Error(err))
		}
	}()

	out.Err = r.login(ctx, page, creds)
	out.URL = r.currentURL(ctx, page)

	if out.Err != nil {
		logger.Error(ctx, "[login] login failed",
			zap.Error(out.Err),
			zap.String("url", out.URL),
		)
		out.ScreenshotPath = r.screenshot(ctx, page)
		return out
	}

	logger.Info(ctx, "[login] login verified", zap.String("url", out.URL))
	r.saveCookies(ctx, page)
	return out
}

func (r *Runner) login(ctx context.Context, page Page, creds Credentials) error {
	logger.Info(ctx, "[login] opening login page",
		zap.String("url", r.opts.LoginURL),
		zap.String("wait_until", string(r.opts.WaitUntil)),
	)
	err := r.step(ctx, StepNavigate, r.opts.NavigationTimeout, func(ctx context.Context) error {
		return page.Navigate(ctx, r.opts.LoginURL, r.opts.WaitUntil)
	})
	if err != nil {
		return err
	}

	logger.Debug(ctx, "[login] filling form")
	err = r.step(ctx, StepFillEmail, r.fillTimeout(creds.Email), func(ctx context.Context) error {
		return page.Fill(ctx, r.opts.Selectors.Email, creds.Email, r.opts.TypingDelay)
	})
	if err != nil {
		return err
	}
	err = r.step(ctx, StepFillPass, r.fillTimeout(creds.Password), func(ctx context.Context) error {
		return page.Fill(ctx, r.opts.Selectors.Password, creds.Password, r.opts.TypingDelay)
	})
	if err != nil {
		return err
	}

	logger.Debug(ctx, "[login] submitting form")
	err = r.step(ctx, StepSubmit, r.opts.StepTimeout, func(ctx context.Context) error {
		return page.Click(ctx, r.opts.Selectors.Submit)
	})
	if err != nil {
		return err
	}

	return r.verify(ctx, page)
}

// step runs fn under its own timeout. Any failure here is unexpected; only
// verification can time out in the reportable sense.
func (r *Runner) step(ctx context.Context, step Step, timeout time.Duration, fn func(context.Context) error) error {
	stepCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	if err := fn(stepCtx); err != nil {
		return newError(ErrUnexpected, step, err)
	}
	return nil
}

// fillTimeout stretches the step timeout by the time spent typing value.
func (r *Runner) fillTimeout(value string) time.Duration {
	if r.opts.StepTimeout <= 0 {
		return 0
	}
	return r.opts.StepTimeout + r.opts.TypingDelay*time.Duration(utf8.RuneCountInString(value))
}

func (r *Runner) verify(ctx context.Context, page Page) error {
	verifyCtx, cancel := withTimeout(ctx, r.opts.VerifyTimeout)
	defer cancel()

	var err error
	switch r.opts.Strategy {
	case VerifyURL:
		logger.Debug(ctx, "[login] waiting for dashboard URL", zap.String("prefix", r.opts.DashboardURL))
		err = page.WaitURLPrefix(verifyCtx, r.opts.DashboardURL)
	default:
		logger.Debug(ctx, "[login] waiting for success element", zap.String("selector", r.opts.Selectors.Success))
		err = page.WaitSelector(verifyCtx, r.opts.Selectors.Success)
	}
	if err != nil {
		// Only our own verify deadline counts as a timeout. A cancelled
		// parent is the caller giving up, not the site.
		if ctx.Err() == nil && errors.Is(verifyCtx.Err(), context.DeadlineExceeded) {
			return newError(ErrVerificationTimeout, StepVerify, err)
		}
		return newError(ErrUnexpected, StepVerify, err)
	}

	if r.opts.Strategy == VerifyURL {
		return nil
	}
	return r.checkLanding(ctx, page)
}

func (r *Runner) checkLanding(ctx context.Context, page Page) error {
	urlCtx, cancel := withTimeout(ctx, r.opts.StepTimeout)
	defer cancel()

	url, err := page.URL(urlCtx)
	if err != nil {
		if r.opts.StrictURL {
			return newError(ErrUnexpected, StepVerify, err)
		}
		logger.Warn(ctx, "[login] could not read landing URL", zap.Error(err))
		return nil
	}
	if strings.HasPrefix(url, r.opts.DashboardURL) {
		return nil
	}

	if r.opts.StrictURL {
		return newError(ErrUnexpected, StepVerify, fmt.Errorf("%w: %s", ErrUnexpectedLanding, url))
	}
	logger.Warn(ctx, "[login] success element found outside the dashboard",
		zap.String("url", url),
		zap.String("dashboard_url", r.opts.DashboardURL),
	)
	return nil
}

// currentURL reads the tab location for reporting. It runs detached from
// ctx so a cancelled run still records where it ended up.
func (r *Runner) currentURL(ctx context.Context, page Page) string {
	urlCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
	defer cancel()

	url, err := page.URL(urlCtx)
	if err != nil {
		logger.Debug(ctx, "[login] could not read final URL", zap.Error(err))
		return ""
	}
	return url
}

func (r *Runner) screenshot(ctx context.Context, page Page) string {
	path := r.opts.ScreenshotPath
	if path == "" {
		return ""
	}

	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
	defer cancel()

	buf, err := page.Screenshot(shotCtx)
	if err != nil {
		logger.Error(ctx, "[login] failed to capture screenshot", zap.Error(err))
		return ""
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Error(ctx, "[login] failed to create screenshot directory", zap.Error(err))
			return ""
		}
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		logger.Error(ctx, "[login] failed to write screenshot", zap.Error(err), zap.String("path", path))
		return ""
	}

	logger.Info(ctx, "[login] saved failure screenshot", zap.String("path", path))
	return path
}

// saveCookies exports the session cookies. A failure here does not undo a
// verified login.
func (r *Runner) saveCookies(ctx context.Context, page Page) {
	if r.cookies == nil {
		return
	}

	cookieCtx, cancel := withTimeout(ctx, r.opts.StepTimeout)
	defer cancel()

	cookies, err := page.Cookies(cookieCtx)
	if err != nil {
		logger.Warn(ctx, "[login] failed to read cookies", zap.Error(err))
		return
	}
	if err := r.cookies.Save(cookies); err != nil {
		logger.Warn(ctx, "[login] failed to save cookies", zap.Error(err))
		return
	}
	logger.Debug(ctx, "[login] saved session cookies", zap.Int("count", len(cookies)))
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ibeckermayer/qckeepalive/internal/auth"
	"github.com/ibeckermayer/qckeepalive/internal/browser"
	"github.com/ibeckermayer/qckeepalive/internal/config"
	"github.com/ibeckermayer/qckeepalive/internal/logger"
	"github.com/ibeckermayer/qckeepalive/internal/login"
	"github.com/ibeckermayer/qckeepalive/internal/notifier"
	"github.com/ibeckermayer/qckeepalive/internal/scheduler"
	"github.com/ibeckermayer/qckeepalive/internal/store"
)

// Run triggers recorded in history.
const (
	TriggerCLI      = "cli"
	TriggerSchedule = "schedule"
)

// History records finished runs.
type History interface {
	SaveRun(r *store.Run) error
}

// FailureNotifier is told about every failed run.
type FailureNotifier interface {
	NotifyFailure(out login.Outcome) error
}

// Observer sees every finished run, e.g. a metrics recorder.
type Observer interface {
	Observe(out login.Outcome)
}

// App holds the application state.
type App struct {
	mu sync.RWMutex

	// Mutable fields - use getSnapshot() for concurrent access.
	config   *config.Config
	runner   *login.Runner
	history  History
	notifier FailureNotifier

	// store is the history database opened from config, if any; App closes it.
	store *store.Store

	observer Observer
}

// snapshot holds fields that may be replaced by ReloadConfig.
// Use getSnapshot() to obtain a consistent, point-in-time copy.
type snapshot struct {
	config   *config.Config
	runner   *login.Runner
	history  History
	notifier FailureNotifier
}

// getSnapshot returns a snapshot of mutable fields under read lock.
func (a *App) getSnapshot() snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return snapshot{
		config:   a.config,
		runner:   a.runner,
		history:  a.history,
		notifier: a.notifier,
	}
}

// Option customises an App.
type Option func(*App)

// WithHistory records every run in h.
func WithHistory(h History) Option {
	return func(a *App) { a.history = h }
}

// WithNotifier reports failed runs to n.
func WithNotifier(n FailureNotifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithObserver hands every outcome to o.
func WithObserver(o Observer) Option {
	return func(a *App) { a.observer = o }
}

// New creates a new App instance around runner.
func New(cfg *config.Config, runner *login.Runner, opts ...Option) *App {
	a := &App{config: cfg, runner: runner}
	for _, o := range opts {
		o(a)
	}
	return a
}

// NewFromConfig wires the browser runner and the optional history store,
// notifier and cookie export described by cfg. Close releases what it opened.
func NewFromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	runner, err := NewRunner(cfg)
	if err != nil {
		return nil, err
	}

	n, err := newNotifier(ctx, cfg.Notify)
	if err != nil {
		return nil, err
	}

	a := New(cfg, runner)
	if n != nil {
		a.notifier = n
	}

	if cfg.History.DBPath != "" {
		s, err := openHistory(ctx, cfg.History.DBPath)
		if err != nil {
			return nil, err
		}
		a.history = s
		a.store = s
	}

	for _, o := range opts {
		o(a)
	}
	return a, nil
}

func openHistory(ctx context.Context, path string) (*store.Store, error) {
	s, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	logger.Debug(ctx, "[app] recording history", zap.String("path", path))
	return s, nil
}

// newNotifier returns nil when notifications are not configured.
func newNotifier(ctx context.Context, cfg config.NotifyConfig) (*notifier.Notifier, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	n, err := notifier.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}
	logger.Debug(ctx, "[app] failure notifications enabled", zap.String("to", cfg.ToAddr))
	return n, nil
}

// NewRunner builds a login runner backed by Chrome from cfg.
func NewRunner(cfg *config.Config) (*login.Runner, error) {
	launcher, err := browser.NewLauncher(cfg.Browser)
	if err != nil {
		return nil, err
	}

	opts, err := login.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	var runnerOpts []login.Option
	if cfg.Login.CookieFile != "" {
		runnerOpts = append(runnerOpts, login.WithCookieSaver(auth.NewCookieStore(cfg.Login.CookieFile, "")))
	}

	return login.NewRunner(login.BrowserLauncher(launcher), opts, runnerOpts...), nil
}

// Close releases resources opened by NewFromConfig or ReloadConfig.
func (a *App) Close() error {
	a.mu.Lock()
	s := a.store
	a.store = nil
	a.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Close()
}

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	return a.getSnapshot().config
}

// RunOnce performs one login attempt and records it. Bookkeeping failures
// are logged and never change the outcome.
func (a *App) RunOnce(ctx context.Context, trigger string) login.Outcome {
	s := a.getSnapshot()
	ctx = logger.WithFields(ctx, zap.String("trigger", trigger))

	creds := login.Credentials{
		Email:    s.config.Credentials.Email,
		Password: s.config.Credentials.Password,
	}
	out := s.runner.Run(ctx, creds)

	fields := []zap.Field{
		zap.String("status", out.Status.String()),
		zap.Duration("duration", out.Duration),
		zap.String("url", out.URL),
	}
	if out.OK() {
		logger.Info(ctx, "[app] login run finished", fields...)
	} else {
		logger.Error(ctx, "[app] login run failed", append(fields, zap.Error(out.Err))...)
	}

	if a.observer != nil {
		a.observer.Observe(out)
	}

	if s.history != nil {
		if err := s.history.SaveRun(RunRecord(out, trigger)); err != nil {
			logger.Warn(ctx, "[app] failed to record run", zap.Error(err))
		}
	}

	if s.notifier != nil && !out.OK() {
		if err := s.notifier.NotifyFailure(out); err != nil {
			logger.Warn(ctx, "[app] failed to send failure notification", zap.Error(err))
		}
	}

	return out
}

// LoginJob adapts RunOnce to the scheduler. A failed run is the job's error.
func (a *App) LoginJob() scheduler.Job {
	return func(ctx context.Context) error {
		return a.RunOnce(ctx, TriggerSchedule).Err
	}
}

// RunRecord converts an outcome into a history row.
func RunRecord(out login.Outcome, trigger string) *store.Run {
	r := &store.Run{
		StartedAt:      out.StartedAt,
		Duration:       out.Duration,
		Status:         out.Status.String(),
		FinalURL:       out.URL,
		ScreenshotPath: out.ScreenshotPath,
		Trigger:        trigger,
	}
	if out.Err != nil {
		r.Error = out.Err.Error()
	}
	return r
}

// ReloadConfig reloads the configuration from path and rebuilds the runner.
// Credentials come from the environment again, so rotating them needs no restart.
// Notifier and history are rebuilt when their sections changed; schedule
// changes only take effect after a restart.
func (a *App) ReloadConfig(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	runner, err := NewRunner(cfg)
	if err != nil {
		return err
	}

	old := a.getSnapshot()

	notifyChanged := cfg.Notify != old.config.Notify
	var n FailureNotifier
	if notifyChanged {
		nn, err := newNotifier(ctx, cfg.Notify)
		if err != nil {
			return err
		}
		// A nil *Notifier must not become a non-nil interface
		if nn != nil {
			n = nn
		}
	}

	historyChanged := cfg.History.DBPath != old.config.History.DBPath
	var opened *store.Store
	if historyChanged && cfg.History.DBPath != "" {
		if opened, err = openHistory(ctx, cfg.History.DBPath); err != nil {
			return err
		}
	}

	a.mu.Lock()
	a.config = cfg
	a.runner = runner
	if notifyChanged {
		a.notifier = n
	}
	var stale *store.Store
	if historyChanged {
		stale = a.store
		a.store = opened
		if opened != nil {
			a.history = opened
		} else {
			a.history = nil
		}
	}
	a.mu.Unlock()

	if stale != nil {
		if err := stale.Close(); err != nil {
			logger.Warn(ctx, "[app] failed to close previous history", zap.Error(err))
		}
	}
	if cfg.Schedule != old.config.Schedule {
		logger.Warn(ctx, "[app] schedule settings changed, restart to apply them")
	}

	logger.Info(ctx, "[app] configuration reloaded",
		zap.Bool("notifier_rebuilt", notifyChanged),
		zap.Bool("history_reopened", historyChanged),
	)
	return nil
}

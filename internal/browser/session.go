package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"github.com/ibeckermayer/qckeepalive/internal/config"
)

// WaitPolicy decides when a navigation counts as finished.
type WaitPolicy string

const (
	WaitDOMContentLoaded WaitPolicy = config.WaitDOMContentLoaded
	WaitLoad             WaitPolicy = config.WaitLoad
	WaitNetworkIdle      WaitPolicy = config.WaitNetworkIdle
)

// ParseWaitPolicy converts a config value into a WaitPolicy.
func ParseWaitPolicy(s string) (WaitPolicy, error) {
	switch p := WaitPolicy(s); p {
	case WaitDOMContentLoaded, WaitLoad, WaitNetworkIdle:
		return p, nil
	default:
		return "", fmt.Errorf("unknown wait policy %q", s)
	}
}

// urlPollInterval is how often WaitURLPrefix reads the current location.
const urlPollInterval = 250 * time.Millisecond

// ErrSessionClosed is returned by every action on a closed Session.
var ErrSessionClosed = errors.New("browser session closed")

// Launcher starts browser sessions with a fixed configuration.
type Launcher struct {
	opts    []chromedp.ExecAllocatorOption
	evasion Evasion
}

// NewLauncher creates a launcher for cfg.
func NewLauncher(cfg config.BrowserConfig) (*Launcher, error) {
	ev, err := NewEvasion(cfg.Stealth)
	if err != nil {
		return nil, err
	}

	return &Launcher{
		opts:    Options(cfg, ev),
		evasion: ev,
	}, nil
}

// Evasion returns the evasion strategy applied to launched sessions.
func (l *Launcher) Evasion() Evasion {
	return l.evasion
}

// Launch starts a browser bound to ctx and opens one tab. The returned
// Session must be closed; closing it also stops the browser process.
func (l *Launcher) Launch(ctx context.Context) (*Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}

	// The first Run starts the browser; it must happen on the session's own
	// context so per-step deadlines never tear the process down.
	actions := make([]chromedp.Action, 0, len(l.evasion.Scripts()))
	for _, script := range l.evasion.Scripts() {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}))
	}
	if err := chromedp.Run(browserCtx, actions...); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return s, nil
}

// Session is one browser process with one tab.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
	closed    bool
}

// scoped derives an action context from the session context that honours
// the caller's deadline and cancellation.
func (s *Session) scoped(ctx context.Context) (context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, nil, ErrSessionClosed
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(s.ctx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(s.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)

	return runCtx, func() {
		stop()
		cancel()
	}, nil
}

func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel, err := s.scoped(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	return chromedp.Run(runCtx, actions...)
}

// lifecycleEvent maps a wait policy onto the Page.lifecycleEvent name
// Chrome emits for the main frame once the policy is satisfied.
func (p WaitPolicy) lifecycleEvent() string {
	switch p {
	case WaitLoad:
		return "load"
	case WaitNetworkIdle:
		return "networkIdle"
	default:
		return "DOMContentLoaded"
	}
}

// Navigate loads url and returns once the new document reaches wait. Only
// lifecycle events of the main frame carrying the navigation's own loader
// count, so events replayed for the previous document or sent by iframes
// are ignored.
func (s *Session) Navigate(ctx context.Context, url string, wait WaitPolicy) error {
	runCtx, cancel, err := s.scoped(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	w := newLifecycleWaiter(wait.lifecycleEvent())
	chromedp.ListenTarget(runCtx, w.observe)

	if err := chromedp.Run(runCtx,
		page.SetLifecycleEventsEnabled(true),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var res page.NavigateReturns
			if err := cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res); err != nil {
				return err
			}
			if res.ErrorText != "" {
				return errors.New(res.ErrorText)
			}
			w.expect(res.FrameID, res.LoaderID)
			return nil
		}),
	); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	select {
	case <-w.done:
		return nil
	case <-runCtx.Done():
		return fmt.Errorf("waiting for %s on %s: %w", w.name, url, runCtx.Err())
	}
}

type frameLoader struct {
	frame  cdp.FrameID
	loader cdp.LoaderID
}

// lifecycleWaiter closes done once the named lifecycle event has been seen
// for the expected frame and loader. Events may arrive before the Navigate
// response names the loader, so matches are remembered until then.
type lifecycleWaiter struct {
	name string
	done chan struct{}

	mu     sync.Mutex
	seen   map[frameLoader]bool
	target *frameLoader
	once   sync.Once
}

func newLifecycleWaiter(name string) *lifecycleWaiter {
	return &lifecycleWaiter{
		name: name,
		done: make(chan struct{}),
		seen: make(map[frameLoader]bool),
	}
}

func (w *lifecycleWaiter) observe(ev interface{}) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok || e.Name != w.name {
		return
	}
	key := frameLoader{frame: e.FrameID, loader: e.LoaderID}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.target != nil {
		if *w.target == key {
			w.finish()
		}
		return
	}
	w.seen[key] = true
}

// expect names the navigation to wait for. A same-document navigation has
// no loader and finishes immediately.
func (w *lifecycleWaiter) expect(frame cdp.FrameID, loader cdp.LoaderID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := frameLoader{frame: frame, loader: loader}
	w.target = &key
	if loader == "" || w.seen[key] {
		w.finish()
	}
	w.seen = nil
}

func (w *lifecycleWaiter) finish() {
	w.once.Do(func() { close(w.done) })
}

// Fill replaces the value of the input matched by selector. With a zero
// delay the text is inserted in one step; otherwise it is typed one
// character at a time with delay between keystrokes.
func (s *Session) Fill(ctx context.Context, selector, value string, delay time.Duration) error {
	sel, by := query(selector)

	tasks := chromedp.Tasks{
		chromedp.WaitVisible(sel, by),
		chromedp.SetValue(sel, "", by),
		chromedp.Focus(sel, by),
	}
	if delay <= 0 {
		tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
			return insertText(ctx, value)
		}))
	} else {
		for _, r := range value {
			tasks = append(tasks, chromedp.KeyEvent(string(r)), chromedp.Sleep(delay))
		}
	}

	return s.run(ctx, tasks)
}

// Click clicks the first visible element matched by selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	sel, by := query(selector)
	return s.run(ctx, chromedp.Click(sel, by))
}

// WaitSelector blocks until selector matches a visible element.
func (s *Session) WaitSelector(ctx context.Context, selector string) error {
	sel, by := query(selector)
	return s.run(ctx, chromedp.WaitVisible(sel, by))
}

// WaitURLPrefix polls the tab's location until it starts with prefix.
func (s *Session) WaitURLPrefix(ctx context.Context, prefix string) error {
	runCtx, cancel, err := s.scoped(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	ticker := time.NewTicker(urlPollInterval)
	defer ticker.Stop()

	for {
		var url string
		// Location fails while a navigation is in flight; just poll again
		if err := chromedp.Run(runCtx, chromedp.Location(&url)); err == nil && strings.HasPrefix(url, prefix) {
			return nil
		}

		select {
		case <-runCtx.Done():
			return runCtx.Err()
		case <-ticker.C:
		}
	}
}

// URL returns the tab's current location.
func (s *Session) URL(ctx context.Context) (string, error) {
	var url string
	err := s.run(ctx, chromedp.Location(&url))
	return url, err
}

// Value returns the current value of the input matched by selector.
func (s *Session) Value(ctx context.Context, selector string) (string, error) {
	sel, by := query(selector)

	var value string
	err := s.run(ctx, chromedp.Value(sel, &value, by))
	return value, err
}

// Screenshot captures the full page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Cookies gets all cookies from the browser
func (s *Session) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie

	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))

	return cookies, err
}

// Close shuts the browser down. Only the first call has an effect.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.closeErr = chromedp.Cancel(s.ctx)
		s.cancel()
	})
	return s.closeErr
}

func insertText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return input.InsertText(text).Do(ctx)
}

// query maps a selector onto chromedp's query options.
func query(selector string) (string, chromedp.QueryOption) {
	sel, xpath := parseSelector(selector)
	if xpath {
		return sel, chromedp.BySearch
	}
	return sel, chromedp.ByQuery
}

// parseSelector reports whether selector is XPath: it starts with "/" or "("
// or carries an "xpath=" prefix, which is stripped. Anything else is CSS.
func parseSelector(selector string) (string, bool) {
	if rest, ok := strings.CutPrefix(selector, "xpath="); ok {
		return rest, true
	}
	return selector, strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(")
}

package login

//go:generate mockgen -package=login -destination=mock_page_test.go github.com/ibeckermayer/qckeepalive/internal/login Page,Launcher,CookieSaver

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/ibeckermayer/qckeepalive/internal/browser"
)

// Page is the browser tab the runner drives. *browser.Session implements it.
type Page interface {
	Navigate(ctx context.Context, url string, wait browser.WaitPolicy) error
	Fill(ctx context.Context, selector, value string, delay time.Duration) error
	Click(ctx context.Context, selector string) error
	WaitSelector(ctx context.Context, selector string) error
	WaitURLPrefix(ctx context.Context, prefix string) error
	URL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Cookies(ctx context.Context) ([]*network.Cookie, error)
	Close() error
}

// Launcher opens a fresh Page for a run.
type Launcher interface {
	Launch(ctx context.Context) (Page, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context) (Page, error)

func (f LauncherFunc) Launch(ctx context.Context) (Page, error) { return f(ctx) }

// BrowserLauncher adapts a browser.Launcher to Launcher.
func BrowserLauncher(l *browser.Launcher) Launcher {
	return LauncherFunc(func(ctx context.Context) (Page, error) {
		s, err := l.Launch(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// CookieSaver receives the session cookies after a verified login.
type CookieSaver interface {
	Save(cookies []*network.Cookie) error
}

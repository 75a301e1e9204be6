// Package browser provides chromedp sessions with configurable anti-bot-detection measures.
package browser

import (
	"github.com/chromedp/chromedp"

	"github.com/ibeckermayer/qckeepalive/internal/config"
)

// Options returns chromedp allocator options for cfg, extended by the evasion's own flags.
// All browser instances should use this to ensure consistent stealth configuration.
func Options(cfg config.BrowserConfig, ev Evasion) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),

		// Disable automation-related extensions and features
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}

	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	// CI containers usually run as root without a usable sandbox
	if cfg.NoSandbox {
		opts = append(opts,
			chromedp.NoSandbox,
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}

	if cfg.Headless {
		opts = append(opts, chromedp.Flag("disable-gpu", true))
	}

	if ev != nil {
		opts = append(opts, ev.AllocatorOptions()...)
	}

	return opts
}

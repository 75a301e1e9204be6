package browser

import (
	_ "embed"
	"fmt"

	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"

	"github.com/ibeckermayer/qckeepalive/internal/config"
)

// manualEvasionJS overrides the navigator properties headless Chrome gives away.
//
//go:embed evasions.js
var manualEvasionJS string

// Evasion is a pluggable anti-detection strategy. Allocator options are
// applied when the browser process starts; scripts are injected into every
// new document before any page script runs.
type Evasion interface {
	Name() string
	AllocatorOptions() []chromedp.ExecAllocatorOption
	Scripts() []string
}

// NewEvasion returns the strategy for one of the config.Stealth* modes.
func NewEvasion(mode string) (Evasion, error) {
	switch mode {
	case config.StealthOff:
		return NoEvasion{}, nil
	case config.StealthManual:
		return ManualEvasion{}, nil
	case config.StealthLibrary:
		return LibraryEvasion{}, nil
	default:
		return nil, fmt.Errorf("unknown stealth mode %q", mode)
	}
}

// NoEvasion leaves the browser as chromedp launches it.
type NoEvasion struct{}

func (NoEvasion) Name() string                                     { return config.StealthOff }
func (NoEvasion) AllocatorOptions() []chromedp.ExecAllocatorOption { return nil }
func (NoEvasion) Scripts() []string                                { return nil }

// ManualEvasion hides the AutomationControlled blink feature and patches
// navigator.webdriver, plugins and languages with a small embedded script.
type ManualEvasion struct{}

func (ManualEvasion) Name() string { return config.StealthManual }

func (ManualEvasion) AllocatorOptions() []chromedp.ExecAllocatorOption {
	return []chromedp.ExecAllocatorOption{
		// Prevent navigator.webdriver = true detection
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	}
}

func (ManualEvasion) Scripts() []string { return []string{manualEvasionJS} }

// LibraryEvasion injects the puppeteer-extra stealth evasions bundled by go-rod/stealth.
type LibraryEvasion struct{}

func (LibraryEvasion) Name() string { return config.StealthLibrary }

func (LibraryEvasion) AllocatorOptions() []chromedp.ExecAllocatorOption {
	return []chromedp.ExecAllocatorOption{
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	}
}

func (LibraryEvasion) Scripts() []string { return []string{stealth.JS} }

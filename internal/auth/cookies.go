package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/ibeckermayer/qckeepalive/internal/config"
)

// SiteDomain is the registrable domain whose cookies make up a session.
const SiteDomain = "quantconnect.com"

// ErrNoCookies is returned by Load when nothing has been exported yet.
var ErrNoCookies = errors.New("no stored cookies")

// CookieStore exports QuantConnect session cookies after a verified login
type CookieStore struct {
	path   string
	domain string
	now    func() time.Time
}

// StoredCookies represents the persisted cookie data
type StoredCookies struct {
	Cookies    []*network.Cookie `json:"cookies"`
	CapturedAt time.Time         `json:"captured_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// NewCookieStore creates a cookie store at the given path that keeps cookies
// for domain and its subdomains. An empty domain means SiteDomain.
func NewCookieStore(path, domain string) *CookieStore {
	if domain == "" {
		domain = SiteDomain
	}
	return &CookieStore{
		path:   path,
		domain: strings.TrimPrefix(domain, "."),
		now:    time.Now,
	}
}

// DefaultCookieStorePath returns the default path for cookie storage
func DefaultCookieStorePath() (string, error) {
	configDir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "cookies.json"), nil
}

// Path returns the file the store writes to.
func (cs *CookieStore) Path() string {
	return cs.path
}

// Save persists the site's cookies to disk, dropping cookies for any other
// domain the browser picked up along the way.
// TODO: Encrypt cookies at rest
func (cs *CookieStore) Save(cookies []*network.Cookie) error {
	site := cs.filter(cookies)
	if len(site) == 0 {
		return fmt.Errorf("no %s cookies in session", cs.domain)
	}

	dir := filepath.Dir(cs.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create cookie directory: %w", err)
	}

	stored := StoredCookies{
		Cookies:    site,
		CapturedAt: cs.now(),
		ExpiresAt:  earliestExpiry(site),
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}

	// Write-then-rename so a reader never sees a half written file
	tmp := cs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write cookies: %w", err)
	}
	if err := os.Rename(tmp, cs.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write cookies: %w", err)
	}
	return nil
}

// Load retrieves cookies from disk
func (cs *CookieStore) Load() (*StoredCookies, error) {
	data, err := os.ReadFile(cs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCookies
	}
	if err != nil {
		return nil, err
	}

	var stored StoredCookies
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", cs.path, err)
	}

	return &stored, nil
}

// IsValid checks if stored cookies are still valid. Session-only cookies
// carry no expiry, so a store holding nothing else is valid until cleared.
func (cs *CookieStore) IsValid() bool {
	stored, err := cs.Load()
	if err != nil || len(stored.Cookies) == 0 {
		return false
	}

	if stored.ExpiresAt.IsZero() {
		return true
	}
	return cs.now().Before(stored.ExpiresAt)
}

// Clear removes stored cookies
func (cs *CookieStore) Clear() error {
	err := os.Remove(cs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// SiteCookies returns the stored cookies for the store's domain.
func (cs *CookieStore) SiteCookies() ([]*network.Cookie, error) {
	stored, err := cs.Load()
	if err != nil {
		return nil, err
	}
	return cs.filter(stored.Cookies), nil
}

func (cs *CookieStore) filter(cookies []*network.Cookie) []*network.Cookie {
	var out []*network.Cookie
	for _, c := range cookies {
		if c != nil && matchesDomain(c.Domain, cs.domain) {
			out = append(out, c)
		}
	}
	return out
}

func matchesDomain(cookieDomain, domain string) bool {
	d := strings.TrimPrefix(strings.ToLower(cookieDomain), ".")
	return d == domain || strings.HasSuffix(d, "."+domain)
}

// earliestExpiry finds the soonest expiry among persistent cookies.
// Chrome reports session cookies with Expires <= 0.
func earliestExpiry(cookies []*network.Cookie) time.Time {
	var earliest time.Time
	for _, c := range cookies {
		if c.Expires <= 0 {
			continue
		}
		exp := time.Unix(int64(c.Expires), 0)
		if earliest.IsZero() || exp.Before(earliest) {
			earliest = exp
		}
	}
	return earliest
}

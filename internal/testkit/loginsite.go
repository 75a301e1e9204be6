// Package testkit serves a fake login form and locates a local Chrome for
// tests that drive a real browser.
package testkit

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"
)

// Behavior selects what the fake site does after the form is submitted.
type Behavior int

const (
	// Accept redirects to /dashboard, which shows the success heading.
	Accept Behavior = iota
	// Reject redirects back to /login with an error banner.
	Reject
	// ElementOnly renders the success heading without leaving /session.
	ElementOnly
	// URLOnly redirects to /dashboard/welcome, which has no success heading.
	URLOnly
)

// Selectors used by the fake form. They mirror the real site's markup.
const (
	EmailSelector    = `input[name="email"]`
	PasswordSelector = `input[name="password"]`
	SubmitSelector   = `button[type="submit"]`
	SuccessSelector  = `//h2[text()='My Projects']`
)

// Submission is one POST the fake site received.
type Submission struct {
	Email    string
	Password string
}

// LoginSite is a fake login flow backed by httptest.
type LoginSite struct {
	*httptest.Server

	behavior Behavior

	mu          sync.Mutex
	submissions []Submission
	served      map[string]int
}

// Delays of the busy page's subresources.
const (
	BusyImageDelay = 1500 * time.Millisecond
	BusyFetchDelay = 700 * time.Millisecond
)

// NewLoginSite starts a site with the given behavior; it is closed with the test.
func NewLoginSite(t *testing.T, behavior Behavior) *LoginSite {
	t.Helper()

	site := &LoginSite{behavior: behavior, served: make(map[string]int)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", site.loginPage)
	mux.HandleFunc("POST /session", site.session)
	mux.HandleFunc("GET /dashboard", func(w http.ResponseWriter, _ *http.Request) {
		page(w, "Dashboard", `<h2>My Projects</h2>`)
	})
	mux.HandleFunc("GET /dashboard/welcome", func(w http.ResponseWriter, _ *http.Request) {
		page(w, "Welcome", `<h2>Getting started</h2>`)
	})

	mux.HandleFunc("GET /busy", func(w http.ResponseWriter, _ *http.Request) {
		page(w, "Busy", `<h2>Loading</h2><img src="/busy/image.gif">
<script>
window.addEventListener("load", () => setTimeout(() => fetch("/busy/data"), 100));
</script>`)
	})
	mux.HandleFunc("GET /busy/image.gif", site.slow(BusyImageDelay, "image/gif", transparentGIF))
	mux.HandleFunc("GET /busy/data", site.slow(BusyFetchDelay, "application/json", []byte(`{}`)))

	site.Server = httptest.NewServer(mux)
	t.Cleanup(site.Close)

	return site
}

// LoginURL is the form's address.
func (s *LoginSite) LoginURL() string { return s.URL + "/login" }

// DashboardURL is the post-login address prefix.
func (s *LoginSite) DashboardURL() string { return s.URL + "/dashboard" }

// BusyURL is a page whose load event waits for a slow image and which
// fetches more data shortly after loading.
func (s *LoginSite) BusyURL() string { return s.URL + "/busy" }

// Served reports how many responses path has finished.
func (s *LoginSite) Served(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.served[path]
}

func (s *LoginSite) slow(delay time.Duration, contentType string, body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(body)

		s.mu.Lock()
		s.served[r.URL.Path]++
		s.mu.Unlock()
	}
}

// transparentGIF is a 1x1 GIF.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0xff, 0xff, 0xff,
	0x00, 0x00, 0x00, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Submissions returns the form posts received so far.
func (s *LoginSite) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Submission(nil), s.submissions...)
}

func (s *LoginSite) loginPage(w http.ResponseWriter, r *http.Request) {
	banner := ""
	if r.URL.Query().Has("error") {
		banner = `<p class="error">Invalid email or password</p>`
	}
	page(w, "Sign in", banner+`
<form method="post" action="/session">
  <input type="email" name="email" autocomplete="username">
  <input type="password" name="password" autocomplete="current-password">
  <button type="submit">Sign in</button>
</form>`)
}

func (s *LoginSite) session(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.submissions = append(s.submissions, Submission{
		Email:    r.PostForm.Get("email"),
		Password: r.PostForm.Get("password"),
	})
	s.mu.Unlock()

	switch s.behavior {
	case Accept:
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	case Reject:
		http.Redirect(w, r, "/login?error=1", http.StatusSeeOther)
	case ElementOnly:
		page(w, "Projects", `<h2>My Projects</h2>`)
	case URLOnly:
		http.Redirect(w, r, "/dashboard/welcome", http.StatusSeeOther)
	}
}

func page(w http.ResponseWriter, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!doctype html><html><head><title>%s</title></head><body>%s</body></html>", title, body)
}

var chromeCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"headless-shell",
	"chrome",
}

// Chrome returns a Chrome executable or skips the test. QC_CHROME_PATH wins
// over the PATH lookup.
func Chrome(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}

	if path := os.Getenv("QC_CHROME_PATH"); path != "" {
		return path
	}
	for _, name := range chromeCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	t.Skip("no Chrome or Chromium binary found")
	return ""
}

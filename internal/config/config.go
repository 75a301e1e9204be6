package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ilyakaznacheev/cleanenv"
)

// Stealth modes understood by the browser package.
const (
	StealthOff     = "off"
	StealthManual  = "manual"
	StealthLibrary = "library"
)

// Navigation wait policies.
const (
	WaitDOMContentLoaded = "domcontentloaded"
	WaitLoad             = "load"
	WaitNetworkIdle      = "networkidle"
)

// Verification strategies.
const (
	VerifySelector = "selector"
	VerifyURL      = "url"
)

// Config holds all application configuration
type Config struct {
	Version     int    `toml:"version"`
	Environment string `toml:"environment" env:"QC_ENVIRONMENT"`

	// Credentials only ever come from the environment.
	Credentials CredentialsConfig `toml:"-"`

	Site     SiteConfig     `toml:"site"`
	Browser  BrowserConfig  `toml:"browser"`
	Login    LoginConfig    `toml:"login"`
	Schedule ScheduleConfig `toml:"schedule"`
	History  HistoryConfig  `toml:"history"`
	Notify   NotifyConfig   `toml:"notify"`
}

type CredentialsConfig struct {
	Email    string `env:"QC_EMAIL"`
	Password string `env:"QC_PASSWORD"`
}

type SiteConfig struct {
	LoginURL         string `toml:"login_url" env:"QC_LOGIN_URL"`
	DashboardURL     string `toml:"dashboard_url" env:"QC_DASHBOARD_URL"`
	EmailSelector    string `toml:"email_selector" env:"QC_EMAIL_SELECTOR"`
	PasswordSelector string `toml:"password_selector" env:"QC_PASSWORD_SELECTOR"`
	SubmitSelector   string `toml:"submit_selector" env:"QC_SUBMIT_SELECTOR"`
	SuccessSelector  string `toml:"success_selector" env:"QC_SUCCESS_SELECTOR"`
}

type BrowserConfig struct {
	Headless     bool   `toml:"headless" env:"QC_HEADLESS"`
	UserAgent    string `toml:"user_agent" env:"QC_USER_AGENT"`
	Stealth      string `toml:"stealth" env:"QC_STEALTH"`
	ExecPath     string `toml:"exec_path" env:"QC_CHROME_PATH"`
	NoSandbox    bool   `toml:"no_sandbox" env:"QC_NO_SANDBOX"`
	WindowWidth  int    `toml:"window_width" env:"QC_WINDOW_WIDTH"`
	WindowHeight int    `toml:"window_height" env:"QC_WINDOW_HEIGHT"`
}

type LoginConfig struct {
	WaitUntil         string        `toml:"wait_until" env:"QC_WAIT_UNTIL"`
	NavigationTimeout time.Duration `toml:"navigation_timeout" env:"QC_NAVIGATION_TIMEOUT"`
	StepTimeout       time.Duration `toml:"step_timeout" env:"QC_STEP_TIMEOUT"`
	VerifyTimeout     time.Duration `toml:"verify_timeout" env:"QC_VERIFY_TIMEOUT"`
	TypingDelay       time.Duration `toml:"typing_delay" env:"QC_TYPING_DELAY"`
	VerifyStrategy    string        `toml:"verify_strategy" env:"QC_VERIFY_STRATEGY"`
	StrictURL         bool          `toml:"strict_url" env:"QC_STRICT_URL"`
	ScreenshotPath    string        `toml:"screenshot_path" env:"QC_SCREENSHOT_PATH"`
	CookieFile        string        `toml:"cookie_file" env:"QC_COOKIE_FILE"`
}

type ScheduleConfig struct {
	Cron        string        `toml:"cron" env:"QC_SCHEDULE"`
	Timezone    string        `toml:"timezone" env:"QC_TIMEZONE"`
	JobTimeout  time.Duration `toml:"job_timeout" env:"QC_JOB_TIMEOUT"`
	RunOnStart  bool          `toml:"run_on_start" env:"QC_RUN_ON_START"`
	MetricsAddr string        `toml:"metrics_addr" env:"QC_METRICS_ADDR"`
}

type HistoryConfig struct {
	DBPath string `toml:"db_path" env:"QC_HISTORY_DB"`
}

type NotifyConfig struct {
	SMTPHost string `toml:"smtp_host" env:"QC_SMTP_HOST"`
	SMTPPort int    `toml:"smtp_port" env:"QC_SMTP_PORT"`
	SMTPUser string `toml:"smtp_user" env:"QC_SMTP_USER"`
	SMTPPass string `toml:"-" env:"QC_SMTP_PASS"`
	FromAddr string `toml:"from_address" env:"QC_SMTP_FROM"`
	ToAddr   string `toml:"to_address" env:"QC_NOTIFY_TO"`
}

// Enabled reports whether failure notifications are configured
func (n NotifyConfig) Enabled() bool {
	return n.SMTPHost != "" && n.ToAddr != ""
}

// DefaultUserAgent is a realistic desktop Chrome user agent
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version:     1,
		Environment: "development",
		Site: SiteConfig{
			LoginURL:         "https://www.quantconnect.com/login",
			DashboardURL:     "https://www.quantconnect.com/dashboard",
			EmailSelector:    `input[name="email"]`,
			PasswordSelector: `input[name="password"]`,
			SubmitSelector:   `button[type="submit"]`,
			SuccessSelector:  `//h2[text()='My Projects']`,
		},
		Browser: BrowserConfig{
			Headless:     true,
			UserAgent:    DefaultUserAgent,
			Stealth:      StealthManual,
			NoSandbox:    true,
			WindowWidth:  1920,
			WindowHeight: 1080,
		},
		Login: LoginConfig{
			WaitUntil:         WaitDOMContentLoaded,
			NavigationTimeout: 60 * time.Second,
			StepTimeout:       30 * time.Second,
			VerifyTimeout:     30 * time.Second,
			VerifyStrategy:    VerifySelector,
			ScreenshotPath:    "login_failure_screenshot.png",
		},
		Schedule: ScheduleConfig{
			Cron:       "0 */6 * * *",
			Timezone:   "UTC",
			JobTimeout: 5 * time.Minute,
		},
		Notify: NotifyConfig{
			SMTPPort: 587,
		},
	}
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "qckeepalive"), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load builds the configuration from defaults, the TOML file at path (if it
// exists) and finally the environment. An empty path means ConfigPath().
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = ConfigPath(); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	return cfg, nil
}

// Validate checks enum values and timeouts. Credentials are not checked here;
// the login runner reports them as their own failure kind.
func (c *Config) Validate() error {
	var errs []error

	for name, raw := range map[string]string{
		"site.login_url":     c.Site.LoginURL,
		"site.dashboard_url": c.Site.DashboardURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s: invalid URL %q", name, raw))
		}
	}

	for name, sel := range map[string]string{
		"site.email_selector":    c.Site.EmailSelector,
		"site.password_selector": c.Site.PasswordSelector,
		"site.submit_selector":   c.Site.SubmitSelector,
	} {
		if sel == "" {
			errs = append(errs, fmt.Errorf("%s: must not be empty", name))
		}
	}

	switch c.Browser.Stealth {
	case StealthOff, StealthManual, StealthLibrary:
	default:
		errs = append(errs, fmt.Errorf("browser.stealth: unknown mode %q", c.Browser.Stealth))
	}

	switch c.Login.WaitUntil {
	case WaitDOMContentLoaded, WaitLoad, WaitNetworkIdle:
	default:
		errs = append(errs, fmt.Errorf("login.wait_until: unknown policy %q", c.Login.WaitUntil))
	}

	switch c.Login.VerifyStrategy {
	case VerifySelector:
		if c.Site.SuccessSelector == "" {
			errs = append(errs, errors.New("site.success_selector: required by the selector strategy"))
		}
	case VerifyURL:
	default:
		errs = append(errs, fmt.Errorf("login.verify_strategy: unknown strategy %q", c.Login.VerifyStrategy))
	}

	for name, d := range map[string]time.Duration{
		"login.navigation_timeout": c.Login.NavigationTimeout,
		"login.step_timeout":       c.Login.StepTimeout,
		"login.verify_timeout":     c.Login.VerifyTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %s", name, d))
		}
	}
	if c.Login.TypingDelay < 0 {
		errs = append(errs, fmt.Errorf("login.typing_delay: must not be negative, got %s", c.Login.TypingDelay))
	}
	if c.Login.ScreenshotPath == "" {
		errs = append(errs, errors.New("login.screenshot_path: must not be empty"))
	}
	if c.Notify.Enabled() && c.Notify.FromAddr == "" {
		errs = append(errs, errors.New("notify.from_address: required when notifications are enabled"))
	}

	return errors.Join(errs...)
}

// Save writes config to disk
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}

// Command qckeepalive logs in to QuantConnect with a headless browser so the
// account session stays alive. Run without a subcommand it makes one login
// attempt and exits 0 on a verified login, 1 otherwise.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibeckermayer/qckeepalive/internal/config"
	"github.com/ibeckermayer/qckeepalive/internal/logger"
)

// cli carries state shared by all subcommands.
type cli struct {
	configPath string
	envFile    string

	// overrides applied on top of the loaded config when set
	headful     bool
	stealth     string
	waitUntil   string
	verify      string
	typingDelay time.Duration
	strictURL   bool
	screenshot  string
	cookieFile  string
	historyDB   string

	cfg      *config.Config
	exitCode int
}

func main() {
	c := &cli{}
	root := c.rootCommand()

	ctx := context.Background()
	defer func() {
		if p := recover(); p != nil {
			logger.Error(ctx, "captured panic, exiting...", zap.Any("panic", p))
			logger.Sync()

			panic(p)
		}
	}()

	err := root.ExecuteContext(ctx)
	logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if c.exitCode == 0 {
			c.exitCode = 1
		}
	}
	os.Exit(c.exitCode) //nolint: gocritic
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "qckeepalive",
		Short: "Keep a QuantConnect session alive with a scripted browser login",
		Long: `qckeepalive drives a headless Chrome through the QuantConnect login form
using QC_EMAIL and QC_PASSWORD from the environment. A verified login exits 0;
any failure exits 1 and leaves login_failure_screenshot.png behind.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		RunE:              c.runLogin,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.configPath, "config", "c", "", "config file path (default: user config dir)")
	pf.StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.BoolVar(&c.headful, "headful", false, "show the browser window")
	pf.StringVar(&c.stealth, "stealth", "", "evasion mode: off, manual or library")

	addLoginFlags(root, c)

	root.AddCommand(
		c.loginCommand(),
		c.scheduleCommand(),
		c.botTestCommand(),
		c.openCommand(),
		c.initConfigCommand(),
		c.historyCommand(),
		c.cookiesCommand(),
	)

	return root
}

func addLoginFlags(cmd *cobra.Command, c *cli) {
	f := cmd.Flags()
	f.StringVar(&c.waitUntil, "wait-until", "", "navigation wait policy: domcontentloaded, load or networkidle")
	f.StringVar(&c.verify, "verify", "", "verification strategy: selector or url")
	f.DurationVar(&c.typingDelay, "typing-delay", 0, "delay between typed characters (0 fills instantly)")
	f.BoolVar(&c.strictURL, "strict-url", false, "fail when the success element appears outside the dashboard")
	f.StringVar(&c.screenshot, "screenshot", "", "failure screenshot path")
	f.StringVar(&c.cookieFile, "cookie-file", "", "export session cookies here after a verified login")
	f.StringVar(&c.historyDB, "history-db", "", "record the run in this SQLite database")
}

// setup loads .env, the config file and the environment, then applies flag
// overrides and starts logging.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", c.envFile, err)
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("headful") {
		cfg.Browser.Headless = !c.headful
	}
	if flags.Changed("stealth") {
		cfg.Browser.Stealth = c.stealth
	}
	if flags.Changed("wait-until") {
		cfg.Login.WaitUntil = c.waitUntil
	}
	if flags.Changed("verify") {
		cfg.Login.VerifyStrategy = c.verify
	}
	if flags.Changed("typing-delay") {
		cfg.Login.TypingDelay = c.typingDelay
	}
	if flags.Changed("strict-url") {
		cfg.Login.StrictURL = c.strictURL
	}
	if flags.Changed("screenshot") {
		cfg.Login.ScreenshotPath = c.screenshot
	}
	if flags.Changed("cookie-file") {
		cfg.Login.CookieFile = c.cookieFile
	}
	if flags.Changed("history-db") {
		cfg.History.DBPath = c.historyDB
	}

	logger.Setup(cfg.Environment)
	c.cfg = cfg
	return nil
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibeckermayer/qckeepalive/internal/browser"
	"github.com/ibeckermayer/qckeepalive/internal/logger"
)

const botTestURL = "https://bot.sannysoft.com"

func (c *cli) botTestCommand() *cobra.Command {
	var (
		shotPath string
		headless bool
	)

	cmd := &cobra.Command{
		Use:   "bot-test",
		Short: "Open bot.sannysoft.com to audit the browser fingerprint",
		Long: `bot-test opens a fingerprinting test page with the configured evasion mode
so you can compare off, manual and library. The window stays open until Enter.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := c.cfg.Browser
			cfg.Headless = headless // visible unless asked otherwise

			l, err := browser.NewLauncher(cfg)
			if err != nil {
				return err
			}

			logger.Info(ctx, "opening bot test page",
				zap.String("url", botTestURL),
				zap.String("stealth", l.Evasion().Name()),
			)

			s, err := l.Launch(ctx)
			if err != nil {
				return fmt.Errorf("failed to launch browser: %w", err)
			}
			defer s.Close()

			navCtx, cancel := context.WithTimeout(ctx, c.cfg.Login.NavigationTimeout)
			defer cancel()
			if err := s.Navigate(navCtx, botTestURL, browser.WaitNetworkIdle); err != nil {
				return err
			}

			if shotPath != "" {
				// The checks run asynchronously after load
				time.Sleep(2 * time.Second)
				buf, err := s.Screenshot(ctx)
				if err != nil {
					return fmt.Errorf("failed to capture screenshot: %w", err)
				}
				if err := os.WriteFile(shotPath, buf, 0644); err != nil {
					return err
				}
				fmt.Printf("Screenshot saved to %s\n", shotPath)
			}

			if headless {
				return nil
			}

			fmt.Println("Press Enter to end program...")
			done := make(chan struct{})
			go func() {
				bufio.NewReader(os.Stdin).ReadString('\n')
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&shotPath, "screenshot", "", "save a full-page screenshot of the results")
	cmd.Flags().BoolVar(&headless, "headless", false, "run without a window (use with --screenshot)")

	return cmd
}

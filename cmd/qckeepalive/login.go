package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibeckermayer/qckeepalive/internal/app"
	"github.com/ibeckermayer/qckeepalive/internal/logger"
	"github.com/ibeckermayer/qckeepalive/internal/login"
)

func (c *cli) loginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Make one login attempt (the default command)",
		Args:  cobra.NoArgs,
		RunE:  c.runLogin,
	}
	addLoginFlags(cmd, c)
	return cmd
}

// runLogin makes exactly one attempt and maps its outcome to the exit code.
func (c *cli) runLogin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a, err := app.NewFromConfig(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn(ctx, "could not close app", zap.Error(err))
		}
	}()

	out := a.RunOnce(ctx, app.TriggerCLI)
	c.exitCode = out.ExitCode()

	switch out.Status {
	case login.StatusSuccess:
		fmt.Fprintf(os.Stdout, "Login verified (%s)\n", out.URL)
	case login.StatusMissingCredentials:
		fmt.Fprintln(os.Stderr, "QC_EMAIL and QC_PASSWORD must both be set.")
	default:
		fmt.Fprintf(os.Stderr, "Login failed: %v\n", out.Err)
		if out.ScreenshotPath != "" {
			fmt.Fprintf(os.Stderr, "Screenshot saved to %s\n", out.ScreenshotPath)
		}
	}
	return nil
}

package main

import (
	"fmt"

	pkgbrowser "github.com/pkg/browser"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibeckermayer/qckeepalive/internal/config"
	"github.com/ibeckermayer/qckeepalive/internal/logger"
)

func (c *cli) openCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "open <config|screenshot|history|cookies>",
		Short:     "Open a file used by qckeepalive with the system default application",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"config", "screenshot", "history", "cookies"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				path string
				err  error
			)

			switch args[0] {
			case "config":
				path = c.configPath
				if path == "" {
					path, err = config.ConfigPath()
				}
			case "screenshot":
				path = c.cfg.Login.ScreenshotPath
			case "history":
				path = c.cfg.History.DBPath
				if path == "" {
					return fmt.Errorf("history is disabled; set history.db_path or QC_HISTORY_DB")
				}
			case "cookies":
				path = c.cfg.Login.CookieFile
				if path == "" {
					return fmt.Errorf("cookie export is disabled; set login.cookie_file or QC_COOKIE_FILE")
				}
			}
			if err != nil {
				return fmt.Errorf("failed to get path: %w", err)
			}

			logger.Info(cmd.Context(), "opening file", zap.String("path", path))
			return pkgbrowser.OpenFile(path)
		},
	}
}

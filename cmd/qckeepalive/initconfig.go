package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/qckeepalive/internal/auth"
	"github.com/ibeckermayer/qckeepalive/internal/config"
)

func (c *cli) initConfigCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write the default config file",
		Long: `init-config writes the default settings to the user config directory.
Credentials are never written; set QC_EMAIL and QC_PASSWORD in the environment
or a .env file.`,
		Args: cobra.NoArgs,
		// The file may not parse yet, so skip the root config loading
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.ConfigPath()
			if err != nil {
				return err
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			cfg := config.Default()
			if cookiePath, err := auth.DefaultCookieStorePath(); err == nil {
				cfg.Login.CookieFile = cookiePath
			}

			if err := cfg.Save(); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			fmt.Printf("Created default config at: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

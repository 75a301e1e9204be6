package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/qckeepalive/internal/auth"
)

func (c *cli) cookiesCommand() *cobra.Command {
	var clearStored bool

	cmd := &cobra.Command{
		Use:   "cookies",
		Short: "Show or clear the exported session cookies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := c.cfg.Login.CookieFile
			if path == "" {
				return fmt.Errorf("cookie export is disabled; set login.cookie_file or QC_COOKIE_FILE")
			}
			cs := auth.NewCookieStore(path, "")

			if clearStored {
				if err := cs.Clear(); err != nil {
					return err
				}
				fmt.Printf("Removed %s\n", path)
				return nil
			}

			stored, err := cs.Load()
			if errors.Is(err, auth.ErrNoCookies) {
				fmt.Println("No cookies exported yet; run a login first.")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Printf("File:     %s\n", path)
			fmt.Printf("Cookies:  %d\n", len(stored.Cookies))
			fmt.Printf("Captured: %s\n", stored.CapturedAt.Local().Format(time.DateTime))
			if stored.ExpiresAt.IsZero() {
				fmt.Println("Expires:  end of browser session")
			} else {
				fmt.Printf("Expires:  %s\n", stored.ExpiresAt.Local().Format(time.DateTime))
			}
			fmt.Printf("Valid:    %t\n", cs.IsValid())

			site, err := cs.SiteCookies()
			if err != nil {
				return err
			}
			for _, ck := range site {
				fmt.Printf("  %s\t%s\n", ck.Domain, ck.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearStored, "clear", false, "delete the exported cookies")
	return cmd
}

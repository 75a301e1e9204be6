package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/qckeepalive/internal/store"
)

func (c *cli) historyCommand() *cobra.Command {
	var (
		limit int
		since time.Duration
		prune time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded login runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.History.DBPath == "" {
				return fmt.Errorf("history is disabled; set history.db_path or QC_HISTORY_DB")
			}

			s, err := store.New(c.cfg.History.DBPath)
			if err != nil {
				return err
			}
			defer s.Close()

			if prune > 0 {
				n, err := s.PruneBefore(time.Now().Add(-prune))
				if err != nil {
					return fmt.Errorf("failed to prune history: %w", err)
				}
				fmt.Printf("Removed %d runs older than %s\n\n", n, prune)
			}

			runs, err := s.RecentRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded yet.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tTRIGGER\tSTATUS\tDURATION\tURL")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.StartedAt.Local().Format(time.DateTime),
					r.Trigger,
					r.Status,
					r.Duration.Round(100*time.Millisecond),
					r.FinalURL,
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if last, err := s.LastSuccess(); err == nil {
				fmt.Printf("\nLast verified login: %s (%s ago)\n",
					last.StartedAt.Local().Format(time.DateTime),
					time.Since(last.StartedAt).Round(time.Minute))
			}

			counts, err := s.CountByStatus(time.Now().Add(-since))
			if err != nil {
				return err
			}
			fmt.Printf("Last %s:", since)
			for _, sc := range counts {
				fmt.Printf(" %s=%d", sc.Status, sc.Count)
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().DurationVar(&since, "since", 7*24*time.Hour, "window for the status summary")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete runs older than this first")
	return cmd
}

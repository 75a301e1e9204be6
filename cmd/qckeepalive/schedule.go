package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/qckeepalive/internal/app"
	"github.com/ibeckermayer/qckeepalive/internal/logger"
	"github.com/ibeckermayer/qckeepalive/internal/metrics"
	"github.com/ibeckermayer/qckeepalive/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

func (c *cli) scheduleCommand() *cobra.Command {
	var (
		cronExpr    string
		runOnStart  bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Log in on a cron schedule until interrupted",
		Long: `schedule runs one login attempt per cron tick until SIGINT or SIGTERM.
A tick that fires while the previous attempt is still running is skipped.
SIGHUP reloads the config file and the environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("cron") {
				c.cfg.Schedule.Cron = cronExpr
			}
			if flags.Changed("run-on-start") {
				c.cfg.Schedule.RunOnStart = runOnStart
			}
			if flags.Changed("metrics-addr") {
				c.cfg.Schedule.MetricsAddr = metricsAddr
			}
			return c.runSchedule(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&cronExpr, "cron", "", `cron expression, e.g. "0 */6 * * *" or "@every 4h"`)
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "log in once immediately")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	return cmd
}

func (c *cli) runSchedule(parent context.Context) error {
	cfg := c.cfg
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := scheduler.ValidateSchedule(cfg.Schedule.Cron); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := metrics.New()
	a, err := app.NewFromConfig(ctx, cfg, app.WithObserver(recorder))
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn(ctx, "could not close app", zap.Error(err))
		}
	}()

	sched, err := scheduler.New(cfg.Schedule.Timezone, cfg.Schedule.JobTimeout)
	if err != nil {
		return err
	}
	if err := sched.AddJob("login", cfg.Schedule.Cron, a.LoginJob()); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Schedule.MetricsAddr != "" {
		server := &http.Server{
			Addr:              cfg.Schedule.MetricsAddr,
			Handler:           metricsMux(recorder),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info(ctx, "starting metrics server...", zap.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			logger.Info(ctx, "stopping metrics server...")
			return server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		reload := make(chan os.Signal, 1)
		signal.Notify(reload, syscall.SIGHUP)
		defer signal.Stop(reload)

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-reload:
				if err := a.ReloadConfig(ctx, c.configPath); err != nil {
					logger.Error(ctx, "could not reload configuration", zap.Error(err))
				}
			}
		}
	})

	g.Go(func() error {
		sched.Start(ctx)
		for _, job := range sched.ListJobs() {
			logger.Info(ctx, "next login scheduled", zap.String("job", job.Name), zap.Time("at", job.NextRun))
		}

		if cfg.Schedule.RunOnStart {
			// Failures are already logged, recorded and notified
			if err := sched.RunNow(ctx, "login"); errors.Is(err, scheduler.ErrJobRunning) {
				logger.Info(ctx, "first tick already started a login, skipping run on start")
			}
		}

		<-ctx.Done()
		<-sched.Stop().Done()
		return nil
	})

	return g.Wait()
}

func metricsMux(recorder *metrics.Recorder) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

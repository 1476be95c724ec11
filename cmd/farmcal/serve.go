package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"farmcal/internal/config"
	appLog "farmcal/internal/log"
	"farmcal/internal/scheduler"
	"farmcal/internal/web"
)

var (
	listenAddr string
	watchCfg   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with scheduled refresh",
	Long: `Starts the HTTP API, refreshes cached months on the configured cron
schedule and reloads the config file when it changes.

Layout options, basic auth, log level and the refresh schedule are applied
on reload. Source endpoints and the listen address need a restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config if set)")
	serveCmd.Flags().BoolVar(&watchCfg, "watch", true, "Reload the config file when it changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		a.cfg.Listen = listenAddr
	}
	appLog.Info("farmcal starting", "version", version)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched, err := scheduler.New(a.cfg.RefreshCron, planFor(a.cfg), a.planner, a.cfg.Location())
	if err != nil {
		return err
	}
	srv := web.NewServer(a.cfg, a.planner, a.todos)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, a.cfg.Listen)
	})
	g.Go(func() error {
		return sched.Run(ctx)
	})
	if watchCfg {
		g.Go(func() error {
			err := config.Watch(ctx, configPath, 0, func(next *config.Config) {
				applyReload(next, srv, a, sched)
			})
			if err != nil {
				// the service keeps running on the config it has
				appLog.Error("config watcher stopped", err, "path", configPath)
			}
			return nil
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	appLog.Info("farmcal exiting")
	return nil
}

func planFor(cfg *config.Config) scheduler.Plan {
	return scheduler.Plan{Fields: cfg.Fields, Prefetch: cfg.PrefetchMonths}
}

func applyReload(next *config.Config, srv *web.Server, a *app, sched *scheduler.Scheduler) {
	next.Listen = a.cfg.Listen
	appLog.SetLevel(appLog.ParseLevel(next.Log.Level))
	srv.SetConfig(next)
	a.planner.SetOptions(next.CalendarOptions())
	if err := sched.Reschedule(next.RefreshCron, planFor(next)); err != nil {
		appLog.Error("config reload: keeping previous schedule", err, "refresh", next.RefreshCron)
	}
	a.cfg = next
	appLog.Info("config reloaded", "path", configPath)
}

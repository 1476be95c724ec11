package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"farmcal/internal/config"
	"farmcal/internal/httpcache"
	"farmcal/internal/ics"
	appLog "farmcal/internal/log"
	"farmcal/internal/planner"
	"farmcal/internal/todo"
)

const version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "farmcal",
	Short: "Farm work and pest calendar service",
	Long: `farmcal merges a field's backend todos with subscribed ICS feeds and lays
them out as a month grid with a fixed number of event lanes per day.`,
	SilenceUsage: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		appLog.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/farmcal/config.yaml", "Path to config file")
	rootCmd.AddCommand(serveCmd, gridCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		appLog.Sync()
		os.Exit(1)
	}
}

// app is the wired set of components both subcommands run on.
type app struct {
	cfg     *config.Config
	todos   *todo.Client
	planner *planner.Planner
}

// loadApp reads the config, configures logging and wires the event
// sources into a planner.
func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	appLog.Configure(appLog.Format(cfg.Log.Format), appLog.ParseLevel(cfg.Log.Level))

	hc := &http.Client{Timeout: time.Duration(cfg.Backend.TimeoutSeconds) * time.Second}
	fetcher := httpcache.NewFetcher(cfg.CacheDir, hc)
	loc := cfg.Location()

	todos := todo.NewClient(cfg.Backend, fetcher, hc, loc)
	feeds := ics.NewProvider(fetcher, ics.SourcesFromConfig(cfg.ICS), loc)

	sources := []planner.EventSource{feeds}
	if todos.Enabled() {
		sources = []planner.EventSource{todos, feeds}
	} else {
		appLog.Warn("backend base_url not set; todo source disabled")
	}

	appLog.Info("effective config",
		"config_path", configPath,
		"listen", cfg.Listen,
		"timezone", loc.String(),
		"week_start", cfg.WeekStart,
		"max_lanes", cfg.MaxLanes,
		"grid_policy", cfg.GridPolicy,
		"lane_mode", cfg.LaneMode,
		"refresh", cfg.RefreshCron,
		"fields", cfg.Fields,
		"backend", cfg.Backend.BaseURL,
		"ics_count", len(cfg.ICS),
	)

	return &app{
		cfg:     cfg,
		todos:   todos,
		planner: planner.New(sources, cfg.CalendarOptions(), cfg.CacheTTL()),
	}, nil
}

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"farmcal/internal/calendar"
	"farmcal/internal/model"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// ICSConfig describes a single ICS subscription source, e.g. a regional
// pest-alert calendar published by an extension office.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// Kind is "task" or "pest"; every event from the feed gets it.
	Kind string `yaml:"kind" json:"kind"`
	// Color overrides the kind's default bar color.
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
	// FieldID binds the feed to one farmland. 0 shows it on every field.
	FieldID int `yaml:"field_id,omitempty" json:"field_id,omitempty"`
}

// BackendConfig points at the farm todo REST backend.
type BackendConfig struct {
	// BaseURL is the backend root, e.g. "http://orion.mokpo.ac.kr:8483".
	// Empty disables the backend source.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Token is sent as "Authorization: Bearer <token>".
	Token string `yaml:"token,omitempty" json:"-"`
	// TimeoutSeconds bounds every backend request.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	// ExpandCycles repeats todos with a positive cycle every cycle days
	// within the requested window.
	ExpandCycles bool `yaml:"expand_cycles" json:"expand_cycles"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// LogConfig selects log encoding and verbosity.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone event days are computed in (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls which weekday is treated as the first day of the week
	// in calendar views. Supported values:
	//   - "sunday" (default)
	//   - "monday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// MaxLanes is the number of event bars shown per day cell.
	MaxLanes int `yaml:"max_lanes" json:"max_lanes"`

	// GridPolicy is "dynamic" (4-6 rows as needed) or "fixed35" (always 5
	// rows, truncating long months).
	GridPolicy string `yaml:"grid_policy" json:"grid_policy"`

	// LaneMode is "span" (a multi-day bar keeps one lane) or "per_day".
	LaneMode string `yaml:"lane_mode" json:"lane_mode"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used to refresh cached months.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Fields lists farmland IDs whose months are warmed on every refresh.
	// 0 means "all of the owner's fields".
	Fields []int `yaml:"fields" json:"fields"`

	// PrefetchMonths is how many months after the current one are warmed.
	PrefetchMonths int `yaml:"prefetch_months" json:"prefetch_months"`

	// CacheTTLSeconds is how long a loaded month stays fresh.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`

	// CacheDir holds conditional-GET metadata and last good bodies.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	Backend BackendConfig `yaml:"backend" json:"backend"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Log LogConfig `yaml:"log" json:"log"`
}

const (
	defaultListen         = "127.0.0.1:8080"
	defaultTimezone       = "Asia/Seoul"
	defaultRefreshCron    = "*/15 * * * *"
	defaultCacheDir       = "/var/lib/farmcal/cache"
	defaultCacheTTL       = 300
	defaultPrefetchMonths = 1
	defaultBackendTimeout = 15
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          defaultListen,
		Timezone:        defaultTimezone,
		WeekStart:       "sunday",
		MaxLanes:        calendar.DefaultMaxLanes,
		GridPolicy:      string(calendar.GridDynamic),
		LaneMode:        string(calendar.LanesSpanStable),
		RefreshCron:     defaultRefreshCron,
		Fields:          []int{0},
		PrefetchMonths:  defaultPrefetchMonths,
		CacheTTLSeconds: defaultCacheTTL,
		CacheDir:        defaultCacheDir,
		Backend: BackendConfig{
			TimeoutSeconds: defaultBackendTimeout,
		},
		ICS:       []ICSConfig{},
		BasicAuth: nil,
		Log:       LogConfig{Level: "info", Format: "console"},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch strings.ToLower(c.WeekStart) {
	case "sunday", "monday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		// Unknown value; fall back to sunday to match the web calendar.
		c.WeekStart = "sunday"
	}
	if c.MaxLanes <= 0 {
		c.MaxLanes = calendar.DefaultMaxLanes
	}
	switch calendar.GridPolicy(c.GridPolicy) {
	case calendar.GridDynamic, calendar.GridFixed35:
	default:
		c.GridPolicy = string(calendar.GridDynamic)
	}
	switch calendar.LaneMode(c.LaneMode) {
	case calendar.LanesSpanStable, calendar.LanesPerDay:
	default:
		c.LaneMode = string(calendar.LanesSpanStable)
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if len(c.Fields) == 0 {
		c.Fields = []int{0}
	}
	if c.PrefetchMonths < 0 {
		c.PrefetchMonths = 0
	}
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = defaultCacheTTL
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
	if c.Backend.TimeoutSeconds <= 0 {
		c.Backend.TimeoutSeconds = defaultBackendTimeout
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		src := &c.ICS[i]
		if src.ID == "" {
			if src.Name != "" {
				src.ID = src.Name
			} else {
				src.ID = src.URL
			}
		}
		src.Kind = string(model.ParseKind(src.Kind))
		if src.Color == "" {
			src.Color = model.Kind(src.Kind).DefaultColor()
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format != "json" {
		c.Log.Format = "console"
	}
}

// applyEnvOverrides lets secrets and deployment-specific endpoints come
// from the environment instead of the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FARMCAL_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("FARMCAL_BACKEND_TOKEN"); v != "" {
		c.Backend.Token = v
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// CalendarOptions maps the config onto grid layout options.
func (c *Config) CalendarOptions() calendar.Options {
	opts := calendar.DefaultOptions()
	opts.MaxLanes = c.MaxLanes
	opts.Policy = calendar.GridPolicy(c.GridPolicy)
	opts.LaneMode = calendar.LaneMode(c.LaneMode)
	opts.Location = c.Location()
	if c.WeekStart == "monday" {
		opts.WeekStart = time.Monday
	}
	return opts
}

// CacheTTL returns CacheTTLSeconds as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Environment overrides are applied last in both cases and never written
// back to disk.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.applyEnvOverrides()
				return cfg, err
			}
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.applyEnvOverrides()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".farmcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

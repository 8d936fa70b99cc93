package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// App is the three-field configuration shared with the original desktop
// app. The on-disk shape and location are fixed: a JSON object at
// $XDG_CONFIG_HOME/logtrackerapp, falling back to $HOME/.logtrackerapp.
type App struct {
	GameDir   string `json:"game_dir"`
	APIID     string `json:"api_id"`
	APISecret string `json:"api_secret"`

	path string
}

// AppPath resolves the config file location.
func AppPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "logtrackerapp")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".logtrackerapp"
	}
	return filepath.Join(home, ".logtrackerapp")
}

// LoadApp reads the app config from its default location. A missing file
// yields empty defaults, not an error.
func LoadApp() (*App, error) {
	return LoadAppFrom(AppPath())
}

// LoadAppFrom reads the app config from an explicit path.
func LoadAppFrom(path string) (*App, error) {
	cfg := &App{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save persists the config immediately. Config-mutating setters in the
// engine call this on every change.
func (a *App) Save() error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(a.path, data, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", a.path, err)
	}
	return nil
}

// HasCredentials reports whether both API credential fields are set.
func (a *App) HasCredentials() bool {
	return a.APIID != "" && a.APISecret != ""
}

// Settings are the engine tunables, kept separate from the app config so
// the original app can still read its file. TOML, all fields optional.
type Settings struct {
	Intervals IntervalsConfig `toml:"intervals"`
	Timers    TimersConfig    `toml:"timers"`
	API       APIConfig       `toml:"api"`
	Reserve   ReserveConfig   `toml:"reserve"`
	Logging   LoggingConfig   `toml:"logging"`
	ZonesFile string          `toml:"zones_file"` // override for the embedded zone table
}

// IntervalsConfig holds the queue freshness thresholds.
type IntervalsConfig struct {
	Turbo time.Duration `toml:"turbo"` // priority characters refresh past this
	Fast  time.Duration `toml:"fast"`  // recently-seen characters refresh past this
	Slow  time.Duration `toml:"slow"`  // everyone refreshes past this
}

// TimersConfig holds the worker loop cadences.
type TimersConfig struct {
	RateProbe    time.Duration `toml:"rate_probe"`
	ExportFlush  time.Duration `toml:"export_flush"`
	QueueRebuild time.Duration `toml:"queue_rebuild"`
	FailurePause time.Duration `toml:"failure_pause"`
}

// APIConfig holds the LogService endpoints and transport settings.
type APIConfig struct {
	TokenURL    string        `toml:"token_url"`
	GraphQLURL  string        `toml:"graphql_url"`
	UserAgent   string        `toml:"user_agent"`
	HTTPTimeout time.Duration `toml:"http_timeout"`
}

// ReserveConfig tunes the credit reservation policy.
type ReserveConfig struct {
	Points     float64       `toml:"points"`
	Window     time.Duration `toml:"window"`
	SkewMargin time.Duration `toml:"skew_margin"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// SettingsPath resolves the settings file location. LOGTRACKER_SETTINGS
// overrides; the default sits next to the app config.
func SettingsPath() string {
	if p := os.Getenv("LOGTRACKER_SETTINGS"); p != "" {
		return p
	}
	return AppPath() + ".toml"
}

// LoadSettings reads the settings file over the defaults baseline. A
// missing file yields pure defaults.
func LoadSettings(path string) (*Settings, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return cfg, nil
}

func defaults() *Settings {
	return &Settings{
		Intervals: IntervalsConfig{
			Turbo: 24 * time.Hour,
			Fast:  48 * time.Hour,
			Slow:  7 * 24 * time.Hour,
		},
		Timers: TimersConfig{
			RateProbe:    15 * time.Second,
			ExportFlush:  30 * time.Second,
			QueueRebuild: 5 * time.Minute,
			FailurePause: time.Minute,
		},
		API: APIConfig{
			TokenURL:    "https://www.warcraftlogs.com/oauth/token",
			GraphQLURL:  "https://classic.warcraftlogs.com/api/v2/client",
			UserAgent:   "LogTrackerApp/1.0",
			HTTPTimeout: 30 * time.Second,
		},
		Reserve: ReserveConfig{
			Points:     600,
			Window:     5 * time.Minute,
			SkewMargin: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

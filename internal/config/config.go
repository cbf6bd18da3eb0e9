package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/jsonc"

	"github.com/codefionn/slackline/internal/logger"
)

const appName = "slackline"

// NotificationConfig controls which messages become notifications.
type NotificationConfig struct {
	Enabled       bool     `json:"enabled"`
	MutedChannels []string `json:"muted_channels,omitempty"`
}

// Config represents application configuration
type Config struct {
	APIURL              string             `json:"api_url"`
	Team                string             `json:"team,omitempty"`
	LogLevel            string             `json:"log_level"` // debug, info, warn, error, none
	LogPath             string             `json:"log_path,omitempty"`
	RequestTimeout      int                `json:"request_timeout_seconds"`
	ReconnectMinDelayMS int                `json:"reconnect_min_delay_ms"`
	ReconnectMaxDelayMS int                `json:"reconnect_max_delay_ms"`
	MaxConnectAttempts  int                `json:"max_connect_attempts"`
	PingInterval        int                `json:"ping_interval_seconds"`
	RateLimitPerSecond  float64            `json:"rate_limit_per_second"`
	RateLimitBurst      int                `json:"rate_limit_burst"`
	HistoryPageSize     int                `json:"history_page_size"`
	CachePath           string             `json:"cache_path,omitempty"` // empty disables the message cache
	MetricsAddr         string             `json:"metrics_addr,omitempty"`
	Notifications       NotificationConfig `json:"notifications"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", appName)
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", appName)
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", appName)
	default:
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", appName)
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	stateDir := defaultStateDir()

	return &Config{
		APIURL:              "https://slack.com/api",
		LogLevel:            "info",
		LogPath:             filepath.Join(stateDir, appName+".log"),
		RequestTimeout:      30,
		ReconnectMinDelayMS: 1000,
		ReconnectMaxDelayMS: 120000,
		MaxConnectAttempts:  5,
		PingInterval:        30,
		RateLimitPerSecond:  1,
		RateLimitBurst:      5,
		HistoryPageSize:     50,
		CachePath:           filepath.Join(stateDir, "messages.db"),
		Notifications:       NotificationConfig{Enabled: true},
	}
}

// Load loads configuration from file. Comments and trailing commas are
// allowed. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	// Unmarshal into default config (overrides only provided fields)
	if err := json.Unmarshal(jsonc.ToJSON(data), config); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	config.fillDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// fillDefaults restores defaults for fields explicitly set to zero values.
func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.APIURL == "" {
		c.APIURL = def.APIURL
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.ReconnectMinDelayMS <= 0 {
		c.ReconnectMinDelayMS = def.ReconnectMinDelayMS
	}
	if c.ReconnectMaxDelayMS <= 0 {
		c.ReconnectMaxDelayMS = def.ReconnectMaxDelayMS
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.HistoryPageSize <= 0 {
		c.HistoryPageSize = def.HistoryPageSize
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	if c.ReconnectMaxDelayMS < c.ReconnectMinDelayMS {
		return fmt.Errorf("reconnect_max_delay_ms (%d) is below reconnect_min_delay_ms (%d)",
			c.ReconnectMaxDelayMS, c.ReconnectMinDelayMS)
	}
	if c.RateLimitPerSecond < 0 {
		return fmt.Errorf("rate_limit_per_second must not be negative")
	}
	if c.HistoryPageSize > 1000 {
		return fmt.Errorf("history_page_size %d exceeds 1000", c.HistoryPageSize)
	}
	return nil
}

// ApplyEnv overlays SLACKLINE_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("SLACKLINE_TEAM")); v != "" {
		c.Team = v
	}
	if v := strings.TrimSpace(getenv("SLACKLINE_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(getenv("SLACKLINE_LOG_PATH")); v != "" {
		c.LogPath = v
	}
	if v := strings.TrimSpace(getenv("SLACKLINE_API_URL")); v != "" {
		c.APIURL = v
	}
}

func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c *Config) ReconnectMinDelay() time.Duration {
	return time.Duration(c.ReconnectMinDelayMS) * time.Millisecond
}

func (c *Config) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.ReconnectMaxDelayMS) * time.Millisecond
}

func (c *Config) PingIntervalDuration() time.Duration {
	return time.Duration(c.PingInterval) * time.Second
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// watchDebounce coalesces the burst of events an editor save produces.
const watchDebounce = 100 * time.Millisecond

// Watch reloads path whenever it changes and passes the result to fn until
// ctx is done. Files that fail to load are logged and skipped. The parent
// directory is watched so that editors replacing the file are noticed.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	log := logger.Global().WithPrefix("config")
	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()

		var reload <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				reload = time.After(watchDebounce)
			case <-reload:
				reload = nil
				cfg, err := Load(path)
				if err != nil {
					log.Warn("ignoring config change: %v", err)
					continue
				}
				log.Info("reloaded %s", path)
				fn(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error("config watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Package config loads, validates, and watches the bot configuration.
package config

import (
	"errors"
	"fmt"
	"time"

	"hitbot/internal/agent"
	"hitbot/internal/auth"
	"hitbot/internal/handler"
	"hitbot/internal/httpapi"
	"hitbot/internal/slack"
	"hitbot/internal/storage"
	"hitbot/pkg/logx"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Slack   SlackConfig   `json:"slack"`
	HTTP    HTTPConfig    `json:"http"`
	Auth    AuthConfig    `json:"auth"`
	Game    GameConfig    `json:"game"`
	Sentry  SentryConfig  `json:"sentry,omitempty"`
	// Timezone wall-clock and cron schedules are evaluated in, e.g.
	// "Europe/Amsterdam". Empty means the process-local zone.
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	// BusyTimeout is a Go duration string, sqlite only.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type SlackConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token"`
	Workers    int    `json:"workers,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RetryBase  string `json:"retry_base,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type AuthConfig struct {
	BaseURL string `json:"base_url"`
	Timeout string `json:"timeout,omitempty"`
}

// GameConfig tunes the match lifecycle. The schedule fields take the same
// spec syntax the scheduler accepts: composite delays ("2d 12h"),
// wall-clock times ("21:00"), or cron expressions ("cron:0 9 * * MON").
type GameConfig struct {
	Size          int    `json:"size"`
	Channel       string `json:"channel"`
	CheckFree     string `json:"check_free"`
	AssignAt      string `json:"assign_at"`
	ConfirmWindow string `json:"confirm_window"`
}

type SentryConfig struct {
	DSN string `json:"dsn"`
}

func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "sqlite", Path: "data/hitbot.db"},
		HTTP:    HTTPConfig{Enabled: true, Addr: ":8080"},
		Game: GameConfig{
			Size:          5,
			CheckFree:     "1h",
			AssignAt:      "21:00",
			ConfirmWindow: "12h",
		},
	}
}

// Validate checks field ranges and parses every schedule spec, so a bad
// config is rejected before it reaches a running scheduler.
func (c *Config) Validate() error {
	if c.Game.Size < 2 {
		return fmt.Errorf("game.size must be at least 2, got %d", c.Game.Size)
	}
	for path, spec := range map[string]string{
		"game.check_free":     c.Game.CheckFree,
		"game.assign_at":      c.Game.AssignAt,
		"game.confirm_window": c.Game.ConfirmWindow,
	} {
		if spec == "" {
			continue
		}
		if _, err := agent.ParseSpec(spec); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if c.Slack.Enabled && c.Slack.Token == "" {
		return errors.New("slack.enabled requires slack.token")
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return errors.New("http.enabled requires http.addr")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	for path, raw := range map[string]string{
		"storage.busy_timeout": c.Storage.BusyTimeout,
		"slack.retry_base":     c.Slack.RetryBase,
		"auth.timeout":         c.Auth.Timeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	return nil
}

// Location resolves the configured timezone; call after Validate.
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

// ---- views for the packages that consume config ----

func (c *Config) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
	}
}

func (c *Config) StorageConfig() storage.Config {
	busy, _ := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	return storage.Config{Driver: c.Storage.Driver, Path: c.Storage.Path, BusyTimeout: busy}
}

func (c *Config) SlackConfig() slack.Config {
	retryBase, _ := ParseDurationField("slack.retry_base", c.Slack.RetryBase)
	return slack.Config{
		Enabled:    c.Slack.Enabled,
		Token:      c.Slack.Token,
		Workers:    c.Slack.Workers,
		QueueSize:  c.Slack.QueueSize,
		RatePerSec: c.Slack.RatePerSec,
		RetryMax:   c.Slack.RetryMax,
		RetryBase:  retryBase,
	}
}

func (c *Config) HTTPConfig() httpapi.Config {
	return httpapi.Config{Enabled: c.HTTP.Enabled, Addr: c.HTTP.Addr}
}

func (c *Config) AuthConfig() auth.Config {
	timeout, _ := ParseDurationField("auth.timeout", c.Auth.Timeout)
	return auth.Config{BaseURL: c.Auth.BaseURL, Timeout: timeout}
}

func (c *Config) HandlerGameConfig() handler.GameConfig {
	return handler.GameConfig{
		Size:          c.Game.Size,
		Channel:       c.Game.Channel,
		CheckFree:     c.Game.CheckFree,
		AssignAt:      c.Game.AssignAt,
		ConfirmWindow: c.Game.ConfirmWindow,
	}
}

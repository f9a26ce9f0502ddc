package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Agenda controls the reminder/task trigger loop and its dispatch workers.
	Agenda AgendaConfig `json:"agenda,omitempty"`

	Storage StorageConfig `json:"storage"`

	// Features toggles command families by name: "reminders", "tasks",
	// "glossary". Omitted names default to enabled.
	Features map[string]bool `json:"features,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// ChatID is the default announcement chat for entries that carry none.
	ChatID int64 `json:"chat_id"`

	OwnerUserIDs []int64 `json:"owner_user_ids"`

	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
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

// AgendaConfig tunes the trigger loop.
//
// All durations are Go duration strings (e.g. "500ms", "30s").
//
// Defaults (when fields are omitted/zero):
//   - check_interval: "30s" (must stay below one minute)
//   - queue_size: 64
//   - rate_per_sec: 20
//   - workers: 2
type AgendaConfig struct {
	CheckInterval string `json:"check_interval,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	Workers       int    `json:"workers,omitempty"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./chimebot_store" }
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// FeatureEnabled reports whether a command family is on. Unknown or omitted
// names are enabled, so a fresh config file exposes everything.
func (c *Config) FeatureEnabled(name string) bool {
	if c == nil || c.Features == nil {
		return true
	}
	v, ok := c.Features[name]
	if !ok {
		return true
	}
	return v
}

// Interval resolves the trigger loop cadence with its default applied.
func (a AgendaConfig) Interval() (time.Duration, error) {
	return ParseDurationDefault("agenda.check_interval", a.CheckInterval, 30*time.Second)
}

// Validate rejects configs the process cannot run with. Used both at boot
// and as the reload gate, so a bad edit never reaches running services.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required (config or CHIMEBOT_TOKEN)")
	}
	if _, err := ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}

	iv, err := cfg.Agenda.Interval()
	if err != nil {
		return err
	}
	if iv >= time.Minute {
		return fmt.Errorf("agenda.check_interval: %s would skip minute boundaries (must be below 1m)", iv)
	}

	// Persistence is not optional here: the books are the source of truth.
	// An empty driver gets the file default applied at boot.
	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return errors.New("storage.path is required")
		}
	case "none":
		return errors.New("storage.driver: \"none\" is not supported (reminders need a store)")
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if _, err := ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	return nil
}

package storage

import (
	"context"
	"fmt"
	"strings"

	logx "chimebot/pkg/logx"
)

// Store persists the bot's books. Books load and save whole; there are no
// partial updates.
//
// A missing document loads as an empty book with nil error. An unreadable
// one loads as an empty book plus a *CorruptError so the caller can log it
// and carry on. Implementations do not lock anything: the owning service
// holds its mutation lock around every load/save pair.
type Store interface {
	LoadSchedules(ctx context.Context) (ScheduleBook, error)
	SaveSchedules(ctx context.Context, b ScheduleBook) error

	LoadTasks(ctx context.Context) (TaskBook, error)
	SaveTasks(ctx context.Context, b TaskBook) error

	LoadGlossary(ctx context.Context) (GlossaryBook, error)
	SaveGlossary(ctx context.Context, b GlossaryBook) error

	Close() error
}

// Open builds the configured store. An empty or "none" driver returns a nil
// Store with no error. The bot itself never passes either (boot fills in the
// file default and validation refuses "none"), so the off switch only shows
// up in tests.
func Open(cfg Config, log logx.Logger) (Store, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "file":
		return openFileStore(cfg)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}

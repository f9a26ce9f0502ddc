package storage

import (
	"errors"
	"fmt"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (one JSON document per book)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// CorruptError reports an unreadable persisted document.
//
// The broken file is left untouched on disk; the next successful save
// replaces it. Callers load an empty book in the meantime.
type CorruptError struct {
	Family string
	Err    error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt %s document: %v", e.Family, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}

// ScheduleEntry is one daily reminder.
//
// Time is a wall-clock "HH:MM" (24h). LastFired is the "YYYY-MM-DD" date the
// reminder last went out, "" if never; it is what prevents duplicate delivery
// within a day and across restarts.
type ScheduleEntry struct {
	ID        int64  `json:"id"`
	Time      string `json:"time"`
	Message   string `json:"message"`
	ChatID    int64  `json:"chat_id,omitempty"` // 0 means the configured default chat
	LastFired string `json:"last_fired,omitempty"`
}

type ScheduleBook struct {
	NextID int64           `json:"next_id"`
	Items  []ScheduleEntry `json:"items"`
}

// TaskEntry is one checklist item.
// Urgency is "", "low", "medium" or "high"; Deadline is "YYYY-MM-DD" or "".
type TaskEntry struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Urgency   string    `json:"urgency,omitempty"`
	Deadline  string    `json:"deadline,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskAutoConfig controls the hourly task summary.
// LastPosted is a "YYYY-MM-DDTHH" hour key, "" if never posted.
type TaskAutoConfig struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	LastPosted string `json:"last_posted,omitempty"`
}

type TaskBook struct {
	NextID int64          `json:"next_id"`
	Items  []TaskEntry    `json:"items"`
	Auto   TaskAutoConfig `json:"auto"`
}

type GlossaryBook struct {
	Terms map[string]string `json:"terms"`
}

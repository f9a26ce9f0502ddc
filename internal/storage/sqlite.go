//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "chimebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db *sql.DB
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadSchedules(ctx context.Context) (ScheduleBook, error) {
	if s == nil || s.db == nil {
		return ScheduleBook{}, ErrDisabled
	}
	var b ScheduleBook

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, time, message, chat_id, COALESCE(last_fired, '') FROM schedules ORDER BY pos`)
	if err != nil {
		return ScheduleBook{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var e ScheduleEntry
		if err := rows.Scan(&e.ID, &e.Time, &e.Message, &e.ChatID, &e.LastFired); err != nil {
			return ScheduleBook{}, err
		}
		b.Items = append(b.Items, e)
	}
	if err := rows.Err(); err != nil {
		return ScheduleBook{}, err
	}

	b.NextID, err = s.metaInt(ctx, "schedules.next_id")
	if err != nil {
		return ScheduleBook{}, err
	}
	return b, nil
}

func (s *sqliteStore) SaveSchedules(ctx context.Context, b ScheduleBook) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules`); err != nil {
		return err
	}
	for pos, e := range b.Items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schedules(pos, id, time, message, chat_id, last_fired) VALUES(?,?,?,?,?,?)`,
			pos, e.ID, e.Time, e.Message, e.ChatID, nullStr(e.LastFired),
		); err != nil {
			return err
		}
	}
	if err := metaPut(ctx, tx, "schedules.next_id", strconv.FormatInt(b.NextID, 10)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadTasks(ctx context.Context) (TaskBook, error) {
	if s == nil || s.db == nil {
		return TaskBook{}, ErrDisabled
	}
	var b TaskBook

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, COALESCE(urgency, ''), COALESCE(deadline, ''), created_at FROM tasks ORDER BY pos`)
	if err != nil {
		return TaskBook{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var e TaskEntry
		var created string
		if err := rows.Scan(&e.ID, &e.Text, &e.Urgency, &e.Deadline, &created); err != nil {
			return TaskBook{}, err
		}
		if t, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
			e.CreatedAt = t
		}
		b.Items = append(b.Items, e)
	}
	if err := rows.Err(); err != nil {
		return TaskBook{}, err
	}

	b.NextID, err = s.metaInt(ctx, "tasks.next_id")
	if err != nil {
		return TaskBook{}, err
	}
	enabled, err := s.metaInt(ctx, "tasks.auto.enabled")
	if err != nil {
		return TaskBook{}, err
	}
	b.Auto.Enabled = enabled != 0
	b.Auto.ChatID, err = s.metaInt(ctx, "tasks.auto.chat_id")
	if err != nil {
		return TaskBook{}, err
	}
	b.Auto.LastPosted, _, err = s.metaGet(ctx, "tasks.auto.last_posted")
	if err != nil {
		return TaskBook{}, err
	}
	return b, nil
}

func (s *sqliteStore) SaveTasks(ctx context.Context, b TaskBook) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return err
	}
	for pos, e := range b.Items {
		created := e.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tasks(pos, id, text, urgency, deadline, created_at) VALUES(?,?,?,?,?,?)`,
			pos, e.ID, e.Text, nullStr(e.Urgency), nullStr(e.Deadline), created.Format(time.RFC3339Nano),
		); err != nil {
			return err
		}
	}

	enabled := "0"
	if b.Auto.Enabled {
		enabled = "1"
	}
	for _, kv := range [][2]string{
		{"tasks.next_id", strconv.FormatInt(b.NextID, 10)},
		{"tasks.auto.enabled", enabled},
		{"tasks.auto.chat_id", strconv.FormatInt(b.Auto.ChatID, 10)},
		{"tasks.auto.last_posted", b.Auto.LastPosted},
	} {
		if err := metaPut(ctx, tx, kv[0], kv[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadGlossary(ctx context.Context) (GlossaryBook, error) {
	if s == nil || s.db == nil {
		return GlossaryBook{}, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT term, definition FROM glossary`)
	if err != nil {
		return GlossaryBook{}, err
	}
	defer rows.Close()

	b := GlossaryBook{Terms: map[string]string{}}
	for rows.Next() {
		var term, def string
		if err := rows.Scan(&term, &def); err != nil {
			return GlossaryBook{}, err
		}
		b.Terms[term] = def
	}
	if err := rows.Err(); err != nil {
		return GlossaryBook{}, err
	}
	return b, nil
}

func (s *sqliteStore) SaveGlossary(ctx context.Context, b GlossaryBook) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM glossary`); err != nil {
		return err
	}
	for term, def := range b.Terms {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO glossary(term, definition) VALUES(?,?)`, term, def,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) metaGet(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) metaInt(ctx context.Context, key string) (int64, error) {
	v, ok, err := s.metaGet(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	n, perr := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if perr != nil {
		return 0, nil
	}
	return n, nil
}

func metaPut(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

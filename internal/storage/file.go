package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// fileStore keeps each book in its own JSON document:
//
//	<prefix>.schedules.json
//	<prefix>.tasks.json
//	<prefix>.glossary.json
//
// where <prefix> is cfg.Path with its extension stripped. Saves go through a
// temp file plus rename, so a reader never sees a torn document.
type fileStore struct {
	schedules string
	tasks     string
	glossary  string
}

func openFileStore(cfg Config) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for the file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(path, filepath.Ext(path))
	return &fileStore{
		schedules: prefix + ".schedules.json",
		tasks:     prefix + ".tasks.json",
		glossary:  prefix + ".glossary.json",
	}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) LoadSchedules(_ context.Context) (ScheduleBook, error) {
	var book ScheduleBook
	if err := readBook(s.schedules, "schedules", &book); err != nil {
		return ScheduleBook{}, err
	}
	return book, nil
}

func (s *fileStore) SaveSchedules(_ context.Context, b ScheduleBook) error {
	return writeBook(s.schedules, b)
}

func (s *fileStore) LoadTasks(_ context.Context) (TaskBook, error) {
	var book TaskBook
	if err := readBook(s.tasks, "tasks", &book); err != nil {
		return TaskBook{}, err
	}
	return book, nil
}

func (s *fileStore) SaveTasks(_ context.Context, b TaskBook) error {
	return writeBook(s.tasks, b)
}

func (s *fileStore) LoadGlossary(_ context.Context) (GlossaryBook, error) {
	var book GlossaryBook
	if err := readBook(s.glossary, "glossary", &book); err != nil {
		return GlossaryBook{}, err
	}
	return book, nil
}

func (s *fileStore) SaveGlossary(_ context.Context, b GlossaryBook) error {
	return writeBook(s.glossary, b)
}

// readBook decodes one document. An absent file is an empty book. On parse
// failure the file stays untouched so its contents can be inspected.
func readBook(path, family string, out any) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &CorruptError{Family: family, Err: err}
	}
	return nil
}

// writeBook replaces the document atomically. The temp file is removed when
// the rename fails so aborted saves leave no residue.
func writeBook(path string, book any) error {
	raw, err := json.MarshalIndent(book, "", "  ")
	if err != nil {
		return err
	}
	raw = append(raw, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Package glossary is a small persisted term→definition store. It shares the
// storage layer with the scheduling services but owns its own document and
// its own lock, so glossary edits never contend with the trigger loop.
package glossary

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"chimebot/internal/storage"
	logx "chimebot/pkg/logx"
)

var ErrNotFound = errors.New("term not found")

type Entry struct {
	Term       string
	Definition string
}

type Service struct {
	log   logx.Logger
	store storage.Store

	mu sync.Mutex
}

func New(store storage.Store, log logx.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("glossary requires a store")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, store: store}, nil
}

// normalizeTerm canonicalizes lookup keys. Terms are case-insensitive and
// must be a single word so /gloss set can split term from definition.
func normalizeTerm(term string) (string, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return "", errors.New("term must not be empty")
	}
	if strings.ContainsAny(term, " \t\n") {
		return "", errors.New("term must be a single word")
	}
	return term, nil
}

func (s *Service) Set(ctx context.Context, term, definition string) error {
	term, err := normalizeTerm(term)
	if err != nil {
		return err
	}
	definition = strings.TrimSpace(definition)
	if definition == "" {
		return errors.New("definition must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	book := s.loadLocked(ctx)
	if book.Terms == nil {
		book.Terms = make(map[string]string)
	}
	book.Terms[term] = definition
	return s.store.SaveGlossary(ctx, book)
}

func (s *Service) Get(ctx context.Context, term string) (string, error) {
	term, err := normalizeTerm(term)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	book := s.loadLocked(ctx)
	def, ok := book.Terms[term]
	if !ok {
		return "", ErrNotFound
	}
	return def, nil
}

func (s *Service) Del(ctx context.Context, term string) error {
	term, err := normalizeTerm(term)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	book := s.loadLocked(ctx)
	if _, ok := book.Terms[term]; !ok {
		// No save: the persisted file stays untouched.
		return ErrNotFound
	}
	delete(book.Terms, term)
	return s.store.SaveGlossary(ctx, book)
}

// List returns all entries sorted by term.
func (s *Service) List(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book := s.loadLocked(ctx)
	out := make([]Entry, 0, len(book.Terms))
	for term, def := range book.Terms {
		out = append(out, Entry{Term: term, Definition: def})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	return out, nil
}

func (s *Service) loadLocked(ctx context.Context) storage.GlossaryBook {
	book, err := s.store.LoadGlossary(ctx)
	if err != nil {
		s.log.Warn("load glossary failed; starting from empty", logx.Err(err))
		return storage.GlossaryBook{}
	}
	return book
}

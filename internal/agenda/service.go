package agenda

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	rtsup "chimebot/internal/runtime/supervisor"
	"chimebot/internal/storage"
	kit "chimebot/internal/transport"
	logx "chimebot/pkg/logx"
)

type Config struct {
	// Interval is the trigger loop cadence. Must be positive and below one
	// minute so every minute boundary is sampled at least once. Default 30s.
	Interval time.Duration

	// DefaultChat receives firings whose entry has no explicit chat.
	DefaultChat int64

	// Dispatch worker tuning. Zero values pick defaults.
	QueueSize  int
	RatePerSec int
	Workers    int
}

// Service owns the persisted reminder and task books.
//
// Every load→mutate→save runs under mu, the process-wide mutation lock the
// trigger loop shares with command handlers. Nothing is cached between
// calls; the store is the single source of truth.
type Service struct {
	cfg   Config
	log   logx.Logger
	store storage.Store
	clock Clock

	mu sync.Mutex

	disp *dispatcher

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

func New(cfg Config, store storage.Store, adapter kit.Adapter, clock Clock, log logx.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("agenda requires a store")
	}
	if adapter == nil {
		return nil, errors.New("agenda requires an adapter")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Interval >= time.Minute {
		return nil, errors.New("agenda interval must be below one minute")
	}
	return &Service{
		cfg:   cfg,
		log:   log,
		store: store,
		clock: clock,
		disp:  newDispatcher(cfg, adapter, log.With(logx.String("comp", "agenda.dispatch"))),
	}, nil
}

// Start launches the dispatch workers and the trigger loop. Idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.sup != nil {
		return nil
	}
	if err := s.disp.Start(ctx); err != nil {
		return err
	}
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "agenda"))),
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("agenda.tick", s.runLoop,
		rtsup.WithRestartBackoff(250*time.Millisecond, 5*time.Second),
	)
	s.log.Info("service started", logx.Duration("interval", s.cfg.Interval))
	return nil
}

// Stop halts the trigger loop, letting an in-flight tick finish, then drains
// the dispatch queue within the caller's deadline.
func (s *Service) Stop(ctx context.Context) error {
	s.runMu.Lock()
	sup := s.sup
	s.sup = nil
	s.runMu.Unlock()
	if sup == nil {
		return nil
	}
	start := time.Now()

	sup.Cancel()
	_ = sup.Wait(ctx)

	err := s.disp.Stop(ctx)
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	return err
}

func (s *Service) runLoop(ctx context.Context) error {
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	s.log.Info("trigger loop started", logx.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("trigger loop stopped")
			return nil
		case <-t.C:
			s.tick(ctx)
		}
	}
}

// tick samples the clock once, computes and persists due firings under the
// lock, then hands them to the dispatch worker outside it.
func (s *Service) tick(ctx context.Context) {
	now := s.clock.Now()
	for _, f := range s.collectDue(ctx, now) {
		s.disp.Enqueue(f)
	}
}

func (s *Service) collectDue(ctx context.Context, now time.Time) []Firing {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Firing

	sb, err := s.store.LoadSchedules(ctx)
	switch {
	case storage.IsCorrupt(err):
		// Do not evaluate (or save) over user data the loop cannot read.
		s.log.Warn("schedules unreadable; skipping family this tick", logx.Err(err))
	case err != nil:
		s.log.Warn("load schedules failed", logx.Err(err))
	default:
		if firings, changed := evalSchedules(now, &sb); changed {
			if serr := s.store.SaveSchedules(ctx, sb); serr != nil {
				s.log.Error("save schedules failed; firings dropped", logx.Err(serr))
			} else {
				out = append(out, firings...)
			}
		}
	}

	tb, err := s.store.LoadTasks(ctx)
	switch {
	case storage.IsCorrupt(err):
		s.log.Warn("tasks unreadable; skipping family this tick", logx.Err(err))
	case err != nil:
		s.log.Warn("load tasks failed", logx.Err(err))
	default:
		if firing, due := evalTaskSummary(now, &tb); due {
			if serr := s.store.SaveTasks(ctx, tb); serr != nil {
				s.log.Error("save tasks failed; summary dropped", logx.Err(serr))
			} else {
				out = append(out, firing)
			}
		}
	}

	return out
}

// ---- Mutation API ----
//
// Each call holds the mutation lock for its whole load→mutate→save cycle.
// Corrupt documents are logged and rebuilt from empty; save failures leave
// the previous file version in place and surface to the caller.

func (s *Service) AddSchedule(ctx context.Context, hour, minute int, message string, chat int64) (storage.ScheduleEntry, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return storage.ScheduleEntry{}, validationErr("time", "must be HH:MM (24h)")
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return storage.ScheduleEntry{}, validationErr("message", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	book := s.loadSchedulesLocked(ctx)
	if book.NextID <= 0 {
		book.NextID = 1
	}
	e := storage.ScheduleEntry{
		ID:      book.NextID,
		Time:    formatClockTime(hour, minute),
		Message: message,
		ChatID:  chat,
	}
	book.NextID++
	book.Items = append(book.Items, e)

	if err := s.store.SaveSchedules(ctx, book); err != nil {
		return storage.ScheduleEntry{}, err
	}
	return e, nil
}

func (s *Service) Schedules(ctx context.Context) ([]storage.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book := s.loadSchedulesLocked(ctx)
	return append([]storage.ScheduleEntry(nil), book.Items...), nil
}

func (s *Service) RemoveSchedule(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	book := s.loadSchedulesLocked(ctx)
	idx := -1
	for i := range book.Items {
		if book.Items[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		// No save: the persisted file stays untouched.
		return ErrNotFound
	}
	book.Items = append(book.Items[:idx], book.Items[idx+1:]...)
	return s.store.SaveSchedules(ctx, book)
}

func (s *Service) AddTask(ctx context.Context, text, urgency, deadline string) (storage.TaskEntry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return storage.TaskEntry{}, validationErr("text", "must not be empty")
	}
	urgency, err := normalizeUrgency(urgency)
	if err != nil {
		return storage.TaskEntry{}, err
	}
	deadline, err = normalizeDate("deadline", deadline)
	if err != nil {
		return storage.TaskEntry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	book := s.loadTasksLocked(ctx)
	if book.NextID <= 0 {
		book.NextID = 1
	}
	e := storage.TaskEntry{
		ID:        book.NextID,
		Text:      text,
		Urgency:   urgency,
		Deadline:  deadline,
		CreatedAt: s.clock.Now(),
	}
	book.NextID++
	book.Items = append(book.Items, e)

	if err := s.store.SaveTasks(ctx, book); err != nil {
		return storage.TaskEntry{}, err
	}
	return e, nil
}

func (s *Service) Tasks(ctx context.Context) ([]storage.TaskEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book := s.loadTasksLocked(ctx)
	return append([]storage.TaskEntry(nil), book.Items...), nil
}

func (s *Service) RemoveTask(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	book := s.loadTasksLocked(ctx)
	idx := -1
	for i := range book.Items {
		if book.Items[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	book.Items = append(book.Items[:idx], book.Items[idx+1:]...)
	return s.store.SaveTasks(ctx, book)
}

// SetTaskAuto toggles the hourly summary. The posted-hour key survives the
// toggle, so disabling and re-enabling inside one hour cannot double-post.
func (s *Service) SetTaskAuto(ctx context.Context, enabled bool, chat int64) (storage.TaskAutoConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book := s.loadTasksLocked(ctx)
	book.Auto.Enabled = enabled
	if chat != 0 {
		book.Auto.ChatID = chat
	}
	if err := s.store.SaveTasks(ctx, book); err != nil {
		return storage.TaskAutoConfig{}, err
	}
	return book.Auto, nil
}

func (s *Service) TaskAuto(ctx context.Context) (storage.TaskAutoConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book := s.loadTasksLocked(ctx)
	return book.Auto, nil
}

// Checklist renders the current task list the same way the hourly summary
// does. Used by /task list.
func (s *Service) Checklist(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book := s.loadTasksLocked(ctx)
	return renderChecklist(book.Items, s.clock.Now()), nil
}

// ScheduleList renders the reminder listing for /remind list.
func (s *Service) ScheduleList(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book := s.loadSchedulesLocked(ctx)
	return renderScheduleList(book.Items), nil
}

// loadSchedulesLocked is the mutation-path load: a corrupt document is
// logged and replaced by an empty book, which the next save rebuilds.
func (s *Service) loadSchedulesLocked(ctx context.Context) storage.ScheduleBook {
	book, err := s.store.LoadSchedules(ctx)
	if err != nil {
		s.log.Warn("load schedules failed; starting from empty", logx.Err(err))
		return storage.ScheduleBook{}
	}
	return book
}

func (s *Service) loadTasksLocked(ctx context.Context) storage.TaskBook {
	book, err := s.store.LoadTasks(ctx)
	if err != nil {
		s.log.Warn("load tasks failed; starting from empty", logx.Err(err))
		return storage.TaskBook{}
	}
	return book
}

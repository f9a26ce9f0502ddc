package agenda

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chimebot/internal/storage"
	kit "chimebot/internal/transport"
	logx "chimebot/pkg/logx"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type sentMsg struct {
	chat int64
	text string
}

type recordAdapter struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (a *recordAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *recordAdapter) Stop(ctx context.Context) error                         { return nil }

func (a *recordAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, sentMsg{chat: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *recordAdapter) snapshot() []sentMsg {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]sentMsg(nil), a.sent...)
}

func newTestStore(t *testing.T) (storage.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st, dir
}

func newTestService(t *testing.T, st storage.Store) (*Service, *fakeClock, *recordAdapter) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	ad := &recordAdapter{}
	svc, err := New(Config{Interval: 30 * time.Second, DefaultChat: 1000}, st, ad, clk, logx.Nop())
	if err != nil {
		t.Fatalf("New = %v", err)
	}
	return svc, clk, ad
}

func TestAddScheduleAssignsSequentialIDs(t *testing.T) {
	t.Parallel()
	st, _ := newTestStore(t)
	svc, _, _ := newTestService(t, st)
	ctx := context.Background()

	a, err := svc.AddSchedule(ctx, 9, 0, "standup", 0)
	if err != nil {
		t.Fatalf("AddSchedule = %v", err)
	}
	b, err := svc.AddSchedule(ctx, 18, 30, "wrap up", -100123)
	if err != nil {
		t.Fatalf("AddSchedule = %v", err)
	}
	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("IDs = %d, %d, want 1, 2", a.ID, b.ID)
	}
	if a.Time != "09:00" || b.Time != "18:30" {
		t.Fatalf("times = %q, %q, want 09:00, 18:30", a.Time, b.Time)
	}

	items, err := svc.Schedules(ctx)
	if err != nil {
		t.Fatalf("Schedules = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[1].ChatID != -100123 {
		t.Fatalf("ChatID = %d, want -100123", items[1].ChatID)
	}
}

func TestAddScheduleValidation(t *testing.T) {
	t.Parallel()
	st, _ := newTestStore(t)
	svc, _, _ := newTestService(t, st)
	ctx := context.Background()

	tests := []struct {
		name    string
		hour    int
		minute  int
		message string
	}{
		{"hour too big", 24, 0, "x"},
		{"minute negative", 9, -1, "x"},
		{"empty message", 9, 0, "   "},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.AddSchedule(ctx, tt.hour, tt.minute, tt.message, 0)
			if !IsValidation(err) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}

	if items, _ := svc.Schedules(ctx); len(items) != 0 {
		t.Fatalf("rejected adds persisted %d entries", len(items))
	}
}

func TestRemoveScheduleNotFoundLeavesFileUntouched(t *testing.T) {
	t.Parallel()
	st, dir := newTestStore(t)
	svc, _, _ := newTestService(t, st)
	ctx := context.Background()

	if _, err := svc.AddSchedule(ctx, 9, 0, "standup", 0); err != nil {
		t.Fatalf("AddSchedule = %v", err)
	}
	path := filepath.Join(dir, "bot.schedules.json")
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}

	if err := svc.RemoveSchedule(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RemoveSchedule(99) = %v, want ErrNotFound", err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if string(before) != string(after) {
		t.Fatalf("file rewritten on failed remove:\nbefore: %s\nafter:  %s", before, after)
	}

	if err := svc.RemoveSchedule(ctx, 1); err != nil {
		t.Fatalf("RemoveSchedule(1) = %v", err)
	}
	if items, _ := svc.Schedules(ctx); len(items) != 0 {
		t.Fatalf("entry still present after remove")
	}
}

func TestStandupReminderFiresDaily(t *testing.T) {
	t.Parallel()
	st, _ := newTestStore(t)
	svc, clk, _ := newTestService(t, st)
	ctx := context.Background()

	if _, err := svc.AddSchedule(ctx, 9, 0, "standup", 0); err != nil {
		t.Fatalf("AddSchedule = %v", err)
	}

	day := time.Date(2026, 3, 1, 9, 0, 10, 0, time.UTC)
	clk.Set(day)
	firings := svc.collectDue(ctx, clk.Now())
	if len(firings) != 1 {
		t.Fatalf("09:00:10 tick = %d firings, want 1", len(firings))
	}
	if !strings.Contains(firings[0].Text, "standup") {
		t.Fatalf("firing text = %q, want the reminder message", firings[0].Text)
	}

	// Second sample of the same minute.
	clk.Set(day.Add(30 * time.Second))
	if firings := svc.collectDue(ctx, clk.Now()); len(firings) != 0 {
		t.Fatalf("09:00:40 tick = %d firings, want 0", len(firings))
	}

	// A restart within the minute reads the stamp back and stays quiet.
	svc2, clk2, _ := newTestService(t, st)
	clk2.Set(day.Add(45 * time.Second))
	if firings := svc2.collectDue(ctx, clk2.Now()); len(firings) != 0 {
		t.Fatalf("restarted 09:00:55 tick = %d firings, want 0", len(firings))
	}

	// A fresh process the next day fires again off the persisted state.
	clk2.Set(day.Add(24 * time.Hour))
	if firings := svc2.collectDue(ctx, clk2.Now()); len(firings) != 1 {
		t.Fatalf("next-day tick = %d firings, want 1", len(firings))
	}
}

func TestHourlySummaryTick(t *testing.T) {
	t.Parallel()
	st, _ := newTestStore(t)
	svc, clk, _ := newTestService(t, st)
	ctx := context.Background()

	if _, err := svc.AddTask(ctx, "review PR", UrgencyHigh, ""); err != nil {
		t.Fatalf("AddTask = %v", err)
	}
	if _, err := svc.SetTaskAuto(ctx, true, 0); err != nil {
		t.Fatalf("SetTaskAuto = %v", err)
	}

	clk.Set(time.Date(2026, 3, 1, 14, 0, 5, 0, time.UTC))
	firings := svc.collectDue(ctx, clk.Now())
	if len(firings) != 1 || firings[0].Kind != FiringSummary {
		t.Fatalf("14:00 tick = %+v, want one summary firing", firings)
	}
	if !strings.Contains(firings[0].Text, "review PR") {
		t.Fatalf("summary text = %q, want the task line", firings[0].Text)
	}

	clk.Set(time.Date(2026, 3, 1, 14, 0, 35, 0, time.UTC))
	if firings := svc.collectDue(ctx, clk.Now()); len(firings) != 0 {
		t.Fatalf("repeat tick in same hour fired %d times", len(firings))
	}

	clk.Set(time.Date(2026, 3, 1, 15, 0, 5, 0, time.UTC))
	if firings := svc.collectDue(ctx, clk.Now()); len(firings) != 1 {
		t.Fatalf("next hour tick = %d firings, want 1", len(firings))
	}
}

func TestSetTaskAutoPreservesPostedHour(t *testing.T) {
	t.Parallel()
	st, _ := newTestStore(t)
	svc, clk, _ := newTestService(t, st)
	ctx := context.Background()

	if _, err := svc.SetTaskAuto(ctx, true, 0); err != nil {
		t.Fatalf("SetTaskAuto = %v", err)
	}
	clk.Set(time.Date(2026, 3, 1, 14, 0, 5, 0, time.UTC))
	if firings := svc.collectDue(ctx, clk.Now()); len(firings) != 1 {
		t.Fatalf("initial tick = %d firings, want 1", len(firings))
	}

	// Toggle off and on within the hour: the posted marker must survive.
	if _, err := svc.SetTaskAuto(ctx, false, 0); err != nil {
		t.Fatalf("SetTaskAuto(off) = %v", err)
	}
	auto, err := svc.SetTaskAuto(ctx, true, 0)
	if err != nil {
		t.Fatalf("SetTaskAuto(on) = %v", err)
	}
	if auto.LastPosted != "2026-03-01T14" {
		t.Fatalf("LastPosted = %q, want %q", auto.LastPosted, "2026-03-01T14")
	}

	clk.Set(time.Date(2026, 3, 1, 14, 0, 40, 0, time.UTC))
	if firings := svc.collectDue(ctx, clk.Now()); len(firings) != 0 {
		t.Fatalf("summary double-posted after toggle")
	}
}

func TestAddTaskValidation(t *testing.T) {
	t.Parallel()
	st, _ := newTestStore(t)
	svc, _, _ := newTestService(t, st)
	ctx := context.Background()

	if _, err := svc.AddTask(ctx, "x", "urgent", ""); !IsValidation(err) {
		t.Fatalf("bad urgency err = %v, want validation error", err)
	}
	if _, err := svc.AddTask(ctx, "x", "", "tomorrow"); !IsValidation(err) {
		t.Fatalf("bad deadline err = %v, want validation error", err)
	}

	e, err := svc.AddTask(ctx, "x", "  HIGH ", "2026-04-01")
	if err != nil {
		t.Fatalf("AddTask = %v", err)
	}
	if e.Urgency != UrgencyHigh {
		t.Fatalf("Urgency = %q, want %q", e.Urgency, UrgencyHigh)
	}
	if e.Deadline != "2026-04-01" {
		t.Fatalf("Deadline = %q, want 2026-04-01", e.Deadline)
	}
}

func TestCorruptScheduleFileSkippedOnTick(t *testing.T) {
	t.Parallel()
	st, dir := newTestStore(t)
	svc, clk, _ := newTestService(t, st)
	ctx := context.Background()

	if _, err := svc.AddSchedule(ctx, 9, 0, "standup", 0); err != nil {
		t.Fatalf("AddSchedule = %v", err)
	}
	if _, err := svc.SetTaskAuto(ctx, true, 0); err != nil {
		t.Fatalf("SetTaskAuto = %v", err)
	}

	path := filepath.Join(dir, "bot.schedules.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}

	// The loop must skip the unreadable family and leave the file alone,
	// while the healthy family still runs.
	clk.Set(time.Date(2026, 3, 1, 9, 0, 10, 0, time.UTC))
	firings := svc.collectDue(ctx, clk.Now())
	var summaries int
	for _, f := range firings {
		if f.Kind == FiringReminder {
			t.Fatalf("reminder fired from corrupt book")
		}
		if f.Kind == FiringSummary {
			summaries++
		}
	}
	if summaries != 1 {
		t.Fatalf("summary firings = %d, want 1 from the healthy family", summaries)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != "{broken" {
		t.Fatalf("trigger loop rewrote corrupt file: %q", raw)
	}

	// A mutation rebuilds the family from empty.
	e, err := svc.AddSchedule(ctx, 10, 0, "recovered", 0)
	if err != nil {
		t.Fatalf("AddSchedule after corruption = %v", err)
	}
	if e.ID != 1 {
		t.Fatalf("recovered ID = %d, want 1", e.ID)
	}
	items, err := svc.Schedules(ctx)
	if err != nil || len(items) != 1 {
		t.Fatalf("Schedules = %v, %v, want the recovered entry", items, err)
	}
}

type flakyStore struct {
	storage.Store
	mu   sync.Mutex
	fail bool
}

func (s *flakyStore) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *flakyStore) SaveSchedules(ctx context.Context, book storage.ScheduleBook) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.Store.SaveSchedules(ctx, book)
}

func TestSaveFailureDropsFirings(t *testing.T) {
	t.Parallel()
	inner, _ := newTestStore(t)
	st := &flakyStore{Store: inner}
	svc, clk, _ := newTestService(t, st)
	ctx := context.Background()

	if _, err := svc.AddSchedule(ctx, 9, 0, "standup", 0); err != nil {
		t.Fatalf("AddSchedule = %v", err)
	}

	// Persisting the fire state fails, so nothing may be dispatched.
	st.setFail(true)
	clk.Set(time.Date(2026, 3, 1, 9, 0, 10, 0, time.UTC))
	if firings := svc.collectDue(ctx, clk.Now()); len(firings) != 0 {
		t.Fatalf("tick with failing save = %d firings, want 0", len(firings))
	}

	// Once saving works again the same minute fires normally.
	st.setFail(false)
	clk.Set(time.Date(2026, 3, 1, 9, 0, 40, 0, time.UTC))
	if firings := svc.collectDue(ctx, clk.Now()); len(firings) != 1 {
		t.Fatalf("tick after recovery = %d firings, want 1", len(firings))
	}
}

type slowStore struct {
	storage.Store
	delay time.Duration
}

func (s *slowStore) SaveSchedules(ctx context.Context, book storage.ScheduleBook) error {
	time.Sleep(s.delay)
	return s.Store.SaveSchedules(ctx, book)
}

func TestLockSerializesTickAndMutation(t *testing.T) {
	t.Parallel()
	inner, _ := newTestStore(t)
	st := &slowStore{Store: inner, delay: 50 * time.Millisecond}
	svc, clk, _ := newTestService(t, st)
	ctx := context.Background()

	if _, err := svc.AddSchedule(ctx, 9, 0, "standup", 0); err != nil {
		t.Fatalf("AddSchedule = %v", err)
	}
	clk.Set(time.Date(2026, 3, 1, 9, 0, 10, 0, time.UTC))

	// A tick with a slow save and a concurrent add must not lose either
	// write: the mutation lock forces one full cycle after the other.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		svc.collectDue(ctx, clk.Now())
	}()
	go func() {
		defer wg.Done()
		if _, err := svc.AddSchedule(ctx, 10, 0, "second", 0); err != nil {
			t.Errorf("concurrent AddSchedule = %v", err)
		}
	}()
	wg.Wait()

	items, err := svc.Schedules(ctx)
	if err != nil {
		t.Fatalf("Schedules = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want both entries to survive", len(items))
	}
	var fired bool
	for _, e := range items {
		if e.Time == "09:00" && e.LastFired == "2026-03-01" {
			fired = true
		}
	}
	if !fired {
		t.Fatalf("fire stamp lost: %+v", items)
	}
}

func TestServiceDeliversReminderEndToEnd(t *testing.T) {
	t.Parallel()
	st, _ := newTestStore(t)

	clk := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 10, 0, time.UTC)}
	ad := &recordAdapter{}
	svc, err := New(Config{Interval: 20 * time.Millisecond, DefaultChat: 1000}, st, ad, clk, logx.Nop())
	if err != nil {
		t.Fatalf("New = %v", err)
	}

	ctx := context.Background()
	if _, err := svc.AddSchedule(ctx, 9, 0, "standup", 0); err != nil {
		t.Fatalf("AddSchedule = %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if len(ad.snapshot()) > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil {
		t.Fatalf("Stop = %v", err)
	}

	sent := ad.snapshot()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want exactly 1", len(sent))
	}
	if sent[0].chat != 1000 {
		t.Fatalf("chat = %d, want default chat 1000", sent[0].chat)
	}
	if !strings.Contains(sent[0].text, "standup") {
		t.Fatalf("text = %q, want the reminder", sent[0].text)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()
	st, _ := newTestStore(t)
	svc, _, _ := newTestService(t, st)
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start = %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("second Start = %v", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil {
		t.Fatalf("Stop = %v", err)
	}
	if err := svc.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop = %v", err)
	}
}

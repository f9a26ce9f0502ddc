package agenda

import (
	"strings"
	"testing"
	"time"

	"chimebot/internal/storage"
)

func TestEvalSchedulesFiresOncePerDate(t *testing.T) {
	t.Parallel()

	book := storage.ScheduleBook{
		NextID: 2,
		Items: []storage.ScheduleEntry{
			{ID: 1, Time: "09:00", Message: "standup"},
		},
	}

	day := time.Date(2026, 3, 1, 9, 0, 10, 0, time.UTC)
	firings, changed := evalSchedules(day, &book)
	if len(firings) != 1 || !changed {
		t.Fatalf("first eval = %d firings, changed=%v, want 1 firing, changed", len(firings), changed)
	}
	if book.Items[0].LastFired != "2026-03-01" {
		t.Fatalf("LastFired = %q, want %q", book.Items[0].LastFired, "2026-03-01")
	}

	// Same minute, later sample: must not fire again.
	firings, changed = evalSchedules(day.Add(40*time.Second), &book)
	if len(firings) != 0 || changed {
		t.Fatalf("second eval = %d firings, changed=%v, want none", len(firings), changed)
	}

	// Next day, same wall time: fires again.
	firings, changed = evalSchedules(day.Add(24*time.Hour), &book)
	if len(firings) != 1 || !changed {
		t.Fatalf("next-day eval = %d firings, changed=%v, want 1 firing", len(firings), changed)
	}
	if book.Items[0].LastFired != "2026-03-02" {
		t.Fatalf("LastFired = %q, want %q", book.Items[0].LastFired, "2026-03-02")
	}
}

func TestEvalSchedulesNoCatchUp(t *testing.T) {
	t.Parallel()

	book := storage.ScheduleBook{
		NextID: 2,
		Items: []storage.ScheduleEntry{
			{ID: 1, Time: "08:00", Message: "missed"},
		},
	}

	// Added after its minute passed: nothing fires until tomorrow 08:00.
	firings, changed := evalSchedules(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC), &book)
	if len(firings) != 0 || changed {
		t.Fatalf("eval = %d firings, changed=%v, want none", len(firings), changed)
	}
	if book.Items[0].LastFired != "" {
		t.Fatalf("LastFired = %q, want empty", book.Items[0].LastFired)
	}
}

func TestEvalSchedulesSameMinuteEntriesAllFire(t *testing.T) {
	t.Parallel()

	book := storage.ScheduleBook{
		NextID: 3,
		Items: []storage.ScheduleEntry{
			{ID: 1, Time: "12:30", Message: "first"},
			{ID: 2, Time: "12:30", Message: "second", ChatID: -100123},
		},
	}

	firings, changed := evalSchedules(time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC), &book)
	if len(firings) != 2 || !changed {
		t.Fatalf("eval = %d firings, changed=%v, want 2 firings", len(firings), changed)
	}
	if !strings.Contains(firings[0].Text, "first") || !strings.Contains(firings[1].Text, "second") {
		t.Fatalf("firing order = %q, %q, want book order", firings[0].Text, firings[1].Text)
	}
	if firings[0].Chat != 0 || firings[1].Chat != -100123 {
		t.Fatalf("chats = %d, %d, want 0 and -100123", firings[0].Chat, firings[1].Chat)
	}
}

func TestEvalTaskSummaryOncePerHour(t *testing.T) {
	t.Parallel()

	book := storage.TaskBook{
		NextID: 2,
		Items:  []storage.TaskEntry{{ID: 1, Text: "ship it"}},
		Auto:   storage.TaskAutoConfig{Enabled: true},
	}

	top := time.Date(2026, 3, 1, 14, 0, 5, 0, time.UTC)
	firing, due := evalTaskSummary(top, &book)
	if !due {
		t.Fatalf("summary not due at top of hour")
	}
	if firing.Kind != FiringSummary {
		t.Fatalf("Kind = %v, want %v", firing.Kind, FiringSummary)
	}
	if book.Auto.LastPosted != "2026-03-01T14" {
		t.Fatalf("LastPosted = %q, want %q", book.Auto.LastPosted, "2026-03-01T14")
	}

	if _, due := evalTaskSummary(top.Add(30*time.Second), &book); due {
		t.Fatalf("summary due twice within one hour")
	}
	if _, due := evalTaskSummary(top.Add(time.Hour), &book); !due {
		t.Fatalf("summary not due at next hour")
	}
}

func TestEvalTaskSummaryRespectsGates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		now  time.Time
		auto storage.TaskAutoConfig
		due  bool
	}{
		{"disabled", time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC), storage.TaskAutoConfig{}, false},
		{"mid hour", time.Date(2026, 3, 1, 14, 25, 0, 0, time.UTC), storage.TaskAutoConfig{Enabled: true}, false},
		{"already posted", time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC), storage.TaskAutoConfig{Enabled: true, LastPosted: "2026-03-01T14"}, false},
		{"fresh hour", time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC), storage.TaskAutoConfig{Enabled: true, LastPosted: "2026-03-01T13"}, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			book := storage.TaskBook{Auto: tt.auto}
			if _, due := evalTaskSummary(tt.now, &book); due != tt.due {
				t.Fatalf("due = %v, want %v", due, tt.due)
			}
		})
	}
}

func TestEvalTaskSummaryEmptyListStillPosts(t *testing.T) {
	t.Parallel()

	book := storage.TaskBook{Auto: storage.TaskAutoConfig{Enabled: true, ChatID: 77}}
	firing, due := evalTaskSummary(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), &book)
	if !due {
		t.Fatalf("empty checklist did not post")
	}
	if firing.Chat != 77 {
		t.Fatalf("Chat = %d, want 77", firing.Chat)
	}
	if !strings.Contains(firing.Text, "Nothing pending") {
		t.Fatalf("text = %q, want the all-clear line", firing.Text)
	}
}

func TestRenderReminderEscapesHTML(t *testing.T) {
	t.Parallel()

	got := renderReminder(storage.ScheduleEntry{Message: "a <b> & c"})
	if strings.Contains(got, "<b>") {
		t.Fatalf("renderReminder left raw HTML: %q", got)
	}
	if !strings.Contains(got, "&lt;b&gt;") {
		t.Fatalf("renderReminder = %q, want escaped markup", got)
	}
}

func TestRenderChecklistMarksOverdue(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	items := []storage.TaskEntry{
		{ID: 1, Text: "late", Urgency: UrgencyHigh, Deadline: "2026-03-09"},
		{ID: 2, Text: "today", Deadline: "2026-03-10"},
		{ID: 3, Text: "future", Deadline: "2026-03-11"},
	}
	got := renderChecklist(items, now)

	lines := strings.Split(got, "\n")
	if len(lines) < 4 {
		t.Fatalf("checklist = %q, want header plus 3 lines", got)
	}
	if !strings.Contains(lines[1], "overdue") {
		t.Fatalf("overdue task not marked: %q", lines[1])
	}
	if strings.Contains(lines[2], "overdue") || strings.Contains(lines[3], "overdue") {
		t.Fatalf("non-overdue tasks marked: %q / %q", lines[2], lines[3])
	}
	if !strings.Contains(lines[1], "🔴") {
		t.Fatalf("high urgency not marked: %q", lines[1])
	}
}

func TestRenderScheduleListEmpty(t *testing.T) {
	t.Parallel()

	got := renderScheduleList(nil)
	if !strings.Contains(got, "No reminders yet") {
		t.Fatalf("empty listing = %q, want the hint line", got)
	}
}

package agenda

import (
	"fmt"
	"html"
	"strings"
	"time"

	"chimebot/internal/storage"
)

// All rendered text is HTML parse mode; user-entered content is escaped.

func renderReminder(e storage.ScheduleEntry) string {
	return "⏰ " + html.EscapeString(e.Message)
}

func renderScheduleList(items []storage.ScheduleEntry) string {
	if len(items) == 0 {
		return "⏰ <b>Reminders</b>\nNo reminders yet. Add one with <code>/remind add HH:MM text</code>."
	}
	lines := make([]string, 0, len(items)+1)
	lines = append(lines, "⏰ <b>Reminders</b>")
	for _, e := range items {
		line := fmt.Sprintf("• <code>#%d</code> %s — %s", e.ID, e.Time, html.EscapeString(e.Message))
		if e.ChatID != 0 {
			line += fmt.Sprintf(" <i>(chat %d)</i>", e.ChatID)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func renderChecklist(items []storage.TaskEntry, now time.Time) string {
	if len(items) == 0 {
		return "📋 <b>Task checklist</b>\nNothing pending. 🎉"
	}
	today := now.Format(dateLayout)
	lines := make([]string, 0, len(items)+1)
	lines = append(lines, "📋 <b>Task checklist</b>")
	for _, e := range items {
		line := fmt.Sprintf("• <code>#%d</code> %s", e.ID, html.EscapeString(e.Text))
		if mark := urgencyMark(e.Urgency); mark != "" {
			line += " " + mark
		}
		if e.Deadline != "" {
			line += " — due " + e.Deadline
			if e.Deadline < today {
				line += " ⚠️ <b>overdue</b>"
			}
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func urgencyMark(u string) string {
	switch u {
	case UrgencyHigh:
		return "🔴"
	case UrgencyMedium:
		return "🟡"
	case UrgencyLow:
		return "🟢"
	default:
		return ""
	}
}

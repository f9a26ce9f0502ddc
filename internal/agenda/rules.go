package agenda

import (
	"time"

	"chimebot/internal/storage"
)

// The rule functions are pure: they look only at the sampled now and the
// loaded books, mutate fire-state in place, and report what fired. All I/O
// (load, save, send) stays with the caller.

// evalSchedules returns the reminders due at now and stamps their fire date.
//
// An entry is due when its HH:MM equals now's and it has not already fired on
// now's calendar date. The date stamp is what makes repeated samples of the
// same minute (and restarts inside it) deliver at most once. Entries whose
// time already passed today never match, so there is no catch-up firing.
func evalSchedules(now time.Time, book *storage.ScheduleBook) (firings []Firing, changed bool) {
	hhmm := now.Format(clockLayout)
	date := now.Format(dateLayout)
	for i := range book.Items {
		e := &book.Items[i]
		if e.Time != hhmm || e.LastFired == date {
			continue
		}
		e.LastFired = date
		changed = true
		firings = append(firings, Firing{Kind: FiringReminder, Chat: e.ChatID, Text: renderReminder(*e)})
	}
	return firings, changed
}

// evalTaskSummary decides whether the hourly checklist summary is due and
// stamps the posted hour key.
//
// Due on the top of an hour (minute 0) when auto-posting is enabled and the
// (date, hour) key differs from the last posted one. An empty checklist is
// still a valid summary.
func evalTaskSummary(now time.Time, book *storage.TaskBook) (Firing, bool) {
	if now.Minute() != 0 || !book.Auto.Enabled {
		return Firing{}, false
	}
	key := now.Format(hourKeyLayout)
	if book.Auto.LastPosted == key {
		return Firing{}, false
	}
	book.Auto.LastPosted = key
	return Firing{Kind: FiringSummary, Chat: book.Auto.ChatID, Text: renderChecklist(book.Items, now)}, true
}

package agenda

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock abstracts wall-clock reads so the trigger loop and tests share one
// time source.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Persisted time formats. Entries match on the rendered strings, so the
// comparisons stay exact at minute/hour/date granularity.
const (
	clockLayout   = "15:04"
	dateLayout    = "2006-01-02"
	hourKeyLayout = "2006-01-02T15"
)

// Urgency levels for checklist entries ("" means unset).
const (
	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"
)

func normalizeUrgency(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", UrgencyLow, UrgencyMedium, UrgencyHigh:
		return s, nil
	default:
		return "", validationErr("urgency", "must be low, medium or high")
	}
}

// parseClockTime parses a 24h "HH:MM" string.
func parseClockTime(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, validationErr("time", "must be HH:MM (24h)")
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, validationErr("time", "must be HH:MM (24h)")
	}
	return h, m, nil
}

func formatClockTime(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// normalizeDate validates and canonicalizes a "YYYY-MM-DD" string ("" allowed).
func normalizeDate(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return "", validationErr(field, "must be YYYY-MM-DD")
	}
	return t.Format(dateLayout), nil
}

// FiringKind tags what produced a firing.
type FiringKind string

const (
	FiringReminder FiringKind = "reminder"
	FiringSummary  FiringKind = "summary"
)

// Firing is one due delivery: rendered text bound for a chat.
// Chat 0 targets the configured default chat.
type Firing struct {
	Kind FiringKind
	Chat int64
	Text string
}

// Package agenda is the bot's scheduling core: daily reminders and the task
// checklist with its hourly summary.
//
// Persisted entries carry their own fire-state (last fired date, last posted
// hour). A fixed-cadence trigger loop samples an injected clock, asks the
// rule functions which entries are due, persists the new fire-state, and
// hands the firings to a dispatch worker outside the state lock. Mutations
// from command handlers run under the same lock, so loop reads and handler
// writes never interleave.
package agenda

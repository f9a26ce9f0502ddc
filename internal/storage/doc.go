// Package storage persists the bot's reminder, task, and glossary books.
//
// Documents are loaded and saved whole; saves go through a temp file and an
// atomic rename so a crash mid-write never clobbers the previous version.
//
// The store does no locking of its own: the owning service serializes all
// loads and saves under its mutation lock.
package storage

// Package store persists rule registrations, the append-only history
// cursor log and the declarative label list in a local SQLite database.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a keyed lookup matches no record.
var ErrNotFound = errors.New("record not found")

// Rule is a classifier registration. It is upserted by the scheduler,
// never by the classifier itself; the in-memory classifier is a transient
// view bound to a pipeline.
type Rule struct {
	Name         string     `db:"name"`
	Query        string     `db:"query"`
	LastRun      *time.Time `db:"last_run"`
	Deprecated   bool       `db:"deprecated"`
	DeprecatedAt *time.Time `db:"deprecated_at"`
}

// CursorRecord is one entry of a user's history-cursor log. Records are
// only ever appended; the current cursor is the most recent record, so
// the full processing history stays reconstructable.
type CursorRecord struct {
	UserID     string    `db:"user_id"`
	HistoryID  string    `db:"history_id"`
	ObservedAt time.Time `db:"observed_at"`
}

// LabelSpec is a locally declared label to be reconciled into the
// provider on startup. Names present here but absent remotely are
// created; remote-only labels are left alone.
type LabelSpec struct {
	Name                  string `db:"name"`
	TextColor             string `db:"text_color"`
	BackgroundColor       string `db:"background_color"`
	LabelListVisibility   string `db:"label_list_visibility"`
	MessageListVisibility string `db:"message_list_visibility"`
}

// Package history reconciles a persisted change cursor against the
// provider's mailbox history.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mailflow/internal/gmail"
	"mailflow/internal/store"
)

// ErrNoCursor is returned when reconciliation is requested for a user
// with no stored cursor. Recovery requires an explicit backfill (or a
// watch registration seeding the cursor); the engine never invents a
// starting point.
var ErrNoCursor = errors.New("no stored history cursor; full backfill required")

// CursorStore is the slice of persistence the engine needs.
type CursorStore interface {
	AppendCursor(ctx context.Context, userID, historyID string, observedAt time.Time) error
	LatestCursor(ctx context.Context, userID string) (store.CursorRecord, error)
}

// Engine tracks one cursor per mailbox user. A user is either
// uninitialized (no cursor record) or synchronized; Initialize performs
// the only transition between the two.
type Engine struct {
	Store  CursorStore
	Client gmail.Client
	Log    *slog.Logger
	Clock  func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine(st CursorStore, client gmail.Client, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Store: st, Client: client, Log: logger, Clock: time.Now}
}

// Initialized reports whether the user has a stored cursor.
func (e *Engine) Initialized(ctx context.Context, userID string) (bool, error) {
	_, err := e.Store.LatestCursor(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Initialize seeds the user's cursor log, typically from a watch
// registration's history id.
func (e *Engine) Initialize(ctx context.Context, userID, historyID string) error {
	if err := e.Store.AppendCursor(ctx, userID, historyID, e.Clock()); err != nil {
		return err
	}
	e.Log.InfoContext(ctx, "cursor initialized", "user", userID, "history_id", historyID)
	return nil
}

// Reconcile diffs the provider's history against the stored cursor and
// returns the message ids added since. For every history entry carrying
// added messages, emit (when non-nil) receives that entry's ids first
// and only then is a fresh cursor record appended at the entry's
// sequence number, one record per entry, so the cursor log doubles as a
// replay log and an emit failure leaves the unforwarded entries behind
// the cursor for the next attempt. Continuation tokens are followed; a
// busy mailbox can span pages.
func (e *Engine) Reconcile(ctx context.Context, userID string, emit func(ctx context.Context, ids []string) error) ([]string, error) {
	cur, err := e.Store.LatestCursor(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNoCursor)
	}
	if err != nil {
		return nil, err
	}

	var newIDs []string
	pageToken := ""
	for {
		page, err := e.Client.HistorySince(ctx, userID, cur.HistoryID, pageToken)
		if err != nil {
			return newIDs, fmt.Errorf("history since %s: %w", cur.HistoryID, err)
		}
		for _, entry := range page.Entries {
			if len(entry.AddedIDs) == 0 {
				continue
			}
			if emit != nil {
				if err := emit(ctx, entry.AddedIDs); err != nil {
					return newIDs, fmt.Errorf("emit entry %s: %w", entry.ID, err)
				}
			}
			newIDs = append(newIDs, entry.AddedIDs...)
			if err := e.Store.AppendCursor(ctx, userID, entry.ID, e.Clock()); err != nil {
				return newIDs, fmt.Errorf("advance cursor to %s: %w", entry.ID, err)
			}
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	e.Log.DebugContext(ctx, "reconciled history",
		"user", userID, "since", cur.HistoryID, "new_messages", len(newIDs))
	return newIDs, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLite is the concrete store. Consumers depend on the narrow
// interfaces they declare themselves; this type satisfies all of them.
type SQLite struct {
	db *sqlx.DB
}

// OpenSQLite opens (or creates) the database at dbPath, enables WAL mode
// and applies pending migrations.
func OpenSQLite(dbPath string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

CREATE TABLE rules (
	name          TEXT PRIMARY KEY,
	query         TEXT NOT NULL,
	last_run      TIMESTAMP,
	deprecated    INTEGER NOT NULL DEFAULT 0,
	deprecated_at TIMESTAMP
);

CREATE TABLE history_cursor (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id     TEXT NOT NULL,
	history_id  TEXT NOT NULL,
	observed_at TIMESTAMP NOT NULL
);
CREATE INDEX idx_history_cursor_user ON history_cursor(user_id, observed_at);

CREATE TABLE labels (
	name                    TEXT PRIMARY KEY,
	text_color              TEXT NOT NULL DEFAULT '',
	background_color        TEXT NOT NULL DEFAULT '',
	label_list_visibility   TEXT NOT NULL DEFAULT '',
	message_list_visibility TEXT NOT NULL DEFAULT ''
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}

func (s *SQLite) migrate() error {
	current := 0
	var tables int
	err := s.db.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// UpsertRule inserts or updates a rule registration by name. Run and
// deprecation state of an existing registration is preserved; only the
// query follows the caller.
func (s *SQLite) UpsertRule(ctx context.Context, r Rule) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO rules (name, query, last_run, deprecated, deprecated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET query = excluded.query`,
		r.Name, r.Query, r.LastRun, r.Deprecated, r.DeprecatedAt)
	if err != nil {
		return fmt.Errorf("upserting rule %s: %w", r.Name, err)
	}
	return nil
}

// GetRule returns the registration for name, or ErrNotFound.
func (s *SQLite) GetRule(ctx context.Context, name string) (Rule, error) {
	var r Rule
	err := s.db.GetContext(ctx, &r, `SELECT name, query, last_run, deprecated, deprecated_at FROM rules WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return Rule{}, fmt.Errorf("rule %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return Rule{}, fmt.Errorf("getting rule %s: %w", name, err)
	}
	return r, nil
}

// SetLastRun records a successful run time for the named rule.
func (s *SQLite) SetLastRun(ctx context.Context, name string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rules SET last_run = ? WHERE name = ?`, at, name)
	if err != nil {
		return fmt.Errorf("setting last run for %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("rule %s: %w", name, ErrNotFound)
	}
	return nil
}

// SetDeprecated flags the named rule so the scheduler skips it.
func (s *SQLite) SetDeprecated(ctx context.Context, name string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rules SET deprecated = 1, deprecated_at = ? WHERE name = ?`, at, name)
	if err != nil {
		return fmt.Errorf("deprecating rule %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("rule %s: %w", name, ErrNotFound)
	}
	return nil
}

// AppendCursor appends a new cursor record for the user. Existing records
// are never updated in place.
func (s *SQLite) AppendCursor(ctx context.Context, userID, historyID string, observedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO history_cursor (user_id, history_id, observed_at) VALUES (?, ?, ?)`,
		userID, historyID, observedAt)
	if err != nil {
		return fmt.Errorf("appending cursor for %s: %w", userID, err)
	}
	return nil
}

// LatestCursor returns the user's most recent cursor record, or
// ErrNotFound for a user with no history yet.
func (s *SQLite) LatestCursor(ctx context.Context, userID string) (CursorRecord, error) {
	var rec CursorRecord
	err := s.db.GetContext(ctx, &rec, `
SELECT user_id, history_id, observed_at FROM history_cursor
WHERE user_id = ? ORDER BY observed_at DESC, id DESC LIMIT 1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return CursorRecord{}, fmt.Errorf("cursor for %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return CursorRecord{}, fmt.Errorf("getting cursor for %s: %w", userID, err)
	}
	return rec, nil
}

// CursorLog returns the user's full cursor history, oldest first.
func (s *SQLite) CursorLog(ctx context.Context, userID string) ([]CursorRecord, error) {
	var recs []CursorRecord
	err := s.db.SelectContext(ctx, &recs, `
SELECT user_id, history_id, observed_at FROM history_cursor
WHERE user_id = ? ORDER BY observed_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("reading cursor log for %s: %w", userID, err)
	}
	return recs, nil
}

// UpsertLabelSpec inserts or replaces a declarative label by name.
func (s *SQLite) UpsertLabelSpec(ctx context.Context, l LabelSpec) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO labels (name, text_color, background_color, label_list_visibility, message_list_visibility)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	text_color = excluded.text_color,
	background_color = excluded.background_color,
	label_list_visibility = excluded.label_list_visibility,
	message_list_visibility = excluded.message_list_visibility`,
		l.Name, l.TextColor, l.BackgroundColor, l.LabelListVisibility, l.MessageListVisibility)
	if err != nil {
		return fmt.Errorf("upserting label %s: %w", l.Name, err)
	}
	return nil
}

// ListLabelSpecs returns all declared labels ordered by name.
func (s *SQLite) ListLabelSpecs(ctx context.Context) ([]LabelSpec, error) {
	var specs []LabelSpec
	err := s.db.SelectContext(ctx, &specs, `
SELECT name, text_color, background_color, label_list_visibility, message_list_visibility
FROM labels ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing labels: %w", err)
	}
	return specs, nil
}

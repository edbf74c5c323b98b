package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "mailflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRuleLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetRule(ctx, "billing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpsertRule(ctx, Rule{Name: "billing", Query: "from:billing has:attachment"}))
	r, err := s.GetRule(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, "from:billing has:attachment", r.Query)
	assert.Nil(t, r.LastRun)
	assert.False(t, r.Deprecated)

	at := time.Date(2023, 11, 14, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLastRun(ctx, "billing", at))

	// A repeat registration updates the query but keeps the run state.
	require.NoError(t, s.UpsertRule(ctx, Rule{Name: "billing", Query: "from:billing@example.com has:attachment"}))
	r, err = s.GetRule(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, "from:billing@example.com has:attachment", r.Query)
	require.NotNil(t, r.LastRun)
	assert.True(t, r.LastRun.Equal(at))
}

func TestSetDeprecated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	at := time.Date(2023, 11, 14, 12, 0, 0, 0, time.UTC)
	require.ErrorIs(t, s.SetDeprecated(ctx, "missing", at), ErrNotFound)
	require.ErrorIs(t, s.SetLastRun(ctx, "missing", at), ErrNotFound)

	require.NoError(t, s.UpsertRule(ctx, Rule{Name: "old", Query: "label:old"}))
	require.NoError(t, s.SetDeprecated(ctx, "old", at))
	r, err := s.GetRule(ctx, "old")
	require.NoError(t, err)
	assert.True(t, r.Deprecated)
	require.NotNil(t, r.DeprecatedAt)
	assert.True(t, r.DeprecatedAt.Equal(at))
}

func TestCursorAppendOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.LatestCursor(ctx, "me")
	require.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2023, 11, 14, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendCursor(ctx, "me", "100", base))
	require.NoError(t, s.AppendCursor(ctx, "me", "105", base.Add(time.Minute)))
	require.NoError(t, s.AppendCursor(ctx, "other", "900", base.Add(2*time.Minute)))

	cur, err := s.LatestCursor(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, "105", cur.HistoryID)

	log, err := s.CursorLog(ctx, "me")
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, "100", log[0].HistoryID)
	assert.Equal(t, "105", log[1].HistoryID)
}

func TestLatestCursorBreaksTiesByInsertionOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Two records in the same observation instant: the later insert wins.
	at := time.Date(2023, 11, 14, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendCursor(ctx, "me", "100", at))
	require.NoError(t, s.AppendCursor(ctx, "me", "101", at))

	cur, err := s.LatestCursor(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, "101", cur.HistoryID)
}

func TestLabelSpecs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	specs, err := s.ListLabelSpecs(ctx)
	require.NoError(t, err)
	assert.Empty(t, specs)

	require.NoError(t, s.UpsertLabelSpec(ctx, LabelSpec{Name: "Receipts", BackgroundColor: "#16a765"}))
	require.NoError(t, s.UpsertLabelSpec(ctx, LabelSpec{Name: "Newsletters"}))
	require.NoError(t, s.UpsertLabelSpec(ctx, LabelSpec{Name: "Receipts", BackgroundColor: "#42d692"}))

	specs, err = s.ListLabelSpecs(ctx)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "Newsletters", specs[0].Name)
	assert.Equal(t, "Receipts", specs[1].Name)
	assert.Equal(t, "#42d692", specs[1].BackgroundColor)
}

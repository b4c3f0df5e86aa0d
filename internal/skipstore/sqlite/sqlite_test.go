package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, clk clockwork.Clock) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "data", "skips.db"), clk, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSkipRoundTrip(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2025, 11, 10, 8, 0, 0, 0, time.UTC))
	s := newStore(t, clk)
	ctx := context.Background()
	id := "uid-1:2025-11-10T17:00:00Z"

	ok, err := s.IsSkipped(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Skip(ctx, id))
	require.NoError(t, s.Skip(ctx, id))

	ok, err = s.IsSkipped(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := s.SkippedIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	require.NoError(t, s.Unskip(ctx, id))
	ok, err = s.IsSkipped(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCleanupDropsOldEntries(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2025, 11, 10, 8, 0, 0, 0, time.UTC))
	s := newStore(t, clk)
	ctx := context.Background()

	require.NoError(t, s.Skip(ctx, "old"))
	clk.Advance(40 * 24 * time.Hour)
	require.NoError(t, s.Skip(ctx, "recent"))

	removed, err := s.Cleanup(ctx, clk.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	ids, err := s.SkippedIDs(ctx)
	require.NoError(t, err)
	_, hasRecent := ids["recent"]
	assert.True(t, hasRecent)
	assert.Len(t, ids, 1)
}

func TestStateSurvivesReopen(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2025, 11, 10, 8, 0, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "skips.db")

	s, err := New(path, clk, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Skip(context.Background(), "persist-me"))
	require.NoError(t, s.Close())

	s2, err := New(path, clk, zerolog.Nop())
	require.NoError(t, err)
	defer s2.Close()

	ok, err := s2.IsSkipped(context.Background(), "persist-me")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMigrationsRecorded(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2025, 11, 10, 8, 0, 0, 0, time.UTC))
	s := newStore(t, clk)

	var version uint64
	var dirty bool
	err := s.db.QueryRow(`SELECT version, dirty FROM schema_migrations`).Scan(&version, &dirty)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
	assert.False(t, dirty)
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSkipRoundTrip(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2025, 11, 10, 8, 0, 0, 0, time.UTC))
	s := New(clk)
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
	s := New(clk)
	ctx := context.Background()

	require.NoError(t, s.Skip(ctx, "old"))
	clk.Advance(40 * 24 * time.Hour)
	require.NoError(t, s.Skip(ctx, "recent"))

	removed, err := s.Cleanup(ctx, clk.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	ids, err := s.SkippedIDs(ctx)
	require.NoError(t, err)
	_, hasOld := ids["old"]
	assert.False(t, hasOld)
	_, hasRecent := ids["recent"]
	assert.True(t, hasRecent)
}

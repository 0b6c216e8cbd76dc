package corrections

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rdstrack/internal/store"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "corrections.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db.DB())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "werbung", Normalize("  Werbung "))
	assert.Equal(t, "adele - hello", Normalize("Adele - HELLO"))
}

func TestIgnored(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ok, err := s.IsIgnored(ctx, "werbung")
	require.NoError(t, err)
	assert.False(t, ok)

	c, err := s.AddIgnored(ctx, " Werbung ")
	require.NoError(t, err)
	assert.Equal(t, "werbung", c.RtNormalized)
	assert.Equal(t, "Werbung", c.RtOriginal)
	assert.NotZero(t, c.ID)

	ok, err = s.IsIgnored(ctx, Normalize("WERBUNG"))
	require.NoError(t, err)
	assert.True(t, ok)

	again, err := s.AddIgnored(ctx, "werbung")
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
}

func TestSkipTracksAccumulate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.AddSkipTrack(ctx, "Adele - Hello", "id-1", "Adele", "Hello (Live)")
	require.NoError(t, err)
	_, err = s.AddSkipTrack(ctx, "adele - hello", "id-2", "Adele", "Hello (Karaoke)")
	require.NoError(t, err)
	_, err = s.AddSkipTrack(ctx, "Adele - Hello", "id-1", "Adele", "Hello (Live)")
	require.NoError(t, err)

	ids, err := s.SkippedTrackIDs(ctx, "adele - hello")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"id-1": {}, "id-2": {}}, ids)

	skipped, err := s.IsTrackSkipped(ctx, "adele - hello", "id-2")
	require.NoError(t, err)
	assert.True(t, skipped)

	skipped, err = s.IsTrackSkipped(ctx, "adele - hello", "id-3")
	require.NoError(t, err)
	assert.False(t, skipped)

	// a skip does not ignore the RT
	ok, err := s.IsIgnored(ctx, "adele - hello")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.AddSkipTrack(ctx, "Adele - Hello", "", "", "")
	assert.Error(t, err)
}

func TestEmptyAnswersForUnknownRT(t *testing.T) {
	s := newStore(t)
	ids, err := s.SkippedTrackIDs(context.Background(), "nothing here")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestListAndRemove(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ign, err := s.AddIgnored(ctx, "Werbung")
	require.NoError(t, err)
	_, err = s.AddSkipTrack(ctx, "Adele - Hello", "id-1", "Adele", "Hello")
	require.NoError(t, err)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	skips, err := s.List(ctx, KindSkipTrack)
	require.NoError(t, err)
	require.Len(t, skips, 1)
	assert.Equal(t, "id-1", skips[0].SkipTrackID)
	assert.Equal(t, "Hello", skips[0].SkipTitle)

	require.NoError(t, s.Remove(ctx, ign.ID))
	assert.ErrorIs(t, s.Remove(ctx, ign.ID), ErrNotFound)

	ok, err := s.IsIgnored(ctx, "werbung")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.DeleteAll(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

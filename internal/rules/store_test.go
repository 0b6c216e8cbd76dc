package rules

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rdstrack/internal/logger"
	"rdstrack/internal/store"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db.DB())
}

func TestStoreAddAndList(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	r1, err := s.Add(ctx, Rule{FindText: " Jetzt On Air: ", Position: PositionPrefix, Enabled: true})
	require.NoError(t, err)
	assert.NotZero(t, r1.ID)
	assert.Equal(t, "Jetzt On Air:", r1.FindText)
	assert.Equal(t, "jetzt on air:", r1.FindNormalized)

	withFreq := Rule{FindText: "Antenne", Position: PositionAnywhere, ScopeFrequency: freq(101.1),
		ConditionContains: "Hits", OnlyIfNotFound: true, Enabled: true}
	_, err = s.Add(ctx, withFreq)
	require.NoError(t, err)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Jetzt On Air:", all[0].FindText)
	require.NotNil(t, all[1].ScopeFrequency)
	assert.InDelta(t, 101.1, *all[1].ScopeFrequency, 1e-9)
	assert.Equal(t, "Hits", all[1].ConditionContains)
	assert.False(t, all[1].CreatedAt.IsZero())

	imm, err := s.Immediate(ctx)
	require.NoError(t, err)
	assert.Len(t, imm, 1)
	fb, err := s.Fallback(ctx)
	require.NoError(t, err)
	assert.Len(t, fb, 1)
}

func TestStoreRejectsEmptyFind(t *testing.T) {
	s := newStore(t)
	_, err := s.Add(context.Background(), Rule{FindText: "  ", Position: PositionPrefix, Enabled: true})
	assert.Error(t, err)
}

func TestStoreDuplicateImmediate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Add(ctx, Rule{FindText: "Now:", Position: PositionPrefix, Enabled: true})
	require.NoError(t, err)

	_, err = s.Add(ctx, Rule{FindText: "NOW:", Position: PositionSuffix, Enabled: true})
	assert.ErrorIs(t, err, ErrDuplicateRule)

	// fallback and disabled copies are allowed
	_, err = s.Add(ctx, Rule{FindText: "now:", Position: PositionPrefix, OnlyIfNotFound: true, Enabled: true})
	assert.NoError(t, err)
	disabled, err := s.Add(ctx, Rule{FindText: "now:", Position: PositionPrefix})
	require.NoError(t, err)

	// but enabling the disabled copy is not
	assert.ErrorIs(t, s.SetEnabled(ctx, disabled.ID, true), ErrDuplicateRule)
}

func TestStoreUpdateDeleteToggle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	r, err := s.Add(ctx, Rule{FindText: "Now:", Position: PositionPrefix, Enabled: true})
	require.NoError(t, err)

	r.ReplaceWith = "x"
	require.NoError(t, s.Update(ctx, r))
	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", got.ReplaceWith)

	require.NoError(t, s.SetEnabled(ctx, r.ID, false))
	imm, err := s.Immediate(ctx)
	require.NoError(t, err)
	assert.Empty(t, imm)

	require.NoError(t, s.Delete(ctx, r.ID))
	assert.ErrorIs(t, s.Delete(ctx, r.ID), ErrNotFound)
	_, err = s.Get(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newStore(t)
	_, err := src.Add(ctx, Rule{FindText: "Now:", Position: PositionPrefix, Enabled: true})
	require.NoError(t, err)
	_, err = src.Add(ctx, Rule{FindText: "Radio", ReplaceWith: "", Position: PositionSuffix,
		ScopeFrequency: freq(99.9), Enabled: true})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, src.Export(ctx, &buf))
	assert.Contains(t, buf.String(), "Now:")
	assert.Contains(t, buf.String(), "position: SUFFIX")

	dst := newStore(t)
	_, err = dst.Add(ctx, Rule{FindText: "now:", Position: PositionPrefix, Enabled: true})
	require.NoError(t, err)

	// the duplicate is skipped when merging
	n, err := dst.Import(ctx, bytes.NewReader(buf.Bytes()), false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = dst.Import(ctx, strings.NewReader(buf.String()), true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	all, err := dst.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.NotNil(t, all[1].ScopeFrequency)
}

func TestTableReloadsOnWrite(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	table, err := NewTable(ctx, s, logger.Discard())
	require.NoError(t, err)

	assert.Equal(t, "Now: Adele - Hello", table.Apply("Now: Adele - Hello", 0))

	_, err = s.Add(ctx, Rule{FindText: "Now:", Position: PositionPrefix, Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, "Adele - Hello", table.Apply("Now: Adele - Hello", 0))
}

func TestTableRefreshSeesOtherConnection(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rules.db")
	mine, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { mine.Close() })
	theirs, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { theirs.Close() })

	table, err := NewTable(ctx, NewStore(mine.DB()), logger.Discard())
	require.NoError(t, err)

	reloaded, err := table.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, reloaded)

	_, err = NewStore(theirs.DB()).Add(ctx, Rule{FindText: "Now:", Position: PositionPrefix, Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, "Now: Adele - Hello", table.Apply("Now: Adele - Hello", 0))

	reloaded, err = table.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, reloaded)
	assert.Equal(t, "Adele - Hello", table.Apply("Now: Adele - Hello", 0))
}

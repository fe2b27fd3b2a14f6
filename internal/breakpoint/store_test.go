package breakpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "bp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreUpsertAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, Persisted{File: "/srv/app.js", Line: 10, Enabled: true}))
	require.NoError(t, s.Upsert(ctx, Persisted{File: "/srv/app.js", Line: 3, Condition: "x > 1", Enabled: true}))

	bps, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, bps, 2)
	assert.Equal(t, 3, bps[0].Line)
	assert.Equal(t, "x > 1", bps[0].Condition)
	assert.Equal(t, 10, bps[1].Line)
}

func TestStoreIdentityIsFileLineCondition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, Persisted{File: "/srv/app.js", Line: 10, Enabled: true}))
	// Same location, different condition: a distinct breakpoint.
	require.NoError(t, s.Upsert(ctx, Persisted{File: "/srv/app.js", Line: 10, Condition: "n == 0", Enabled: true}))
	// Same identity again: replaces, no duplicate.
	require.NoError(t, s.Upsert(ctx, Persisted{File: "/srv/app.js", Line: 10, Enabled: false, Prompt: "why?", PromptEnabled: true}))

	bps, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, bps, 2)
	assert.False(t, bps[0].Enabled)
	assert.Equal(t, "why?", bps[0].Prompt)
	assert.True(t, bps[0].PromptEnabled)
}

func TestStoreUpsertKeepsHitCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := Key{File: "/srv/app.js", Line: 7}

	require.NoError(t, s.Upsert(ctx, Persisted{File: key.File, Line: key.Line, Enabled: true}))
	for i := 0; i < 3; i++ {
		_, err := s.IncrementHit(ctx, key)
		require.NoError(t, err)
	}
	require.NoError(t, s.Upsert(ctx, Persisted{File: key.File, Line: key.Line, Enabled: true, Prompt: "added later"}))

	bps, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, bps, 1)
	assert.Equal(t, 3, bps[0].HitCount)
	assert.Equal(t, "added later", bps[0].Prompt)
}

func TestStoreRemoveIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := Key{File: "/srv/app.js", Line: 5}

	require.NoError(t, s.Upsert(ctx, Persisted{File: key.File, Line: key.Line, Enabled: true}))
	require.NoError(t, s.Remove(ctx, key))
	require.NoError(t, s.Remove(ctx, key))

	bps, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, bps)
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bp.db")
	ctx := context.Background()

	s, err := NewStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, Persisted{File: "/srv/app.js", Line: 10, Enabled: true}))
	require.NoError(t, s.Close())

	s2, err := NewStore(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	bps, err := s2.List(ctx)
	require.NoError(t, err)
	require.Len(t, bps, 1)
	assert.Equal(t, "/srv/app.js", bps[0].File)
	assert.Equal(t, 10, bps[0].Line)
}

func TestStoreIncrementHitUnknownKey(t *testing.T) {
	s := newTestStore(t)
	n, err := s.IncrementHit(context.Background(), Key{File: "/nope", Line: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/cortex/pkg/schema"
)

func TestMemoryStore_GetOrCreate_Fresh(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	assert.Empty(t, sess.History)
	assert.Equal(t, int64(1), sess.Version)
}

func TestMemoryStore_SaveAndReload(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)

	sess.AppendTurn(schema.Turn{Role: "user", Content: "hello"}, 20)
	require.NoError(t, store.Save(ctx, sess))
	assert.Equal(t, int64(2), sess.Version)

	reloaded, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, reloaded.History, 1)
	assert.Equal(t, "hello", reloaded.History[0].Content)
}

func TestMemoryStore_Save_Conflict(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	a, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	b, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, a))

	err = store.Save(ctx, b)
	require.Error(t, err)
	var cxErr *schema.CortexError
	require.ErrorAs(t, err, &cxErr)
	assert.Equal(t, schema.ErrCodeConcurrentModification, cxErr.Code)
}

func TestMemoryStore_ExpiredSessionTreatedAsNew(t *testing.T) {
	store := NewMemoryStore(30 * time.Minute)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	sess, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	sess.AppendTurn(schema.Turn{Role: "user", Content: "old"}, 20)
	sess.AwaitingClarification = true
	require.NoError(t, store.Save(ctx, sess))

	// Past the TTL the same ID yields a fresh session.
	store.now = func() time.Time { return base.Add(31 * time.Minute) }

	fresh, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, fresh.History)
	assert.False(t, fresh.AwaitingClarification)
	assert.Equal(t, int64(1), fresh.Version)
}

func TestMemoryStore_AccessExtendsTTL(t *testing.T) {
	store := NewMemoryStore(30 * time.Minute)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	sess, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	sess.AppendTurn(schema.Turn{Role: "user", Content: "kept"}, 20)
	require.NoError(t, store.Save(ctx, sess))

	// A touch at +20m pushes expiry past +31m.
	store.now = func() time.Time { return base.Add(20 * time.Minute) }
	_, err = store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)

	store.now = func() time.Time { return base.Add(31 * time.Minute) }
	still, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, still.History, 1)
}

func TestMemoryStore_EvictExpired(t *testing.T) {
	store := NewMemoryStore(30 * time.Minute)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	_, err := store.GetOrCreate(ctx, "old")
	require.NoError(t, err)

	store.now = func() time.Time { return base.Add(25 * time.Minute) }
	_, err = store.GetOrCreate(ctx, "young")
	require.NoError(t, err)

	store.now = func() time.Time { return base.Add(40 * time.Minute) }
	evicted, err := store.EvictExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, store.Len())
}

func TestSession_AppendTurn_FIFOCap(t *testing.T) {
	sess := &Session{ID: "s1"}
	for i := 0; i < 25; i++ {
		sess.AppendTurn(schema.Turn{Role: "user", Content: string(rune('a' + i))}, 20)
	}

	require.Len(t, sess.History, 20)
	// Oldest entries dropped, newest kept.
	assert.Equal(t, string(rune('a'+24)), sess.History[19].Content)
	assert.Equal(t, string(rune('a'+5)), sess.History[0].Content)
}

func TestMemoryStore_CallerMutationDoesNotLeak(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	sess.AppendTurn(schema.Turn{Role: "user", Content: "saved"}, 20)
	require.NoError(t, store.Save(ctx, sess))

	// Mutating the handle after Save must not affect the stored copy.
	sess.History[0].Content = "mutated"

	reloaded, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "saved", reloaded.History[0].Content)
}

package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycast/relaycast/pkg/types"
)

func setupRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := DefaultRedisConfig(mr.Addr())
	cfg.TTL = 30 * time.Minute
	return mr, NewRedisStoreWithClient(client, cfg)
}

func testSession(id, owner string) *types.UploadSession {
	now := time.Now().UnixNano()
	return &types.UploadSession{
		ID:        id,
		OwnerID:   owner,
		Platform:  types.PlatformSegmented,
		FileName:  "episode.mp4",
		TotalSize: 600,
		ChunkSize: 256,
		Chunks: []types.ChunkState{
			{Index: 0, ByteStart: 0, ByteEnd: 255, Size: 256},
			{Index: 1, ByteStart: 256, ByteEnd: 511, Size: 256},
			{Index: 2, ByteStart: 512, ByteEnd: 599, Size: 88},
		},
		Status:         types.StatusInitialized,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func TestRedisStore_CreateGet(t *testing.T) {
	_, store := setupRedisStore(t)
	ctx := context.Background()

	s := testSession("s1", "owner-a")
	require.NoError(t, store.Create(ctx, s))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, s.Chunks, got.Chunks)
	assert.Equal(t, types.StatusInitialized, got.Status)

	// Duplicate ids are rejected.
	assert.ErrorIs(t, store.Create(ctx, s), ErrAlreadyExists)
}

func TestRedisStore_GetMissing(t *testing.T) {
	_, store := setupRedisStore(t)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Update(t *testing.T) {
	_, store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSession("s1", "owner-a")))

	updated, err := store.Update(ctx, "s1", func(s *types.UploadSession) error {
		s.Chunks[0].Uploaded = true
		s.Status = types.StatusUploading
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusUploading, updated.Status)
	assert.Equal(t, 1, updated.UploadedChunks())

	// Persisted, not just returned.
	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Chunks[0].Uploaded)
}

func TestRedisStore_UpdateMutatorErrorAborts(t *testing.T) {
	_, store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSession("s1", "owner-a")))

	_, err := store.Update(ctx, "s1", func(s *types.UploadSession) error {
		s.Chunks[0].Uploaded = true
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, got.Chunks[0].Uploaded, "aborted update must not persist")
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	mr, store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSession("s1", "owner-a")))

	mr.FastForward(31 * time.Minute)

	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Expired ids disappear from owner listings too.
	sessions, err := store.ListByOwner(ctx, "owner-a")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRedisStore_ListByOwner(t *testing.T) {
	_, store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSession("s1", "owner-a")))
	require.NoError(t, store.Create(ctx, testSession("s2", "owner-a")))
	require.NoError(t, store.Create(ctx, testSession("s3", "owner-b")))

	sessions, err := store.ListByOwner(ctx, "owner-a")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRedisStore_Delete(t *testing.T) {
	_, store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSession("s1", "owner-a")))
	require.NoError(t, store.Delete(ctx, "s1"))

	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	sessions, err := store.ListByOwner(ctx, "owner-a")
	require.NoError(t, err)
	assert.Empty(t, sessions)

	// Deleting twice is fine.
	assert.NoError(t, store.Delete(ctx, "s1"))
}

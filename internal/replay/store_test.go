package replay

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lightcycle-arena/server/internal/cache"
	"github.com/lightcycle-arena/server/internal/models"
)

// newTestStore dials a local Redis exactly like the teacher's historian
// tests do, skipping when no real instance is reachable (no mock broker
// used anywhere in the retrieval pack for this client).
func newTestStore(t *testing.T) *Store {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skip("no local redis reachable, skipping replay store integration test")
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(&cache.Store{Rdb: rdb}, models.MaxReplaysPerUser)
}

func buildFilledRecorder(winner string) *Recorder {
	r := New()
	r.Begin("arena", models.InitialState{GridSize: 40, Players: []models.Player{{ID: "p1"}}})
	r.Tick()
	r.RecordEvent("gameOver", map[string]interface{}{"winner": winner, "draw": winner == ""})
	return r
}

func TestSaveLoadDeleteRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Save(ctx, buildFilledRecorder("p1"), "userA")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	t.Cleanup(func() { _ = store.Delete(ctx, "userA", id) })

	data, ok, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "p1", data.Metadata.Winner)

	index, err := store.Index(ctx, "userA")
	require.NoError(t, err)
	require.Len(t, index.Replays, 1)
	require.Equal(t, id, index.Replays[0].ReplayID)
	require.Empty(t, index.Replays[0].Metadata.UserID, "index entries must not carry the owning user id")

	require.NoError(t, store.Delete(ctx, "userA", id))
	_, ok, err = store.Load(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSaveHonorsConfiguredRetentionCap(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skip("no local redis reachable, skipping replay store integration test")
	}
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewStore(&cache.Store{Rdb: rdb}, 2)
	userID := "userC"
	var ids []string
	for i := 0; i < 4; i++ {
		id, err := store.Save(context.Background(), buildFilledRecorder("p1"), userID)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	t.Cleanup(func() {
		index, _ := store.Index(context.Background(), userID)
		for _, e := range index.Replays {
			_ = store.Delete(context.Background(), userID, e.ReplayID)
		}
	})

	index, err := store.Index(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, index.Replays, 2, "retention cap passed to NewStore must be honored, not the package default")
}

func TestSaveTruncatesToMaxReplaysPerUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := "userB"

	var ids []string
	for i := 0; i < models.MaxReplaysPerUser+3; i++ {
		id, err := store.Save(ctx, buildFilledRecorder("p1"), userID)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	t.Cleanup(func() {
		index, _ := store.Index(ctx, userID)
		for _, e := range index.Replays {
			_ = store.Delete(ctx, userID, e.ReplayID)
		}
	})

	index, err := store.Index(ctx, userID)
	require.NoError(t, err)
	require.Len(t, index.Replays, models.MaxReplaysPerUser)

	// the earliest saved entries must have been evicted and their blobs deleted.
	_, ok, err := store.Load(ctx, ids[0])
	require.NoError(t, err)
	require.False(t, ok)

	// the most recent entry must be first (newest-first ordering).
	require.Equal(t, ids[len(ids)-1], index.Replays[0].ReplayID)
}

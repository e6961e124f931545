package livestate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/quizarena/engine/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb), mr
}

func TestStore_SetGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := domain.NewLiveState("s1", domain.ModeQuickDuel, domain.TierMedium,
		nil, time.Now().Add(time.Minute), []string{"p1", "p2"})
	state.Scores["p1"] = 10

	require.NoError(t, store.Set(ctx, state))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Scores["p1"])
	assert.Equal(t, domain.ModeQuickDuel, got.Mode)
}

func TestStore_GetMissingIsNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	state := domain.NewLiveState("s1", domain.ModePractice, domain.TierEasy, nil, time.Time{}, []string{"p1"})
	require.NoError(t, store.Set(ctx, state))

	require.NoError(t, store.Delete(ctx, "s1"))
	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ListActiveSessionIDs(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		state := domain.NewLiveState(id, domain.ModeTimeAttack, domain.TierHard, nil, time.Time{}, []string{"p1"})
		require.NoError(t, store.Set(ctx, state))
	}

	ids, err := store.ListActiveSessionIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2", "s3"}, ids)
}

func TestStore_FFFTimerJobIDLifecycle(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	got, err := store.FFFTimerJobID(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, store.SetFFFTimerJobID(ctx, "s1", "job-1"))
	got, err = store.FFFTimerJobID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got)

	require.NoError(t, store.ClearFFFTimerJobID(ctx, "s1"))
	got, err = store.FFFTimerJobID(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

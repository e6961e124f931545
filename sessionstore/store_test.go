package sessionstore

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizarena/engine/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUserIDs_RejectsDuplicate(t *testing.T) {
	err := validateUserIDs([]string{"u1", "u2", "u1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestValidateUserIDs_AcceptsDistinctUsers(t *testing.T) {
	assert.NoError(t, validateUserIDs([]string{"u1", "u2", "u3"}))
}

// newTestStore requires a live Postgres reachable at TEST_DATABASE_URL; the
// suite is skipped otherwise since the pack carries no embedded-Postgres
// test double (unlike miniredis for the Redis-backed components).
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping sessionstore integration test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return New(pool)
}

func TestStore_CreateActivateEnd(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, participants, err := store.Create(ctx, CreateParams{
		Mode:       domain.ModeQuickDuel,
		Difficulty: domain.TierMedium,
		UserIDs:    []string{"alice", "bob"},
		BotCount:   0,
	})
	require.NoError(t, err)
	require.Len(t, participants, 2)
	assert.Equal(t, domain.StatusWaiting, sess.Status)

	require.NoError(t, store.Activate(ctx, sess.ID))
	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)

	scores := map[string]int{participants[0].ID: 10, participants[1].ID: 0}
	require.NoError(t, store.End(ctx, sess.ID, scores))

	got, err = store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, got.Status)
}

func TestStore_CreateRejectsDuplicateUser(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.Create(context.Background(), CreateParams{
		Mode:    domain.ModeQuickDuel,
		UserIDs: []string{"alice", "alice"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestStore_GetUnknownSessionIsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

package timerqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb), mr
}

func TestDispatcher_DrainDueReturnsOnlyExpiredJobs(t *testing.T) {
	d, mr := newTestDispatcher(t)
	ctx := context.Background()

	require.NoError(t, d.Schedule(ctx, QueueGameTimers, "job-soon", []byte(`{"x":1}`), 10*time.Millisecond))
	require.NoError(t, d.Schedule(ctx, QueueGameTimers, "job-later", []byte(`{"x":2}`), time.Hour))

	jobs, err := d.DrainDue(ctx, QueueGameTimers, time.Now())
	require.NoError(t, err)
	assert.Empty(t, jobs, "nothing due yet")

	mr.FastForward(20 * time.Millisecond)
	jobs, err = d.DrainDue(ctx, QueueGameTimers, time.Now().Add(20*time.Millisecond))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-soon", jobs[0].ID)
}

func TestDispatcher_DrainDueIsExclusive(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	require.NoError(t, d.Schedule(ctx, QueueGameTimers, "job-1", []byte(`{}`), -time.Second))

	first, err := d.DrainDue(ctx, QueueGameTimers, time.Now())
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := d.DrainDue(ctx, QueueGameTimers, time.Now())
	require.NoError(t, err)
	assert.Empty(t, second, "a drained job must not be returned again")
}

func TestDispatcher_Cancel(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	require.NoError(t, d.Schedule(ctx, QueueGameTimers, "job-1", []byte(`{}`), -time.Second))
	require.NoError(t, d.Cancel(ctx, QueueGameTimers, "job-1"))

	jobs, err := d.DrainDue(ctx, QueueGameTimers, time.Now())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestDispatcher_RescheduleSameJobIDIsIdempotent(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	require.NoError(t, d.Schedule(ctx, QueueGameTimers, "job-1", []byte(`{"v":1}`), -time.Second))
	require.NoError(t, d.Schedule(ctx, QueueGameTimers, "job-1", []byte(`{"v":2}`), -time.Second))

	jobs, err := d.DrainDue(ctx, QueueGameTimers, time.Now())
	require.NoError(t, err)
	require.Len(t, jobs, 1, "rescheduling must not create a duplicate entry")
	assert.JSONEq(t, `{"v":2}`, string(jobs[0].Payload))
}

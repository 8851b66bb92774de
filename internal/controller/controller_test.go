package controller

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fa-sharp/streamgate/internal/apierr"
	"github.com/fa-sharp/streamgate/internal/streamlog"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, time.Minute, nil)
}

func TestStartThenIsActive(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)

	active, err := c.IsActive(ctx, "k1")
	require.NoError(t, err)
	require.False(t, active)

	_, err = c.Start(ctx, "k1")
	require.NoError(t, err)

	active, err = c.IsActive(ctx, "k1")
	require.NoError(t, err)
	require.True(t, active)
}

func TestStartIsDestructive(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)

	_, err := c.Start(ctx, "k1")
	require.NoError(t, err)
	_, _, err = c.WriteOne(ctx, "k1", EventIn{Event: "user", Data: "first"})
	require.NoError(t, err)

	_, err = c.Start(ctx, "k1")
	require.NoError(t, err)

	events, err := c.ListEvents(ctx, "k1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventStart, events[0].Event)
}

func TestWriteOneRejectedWhenNotActive(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)

	id, ok, err := c.WriteOne(ctx, "ghost", EventIn{Event: "user"})
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, id)

	events, err := c.ListEvents(ctx, "ghost")
	require.NoError(t, err)
	require.Len(t, events, 0, "speculative entry must not leak (invariant #3)")
}

func TestWriteOneSucceedsWhenActive(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)

	_, err := c.Start(ctx, "k1")
	require.NoError(t, err)

	id, ok, err := c.WriteOne(ctx, "k1", EventIn{Event: "user", Data: "payload"})
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, id)
}

func TestEndTransitionsToEnded(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)

	_, err := c.Start(ctx, "k1")
	require.NoError(t, err)
	require.NoError(t, c.End(ctx, "k1"))

	active, err := c.IsActive(ctx, "k1")
	require.NoError(t, err)
	require.False(t, active)

	status, _, _, err := c.Info(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, streamlog.StatusEnded, status)

	_, ok, err := c.WriteOne(ctx, "k1", EventIn{Event: "user"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCancelTransitionsToCancelled(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)

	_, err := c.Start(ctx, "k1")
	require.NoError(t, err)
	require.NoError(t, c.Cancel(ctx, "k1"))

	status, _, _, err := c.Info(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, streamlog.StatusCancelled, status)
}

func TestInfoOnAbsentStream(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)

	status, length, ttl, err := c.Info(ctx, "nope")
	require.NoError(t, err)
	require.Equal(t, "", status)
	require.Equal(t, int64(0), length)
	require.Equal(t, int64(-2), ttl)
}

func TestWriteManyRequiresActive(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)

	_, err := c.WriteMany(ctx, "ghost", []EventIn{{Event: "user"}})
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindStreamNotFound, apiErr.Kind)
}

func TestWriteManyAppendsBatch(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)

	_, err := c.Start(ctx, "k1")
	require.NoError(t, err)

	ids, err := c.WriteMany(ctx, "k1", []EventIn{
		{Event: "user", Data: "a"},
		{Event: "user", Data: "b"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
}

func TestScanFiltersToActive(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)

	_, err := c.Start(ctx, "active-1")
	require.NoError(t, err)
	_, err = c.Start(ctx, "active-2")
	require.NoError(t, err)
	require.NoError(t, c.End(ctx, "active-2"))

	summaries, err := c.Scan(ctx, "*")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "active-1", summaries[0].Key)
}

func TestListEventsIncludesTimestamp(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)

	_, err := c.Start(ctx, "k1")
	require.NoError(t, err)

	events, err := c.ListEvents(ctx, "k1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.False(t, events[0].Time.IsZero())
}

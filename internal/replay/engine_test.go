package replay

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fa-sharp/streamgate/internal/apierr"
	"github.com/fa-sharp/streamgate/internal/controller"
	"github.com/fa-sharp/streamgate/internal/pool"
	"github.com/fa-sharp/streamgate/internal/streamlog"
)

func newTestEnv(t *testing.T) (*miniredis.Miniredis, *redis.Client, *pool.ExclusivePool) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	p := pool.NewExclusive("redis://"+mr.Addr(), 4, nil)
	t.Cleanup(p.Shutdown)

	return mr, rdb, p
}

func TestOpenFailsOnMissingStream(t *testing.T) {
	ctx := context.Background()
	_, _, p := newTestEnv(t)

	_, err := Open(ctx, p, "ghost", "", nil)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindStreamNotFound, apiErr.Kind)
}

func TestOpenReplaysPriorEntriesAndDetectsEnded(t *testing.T) {
	ctx := context.Background()
	_, rdb, p := newTestEnv(t)
	ctrl := controller.New(rdb, time.Minute, nil)

	_, err := ctrl.Start(ctx, "k1")
	require.NoError(t, err)
	_, _, err = ctrl.WriteOne(ctx, "k1", controller.EventIn{Event: "user", Data: "hi"})
	require.NoError(t, err)
	require.NoError(t, ctrl.End(ctx, "k1"))

	sess, err := Open(ctx, p, "k1", "", nil)
	require.NoError(t, err)
	defer sess.Close()

	require.Len(t, sess.Prior, 3) // start, user, end
	require.True(t, sess.IsEnded)
}

func TestOpenResumesAfterLastEventID(t *testing.T) {
	ctx := context.Background()
	_, rdb, p := newTestEnv(t)
	ctrl := controller.New(rdb, time.Minute, nil)

	startID, err := ctrl.Start(ctx, "k1")
	require.NoError(t, err)
	id2, _, err := ctrl.WriteOne(ctx, "k1", controller.EventIn{Event: "user", Data: "a"})
	require.NoError(t, err)

	sess, err := Open(ctx, p, "k1", startID, nil)
	require.NoError(t, err)
	defer sess.Close()

	require.Len(t, sess.Prior, 1)
	require.Equal(t, id2, sess.Prior[0].ID)
	require.False(t, sess.IsEnded)
}

func TestTailEmitsLiveEventsAndStopsOnTerminal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, rdb, p := newTestEnv(t)
	ctrl := controller.New(rdb, time.Minute, nil)

	_, err := ctrl.Start(ctx, "k1")
	require.NoError(t, err)

	sess, err := Open(ctx, p, "k1", "", nil)
	require.NoError(t, err)
	defer sess.Close()
	require.False(t, sess.IsEnded)

	tailCh := sess.Tail(ctx)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _, _ = ctrl.WriteOne(context.Background(), "k1", controller.EventIn{Event: "user", Data: "live"})
		time.Sleep(20 * time.Millisecond)
		_ = ctrl.End(context.Background(), "k1")
	}()

	var got []streamlog.Entry
	for evt := range tailCh {
		require.NoError(t, evt.Err)
		got = append(got, evt.Entry)
		if evt.Terminal {
			break
		}
	}

	require.Len(t, got, 2)
	require.Equal(t, "user", got[0].Fields[controller.EventField])
	require.Equal(t, "end", got[1].Fields[controller.EventField])
}

package streamlog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) (*Adapter, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb), rdb
}

func TestAppendAndRangeAfter(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)

	id1, err := a.Append(ctx, "k1", map[string]string{"event": "start"}, false)
	require.NoError(t, err)
	id2, err := a.Append(ctx, "k1", map[string]string{"event": "user", "data": "hi"}, true)
	require.NoError(t, err)

	entries, err := a.RangeAfter(ctx, "k1", "0-0", "+")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, id1, entries[0].ID)
	require.Equal(t, id2, entries[1].ID)

	after1, err := a.RangeAfter(ctx, "k1", id1, "+")
	require.NoError(t, err)
	require.Len(t, after1, 1)
	require.Equal(t, id2, after1[0].ID)
}

func TestMetaGetSetAndExpire(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)

	v, err := a.MetaGet(ctx, "k1", StatusField)
	require.NoError(t, err)
	require.Equal(t, "", v)

	require.NoError(t, a.MetaSet(ctx, "k1", StatusField, StatusActive))
	v, err = a.MetaGet(ctx, "k1", StatusField)
	require.NoError(t, err)
	require.Equal(t, StatusActive, v)

	require.NoError(t, a.Expire(ctx, MetaKey("k1"), time.Minute))
	ttl, err := a.TTL(ctx, MetaKey("k1"))
	require.NoError(t, err)
	require.Greater(t, ttl, int64(0))
}

func TestTTLMissingKey(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)

	ttl, err := a.TTL(ctx, "nope")
	require.NoError(t, err)
	require.Equal(t, int64(-2), ttl)
}

func TestDeleteEntry(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)

	id, err := a.Append(ctx, "k1", map[string]string{"event": "user"}, true)
	require.NoError(t, err)
	require.NoError(t, a.DeleteEntry(ctx, "k1", id))

	entries, err := a.RangeAfter(ctx, "k1", "0-0", "+")
	require.NoError(t, err)
	require.Len(t, entries, 0)
}

func TestScanMetaKeys(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)

	require.NoError(t, a.MetaSet(ctx, "alpha", StatusField, StatusActive))
	require.NoError(t, a.MetaSet(ctx, "beta", StatusField, StatusEnded))

	var found []string
	err := a.ScanMetaKeys(ctx, "*", 10, func(key string) error {
		found = append(found, key)
		return nil
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alpha", "beta"}, found)
}

func TestEntryTimeMillis(t *testing.T) {
	millis, err := EntryTimeMillis("1700000000000-3")
	require.NoError(t, err)
	require.Equal(t, int64(1700000000000), millis)

	_, err = EntryTimeMillis("malformed")
	require.Error(t, err)
}

func TestBlockingReadTimeout(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)

	id, err := a.Append(ctx, "k1", map[string]string{"event": "start"}, false)
	require.NoError(t, err)

	entries, err := a.BlockingRead(ctx, "k1", id, 50*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, entries)
}

// Package streamlog wraps the Redis Streams commands the gateway needs
// behind a small typed surface, grounded on the orchestrator's own
// streaming.Manager (XAdd/XRange/XRead usage) and on tinistream's
// redis/client.rs, reader.rs and writer.rs, which this package's method
// set mirrors one-for-one.
package streamlog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// MetaPrefix namespaces the metadata hash key for a stream, mirroring
// tinistream's "tinistream:meta:" constant but renamed for this gateway.
const MetaPrefix = "streamgate:meta:"

// MaxLen is the approximate cap applied to non-terminal appends.
const MaxLen = 500

// StatusField is the metadata hash field holding the stream's lifecycle
// status.
const StatusField = "status"

// Status values stored in the metadata hash.
const (
	StatusActive    = "active"
	StatusEnded     = "ended"
	StatusCancelled = "cancelled"
)

// Entry is one log record: a backend-assigned id and its field map.
type Entry struct {
	ID     string
	Fields map[string]string
}

// MetaKey returns the metadata hash key for a stream key.
func MetaKey(key string) string {
	return MetaPrefix + key
}

// Adapter wraps a redis.Cmdable (in practice a *redis.Client) with the
// typed operations the controller and replay engine need. Each method
// reads its command's result immediately, so it is not used with
// pipelines. It holds no connection state of its own; pooling lives one layer
// up in package pool.
type Adapter struct {
	rdb redis.Cmdable
}

// New wraps the given command executor.
func New(rdb redis.Cmdable) *Adapter {
	return &Adapter{rdb: rdb}
}

// Append appends fields to the stream at key. When capped is true the
// backend trims the stream approximately to MaxLen entries.
func (a *Adapter) Append(ctx context.Context, key string, fields map[string]string, capped bool) (string, error) {
	args := &redis.XAddArgs{
		Stream: key,
		Values: fields,
	}
	if capped {
		args.MaxLen = MaxLen
		args.Approx = true
	}
	return a.rdb.XAdd(ctx, args).Result()
}

// RangeAfter returns entries strictly after exclusiveStartID (use "0-0"
// for "from the beginning") up to endID inclusive ("+" for unbounded).
func (a *Adapter) RangeAfter(ctx context.Context, key, exclusiveStartID, endID string) ([]Entry, error) {
	if endID == "" {
		endID = "+"
	}
	start := "(" + exclusiveStartID
	msgs, err := a.rdb.XRange(ctx, key, start, endID).Result()
	if err != nil {
		return nil, err
	}
	return toEntries(msgs), nil
}

// BlockingRead waits up to blockMs for an entry strictly after startID.
// It returns (nil, nil) on timeout — callers must distinguish that from
// a genuine error and loop.
func (a *Adapter) BlockingRead(ctx context.Context, key, startID string, blockMs time.Duration) ([]Entry, error) {
	res, err := a.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{key, startID},
		Count:   1,
		Block:   blockMs,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for _, stream := range res {
		if stream.Stream == key {
			return toEntries(stream.Messages), nil
		}
	}
	return nil, nil
}

// Length returns the number of entries currently in the stream.
func (a *Adapter) Length(ctx context.Context, key string) (int64, error) {
	return a.rdb.XLen(ctx, key).Result()
}

// TTL returns the key's remaining time to live in seconds, -1 if it
// never expires, or -2 if the key is missing.
func (a *Adapter) TTL(ctx context.Context, key string) (int64, error) {
	d, err := a.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// go-redis reports "no expiry" and "missing key" as the raw -1 and -2.
	switch d {
	case -1:
		return -1, nil
	case -2:
		return -2, nil
	default:
		return int64(d / time.Second), nil
	}
}

// DeleteEntry removes a single speculative entry, used to roll back a
// write that turned out to target a non-active stream.
func (a *Adapter) DeleteEntry(ctx context.Context, key, id string) error {
	return a.rdb.XDel(ctx, key, id).Err()
}

// MetaGet reads a single field from the stream's metadata hash. A
// missing hash or field yields ("", nil).
func (a *Adapter) MetaGet(ctx context.Context, key, field string) (string, error) {
	v, err := a.rdb.HGet(ctx, MetaKey(key), field).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

// MetaSet writes a single field in the stream's metadata hash.
func (a *Adapter) MetaSet(ctx context.Context, key, field, value string) error {
	return a.rdb.HSet(ctx, MetaKey(key), field, value).Err()
}

// Expire sets a key's TTL in seconds.
func (a *Adapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return a.rdb.Expire(ctx, key, ttl).Err()
}

// Del removes the given keys unconditionally.
func (a *Adapter) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return a.rdb.Del(ctx, keys...).Err()
}

// ScanMetaKeys incrementally scans metadata hash keys matching pattern
// (applied against the stream key portion, i.e. without MetaPrefix),
// invoking fn for each candidate stream key. The scan may revisit keys;
// fn must tolerate duplicates.
func (a *Adapter) ScanMetaKeys(ctx context.Context, pattern string, pageSize int64, fn func(streamKey string) error) error {
	if pattern == "" {
		pattern = "*"
	}
	match := MetaPrefix + pattern
	var cursor uint64
	for {
		keys, next, err := a.rdb.Scan(ctx, cursor, match, pageSize).Result()
		if err != nil {
			return fmt.Errorf("scan meta keys: %w", err)
		}
		for _, k := range keys {
			if err := fn(strings.TrimPrefix(k, MetaPrefix)); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func toEntries(msgs []redis.XMessage) []Entry {
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			fields[k] = fmt.Sprint(v)
		}
		out = append(out, Entry{ID: m.ID, Fields: fields})
	}
	return out
}

// EntryTimeMillis extracts the millisecond Unix timestamp embedded in a
// backend-assigned entry id of the form "<unixMillis>-<seq>".
func EntryTimeMillis(id string) (int64, error) {
	idx := strings.IndexByte(id, '-')
	if idx < 0 {
		return 0, fmt.Errorf("malformed entry id %q", id)
	}
	return strconv.ParseInt(id[:idx], 10, 64)
}

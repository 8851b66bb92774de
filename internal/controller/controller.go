// Package controller implements the stream lifecycle operations —
// start, write, end, cancel, inspect, scan — on top of the streamlog
// adapter, grounded on tinistream's redis/client.rs and redis/writer.rs
// and on the orchestrator's streaming.Manager for the Go idiom (typed
// struct holding a *redis.Client and a *zap.Logger, methods returning
// (*apierr.Error)).
package controller

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fa-sharp/streamgate/internal/apierr"
	"github.com/fa-sharp/streamgate/internal/streamlog"
)

// EventField and DataField are the fixed field names every log entry
// uses, matching tinistream's EVENT_KEY/DATA_KEY constants.
const (
	EventField = "event"
	DataField  = "data"
)

// Event kind strings written to EventField.
const (
	EventStart  = "start"
	EventEnd    = "end"
	EventCancel = "cancel"
)

// IsTerminal reports whether an event name marks the end of a stream,
// centralizing the comparison the replay engine and controller both
// need instead of scattering string checks (see SPEC_FULL.md's design
// note on terminal detection).
func IsTerminal(event string) bool {
	return event == EventEnd || event == EventCancel
}

// EventIn is a caller-supplied event to append.
type EventIn struct {
	Event string `json:"event"`
	Data  string `json:"data,omitempty"`
}

// Summary is a scan/info result row.
type Summary struct {
	Key    string `json:"key"`
	Length int64  `json:"length"`
	TTL    int64  `json:"ttl"`
}

// TimestampedEntry is a ListEvents row, supplemented from
// tinistream's get_stream_events handler.
type TimestampedEntry struct {
	ID    string    `json:"id"`
	Time  time.Time `json:"time"`
	Event string    `json:"event"`
	Data  string    `json:"data,omitempty"`
}

// Controller implements the stream lifecycle against the static Redis
// client. It is constructed once and shared across requests, since
// go-redis clients are safe for concurrent use.
type Controller struct {
	rdb    *redis.Client
	log    *streamlog.Adapter
	logger *zap.Logger
	ttl    time.Duration
}

// New builds a Controller bound to rdb with the given default TTL for
// newly started streams.
func New(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Controller {
	return &Controller{
		rdb:    rdb,
		log:    streamlog.New(rdb),
		logger: logger,
		ttl:    ttl,
	}
}

// PoolStats exposes the static client's connection pool statistics, for
// the gateway's own /api/info and metrics reporting.
func (c *Controller) PoolStats() *redis.PoolStats {
	return c.rdb.PoolStats()
}

// IsActive reports whether the stream's metadata exists with status
// active.
func (c *Controller) IsActive(ctx context.Context, key string) (bool, error) {
	status, err := c.log.MetaGet(ctx, key, streamlog.StatusField)
	if err != nil {
		return false, apierr.Internal("read stream status", err)
	}
	return status == streamlog.StatusActive, nil
}

// Info returns the stream's status (empty if absent), length, and TTL.
func (c *Controller) Info(ctx context.Context, key string) (status string, length int64, ttl int64, err error) {
	pipe := c.rdb.Pipeline()
	statusCmd := pipe.HGet(ctx, streamlog.MetaKey(key), streamlog.StatusField)
	lenCmd := pipe.XLen(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return "", 0, 0, apierr.Internal("read stream info", err)
	}

	status, _ = statusCmd.Result()
	length, _ = lenCmd.Result()
	d, ttlErr := ttlCmd.Result()
	if ttlErr != nil && ttlErr != redis.Nil {
		return "", 0, 0, apierr.Internal("read stream ttl", ttlErr)
	}
	// go-redis reports "no expiry" and "missing key" as the raw -1 and -2.
	switch d {
	case -1:
		ttl = -1
	case -2:
		ttl = -2
	default:
		ttl = int64(d / time.Second)
	}
	return status, length, ttl, nil
}

// Scan returns every active stream whose key matches pattern ("*" for
// all), pipelining status/length/ttl lookups per candidate.
func (c *Controller) Scan(ctx context.Context, pattern string) ([]Summary, error) {
	var candidates []string
	err := c.log.ScanMetaKeys(ctx, pattern, 200, func(key string) error {
		candidates = append(candidates, key)
		return nil
	})
	if err != nil {
		return nil, apierr.Internal("scan stream keys", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	pipe := c.rdb.Pipeline()
	statusCmds := make(map[string]*redis.StringCmd, len(candidates))
	lenCmds := make(map[string]*redis.IntCmd, len(candidates))
	ttlCmds := make(map[string]*redis.DurationCmd, len(candidates))
	for _, key := range candidates {
		statusCmds[key] = pipe.HGet(ctx, streamlog.MetaKey(key), streamlog.StatusField)
		lenCmds[key] = pipe.XLen(ctx, key)
		ttlCmds[key] = pipe.TTL(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, apierr.Internal("scan stream info", err)
	}

	seen := make(map[string]bool, len(candidates))
	var out []Summary
	for _, key := range candidates {
		if seen[key] {
			continue
		}
		seen[key] = true
		status, _ := statusCmds[key].Result()
		if status != streamlog.StatusActive {
			continue
		}
		length, _ := lenCmds[key].Result()
		d, _ := ttlCmds[key].Result()
		out = append(out, Summary{Key: key, Length: length, TTL: int64(d / time.Second)})
	}
	return out, nil
}

// Start initializes a new active stream at key, destructively replacing
// any prior log and metadata (invariant #4). Callers must verify
// !IsActive first to surface ExistingStream.
func (c *Controller) Start(ctx context.Context, key string) (string, error) {
	metaKey := streamlog.MetaKey(key)
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key, metaKey)
	addCmd := pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]string{EventField: EventStart},
	})
	pipe.Expire(ctx, key, c.ttl)
	pipe.HSet(ctx, metaKey, streamlog.StatusField, streamlog.StatusActive)
	pipe.Expire(ctx, metaKey, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", apierr.Internal("start stream", err)
	}
	return addCmd.Val(), nil
}

// WriteOne appends a single event, returning the new id only if the
// stream was observed active at write time. Otherwise the speculative
// entry is rolled back via XDEL and ok is false (invariant #3: no
// speculative leaks).
func (c *Controller) WriteOne(ctx context.Context, key string, ev EventIn) (id string, ok bool, err error) {
	return WriteOneVia(ctx, c.rdb, c.logger, key, ev)
}

// WriteOneVia runs the same check-then-append-then-rollback sequence as
// Controller.WriteOne but against an arbitrary redis.Cmdable, so that
// long-lived callers holding an exclusive pool connection (the ingest
// adapters) can reuse it without going through the shared static client.
func WriteOneVia(ctx context.Context, rdb redis.Cmdable, logger *zap.Logger, key string, ev EventIn) (id string, ok bool, err error) {
	metaKey := streamlog.MetaKey(key)
	fields := map[string]string{EventField: ev.Event}
	if ev.Data != "" {
		fields[DataField] = ev.Data
	}

	pipe := rdb.TxPipeline()
	statusCmd := pipe.HGet(ctx, metaKey, streamlog.StatusField)
	addCmd := pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: fields,
		MaxLen: streamlog.MaxLen,
		Approx: true,
	})
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return "", false, apierr.Internal("write event", err)
	}

	status, _ := statusCmd.Result()
	newID := addCmd.Val()
	if status != streamlog.StatusActive {
		adapter := streamlog.New(rdb)
		if delErr := adapter.DeleteEntry(ctx, key, newID); delErr != nil && logger != nil {
			logger.Warn("failed to roll back speculative entry",
				zap.String("key", key), zap.String("id", newID), zap.Error(delErr))
		}
		return "", false, nil
	}
	return newID, true, nil
}

// WriteMany appends a batch of events after a single upfront activity
// check. Per SPEC_FULL.md's recorded open-question decision, individual
// entries are not re-checked against status once the batch begins, so a
// concurrent termination mid-batch can still admit later entries.
func (c *Controller) WriteMany(ctx context.Context, key string, events []EventIn) ([]string, error) {
	active, err := c.IsActive(ctx, key)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, apierr.New(apierr.KindStreamNotFound, "stream is not active")
	}

	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(events))
	for i, ev := range events {
		fields := map[string]string{EventField: ev.Event}
		if ev.Data != "" {
			fields[DataField] = ev.Data
		}
		cmds[i] = pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: key,
			Values: fields,
			MaxLen: streamlog.MaxLen,
			Approx: true,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, apierr.Internal("write events", err)
	}
	ids := make([]string, len(cmds))
	for i, cmd := range cmds {
		ids[i] = cmd.Val()
	}
	return ids, nil
}

// End appends a terminal "end" entry and marks the stream ended.
func (c *Controller) End(ctx context.Context, key string) error {
	return c.terminate(ctx, key, EventEnd, streamlog.StatusEnded)
}

// Cancel appends a terminal "cancel" entry and marks the stream
// cancelled.
func (c *Controller) Cancel(ctx context.Context, key string) error {
	return c.terminate(ctx, key, EventCancel, streamlog.StatusCancelled)
}

func (c *Controller) terminate(ctx context.Context, key, event, status string) error {
	metaKey := streamlog.MetaKey(key)
	pipe := c.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]string{EventField: event},
	})
	pipe.HSet(ctx, metaKey, streamlog.StatusField, status)
	if _, err := pipe.Exec(ctx); err != nil {
		return apierr.Internal("terminate stream", err)
	}
	return nil
}

// ListEvents returns every entry in the stream annotated with a
// human-readable timestamp derived from the entry id, supplementing the
// read-only inspection endpoint tinistream exposes as get_stream_events.
func (c *Controller) ListEvents(ctx context.Context, key string) ([]TimestampedEntry, error) {
	entries, err := c.log.RangeAfter(ctx, key, "0-0", "+")
	if err != nil {
		return nil, apierr.Internal("list stream events", err)
	}
	out := make([]TimestampedEntry, 0, len(entries))
	for _, e := range entries {
		millis, tErr := streamlog.EntryTimeMillis(e.ID)
		var t time.Time
		if tErr == nil {
			t = time.UnixMilli(millis).UTC()
		}
		out = append(out, TimestampedEntry{
			ID:    e.ID,
			Time:  t,
			Event: e.Fields[EventField],
			Data:  e.Fields[DataField],
		})
	}
	return out, nil
}

// Package replay implements the replay-then-tail fan-out algorithm: for
// a new consumer connection, return every prior entry after an optional
// resume point, then block on the log for live entries until a terminal
// entry or disconnect. Grounded on the orchestrator's
// internal/httpapi/streaming.go and websocket.go (the select-loop shape
// around a subscription channel plus heartbeat ticker) and on
// tinistream's redis/reader.rs (next_event/xread, get_prev_events).
package replay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fa-sharp/streamgate/internal/apierr"
	"github.com/fa-sharp/streamgate/internal/controller"
	"github.com/fa-sharp/streamgate/internal/pool"
	"github.com/fa-sharp/streamgate/internal/streamlog"
)

// TailBlockTimeout is the per-iteration blocking-read wait, also the
// cancellation-check granularity of the tail loop.
const TailBlockTimeout = 10 * time.Second

// HeartbeatInterval is how often a keepalive frame is sent while
// waiting in the tail phase.
const HeartbeatInterval = 15 * time.Second

// TailEvent is one item produced by a Session's tail channel: either a
// log entry (possibly terminal) or a terminal error.
type TailEvent struct {
	Entry    streamlog.Entry
	Terminal bool
	Err      error
}

// Session holds one consumer connection's exclusive backend connection
// and cursor position across the replay and tail phases. Callers must
// call Close exactly once.
type Session struct {
	key     string
	conn    *pool.Conn
	adapter *streamlog.Adapter
	logger  *zap.Logger

	Prior   []streamlog.Entry
	Status  string
	LastID  string
	IsEnded bool
}

// Open acquires an exclusive connection and performs the Init/Replay
// phases: a range-after read followed by a metadata status read, issued
// as two separate round trips on the exclusive connection (not
// pipelined). resumeAfter may be empty to replay from the beginning.
func Open(ctx context.Context, p *pool.ExclusivePool, key, resumeAfter string, logger *zap.Logger) (*Session, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		if err == pool.ErrPoolExhausted {
			return nil, apierr.New(apierr.KindTooManyRequests, "too many concurrent stream connections")
		}
		return nil, apierr.Internal("acquire exclusive connection", err)
	}

	adapter := streamlog.New(conn.Client)
	start := resumeAfter
	if start == "" {
		start = "0-0"
	}

	entries, rangeErr := adapter.RangeAfter(ctx, key, start, "+")
	if rangeErr != nil {
		conn.Release()
		return nil, apierr.Internal("replay stream range", rangeErr)
	}
	status, statusErr := adapter.MetaGet(ctx, key, streamlog.StatusField)
	if statusErr != nil {
		conn.Release()
		return nil, apierr.Internal("read stream status", statusErr)
	}
	if status == "" {
		conn.Release()
		return nil, apierr.New(apierr.KindStreamNotFound, "stream not found")
	}

	lastID := start
	if n := len(entries); n > 0 {
		lastID = entries[n-1].ID
	}

	return &Session{
		key:     key,
		conn:    conn,
		adapter: adapter,
		logger:  logger,
		Prior:   entries,
		Status:  status,
		LastID:  lastID,
		IsEnded: status != streamlog.StatusActive,
	}, nil
}

// Close releases the session's exclusive connection. Safe to call
// exactly once; callers should defer it immediately after Open succeeds.
func (s *Session) Close() {
	s.conn.Release()
}

// Tail starts the live-follow loop and returns a channel of TailEvents.
// The channel is closed after a terminal entry, an error, or ctx
// cancellation. The caller's select loop is responsible for driving a
// heartbeat ticker alongside this channel — Tail does not emit
// heartbeats itself, since SSE and WebSocket encode them differently.
func (s *Session) Tail(ctx context.Context) <-chan TailEvent {
	out := make(chan TailEvent)
	go func() {
		defer close(out)
		lastID := s.LastID
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			entries, err := s.adapter.BlockingRead(ctx, s.key, lastID, TailBlockTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case out <- TailEvent{Err: apierr.Internal("tail stream read", err)}:
				case <-ctx.Done():
				}
				return
			}
			if len(entries) == 0 {
				// Blocking-read timeout: loop again. This is also the
				// cancellation check granularity for this goroutine.
				continue
			}

			e := entries[0]
			lastID = e.ID
			terminal := controller.IsTerminal(e.Fields[controller.EventField])
			select {
			case out <- TailEvent{Entry: e, Terminal: terminal}:
			case <-ctx.Done():
				return
			}
			if terminal {
				return
			}
		}
	}()
	return out
}

package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fa-sharp/streamgate/internal/apierr"
	"github.com/fa-sharp/streamgate/internal/frame"
	"github.com/fa-sharp/streamgate/internal/replay"
)

// websocketReplayDelay is a workaround for peer buffering that drops
// the first WebSocket message when sent immediately after the upgrade
// handshake. Root cause unconfirmed; kept as a named constant per
// SPEC_FULL.md's recorded open-question decision rather than tuned away.
const websocketReplayDelay = 200 * time.Millisecond

func (s *Server) resumeFrom(r *http.Request) string {
	if id := r.Header.Get("Last-Event-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("last_event_id")
}

func (s *Server) handleClientSSE(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeError(w, apierr.New(apierr.KindBadRequest, "key is required"))
		return
	}
	if err := s.consumer.Check(r, key); err != nil {
		s.writeError(w, err)
		return
	}

	sess, err := replay.Open(r.Context(), s.exclPool, key, s.resumeFrom(r), s.logger)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer sess.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, apierr.Internal("response writer does not support flushing", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, e := range sess.Prior {
		_, _ = w.Write(frame.SSE(e))
	}
	flusher.Flush()

	if sess.IsEnded {
		return
	}

	ctx := r.Context()
	tailCh := sess.Tail(ctx)
	heartbeat := time.NewTicker(replay.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = w.Write(frame.SSEHeartbeat())
			flusher.Flush()
		case evt, open := <-tailCh:
			if !open {
				return
			}
			if evt.Err != nil {
				_, _ = w.Write(frame.SSEError(evt.Err.Error()))
				flusher.Flush()
				return
			}
			_, _ = w.Write(frame.SSE(evt.Entry))
			flusher.Flush()
			if evt.Terminal {
				return
			}
		}
	}
}

func (s *Server) handleClientWS(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeError(w, apierr.New(apierr.KindBadRequest, "key is required"))
		return
	}
	if err := s.consumer.Check(r, key); err != nil {
		s.writeError(w, err)
		return
	}

	sess, err := replay.Open(r.Context(), s.exclPool, key, s.resumeFrom(r), s.logger)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// ctx governs the tail goroutine's lifetime. It must be cancelled, and
	// the tail goroutine torn down, before sess.Close() hands the
	// exclusive connection back to the pool's free list — otherwise a
	// still-blocking read on that connection could overlap with whoever
	// acquires it next (SPEC_FULL.md §5's connection-exclusivity
	// guarantee). Deferred in reverse order so cancel runs first.
	ctx, cancel := context.WithCancel(r.Context())
	defer sess.Close()
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// The connection is hijacked by Upgrade, so a client disconnect is
	// only observed here, via a failing read; cancel propagates that to
	// the tail goroutine instead of waiting for the next ping write to
	// fail.
	go s.wsReadPump(conn, cancel)

	time.Sleep(websocketReplayDelay)
	if err := conn.WriteJSON(frame.ToJSONEvents(sess.Prior)); err != nil {
		return
	}

	if sess.IsEnded {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
		return
	}

	tailCh := sess.Tail(ctx)
	// Runs before the deferred sess.Close: cancel the tail goroutine and
	// wait for it to close tailCh, so its blocking read has finished
	// before the connection goes back to the pool.
	defer func() {
		cancel()
		for range tailCh {
		}
	}()
	ping := time.NewTicker(replay.HeartbeatInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case evt, open := <-tailCh:
			if !open {
				return
			}
			if evt.Err != nil {
				_ = conn.WriteJSON(frame.Failure(evt.Err.Error()))
				return
			}
			if err := conn.WriteJSON(frame.ToJSONEvent(evt.Entry)); err != nil {
				return
			}
			if evt.Terminal {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
				return
			}
		}
	}
}

// wsReadPump discards whatever the client sends; consumers are not
// expected to send data, mirroring the orchestrator's websocket.go
// reader pump. On the first read error (including the client closing
// the connection) it calls cancel so the tail goroutine stops before the
// handler releases its exclusive connection back to the pool.
func (s *Server) wsReadPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Package ingest implements the two producer ingest adapters: a
// line-delimited JSON HTTP body and a WebSocket-driven stream, both
// writing through controller.WriteOneVia against an exclusive pool
// connection, grounded on tinistream's data/json_stream.rs and
// data/ws_stream.rs.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fa-sharp/streamgate/internal/apierr"
	"github.com/fa-sharp/streamgate/internal/controller"
	"github.com/fa-sharp/streamgate/internal/frame"
	"github.com/fa-sharp/streamgate/internal/pool"
	"github.com/fa-sharp/streamgate/internal/streamlog"
)

// MaxJSONStreamBytes caps the total size of a line-delimited JSON
// ingest body.
const MaxJSONStreamBytes = 512 * 1024

type lineEvent struct {
	Event string `json:"event"`
	Data  string `json:"data,omitempty"`
}

// JSONStreamResult is the response body for a line-delimited ingest
// request: ids of successfully written events plus error messages for
// malformed or rejected lines.
type JSONStreamResult struct {
	IDs    []string `json:"ids"`
	Errors []string `json:"errors,omitempty"`
}

// JSONStream consumes newline-delimited JSON objects from body, up to
// MaxJSONStreamBytes, writing each as an event on key. Lines that don't
// start with "{" after trimming are silently skipped. Mirroring
// add_events_json_stream, the loop stops consuming input entirely the
// first time a write is rejected because the stream is no longer
// active — it does not keep draining and rejecting the remainder.
func JSONStream(ctx context.Context, p *pool.ExclusivePool, logger *zap.Logger, key string, body io.Reader) (*JSONStreamResult, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		if errors.Is(err, pool.ErrPoolExhausted) {
			return nil, apierr.New(apierr.KindTooManyRequests, "too many concurrent ingest connections")
		}
		return nil, apierr.Internal("acquire exclusive connection", err)
	}
	defer conn.Release()

	adapter := streamlog.New(conn.Client)
	status, err := adapter.MetaGet(ctx, key, streamlog.StatusField)
	if err != nil {
		return nil, apierr.Internal("read stream status", err)
	}
	if status != streamlog.StatusActive {
		return nil, apierr.New(apierr.KindStreamNotFound, "stream is not active")
	}

	limited := io.LimitReader(body, MaxJSONStreamBytes+1)
	scanner := bufio.NewScanner(limited)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxJSONStreamBytes+1)

	result := &JSONStreamResult{}
	var totalRead int
	for scanner.Scan() {
		line := scanner.Text()
		totalRead += len(line) + 1
		if totalRead > MaxJSONStreamBytes {
			result.Errors = append(result.Errors, "request body exceeded size limit")
			break
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed[0] != '{' {
			continue
		}

		var ev lineEvent
		if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
			result.Errors = append(result.Errors, "malformed event: "+err.Error())
			continue
		}

		id, ok, err := controller.WriteOneVia(ctx, conn.Client, logger, key, controller.EventIn{Event: ev.Event, Data: ev.Data})
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if !ok {
			result.Errors = append(result.Errors, "stream is no longer active")
			break
		}
		result.IDs = append(result.IDs, id)
	}
	if err := scanner.Err(); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	return result, nil
}

// WebSocket consumes events from a WebSocket connection, writing each
// as an event on key and sending a per-message ack. Mirroring
// process_websocket_events: only a write that turns out to target an
// inactive stream closes the connection; any other per-event error
// (malformed JSON, transport hiccup) sends an error ack and the
// connection stays open for the next message.
func WebSocket(ctx context.Context, p *pool.ExclusivePool, logger *zap.Logger, key string, conn *websocket.Conn) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		if errors.Is(err, pool.ErrPoolExhausted) {
			return apierr.New(apierr.KindTooManyRequests, "too many concurrent ingest connections")
		}
		return apierr.Internal("acquire exclusive connection", err)
	}
	defer c.Release()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return nil
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var ev lineEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			_ = conn.WriteJSON(frame.Failure("malformed event: " + err.Error()))
			continue
		}

		id, ok, err := controller.WriteOneVia(ctx, c.Client, logger, key, controller.EventIn{Event: ev.Event, Data: ev.Data})
		if err != nil {
			_ = conn.WriteJSON(frame.Failure(err.Error()))
			continue
		}
		if !ok {
			_ = conn.WriteJSON(frame.Failure("stream is no longer active"))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
			return nil
		}
		if err := conn.WriteJSON(frame.Success(id)); err != nil {
			return nil
		}
	}
}

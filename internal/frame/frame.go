// Package frame converts stream log entries into the wire
// representations consumers receive: SSE text frames and JSON messages
// (single, batched, and ingest acks), grounded on tinistream's
// redis/util.rs (stream_event_to_sse / stream_event_to_json).
package frame

import (
	"fmt"

	"github.com/fa-sharp/streamgate/internal/controller"
	"github.com/fa-sharp/streamgate/internal/streamlog"
)

// SSE renders one log entry as a Server-Sent Events frame. The data:
// line is prefixed with exactly one space per the SSE specification,
// and id: is included so clients can resume via Last-Event-ID.
func SSE(e streamlog.Entry) []byte {
	event := e.Fields[controller.EventField]
	if event == "" {
		event = "unknown"
	}
	data := e.Fields[controller.DataField]
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", e.ID, event, data))
}

// SSEHeartbeat is the keepalive comment line sent on the heartbeat
// interval while tailing.
func SSEHeartbeat() []byte {
	return []byte(": ping\n\n")
}

// SSEError renders a terminal error as an SSE "error" event.
func SSEError(message string) []byte {
	return []byte(fmt.Sprintf("event: error\ndata: %s\n\n", message))
}

// JSONEvent is the JSON shape of a single log entry, field map plus id.
type JSONEvent struct {
	ID    string `json:"id"`
	Event string `json:"event"`
	Data  string `json:"data,omitempty"`
}

// ToJSONEvent converts one log entry into its JSON representation.
func ToJSONEvent(e streamlog.Entry) JSONEvent {
	return JSONEvent{
		ID:    e.ID,
		Event: e.Fields[controller.EventField],
		Data:  e.Fields[controller.DataField],
	}
}

// ToJSONEvents converts a batch of log entries, used for the WebSocket
// prior-events array message.
func ToJSONEvents(entries []streamlog.Entry) []JSONEvent {
	out := make([]JSONEvent, len(entries))
	for i, e := range entries {
		out[i] = ToJSONEvent(e)
	}
	return out
}

// IngestAck is the per-message acknowledgement sent back to an
// ingesting producer, either a success with the new entry id or an
// error with a message.
type IngestAck struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Success builds a success ack for the given entry id.
func Success(id string) IngestAck {
	return IngestAck{Type: "success", ID: id}
}

// Failure builds an error ack with the given message.
func Failure(message string) IngestAck {
	return IngestAck{Type: "error", Message: message}
}

package frame

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fa-sharp/streamgate/internal/controller"
	"github.com/fa-sharp/streamgate/internal/streamlog"
)

func TestSSEFormatsDataWithSingleLeadingSpace(t *testing.T) {
	e := streamlog.Entry{
		ID: "123-0",
		Fields: map[string]string{
			controller.EventField: "user",
			controller.DataField:  "hello",
		},
	}
	out := string(SSE(e))
	assert.True(t, strings.Contains(out, "data: hello\n"))
	assert.False(t, strings.Contains(out, "data:  hello"))
	assert.True(t, strings.HasPrefix(out, "id: 123-0\n"))
	assert.True(t, strings.Contains(out, "event: user\n"))
	assert.True(t, strings.HasSuffix(out, "\n\n"))
}

func TestSSEDefaultsUnknownEvent(t *testing.T) {
	e := streamlog.Entry{ID: "1-0", Fields: map[string]string{}}
	out := string(SSE(e))
	assert.True(t, strings.Contains(out, "event: unknown\n"))
}

func TestToJSONEventsPreservesOrder(t *testing.T) {
	entries := []streamlog.Entry{
		{ID: "1-0", Fields: map[string]string{controller.EventField: "start"}},
		{ID: "2-0", Fields: map[string]string{controller.EventField: "user", controller.DataField: "x"}},
	}
	out := ToJSONEvents(entries)
	assert.Len(t, out, 2)
	assert.Equal(t, "1-0", out[0].ID)
	assert.Equal(t, "2-0", out[1].ID)
	assert.Equal(t, "x", out[1].Data)
}

func TestSuccessAndFailureAcks(t *testing.T) {
	ok := Success("5-0")
	assert.Equal(t, "success", ok.Type)
	assert.Equal(t, "5-0", ok.ID)

	bad := Failure("stream ended")
	assert.Equal(t, "error", bad.Type)
	assert.Equal(t, "stream ended", bad.Message)
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/tablehub/tablehub/internal/application/narration"
)

func sse(events ...string) string {
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "event: message\ndata: %s\n\n", e)
	}
	return b.String()
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{URL: srv.URL, APIKey: "sk-test", Model: "narrator-1"}, zerolog.Nop())
}

func drain(t *testing.T, s narration.EngineStream) ([]narration.EngineEvent, error) {
	t.Helper()
	defer s.Close()
	var out []narration.EngineEvent
	for {
		ev, err := s.Recv()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

func TestStream_TextAndCompletion(t *testing.T) {
	var body []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sse(
			`{"type":"response.created","response":{"id":"resp_1"}}`,
			`{"type":"response.output_text.delta","delta":"The door "}`,
			`{"type":"response.output_text.delta","delta":"creaks."}`,
			`{"type":"response.completed","response":{"id":"resp_1"}}`,
		))
	})

	s, err := c.Stream(context.Background(), narration.EngineRequest{
		Handle:       "resp_0",
		Instructions: "narrate",
		Input:        "I open the door",
		Tools: []narration.ToolDefinition{{
			Name:   "roll_dice",
			Schema: json.RawMessage(`{"type":"object"}`),
		}},
	})
	require.NoError(t, err)
	events, err := drain(t, s)
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, narration.EngineTextDelta, events[0].Kind)
	assert.Equal(t, "The door ", events[0].Text)
	assert.Equal(t, narration.EngineCompleted, events[2].Kind)
	assert.Equal(t, "resp_1", events[2].Handle)

	req := gjson.ParseBytes(body)
	assert.Equal(t, "narrator-1", req.Get("model").String())
	assert.Equal(t, "resp_0", req.Get("previous_response_id").String())
	assert.True(t, req.Get("stream").Bool())
	assert.Equal(t, "I open the door", req.Get("input.0.content").String())
	assert.Equal(t, "function", req.Get("tools.0.type").String())
	assert.Equal(t, "roll_dice", req.Get("tools.0.name").String())
}

func TestStream_ToolCallAndResults(t *testing.T) {
	var body []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, sse(
			`{"type":"response.created","response":{"id":"resp_2"}}`,
			`{"type":"response.output_item.done","item":{"type":"message"}}`,
			`{"type":"response.output_item.done","item":{"type":"function_call","call_id":"call_7","name":"roll_dice","arguments":"{\"expression\":\"1d20\"}"}}`,
			`{"type":"response.completed","response":{"id":"resp_2"}}`,
		))
	})

	s, err := c.Stream(context.Background(), narration.EngineRequest{
		Handle:      "resp_1",
		ToolResults: []narration.ToolResult{{CallID: "call_6", Output: "ok"}},
	})
	require.NoError(t, err)
	events, err := drain(t, s)
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, narration.EngineToolCall, events[0].Kind)
	assert.Equal(t, "call_7", events[0].Call.ID)
	assert.Equal(t, "roll_dice", events[0].Call.Name)
	assert.JSONEq(t, `{"expression":"1d20"}`, string(events[0].Call.Input))

	req := gjson.ParseBytes(body)
	assert.Equal(t, "function_call_output", req.Get("input.0.type").String())
	assert.Equal(t, "call_6", req.Get("input.0.call_id").String())
	assert.Equal(t, int64(1), req.Get("input.#").Int())
}

func TestStream_StatusErrorCarriesMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"Previous response with id 'resp_x' not found."}}`)
	})

	_, err := c.Stream(context.Background(), narration.EngineRequest{Handle: "resp_x", Input: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "not found")
}

func TestStream_FailedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, sse(
			`{"type":"response.output_text.delta","delta":"Once"}`,
			`{"type":"response.failed","response":{"error":{"message":"overloaded"}}}`,
		))
	})

	s, err := c.Stream(context.Background(), narration.EngineRequest{Input: "hi"})
	require.NoError(t, err)
	events, err := drain(t, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
	assert.Len(t, events, 1)
}

func TestStream_TruncatedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, sse(`{"type":"response.output_text.delta","delta":"Once"}`))
	})

	s, err := c.Stream(context.Background(), narration.EngineRequest{Input: "hi"})
	require.NoError(t, err)
	_, err = drain(t, s)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestStream_NotConfigured(t *testing.T) {
	c := New(Config{}, zerolog.Nop())
	_, err := c.Stream(context.Background(), narration.EngineRequest{Input: "hi"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

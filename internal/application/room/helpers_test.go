package room

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tablehub/tablehub/internal/application/narration"
	"github.com/tablehub/tablehub/internal/domain/protocol"
)

// respondFunc scripts one engine invocation. n counts invocations from 0.
type respondFunc func(ctx context.Context, n int, req narration.EngineRequest) ([]narration.EngineEvent, error)

type fakeEngine struct {
	mu       sync.Mutex
	n        int
	respond  respondFunc
	requests []narration.EngineRequest
}

func (f *fakeEngine) Stream(ctx context.Context, req narration.EngineRequest) (narration.EngineStream, error) {
	f.mu.Lock()
	n := f.n
	f.n++
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	events, err := f.respond(ctx, n, req)
	if err != nil {
		return nil, err
	}
	return &sliceStream{events: events}, nil
}

func (f *fakeEngine) Requests() []narration.EngineRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]narration.EngineRequest(nil), f.requests...)
}

type sliceStream struct {
	events []narration.EngineEvent
}

func (s *sliceStream) Recv() (narration.EngineEvent, error) {
	if len(s.events) == 0 {
		return narration.EngineEvent{}, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *sliceStream) Close() error { return nil }

func reply(text string) []narration.EngineEvent {
	return []narration.EngineEvent{
		{Kind: narration.EngineTextDelta, Text: text},
		{Kind: narration.EngineCompleted, Handle: "resp"},
	}
}

func toolCall(id, name string, input any) []narration.EngineEvent {
	raw, _ := json.Marshal(input)
	return []narration.EngineEvent{
		{Kind: narration.EngineToolCall, Call: narration.ToolCall{ID: id, Name: name, Input: raw}},
		{Kind: narration.EngineCompleted, Handle: "resp"},
	}
}

func replyEngine(text string) *fakeEngine {
	return &fakeEngine{respond: func(context.Context, int, narration.EngineRequest) ([]narration.EngineEvent, error) {
		return reply(text), nil
	}}
}

type recorder struct {
	mu     sync.Mutex
	frames []protocol.Frame
}

func (r *recorder) Send(f protocol.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return true
}

func (r *recorder) Frames() []protocol.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Frame(nil), r.frames...)
}

func (r *recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recorder) Has(frameType string) bool {
	_, ok := r.Last(frameType)
	return ok
}

func (r *recorder) Last(frameType string) (protocol.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i].Type == frameType {
			return r.frames[i], true
		}
	}
	return protocol.Frame{}, false
}

func (r *recorder) HasStatus(s protocol.Status) bool {
	for _, f := range r.Frames() {
		if f.Type == protocol.TypeSessionStatus && f.Status == s {
			return true
		}
	}
	return false
}

func testDeps(engine narration.Engine) Dependencies {
	return Dependencies{Engine: engine, Logger: zerolog.Nop()}
}

func newTestRoom(t *testing.T, engine narration.Engine) *Room {
	t.Helper()
	r, err := New("ABCD", "The Sunken Crypt", testDeps(engine), 0)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func join(t *testing.T, r *Room, name, characterID string) (string, *recorder) {
	t.Helper()
	rec := &recorder{}
	id, err := r.AddParticipant(rec, Seat{Name: name, CharacterID: characterID, CharacterName: characterID})
	require.NoError(t, err)
	return id, rec
}

package room

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablehub/tablehub/internal/domain/protocol"
)

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	g := NewRegistry(testDeps(replyEngine("ok")), opts)
	t.Cleanup(g.Close)
	return g
}

func TestRandomCode(t *testing.T) {
	for i := 0; i < 200; i++ {
		code := RandomCode()
		require.Len(t, code, CodeLength)
		for _, c := range code {
			assert.True(t, strings.ContainsRune(CodeAlphabet, c), "unexpected %q", c)
		}
	}
	assert.Len(t, CodeAlphabet, 32)
	assert.NotContains(t, CodeAlphabet, "O")
	assert.NotContains(t, CodeAlphabet, "I")
	assert.NotContains(t, CodeAlphabet, "0")
	assert.NotContains(t, CodeAlphabet, "1")
}

func TestCreateRoom_NoCollisionsOverHundredRooms(t *testing.T) {
	g := newTestRegistry(t, Options{})
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, r, err := g.CreateRoom("topic")
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
	assert.Equal(t, 100, g.Len())
}

func TestCreateRoom_RetriesOnCollision(t *testing.T) {
	g := newTestRegistry(t, Options{})
	draws := []string{"AAAA", "AAAA", "AAAA", "BBBB"}
	g.codes = func() string {
		c := draws[0]
		draws = draws[1:]
		return c
	}

	first, _, err := g.CreateRoom("")
	require.NoError(t, err)
	second, _, err := g.CreateRoom("")
	require.NoError(t, err)
	assert.Equal(t, "AAAA", first)
	assert.Equal(t, "BBBB", second)
}

func TestCreateRoom_CodeExhausted(t *testing.T) {
	g := newTestRegistry(t, Options{})
	g.codes = func() string { return "ZZZZ" }

	_, _, err := g.CreateRoom("")
	require.NoError(t, err)
	_, _, err = g.CreateRoom("")
	assert.ErrorIs(t, err, ErrCodeExhausted)
	assert.Equal(t, 1, g.Len())
}

func TestFindRoom_CaseInsensitive(t *testing.T) {
	g := newTestRegistry(t, Options{})
	code, r, err := g.CreateRoom("The Sunken Crypt")
	require.NoError(t, err)

	assert.Same(t, r, g.FindRoom(strings.ToLower(code)))
	assert.Same(t, r, g.FindRoom(" "+code+" "))
	assert.Nil(t, g.FindRoom("XXXX"))
	assert.Equal(t, "The Sunken Crypt", r.Topic())
}

func TestParticipantIndex(t *testing.T) {
	g := newTestRegistry(t, Options{})
	code, r, err := g.CreateRoom("")
	require.NoError(t, err)
	id, err := r.AddParticipant(&recorder{}, Seat{Name: "Ana"})
	require.NoError(t, err)

	g.RegisterParticipant(id, strings.ToLower(code))
	assert.Same(t, r, g.RoomForParticipant(id))

	g.UnregisterParticipant(id)
	assert.Nil(t, g.RoomForParticipant(id))
}

func TestScheduleDestruction_ReconnectCancels(t *testing.T) {
	g := newTestRegistry(t, Options{GracePeriod: 30 * time.Millisecond})
	code, r, err := g.CreateRoom("")
	require.NoError(t, err)
	id, err := r.AddParticipant(&recorder{}, Seat{Name: "Ana"})
	require.NoError(t, err)
	g.RegisterParticipant(id, code)
	require.NoError(t, r.HandleParticipantMessage(t.Context(), id, "hello"))

	all, err := r.DisconnectParticipant(id)
	require.NoError(t, err)
	require.True(t, all)
	require.NoError(t, g.ScheduleDestruction(code, g.GracePeriod()))
	assert.True(t, r.DestructionPending())

	rec := &recorder{}
	require.NoError(t, r.ReconnectParticipant(id, rec))
	assert.False(t, r.DestructionPending())

	time.Sleep(100 * time.Millisecond)
	assert.Same(t, r, g.FindRoom(code))
	assert.False(t, r.Closed())
	assert.Len(t, r.History(), 2)
	hist, ok := rec.Last(protocol.TypeHistory)
	require.True(t, ok)
	assert.Len(t, hist.Messages, 2)
}

func TestScheduleDestruction_JoinCancels(t *testing.T) {
	g := newTestRegistry(t, Options{})
	code, r, err := g.CreateRoom("")
	require.NoError(t, err)

	require.NoError(t, g.ScheduleDestruction(code, 30*time.Millisecond))
	_, err = r.AddParticipant(&recorder{}, Seat{Name: "Ana"})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.NotNil(t, g.FindRoom(code))
}

func TestScheduleDestruction_Expires(t *testing.T) {
	g := newTestRegistry(t, Options{})
	code, r, err := g.CreateRoom("")
	require.NoError(t, err)
	id, err := r.AddParticipant(&recorder{}, Seat{Name: "Ana"})
	require.NoError(t, err)
	g.RegisterParticipant(id, code)
	_, err = r.DisconnectParticipant(id)
	require.NoError(t, err)

	require.NoError(t, g.ScheduleDestruction(code, 10*time.Millisecond))
	require.Eventually(t, func() bool { return g.FindRoom(code) == nil }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, r.Closed())
	assert.Nil(t, g.RoomForParticipant(id))
	assert.ErrorIs(t, r.ReconnectParticipant(id, &recorder{}), ErrRoomClosed)
}

func TestScheduleDestruction_UnknownRoom(t *testing.T) {
	g := newTestRegistry(t, Options{})
	assert.ErrorIs(t, g.ScheduleDestruction("NOPE", time.Second), ErrRoomNotFound)
	assert.ErrorIs(t, g.DestroyRoom("NOPE"), ErrRoomNotFound)
}

func TestDestroyRoom(t *testing.T) {
	g := newTestRegistry(t, Options{})
	code, r, err := g.CreateRoom("")
	require.NoError(t, err)

	require.NoError(t, g.DestroyRoom(code))
	assert.True(t, r.Closed())
	assert.Nil(t, g.FindRoom(code))
}

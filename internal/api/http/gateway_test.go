package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/tablehub/tablehub/internal/application/narration"
	"github.com/tablehub/tablehub/internal/application/room"
	"github.com/tablehub/tablehub/internal/application/solo"
	"github.com/tablehub/tablehub/internal/domain/adventure"
	advmocks "github.com/tablehub/tablehub/internal/domain/adventure/mocks"
	"github.com/tablehub/tablehub/internal/domain/character"
	charmocks "github.com/tablehub/tablehub/internal/domain/character/mocks"
	"github.com/tablehub/tablehub/internal/domain/protocol"
	"github.com/tablehub/tablehub/internal/infrastructure/ws"
)

// narratorEngine answers every invocation with the same line.
type narratorEngine struct{ line string }

func (e narratorEngine) Stream(context.Context, narration.EngineRequest) (narration.EngineStream, error) {
	return &lineStream{events: []narration.EngineEvent{
		{Kind: narration.EngineTextDelta, Text: e.line},
		{Kind: narration.EngineCompleted, Handle: "resp-1"},
	}}, nil
}

type lineStream struct{ events []narration.EngineEvent }

func (s *lineStream) Recv() (narration.EngineEvent, error) {
	if len(s.events) == 0 {
		return narration.EngineEvent{}, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *lineStream) Close() error { return nil }

type testEnv struct {
	srv      *httptest.Server
	registry *room.Registry
}

type envOptions struct {
	authRequired bool
	grace        time.Duration
	characters   character.Repository
	adventures   adventure.Repository
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	engine := narratorEngine{line: "The torches flicker."}
	logger := zerolog.Nop()
	if opts.adventures == nil {
		opts.adventures = advmocks.NewMockRepository(gomock.NewController(t))
	}
	registry := room.NewRegistry(room.Dependencies{
		Engine:     engine,
		Characters: opts.characters,
		Logger:     logger,
	}, room.Options{GracePeriod: opts.grace})
	t.Cleanup(registry.Close)

	server := NewServer(Dependencies{
		Characters: opts.characters,
		Adventures: opts.adventures,
		Rooms:      registry,
		Solo: solo.NewService(solo.Dependencies{
			Engine:     engine,
			Adventures: opts.adventures,
			Characters: opts.characters,
			Logger:     logger,
		}),
		Hub:          ws.NewHub(),
		Logger:       logger,
		AuthRequired: opts.authRequired,
	})
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, registry: registry}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, in protocol.Inbound) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(in))
}

// expect reads frames until one of the given type arrives.
func expect(t *testing.T, conn *websocket.Conn, frameType string) protocol.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f protocol.Frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", frameType)
		if f.Type == frameType {
			return f
		}
	}
}

func createGame(t *testing.T, conn *websocket.Conn, name string) protocol.Frame {
	t.Helper()
	send(t, conn, protocol.Inbound{Type: protocol.TypeCreateGame, Name: name, ScenarioID: "The Sunken Crypt"})
	return expect(t, conn, protocol.TypeGameCreated)
}

func TestGateway_CreateJoinAndNarrate(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	host := env.dial(t)
	created := createGame(t, host, "Ana")
	require.Len(t, created.Code, room.CodeLength)
	assert.True(t, created.IsHost)

	guest := env.dial(t)
	send(t, guest, protocol.Inbound{Type: protocol.TypeJoinGame, Code: strings.ToLower(created.Code), Name: "Ben"})
	joined := expect(t, guest, protocol.TypeGameJoined)
	assert.Equal(t, created.Code, joined.Code)
	assert.False(t, joined.IsHost)

	seen := expect(t, host, protocol.TypePlayerJoined)
	assert.Equal(t, "Ben", seen.Player.Name)

	send(t, guest, protocol.Inbound{Type: protocol.TypeUserMessage, Text: "I light a torch"})
	for _, conn := range []*websocket.Conn{host, guest} {
		msg := expect(t, conn, protocol.TypePlayerMessage)
		assert.Equal(t, "I light a torch", msg.Text)
		resp := expect(t, conn, protocol.TypeDMResponse)
		assert.Equal(t, "The torches flicker.", resp.Text)
	}
}

func TestGateway_ErrorsGoToSender(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn := env.dial(t)

	send(t, conn, protocol.Inbound{Type: protocol.TypeJoinGame, Code: "ZZZZ"})
	assert.Equal(t, room.ErrRoomNotFound.Error(), expect(t, conn, protocol.TypeError).Error)

	send(t, conn, protocol.Inbound{Type: protocol.TypeUserMessage, Text: "hello"})
	assert.Equal(t, errNotBound.Error(), expect(t, conn, protocol.TypeError).Error)

	send(t, conn, protocol.Inbound{Type: "dance"})
	assert.Contains(t, expect(t, conn, protocol.TypeError).Error, "unknown frame type")

	createGame(t, conn, "Ana")
	send(t, conn, protocol.Inbound{Type: protocol.TypeUserMessage, Text: "   "})
	assert.Equal(t, room.ErrEmptyMessage.Error(), expect(t, conn, protocol.TypeError).Error)

	send(t, conn, protocol.Inbound{Type: protocol.TypeCreateGame})
	assert.Equal(t, errAlreadyBound.Error(), expect(t, conn, protocol.TypeError).Error)
}

func TestGateway_UnknownCharacterRejected(t *testing.T) {
	chars := charmocks.NewMockRepository(gomock.NewController(t))
	chars.EXPECT().GetByID(gomock.Any(), "char-ghost").Return(nil, nil)
	chars.EXPECT().GetByID(gomock.Any(), "char-mira").Return(&character.Character{ID: "char-mira", Name: "Mira"}, nil)

	env := newTestEnv(t, envOptions{characters: chars})
	conn := env.dial(t)
	send(t, conn, protocol.Inbound{Type: protocol.TypeCreateGame, Name: "Ana", CharacterID: "char-ghost"})
	assert.Contains(t, expect(t, conn, protocol.TypeError).Error, "character not found")
	assert.Equal(t, 0, env.registry.Len())

	send(t, conn, protocol.Inbound{Type: protocol.TypeCreateGame, Name: "Ana", CharacterID: "char-mira"})
	created := expect(t, conn, protocol.TypeGameCreated)
	players := env.registry.FindRoom(created.Code).Players()
	require.Len(t, players, 1)
	assert.Equal(t, "Mira", players[0].CharacterName)
	assert.Equal(t, "char-mira", players[0].CharacterID)
}

func TestGateway_RejoinReplaysHistory(t *testing.T) {
	env := newTestEnv(t, envOptions{grace: time.Minute})
	host := env.dial(t)
	created := createGame(t, host, "Ana")
	send(t, host, protocol.Inbound{Type: protocol.TypeUserMessage, Text: "look around"})
	expect(t, host, protocol.TypeDMResponse)
	require.Eventually(t, func() bool {
		rm := env.registry.FindRoom(created.Code)
		return rm != nil && !rm.Processing()
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, host.Close())
	require.Eventually(t, func() bool {
		return env.registry.FindRoom(created.Code).DestructionPending()
	}, 2*time.Second, 10*time.Millisecond)

	again := env.dial(t)
	send(t, again, protocol.Inbound{Type: protocol.TypeRejoinGame, Code: created.Code, ParticipantID: created.ParticipantID})
	joined := expect(t, again, protocol.TypeGameJoined)
	assert.True(t, joined.IsHost)
	history := expect(t, again, protocol.TypeHistory)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "The torches flicker.", history.Messages[1].Text)
	assert.False(t, env.registry.FindRoom(created.Code).DestructionPending())
}

func TestGateway_AbandonedRoomIsDestroyed(t *testing.T) {
	env := newTestEnv(t, envOptions{grace: 50 * time.Millisecond})
	conn := env.dial(t)
	createGame(t, conn, "Ana")
	require.Equal(t, 1, env.registry.Len())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return env.registry.Len() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func expectStatus(t *testing.T, conn *websocket.Conn, status protocol.Status) {
	t.Helper()
	for {
		if expect(t, conn, protocol.TypeSessionStatus).Status == status {
			return
		}
	}
}

func TestGateway_LeaveReclaimsEmptyRoomAfterGrace(t *testing.T) {
	env := newTestEnv(t, envOptions{grace: 300 * time.Millisecond})
	conn := env.dial(t)
	created := createGame(t, conn, "Ana")

	send(t, conn, protocol.Inbound{Type: protocol.TypeLeaveGame})
	expectStatus(t, conn, protocol.StatusDisconnected)
	rm := env.registry.FindRoom(created.Code)
	require.NotNil(t, rm, "room survives until the grace period ends")
	assert.True(t, rm.DestructionPending())

	require.Eventually(t, func() bool { return env.registry.Len() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestGateway_LeaveWithOnlyDisconnectedMembersReclaimsRoom(t *testing.T) {
	env := newTestEnv(t, envOptions{grace: 50 * time.Millisecond})
	host := env.dial(t)
	created := createGame(t, host, "Ana")

	guest := env.dial(t)
	send(t, guest, protocol.Inbound{Type: protocol.TypeJoinGame, Code: created.Code, Name: "Ben"})
	expect(t, guest, protocol.TypeGameJoined)
	require.NoError(t, guest.Close())
	expect(t, host, protocol.TypePlayerDisconnect)

	send(t, host, protocol.Inbound{Type: protocol.TypeLeaveGame})
	expectStatus(t, host, protocol.StatusDisconnected)

	require.Eventually(t, func() bool { return env.registry.Len() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestGateway_RejoinClosesSupersededSocket(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	first := env.dial(t)
	created := createGame(t, first, "Ana")
	expectStatus(t, first, protocol.StatusIdle)

	second := env.dial(t)
	send(t, second, protocol.Inbound{Type: protocol.TypeRejoinGame, Code: created.Code, ParticipantID: created.ParticipantID})
	assert.True(t, expect(t, second, protocol.TypeGameJoined).IsHost)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	var readErr error
	for readErr == nil {
		var f protocol.Frame
		readErr = first.ReadJSON(&f)
	}
	assert.True(t, websocket.IsCloseError(readErr, websocket.CloseNormalClosure), "got %v", readErr)

	p, ok := env.registry.FindRoom(created.Code).Participant(created.ParticipantID)
	require.True(t, ok)
	assert.True(t, p.Connected())
}

func TestGateway_SoloSession(t *testing.T) {
	adventures := advmocks.NewMockRepository(gomock.NewController(t))
	adventures.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	persisted := make(chan *adventure.Adventure, 1)
	adventures.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, a *adventure.Adventure) error {
		persisted <- a
		return nil
	})

	env := newTestEnv(t, envOptions{adventures: adventures})
	conn := env.dial(t)
	send(t, conn, protocol.Inbound{Type: protocol.TypeSessionStart, ScenarioID: "The Sunken Crypt"})
	created := expect(t, conn, protocol.TypeSessionCreated)
	assert.NotEmpty(t, created.SessionID)

	send(t, conn, protocol.Inbound{Type: protocol.TypeUserMessage, Text: "hello"})
	assert.Equal(t, "The torches flicker.", expect(t, conn, protocol.TypeDMResponse).Text)

	select {
	case a := <-persisted:
		assert.Equal(t, created.SessionID, a.AdventureID.String())
		assert.Equal(t, "resp-1", a.Handle)
	case <-time.After(3 * time.Second):
		t.Fatal("adventure not persisted")
	}
}

func TestGateway_AuthRequiredGatesAnonymous(t *testing.T) {
	env := newTestEnv(t, envOptions{authRequired: true})
	conn := env.dial(t)

	send(t, conn, protocol.Inbound{Type: protocol.TypeCreateGame, Name: "Ana"})
	assert.Equal(t, errHostRole.Error(), expect(t, conn, protocol.TypeError).Error)

	send(t, conn, protocol.Inbound{Type: protocol.TypeSessionStart})
	assert.Equal(t, errHostRole.Error(), expect(t, conn, protocol.TypeError).Error)

	send(t, conn, protocol.Inbound{Type: protocol.TypeJoinGame, Code: "ABCD"})
	assert.Equal(t, errLoginRequired.Error(), expect(t, conn, protocol.TypeError).Error)
}

func TestReadModels(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn := env.dial(t)
	created := createGame(t, conn, "Ana")

	res, err := http.Get(env.srv.URL + "/v1/rooms/" + created.Code)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var snap room.Snapshot
	require.NoError(t, json.NewDecoder(res.Body).Decode(&snap))
	assert.Equal(t, created.Code, snap.Code)
	assert.Equal(t, "The Sunken Crypt", snap.Topic)
	require.Len(t, snap.Players, 1)
	assert.True(t, snap.Players[0].IsHost)

	missing, err := http.Get(env.srv.URL + "/v1/rooms/QQQQ")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	health, err := http.Get(env.srv.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(health.Body).Decode(&body))
	assert.Equal(t, "OK", body["status"])
	assert.EqualValues(t, 1, body["rooms"])
}

func TestCharacterEndpoints(t *testing.T) {
	chars := charmocks.NewMockRepository(gomock.NewController(t))
	chars.EXPECT().List(gomock.Any(), 100, 0).Return([]*character.Character{{ID: "char-mira", Name: "Mira"}}, nil)
	chars.EXPECT().GetByID(gomock.Any(), "nobody").Return(nil, nil)

	env := newTestEnv(t, envOptions{characters: chars})

	res, err := http.Get(env.srv.URL + "/v1/characters")
	require.NoError(t, err)
	defer res.Body.Close()
	var body struct {
		Characters []character.Character `json:"characters"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.Len(t, body.Characters, 1)
	assert.Equal(t, "Mira", body.Characters[0].Name)

	missing, err := http.Get(env.srv.URL + "/v1/characters/nobody")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

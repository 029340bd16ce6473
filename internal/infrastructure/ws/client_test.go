package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablehub/tablehub/internal/domain/protocol"
)

// echoServer upgrades, registers the client and echoes user_message text
// back as dm_response.
func echoServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(conn, zerolog.Nop())
		hub.Register(c)
		defer hub.Unregister(c.ID)
		go c.WritePump()
		_ = c.ReadLoop(context.Background(), func(in protocol.Inbound) {
			c.Send(protocol.Frame{Type: protocol.TypeDMResponse, Text: in.Text})
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestClient_RoundTrip(t *testing.T) {
	hub := NewHub()
	conn := dial(t, echoServer(t, hub))

	require.NoError(t, conn.WriteJSON(protocol.Inbound{Type: protocol.TypeUserMessage, Text: "hello"}))
	var f protocol.Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, protocol.TypeDMResponse, f.Type)
	assert.Equal(t, "hello", f.Text)
	assert.Equal(t, 1, hub.Count())
}

func TestClient_MalformedFrame(t *testing.T) {
	conn := dial(t, echoServer(t, NewHub()))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var f protocol.Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, protocol.TypeError, f.Type)
	assert.Equal(t, "malformed frame", f.Error)
}

func TestClient_OversizedFrameClosesConnection(t *testing.T) {
	conn := dial(t, echoServer(t, NewHub()))

	big := strings.Repeat("x", maxFrameBytes+1)
	require.NoError(t, conn.WriteJSON(protocol.Inbound{Type: protocol.TypeUserMessage, Text: big}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestClient_SendAfterCloseAndFullQueue(t *testing.T) {
	c := &Client{send: make(chan protocol.Frame, 1), done: make(chan struct{}), logger: zerolog.Nop()}
	assert.True(t, c.Send(protocol.StatusFrame(protocol.StatusIdle)))
	assert.False(t, c.Send(protocol.StatusFrame(protocol.StatusIdle)), "queue full")

	close(c.done)
	<-c.send
	assert.False(t, c.Send(protocol.StatusFrame(protocol.StatusIdle)), "closed client")
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := NewHub()
	conn := dial(t, echoServer(t, hub))
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Stop()
	assert.Equal(t, 0, hub.Count())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

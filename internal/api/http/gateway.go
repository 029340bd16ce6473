package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tablehub/tablehub/internal/application/room"
	"github.com/tablehub/tablehub/internal/application/solo"
	"github.com/tablehub/tablehub/internal/domain/character"
	"github.com/tablehub/tablehub/internal/domain/protocol"
	"github.com/tablehub/tablehub/internal/infrastructure/ws"
)

var (
	errHostRole      = errors.New("only a game master can host")
	errLoginRequired = errors.New("login required")
	errAlreadyBound  = errors.New("already in a game or session, leave it first")
	errNotBound      = errors.New("not in a game or session")
	errNotInRoom     = errors.New("not in a game")
)

// serveWS upgrades the request and runs the connection's dispatch loop
// until the peer goes away.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := ws.NewClient(conn, s.logger)
	s.hub.Register(client)
	defer s.hub.Unregister(client.ID)
	go client.WritePump()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &connection{
		server: s,
		client: client,
		user:   authUserFromContext(r.Context()),
		ctx:    ctx,
		logger: s.logger.With().Str("conn", client.ID).Logger(),
	}
	c.logger.Debug().Msg("connection opened")
	_ = client.ReadLoop(ctx, c.dispatch)
	c.disconnect()
	c.logger.Debug().Msg("connection closed")
}

// connection is the per-socket dispatch state. It is only touched from
// the read goroutine; long-running work is handed to its own goroutine
// so permission responses keep flowing while narration runs.
type connection struct {
	server *Server
	client *ws.Client
	user   *AuthUser
	ctx    context.Context
	logger zerolog.Logger

	room          *room.Room
	participantID string
	session       *solo.Session
}

func (c *connection) dispatch(in protocol.Inbound) {
	switch in.Type {
	case protocol.TypeCreateGame:
		c.fail(c.createGame(in))
	case protocol.TypeJoinGame:
		c.fail(c.joinGame(in))
	case protocol.TypeRejoinGame:
		c.fail(c.rejoinGame(in))
	case protocol.TypeLeaveGame:
		c.fail(c.leaveGame())
	case protocol.TypeStartGame:
		c.fail(c.startGame())
	case protocol.TypeUserMessage:
		c.fail(c.userMessage(in.Text))
	case protocol.TypePermissionResponse:
		c.permissionResponse(in.Token, in.Allowed)
	case protocol.TypeSessionStart:
		c.fail(c.sessionStart(in))
	case protocol.TypeSessionResume:
		c.fail(c.sessionResume(in))
	default:
		c.fail(fmt.Errorf("unknown frame type %q", in.Type))
	}
}

// fail reports err to this connection only.
func (c *connection) fail(err error) {
	if err == nil {
		return
	}
	c.logger.Debug().Err(err).Msg("request rejected")
	c.client.Send(protocol.ErrorFrame(err.Error()))
}

func (c *connection) bound() bool {
	return c.room != nil || c.session != nil
}

func (c *connection) createGame(in protocol.Inbound) error {
	if !c.server.canHost(c.user) {
		return errHostRole
	}
	if c.bound() {
		return errAlreadyBound
	}
	seat, err := c.seat(in)
	if err != nil {
		return err
	}
	rooms := c.server.rooms
	code, rm, err := rooms.CreateRoom(in.ScenarioID)
	if err != nil {
		return err
	}
	pid, err := rm.AddParticipant(c.client, seat)
	if err != nil {
		_ = rooms.DestroyRoom(code)
		return err
	}
	rooms.RegisterParticipant(pid, code)
	c.room, c.participantID = rm, pid

	c.client.Send(protocol.Frame{Type: protocol.TypeGameCreated, Code: code, ParticipantID: pid, IsHost: true})
	c.client.Send(protocol.StatusFrame(protocol.StatusIdle))
	return nil
}

func (c *connection) joinGame(in protocol.Inbound) error {
	if c.server.authRequired && c.user == nil {
		return errLoginRequired
	}
	if c.bound() {
		return errAlreadyBound
	}
	rm := c.server.rooms.FindRoom(in.Code)
	if rm == nil {
		return room.ErrRoomNotFound
	}
	seat, err := c.seat(in)
	if err != nil {
		return err
	}
	pid, err := rm.AddParticipant(c.client, seat)
	if err != nil {
		return err
	}
	c.server.rooms.RegisterParticipant(pid, rm.Code())
	c.room, c.participantID = rm, pid

	p, _ := rm.Participant(pid)
	c.client.Send(protocol.Frame{Type: protocol.TypeGameJoined, Code: rm.Code(), ParticipantID: pid, IsHost: p.Info().IsHost})
	c.catchUp(rm)
	return nil
}

// catchUp brings a mid-game joiner to the room's current state.
func (c *connection) catchUp(rm *room.Room) {
	if history := rm.History(); len(history) > 0 {
		c.client.Send(protocol.Frame{Type: protocol.TypeHistory, Messages: history})
	}
	snap := rm.Snapshot()
	if snap.Combat != nil {
		active := snap.Combat.Active
		c.client.Send(protocol.Frame{
			Type:      protocol.TypeCombatStarted,
			TurnOrder: snap.Combat.TurnOrder,
			Active:    &active,
			Round:     snap.Combat.Round,
		})
	}
	status := protocol.StatusIdle
	if snap.Processing {
		status = protocol.StatusThinking
	}
	c.client.Send(protocol.StatusFrame(status))
}

func (c *connection) rejoinGame(in protocol.Inbound) error {
	if c.bound() {
		return errAlreadyBound
	}
	rm := c.server.rooms.FindRoom(in.Code)
	if rm == nil {
		return room.ErrRoomNotFound
	}
	if err := rm.ReconnectParticipant(in.ParticipantID, c.client); err != nil {
		return err
	}
	c.server.rooms.RegisterParticipant(in.ParticipantID, rm.Code())
	c.room, c.participantID = rm, in.ParticipantID
	if !rm.Processing() {
		c.client.Send(protocol.StatusFrame(protocol.StatusIdle))
	}
	return nil
}

func (c *connection) leaveGame() error {
	rm, pid := c.room, c.participantID
	if rm == nil {
		return errNotInRoom
	}
	c.room, c.participantID = nil, ""
	rooms := c.server.rooms
	rooms.UnregisterParticipant(pid)

	unattended, err := rm.RemoveParticipant(pid)
	if err != nil {
		return err
	}
	if unattended {
		if err := rooms.ScheduleDestruction(rm.Code(), rooms.GracePeriod()); err != nil {
			c.logger.Debug().Err(err).Str("room", rm.Code()).Msg("schedule destruction after leave")
		}
	}
	c.client.Send(protocol.StatusFrame(protocol.StatusDisconnected))
	return nil
}

func (c *connection) startGame() error {
	rm, pid := c.room, c.participantID
	if rm == nil {
		return errNotInRoom
	}
	go func() {
		c.fail(rm.StartGame(c.ctx, pid))
	}()
	return nil
}

func (c *connection) userMessage(text string) error {
	switch {
	case c.room != nil:
		rm, pid := c.room, c.participantID
		go func() {
			c.fail(rm.HandleParticipantMessage(c.ctx, pid, text))
		}()
	case c.session != nil:
		sess := c.session
		go func() {
			c.fail(sess.HandleMessage(c.ctx, text))
		}()
	default:
		return errNotBound
	}
	return nil
}

func (c *connection) permissionResponse(token string, allowed bool) {
	switch {
	case c.room != nil:
		c.room.ResolveApproval(c.participantID, token, allowed)
	case c.session != nil:
		c.session.ResolveApproval(token, allowed)
	default:
		c.logger.Debug().Str("token", token).Msg("permission response outside a game")
	}
}

func (c *connection) sessionStart(in protocol.Inbound) error {
	if !c.server.canHost(c.user) {
		return errHostRole
	}
	if c.bound() {
		return errAlreadyBound
	}
	sess, err := c.server.soloSvc.Start(c.ctx, c.client, solo.StartRequest{
		CharacterRef: in.CharacterID,
		ScenarioRef:  in.ScenarioID,
		OwnerID:      c.user.ownerID(),
	})
	if err != nil {
		return err
	}
	c.session = sess
	return nil
}

func (c *connection) sessionResume(in protocol.Inbound) error {
	if !c.server.canHost(c.user) {
		return errHostRole
	}
	if c.bound() {
		return errAlreadyBound
	}
	sess, err := c.server.soloSvc.Resume(c.ctx, c.client, solo.ResumeRequest{
		SessionID:    in.SessionID,
		Handle:       in.Handle,
		Messages:     in.Messages,
		CharacterRef: in.CharacterID,
		ScenarioRef:  in.ScenarioID,
		OwnerID:      c.user.ownerID(),
	})
	if err != nil {
		return err
	}
	c.session = sess
	return nil
}

// seat resolves the display name and character for a create or join.
func (c *connection) seat(in protocol.Inbound) (room.Seat, error) {
	seat := room.Seat{Name: in.Name, CharacterID: strings.TrimSpace(in.CharacterID)}
	if strings.TrimSpace(seat.Name) == "" && c.user != nil {
		seat.Name = c.user.DisplayName
	}
	if seat.CharacterID == "" || c.server.characters == nil {
		return seat, nil
	}
	ch, err := c.server.characters.GetByID(c.ctx, seat.CharacterID)
	if err != nil {
		return seat, fmt.Errorf("lookup character: %w", err)
	}
	if ch == nil {
		return seat, fmt.Errorf("%w: %s", character.ErrNotFound, seat.CharacterID)
	}
	seat.CharacterName = ch.Name
	return seat, nil
}

// disconnect releases whatever the connection was bound to. A room whose
// roster is now entirely disconnected is scheduled for destruction.
func (c *connection) disconnect() {
	if c.session != nil {
		c.session.Release()
		c.session = nil
	}
	rm, pid := c.room, c.participantID
	if rm == nil {
		return
	}
	c.room, c.participantID = nil, ""
	all, err := rm.DetachConnection(pid, c.client)
	if err != nil {
		c.logger.Debug().Err(err).Msg("detach from room")
		return
	}
	if !all {
		return
	}
	rooms := c.server.rooms
	if err := rooms.ScheduleDestruction(rm.Code(), rooms.GracePeriod()); err != nil {
		c.logger.Debug().Err(err).Str("room", rm.Code()).Msg("schedule destruction")
	}
}

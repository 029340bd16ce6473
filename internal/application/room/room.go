// Package room implements the shared authority for multiplayer adventures:
// roster, combat turns, history fan-out and approval routing, plus the
// registry that owns every live room.
package room

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/tablehub/tablehub/internal/application/narration"
	"github.com/tablehub/tablehub/internal/application/tools"
	"github.com/tablehub/tablehub/internal/domain/adventure"
	"github.com/tablehub/tablehub/internal/domain/approval"
	"github.com/tablehub/tablehub/internal/domain/character"
	"github.com/tablehub/tablehub/internal/domain/combat"
	"github.com/tablehub/tablehub/internal/domain/protocol"
)

var tracer = otel.Tracer("github.com/tablehub/tablehub/internal/application/room")

const DefaultMaxParticipants = 8

// Dependencies are shared by every room of a registry.
type Dependencies struct {
	Engine     narration.Engine
	Characters character.Repository
	Narration  narration.Options
	Logger     zerolog.Logger
}

// Room is one shared adventure. All state is guarded by mu; frames are
// sent while holding it, which is safe because Sender.Send never blocks.
type Room struct {
	code      string
	topic     string
	createdAt time.Time
	max       int
	logger    zerolog.Logger

	ledger   *approval.Ledger
	narrator *narration.Session
	toolbox  *tools.Toolbox
	ctx      context.Context
	cancel   context.CancelFunc

	mu           sync.Mutex
	participants map[string]*Participant
	seq          uint64
	history      []adventure.Entry
	combat       combat.State
	processing   bool
	started      bool
	closed       bool
	timer        *time.Timer
	timerGen     uint64
	now          func() time.Time
}

// New builds a room and its tool server. maxParticipants <= 0 means the
// default of 8.
func New(code, topic string, deps Dependencies, maxParticipants int) (*Room, error) {
	if maxParticipants <= 0 {
		maxParticipants = DefaultMaxParticipants
	}
	ctx, cancel := context.WithCancel(context.Background())
	logger := deps.Logger.With().Str("room", code).Logger()
	r := &Room{
		code:         code,
		topic:        topic,
		createdAt:    time.Now().UTC(),
		max:          maxParticipants,
		logger:       logger,
		ledger:       approval.NewLedger(),
		ctx:          ctx,
		cancel:       cancel,
		participants: make(map[string]*Participant),
		now:          time.Now,
	}
	tb, err := tools.New(ctx, r, deps.Characters, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("room %s tools: %w", code, err)
	}
	r.toolbox = tb
	r.narrator = narration.NewSession(deps.Engine, tb, r.ledger, deps.Narration, logger)
	return r, nil
}

func (r *Room) Code() string { return r.code }

func (r *Room) Topic() string { return r.topic }

// AddParticipant seats a new participant and returns its id. The first
// participant of an empty roster becomes the authority.
func (r *Room) AddParticipant(conn Sender, seat Seat) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrRoomClosed
	}
	if len(r.participants) >= r.max {
		return "", ErrRoomFull
	}

	r.seq++
	p := &Participant{
		ID:            uuid.NewString(),
		Name:          NormalizeName(seat.Name),
		CharacterID:   seat.CharacterID,
		CharacterName: seat.CharacterName,
		JoinedAt:      r.now().UTC(),
		seq:           r.seq,
		conn:          conn,
	}
	p.authority = r.authorityLocked() == nil
	r.participants[p.ID] = p
	r.cancelDestructionLocked()

	info := p.Info()
	r.broadcastLocked(protocol.Frame{Type: protocol.TypePlayerJoined, ParticipantID: p.ID, Player: &info})
	r.broadcastRosterLocked()
	r.logger.Info().Str("participant", p.ID).Str("name", p.Name).Bool("host", p.authority).Msg("participant joined")
	return p.ID, nil
}

// RemoveParticipant deletes a roster entry and reports whether the room is
// now unattended: the roster is empty or every remaining member is
// disconnected.
func (r *Room) RemoveParticipant(participantID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[participantID]
	if !ok {
		return false, ErrParticipantNotFound
	}
	delete(r.participants, participantID)
	r.combat.Unbind(participantID)

	info := p.Info()
	info.Connected = false
	r.broadcastLocked(protocol.Frame{Type: protocol.TypePlayerLeft, ParticipantID: p.ID, Player: &info})
	if p.authority {
		r.denyPendingLocked("host left")
		r.transferAuthorityLocked()
	}
	r.broadcastRosterLocked()
	r.logger.Info().Str("participant", p.ID).Msg("participant left")
	return r.allDisconnectedLocked(), nil
}

// DisconnectParticipant keeps the roster entry but drops its connection.
// It reports whether every roster member is now disconnected.
func (r *Room) DisconnectParticipant(participantID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[participantID]
	if !ok {
		return false, ErrParticipantNotFound
	}
	return r.disconnectLocked(p), nil
}

// DetachConnection is DisconnectParticipant for a specific connection: it
// does nothing when conn has since been replaced by a rejoin.
func (r *Room) DetachConnection(participantID string, conn Sender) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[participantID]
	if !ok {
		return false, ErrParticipantNotFound
	}
	if p.conn != conn {
		return false, nil
	}
	return r.disconnectLocked(p), nil
}

func (r *Room) disconnectLocked(p *Participant) bool {
	p.conn = nil

	info := p.Info()
	r.broadcastLocked(protocol.Frame{Type: protocol.TypePlayerDisconnect, ParticipantID: p.ID, Player: &info})
	if p.authority {
		r.denyPendingLocked("host disconnected")
		r.transferAuthorityLocked()
	}
	r.broadcastRosterLocked()
	r.logger.Info().Str("participant", p.ID).Msg("participant disconnected")
	return r.allDisconnectedLocked()
}

// ReconnectParticipant restores a connection and replays history to it. A
// still-live previous connection is told it was replaced and closed.
func (r *Room) ReconnectParticipant(participantID string, conn Sender) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	p, ok := r.participants[participantID]
	if !ok {
		return ErrParticipantNotFound
	}
	if old := p.conn; old != nil && old != conn {
		old.Send(protocol.ErrorFrame("replaced by a newer connection"))
		if c, ok := old.(closer); ok {
			c.Close()
		}
		r.logger.Info().Str("participant", p.ID).Msg("superseded connection closed")
	}
	p.conn = conn
	r.cancelDestructionLocked()
	if a := r.authorityLocked(); a == nil || a.conn == nil {
		r.transferAuthorityLocked()
	}

	info := p.Info()
	r.broadcastLocked(protocol.Frame{Type: protocol.TypePlayerReconnect, ParticipantID: p.ID, Player: &info})
	r.broadcastRosterLocked()

	conn.Send(protocol.Frame{
		Type:          protocol.TypeGameJoined,
		Code:          r.code,
		ParticipantID: p.ID,
		IsHost:        p.authority,
	})
	conn.Send(protocol.Frame{Type: protocol.TypeHistory, Messages: slices.Clone(r.history)})
	if r.combat.Active() {
		conn.Send(r.combatFrameLocked(protocol.TypeCombatStarted))
	}
	if r.processing {
		conn.Send(protocol.StatusFrame(protocol.StatusThinking))
	}
	r.logger.Info().Str("participant", p.ID).Msg("participant reconnected")
	return nil
}

// Participant returns a copy of the roster entry.
func (r *Room) Participant(participantID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[participantID]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Players returns the roster in join order.
func (r *Room) Players() []protocol.PlayerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playersLocked()
}

// History returns a copy of the message history.
func (r *Room) History() []adventure.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.history)
}

// Snapshot is the read model served over REST.
type Snapshot struct {
	Code       string                `json:"code"`
	Topic      string                `json:"topic"`
	CreatedAt  time.Time             `json:"createdAt"`
	Players    []protocol.PlayerInfo `json:"players"`
	Combat     *CombatView           `json:"combat,omitempty"`
	Processing bool                  `json:"processing"`
	Started    bool                  `json:"started"`
	Messages   int                   `json:"messages"`
}

type CombatView struct {
	TurnOrder []protocol.TurnInfo `json:"turnOrder"`
	Active    protocol.TurnInfo   `json:"active"`
	Round     int                 `json:"round"`
}

func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		Code:       r.code,
		Topic:      r.topic,
		CreatedAt:  r.createdAt,
		Players:    r.playersLocked(),
		Processing: r.processing,
		Started:    r.started,
		Messages:   len(r.history),
	}
	if cur, ok := r.combat.Current(); ok {
		s.Combat = &CombatView{
			TurnOrder: r.turnOrderLocked(),
			Active:    r.turnInfoLocked(cur),
			Round:     r.combat.Round(),
		}
	}
	return s
}

// Close tears the room down: aborts narration, denies every pending
// approval and stops the tool server. Idempotent.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.cancelDestructionLocked()
	r.mu.Unlock()
	r.teardown()
}

func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Room) teardown() {
	r.narrator.Abort()
	if n := r.ledger.Close(); n > 0 {
		r.logger.Info().Int("denied", n).Msg("pending approvals denied on teardown")
	}
	r.cancel()
	if err := r.toolbox.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("close tool server")
	}
	r.logger.Info().Msg("room closed")
}

// scheduleDestruction arms the single destruction timer, replacing any
// armed one. When it fires and the room is still unattended, the room is
// closed and onDestroyed runs.
func (r *Room) scheduleDestruction(delay time.Duration, onDestroyed func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.cancelDestructionLocked()
	gen := r.timerGen
	r.timer = time.AfterFunc(delay, func() {
		if !r.expire(gen) {
			return
		}
		r.teardown()
		if onDestroyed != nil {
			onDestroyed()
		}
	})
	r.logger.Debug().Dur("delay", delay).Msg("destruction scheduled")
}

// expire marks the room closed if the timer generation is current and
// nobody is connected.
func (r *Room) expire(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || gen != r.timerGen || !r.allDisconnectedLocked() {
		return false
	}
	r.timer = nil
	r.closed = true
	return true
}

// DestructionPending reports whether a destruction timer is armed.
func (r *Room) DestructionPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

func (r *Room) cancelDestructionLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.timerGen++
}

func (r *Room) allDisconnectedLocked() bool {
	for _, p := range r.participants {
		if p.conn != nil {
			return false
		}
	}
	return true
}

func (r *Room) authorityLocked() *Participant {
	for _, p := range r.participants {
		if p.authority {
			return p
		}
	}
	return nil
}

// transferAuthorityLocked hands authority to the earliest-joined connected
// participant and notifies them. Nothing changes if nobody is connected.
func (r *Room) transferAuthorityLocked() {
	var next *Participant
	for _, p := range r.participants {
		if p.conn == nil {
			continue
		}
		if next == nil || p.seq < next.seq {
			next = p
		}
	}
	if next == nil || next.authority {
		return
	}
	for _, p := range r.participants {
		p.authority = false
	}
	next.authority = true
	next.conn.Send(protocol.Frame{Type: protocol.TypeHostChanged, ParticipantID: next.ID, IsHost: true})
	r.logger.Info().Str("participant", next.ID).Msg("authority transferred")
}

// denyPendingLocked force-denies open approvals. The running turn resumes,
// so the roster is moved off awaiting_permission.
func (r *Room) denyPendingLocked(reason string) {
	n := r.ledger.DenyAll()
	if n == 0 {
		return
	}
	r.logger.Info().Int("denied", n).Str("reason", reason).Msg("pending approvals denied")
	if r.processing {
		r.broadcastLocked(protocol.StatusFrame(protocol.StatusThinking))
	}
}

func (r *Room) orderedLocked() []*Participant {
	out := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *Participant) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return out
}

func (r *Room) playersLocked() []protocol.PlayerInfo {
	ordered := r.orderedLocked()
	out := make([]protocol.PlayerInfo, 0, len(ordered))
	for _, p := range ordered {
		out = append(out, p.Info())
	}
	return out
}

func (r *Room) broadcastLocked(frame protocol.Frame) {
	if r.closed {
		return
	}
	for _, p := range r.participants {
		if p.conn != nil && !p.conn.Send(frame) {
			r.logger.Warn().Str("participant", p.ID).Str("type", frame.Type).Msg("frame dropped")
		}
	}
}

func (r *Room) broadcastRosterLocked() {
	r.broadcastLocked(protocol.Frame{Type: protocol.TypePlayerList, Players: r.playersLocked()})
}

func (r *Room) sendLocked(participantID string, frame protocol.Frame) bool {
	p, ok := r.participants[participantID]
	if !ok || p.conn == nil {
		return false
	}
	return p.conn.Send(frame)
}

package room

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tablehub/tablehub/internal/application/narration"
	"github.com/tablehub/tablehub/internal/domain/adventure"
	"github.com/tablehub/tablehub/internal/domain/protocol"
)

const openingPrompt = "The players have gathered and the game begins. Set the opening scene, " +
	"introduce the situation and invite the party to act."

// HandleParticipantMessage is the room's serialization point. It validates
// the message, then runs one narration invocation to completion, fanning
// every event out to the roster. Validation errors are returned before any
// frame is broadcast.
func (r *Room) HandleParticipantMessage(ctx context.Context, participantID, text string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	p, ok := r.participants[participantID]
	if !ok {
		r.mu.Unlock()
		return ErrParticipantNotFound
	}
	if r.processing {
		r.mu.Unlock()
		return ErrBusy
	}
	text = strings.TrimSpace(text)
	if text == "" {
		r.mu.Unlock()
		return ErrEmptyMessage
	}
	if !r.combat.Eligible(participantID) {
		err := r.notYourTurnLocked()
		r.mu.Unlock()
		return err
	}

	r.processing = true
	r.broadcastLocked(protocol.StatusFrame(protocol.StatusThinking))

	tagged := text
	if len(r.participants) > 1 {
		tagged = fmt.Sprintf("[%s as %s]: %s", p.Name, p.persona(), text)
	}
	prior := slices.Clone(r.history)
	r.history = append(r.history, adventure.Entry{
		Kind:    adventure.SpeakerParticipant,
		Speaker: p.Name,
		Text:    tagged,
		At:      r.now().UTC(),
	})
	info := p.Info()
	r.broadcastLocked(protocol.Frame{
		Type:          protocol.TypePlayerMessage,
		ParticipantID: p.ID,
		Player:        &info,
		Text:          text,
	})
	req := r.requestLocked(tagged, prior)
	r.mu.Unlock()

	r.narrate(ctx, req)
	return nil
}

// StartGame runs the opening narration. Only the authority may start, and
// only once.
func (r *Room) StartGame(ctx context.Context, participantID string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	p, ok := r.participants[participantID]
	if !ok {
		r.mu.Unlock()
		return ErrParticipantNotFound
	}
	if !p.authority {
		r.mu.Unlock()
		return ErrNotAuthority
	}
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	if r.processing {
		r.mu.Unlock()
		return ErrBusy
	}
	r.started = true
	r.processing = true
	r.broadcastLocked(protocol.Frame{Type: protocol.TypeGameStarted, Code: r.code})
	r.broadcastLocked(protocol.StatusFrame(protocol.StatusThinking))
	req := r.requestLocked(openingPrompt, slices.Clone(r.history))
	r.mu.Unlock()

	r.narrate(ctx, req)
	return nil
}

// ResolveApproval settles a pending approval on behalf of the authority.
// Calls from anyone else, and unknown tokens, are ignored.
func (r *Room) ResolveApproval(participantID, token string, allowed bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[participantID]
	if !ok || !p.authority {
		r.logger.Warn().Str("participant", participantID).Msg("approval from non-host ignored")
		return false
	}
	if !r.ledger.Resolve(token, allowed) {
		r.logger.Debug().Str("token", token).Msg("approval token not pending")
		return false
	}
	r.broadcastLocked(protocol.StatusFrame(protocol.StatusThinking))
	return true
}

// PendingApprovals returns how many approvals are waiting on the authority.
func (r *Room) PendingApprovals() int {
	return r.ledger.Len()
}

// Processing reports whether a narration invocation is in flight.
func (r *Room) Processing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processing
}

// narrate runs one invocation. It survives the caller's cancellation, so a
// dropped connection does not abort narration, but ends when the room
// closes.
func (r *Room) narrate(ctx context.Context, req narration.Request) {
	ctx, span := tracer.Start(context.WithoutCancel(ctx), "room.message",
		trace.WithAttributes(attribute.String("room.code", r.code)))
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.ctx, cancel)
	defer stop()

	defer func() {
		r.mu.Lock()
		r.processing = false
		r.broadcastLocked(protocol.StatusFrame(protocol.StatusIdle))
		r.mu.Unlock()
	}()

	for ev := range r.narrator.Run(ctx, req) {
		r.mu.Lock()
		switch ev.Kind {
		case narration.KindPermission:
			r.routeApprovalLocked(ev)
		case narration.KindResponse:
			r.history = append(r.history, adventure.Entry{
				Kind: adventure.SpeakerNarrator,
				Text: ev.Text,
				At:   r.now().UTC(),
			})
			r.broadcastLocked(ev.Frame())
		default:
			r.broadcastLocked(ev.Frame())
		}
		r.mu.Unlock()
	}
}

// routeApprovalLocked sends the request to the authority only. With no
// connected authority the request is denied at once. A request settled
// before it reached the room, such as one force-denied when the host
// dropped, is not surfaced.
func (r *Room) routeApprovalLocked(ev narration.Event) {
	if _, pending := r.ledger.Get(ev.Approval.Token); !pending {
		r.logger.Debug().Str("token", ev.Approval.Token).Msg("approval settled before routing")
		return
	}
	host := r.authorityLocked()
	if host == nil || host.conn == nil || !host.conn.Send(ev.Frame()) {
		r.logger.Warn().Str("tool", ev.Approval.ToolName).Msg("no host to approve, denying")
		r.ledger.Resolve(ev.Approval.Token, false)
		return
	}
	r.broadcastLocked(protocol.StatusFrame(protocol.StatusAwaitingPermission))
}

func (r *Room) notYourTurnLocked() error {
	cur, _ := r.combat.Current()
	err := &NotYourTurnError{ParticipantID: cur.ParticipantID, Name: cur.Name}
	if p, ok := r.participants[cur.ParticipantID]; ok {
		err.Name = p.Name
	}
	return err
}

func (r *Room) requestLocked(message string, prior []adventure.Entry) narration.Request {
	characters := make([]string, 0, len(r.participants))
	for _, p := range r.orderedLocked() {
		if p.persona() == p.Name {
			characters = append(characters, p.Name)
			continue
		}
		characters = append(characters, fmt.Sprintf("%s (played by %s)", p.persona(), p.Name))
	}
	return narration.Request{
		Message:    message,
		History:    prior,
		Characters: characters,
		Topic:      r.topic,
	}
}

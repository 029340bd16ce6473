package room

import (
	"fmt"
	"strings"

	"github.com/tablehub/tablehub/internal/application/tools"
	"github.com/tablehub/tablehub/internal/domain/combat"
	"github.com/tablehub/tablehub/internal/domain/protocol"
)

var _ tools.Table = (*Room)(nil)

// StartCombat binds each entry to the participant playing its character
// and activates the turn order. Re-entering replaces the order.
func (r *Room) StartCombat(entries []combat.Entry) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrRoomClosed
	}
	bound := make([]combat.Entry, len(entries))
	for i, e := range entries {
		e.ParticipantID = ""
		if e.CharacterID != "" {
			for _, p := range r.participants {
				if p.CharacterID == e.CharacterID {
					e.ParticipantID = p.ID
					break
				}
			}
		}
		bound[i] = e
	}
	if err := r.combat.Start(bound); err != nil {
		return "", err
	}
	r.broadcastLocked(r.combatFrameLocked(protocol.TypeCombatStarted))

	cur, _ := r.combat.Current()
	names := make([]string, 0, len(bound))
	for _, e := range r.combat.Order() {
		names = append(names, fmt.Sprintf("%s (%d)", e.Name, e.Initiative))
	}
	r.logger.Info().Int("combatants", len(bound)).Msg("combat started")
	return fmt.Sprintf("Combat started. Turn order: %s. %s acts first.", strings.Join(names, ", "), r.describeTurnLocked(cur)), nil
}

// NextTurn advances the turn order. It returns combat.ErrNotInCombat when
// combat is inactive.
func (r *Room) NextTurn() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, err := r.combat.Next()
	if err != nil {
		return "", err
	}
	r.broadcastLocked(r.combatFrameLocked(protocol.TypeTurnChanged))
	return fmt.Sprintf("Round %d: it is now %s's turn.", r.combat.Round(), r.describeTurnLocked(cur)), nil
}

func (r *Room) EndCombat() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.combat.End() {
		return "Combat was not active.", nil
	}
	r.broadcastLocked(protocol.Frame{Type: protocol.TypeCombatEnded})
	r.logger.Info().Msg("combat ended")
	return "Combat ended. Players may act freely.", nil
}

func (r *Room) CombatSummary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.combat.Describe()
}

func (r *Room) Party() []tools.Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	ordered := r.orderedLocked()
	out := make([]tools.Member, 0, len(ordered))
	for _, p := range ordered {
		out = append(out, tools.Member{
			Name:        p.Name,
			CharacterID: p.CharacterID,
			Authority:   p.authority,
			Connected:   p.conn != nil,
		})
	}
	return out
}

// IsTurnEligible reports whether participantID may send a message now.
func (r *Room) IsTurnEligible(participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.combat.Eligible(participantID)
}

func (r *Room) describeTurnLocked(e combat.Entry) string {
	if p, ok := r.participants[e.ParticipantID]; ok {
		return fmt.Sprintf("%s (%s)", e.Name, p.Name)
	}
	return e.Name
}

func (r *Room) turnInfoLocked(e combat.Entry) protocol.TurnInfo {
	return protocol.TurnInfo{
		Name:          e.Name,
		CharacterID:   e.CharacterID,
		ParticipantID: e.ParticipantID,
		Initiative:    e.Initiative,
	}
}

func (r *Room) turnOrderLocked() []protocol.TurnInfo {
	order := r.combat.Order()
	out := make([]protocol.TurnInfo, 0, len(order))
	for _, e := range order {
		out = append(out, r.turnInfoLocked(e))
	}
	return out
}

func (r *Room) combatFrameLocked(frameType string) protocol.Frame {
	f := protocol.Frame{Type: frameType, Round: r.combat.Round()}
	if cur, ok := r.combat.Current(); ok {
		active := r.turnInfoLocked(cur)
		f.Active = &active
		if frameType == protocol.TypeCombatStarted {
			f.TurnOrder = r.turnOrderLocked()
		}
	}
	return f
}

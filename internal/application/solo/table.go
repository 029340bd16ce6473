package solo

import (
	"fmt"
	"strings"

	"github.com/tablehub/tablehub/internal/application/tools"
	"github.com/tablehub/tablehub/internal/domain/combat"
	"github.com/tablehub/tablehub/internal/domain/protocol"
)

var _ tools.Table = (*Session)(nil)

// StartCombat tracks initiative for narration only; a lone participant is
// never gated by it.
func (s *Session) StartCombat(entries []combat.Entry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order := make([]combat.Entry, len(entries))
	for i, e := range entries {
		e.ParticipantID = ""
		order[i] = e
	}
	if err := s.combat.Start(order); err != nil {
		return "", err
	}
	s.sendLocked(s.combatFrameLocked(protocol.TypeCombatStarted))
	cur, _ := s.combat.Current()
	names := make([]string, 0, len(order))
	for _, e := range s.combat.Order() {
		names = append(names, fmt.Sprintf("%s (%d)", e.Name, e.Initiative))
	}
	return fmt.Sprintf("Combat started. Turn order: %s. %s acts first.", strings.Join(names, ", "), cur.Name), nil
}

func (s *Session) NextTurn() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.combat.Next()
	if err != nil {
		return "", err
	}
	s.sendLocked(s.combatFrameLocked(protocol.TypeTurnChanged))
	return fmt.Sprintf("Round %d: it is now %s's turn.", s.combat.Round(), cur.Name), nil
}

func (s *Session) EndCombat() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.combat.End() {
		return "Combat was not active.", nil
	}
	s.sendLocked(protocol.Frame{Type: protocol.TypeCombatEnded})
	return "Combat ended.", nil
}

func (s *Session) CombatSummary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.combat.Describe()
}

func (s *Session) Party() []tools.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []tools.Member{{
		Name:        s.persona,
		CharacterID: s.record.CharacterRef,
		Authority:   true,
		Connected:   s.conn != nil,
	}}
}

func (s *Session) combatFrameLocked(frameType string) protocol.Frame {
	f := protocol.Frame{Type: frameType, Round: s.combat.Round()}
	cur, ok := s.combat.Current()
	if !ok {
		return f
	}
	info := func(e combat.Entry) protocol.TurnInfo {
		return protocol.TurnInfo{Name: e.Name, CharacterID: e.CharacterID, Initiative: e.Initiative}
	}
	active := info(cur)
	f.Active = &active
	if frameType == protocol.TypeCombatStarted {
		for _, e := range s.combat.Order() {
			f.TurnOrder = append(f.TurnOrder, info(e))
		}
	}
	return f
}

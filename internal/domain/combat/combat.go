package combat

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrNotInCombat = errors.New("not in combat")
	ErrEmptyOrder  = errors.New("turn order is empty")
)

// Entry is one slot of the turn order. ParticipantID is empty for
// narrator-controlled combatants, whose turns are never gated.
type Entry struct {
	Name          string
	CharacterID   string
	ParticipantID string
	Initiative    int
}

// State is the combat overlay of a room. The zero value is inactive.
// It is not safe for concurrent use.
type State struct {
	active bool
	order  []Entry
	index  int
	round  int
}

// Start replaces the turn order and activates combat. Entries are ordered
// by initiative, highest first; ties keep their given order.
func (s *State) Start(order []Entry) error {
	if len(order) == 0 {
		return ErrEmptyOrder
	}
	sorted := slices.Clone(order)
	slices.SortStableFunc(sorted, func(a, b Entry) int {
		return cmp.Compare(b.Initiative, a.Initiative)
	})
	s.active = true
	s.order = sorted
	s.index = 0
	s.round = 1
	return nil
}

// Next advances to the following entry, wrapping to the top of the order.
func (s *State) Next() (Entry, error) {
	if !s.active {
		return Entry{}, ErrNotInCombat
	}
	s.index = (s.index + 1) % len(s.order)
	if s.index == 0 {
		s.round++
	}
	return s.order[s.index], nil
}

// End deactivates combat and reports whether it was active.
func (s *State) End() bool {
	was := s.active
	*s = State{}
	return was
}

func (s *State) Active() bool { return s.active }

func (s *State) Round() int { return s.round }

func (s *State) Index() int { return s.index }

// Current returns the active entry.
func (s *State) Current() (Entry, bool) {
	if !s.active {
		return Entry{}, false
	}
	return s.order[s.index], true
}

func (s *State) Order() []Entry {
	return slices.Clone(s.order)
}

// Eligible reports whether participantID may speak now.
func (s *State) Eligible(participantID string) bool {
	cur, ok := s.Current()
	if !ok || cur.ParticipantID == "" {
		return true
	}
	return cur.ParticipantID == participantID
}

// Unbind turns every entry controlled by participantID into a
// narrator-controlled one.
func (s *State) Unbind(participantID string) {
	for i := range s.order {
		if s.order[i].ParticipantID == participantID {
			s.order[i].ParticipantID = ""
		}
	}
}

// Describe renders the turn order for the narrator, marking the active slot.
func (s *State) Describe() string {
	if !s.active {
		return "Not in combat."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d. Turn order:", s.round)
	for i, e := range s.order {
		marker := "  "
		if i == s.index {
			marker = "> "
		}
		fmt.Fprintf(&b, "\n%s%s (initiative %d)", marker, e.Name, e.Initiative)
		if e.ParticipantID == "" {
			b.WriteString(" [narrator]")
		}
	}
	return b.String()
}

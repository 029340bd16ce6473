package room

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/tablehub/tablehub/internal/domain/protocol"
)

const (
	maxNameRunes = 32
	defaultName  = "Adventurer"
)

// Sender is the outbound half of a participant connection. Send must not
// block; it reports false when the frame could not be queued.
type Sender interface {
	Send(frame protocol.Frame) bool
}

// closer is implemented by senders that own their transport.
type closer interface {
	Close()
}

// Seat describes who is joining.
type Seat struct {
	Name          string
	CharacterID   string
	CharacterName string
}

// Participant is one roster member. A nil conn means disconnected.
type Participant struct {
	ID            string
	Name          string
	CharacterID   string
	CharacterName string
	JoinedAt      time.Time

	seq       uint64
	authority bool
	conn      Sender
}

func (p *Participant) Connected() bool { return p.conn != nil }

func (p *Participant) Info() protocol.PlayerInfo {
	return protocol.PlayerInfo{
		ParticipantID: p.ID,
		Name:          p.Name,
		CharacterID:   p.CharacterID,
		CharacterName: p.CharacterName,
		IsHost:        p.authority,
		Connected:     p.conn != nil,
	}
}

// persona is how the narrator refers to the participant.
func (p *Participant) persona() string {
	switch {
	case p.CharacterName != "":
		return p.CharacterName
	case p.CharacterID != "":
		return p.CharacterID
	default:
		return p.Name
	}
}

// NormalizeName canonicalises a display name: NFC, no control characters,
// collapsed whitespace, bounded length.
func NormalizeName(name string) string {
	name = norm.NFC.String(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.Join(strings.Fields(name), " ")
	if runes := []rune(name); len(runes) > maxNameRunes {
		name = strings.TrimSpace(string(runes[:maxNameRunes]))
	}
	if name == "" {
		return defaultName
	}
	return name
}

package adventure

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("adventure not found")
	ErrAlreadyExists = errors.New("adventure already exists")
)

// SpeakerKind identifies who produced a history entry.
type SpeakerKind string

const (
	SpeakerParticipant SpeakerKind = "player"
	SpeakerNarrator    SpeakerKind = "dm"
)

// Entry is one line of conversation history.
type Entry struct {
	Kind    SpeakerKind `json:"role"`
	Speaker string      `json:"speaker,omitempty"`
	Text    string      `json:"content"`
	At      time.Time   `json:"timestamp"`
}

// Adventure is the persisted record of a single-participant narration
// session: enough to resume the engine context or rebuild it from history.
type Adventure struct {
	ID           int64      `json:"id"`
	AdventureID  uuid.UUID  `json:"sessionId"`
	OwnerID      *uuid.UUID `json:"ownerId,omitempty"`
	CharacterRef string     `json:"characterId"`
	ScenarioRef  string     `json:"scenarioId"`
	Handle       string     `json:"handle,omitempty"`
	Messages     []Entry    `json:"messages"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// New creates an empty adventure for a character in a scenario.
func New(characterRef, scenarioRef string, owner *uuid.UUID) *Adventure {
	now := time.Now().UTC()
	return &Adventure{
		AdventureID:  uuid.New(),
		OwnerID:      owner,
		CharacterRef: strings.TrimSpace(characterRef),
		ScenarioRef:  strings.TrimSpace(scenarioRef),
		Messages:     []Entry{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Record replaces history and handle and bumps UpdatedAt.
func (a *Adventure) Record(messages []Entry, handle string) {
	a.Messages = append([]Entry(nil), messages...)
	a.Handle = handle
	a.UpdatedAt = time.Now().UTC()
}

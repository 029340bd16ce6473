package room

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// CodeAlphabet omits 0/O, 1/I.
	CodeAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength      = 4
	maxCodeAttempts = 100

	DefaultGracePeriod = 5 * time.Minute
)

// Options tune a Registry.
type Options struct {
	MaxParticipants int
	GracePeriod     time.Duration
}

// Registry owns every live room, indexed by code and by participant.
// It never holds its own lock while calling into a room.
type Registry struct {
	deps   Dependencies
	opts   Options
	logger zerolog.Logger
	codes  func() string

	mu            sync.Mutex
	rooms         map[string]*Room
	byParticipant map[string]string
}

func NewRegistry(deps Dependencies, opts Options) *Registry {
	if opts.MaxParticipants <= 0 {
		opts.MaxParticipants = DefaultMaxParticipants
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	return &Registry{
		deps:          deps,
		opts:          opts,
		logger:        deps.Logger.With().Str("service", "rooms").Logger(),
		codes:         RandomCode,
		rooms:         make(map[string]*Room),
		byParticipant: make(map[string]string),
	}
}

// RandomCode draws a code from CodeAlphabet.
func RandomCode() string {
	b := make([]byte, CodeLength)
	for i := range b {
		b[i] = CodeAlphabet[rand.IntN(len(CodeAlphabet))]
	}
	return string(b)
}

// GracePeriod is how long an unattended room survives.
func (g *Registry) GracePeriod() time.Duration { return g.opts.GracePeriod }

// CreateRoom allocates a room under a free code.
func (g *Registry) CreateRoom(topic string) (string, *Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	code := ""
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		candidate := strings.ToUpper(g.codes())
		if _, taken := g.rooms[candidate]; !taken {
			code = candidate
			break
		}
	}
	if code == "" {
		g.logger.Error().Int("rooms", len(g.rooms)).Msg("room code space exhausted")
		return "", nil, ErrCodeExhausted
	}
	r, err := New(code, strings.TrimSpace(topic), g.deps, g.opts.MaxParticipants)
	if err != nil {
		return "", nil, err
	}
	g.rooms[code] = r
	g.logger.Info().Str("room", code).Str("topic", r.topic).Msg("room created")
	return code, r, nil
}

// FindRoom looks a room up by code, ignoring case.
func (g *Registry) FindRoom(code string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[strings.ToUpper(strings.TrimSpace(code))]
}

func (g *Registry) RegisterParticipant(participantID, code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byParticipant[participantID] = strings.ToUpper(code)
}

func (g *Registry) UnregisterParticipant(participantID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.byParticipant, participantID)
}

// RoomForParticipant maps a participant back to its room.
func (g *Registry) RoomForParticipant(participantID string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	code, ok := g.byParticipant[participantID]
	if !ok {
		return nil
	}
	return g.rooms[code]
}

// ScheduleDestruction arms the room's destruction timer. Expiry re-checks
// under the room lock that nobody reconnected before tearing down.
func (g *Registry) ScheduleDestruction(code string, delay time.Duration) error {
	r := g.FindRoom(code)
	if r == nil {
		return ErrRoomNotFound
	}
	r.scheduleDestruction(delay, func() { g.forget(r) })
	return nil
}

// DestroyRoom closes a room immediately and drops it from the indexes.
func (g *Registry) DestroyRoom(code string) error {
	r := g.FindRoom(code)
	if r == nil {
		return ErrRoomNotFound
	}
	r.Close()
	g.forget(r)
	return nil
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Close tears down every room.
func (g *Registry) Close() {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.rooms = make(map[string]*Room)
	g.byParticipant = make(map[string]string)
	g.mu.Unlock()

	for _, r := range rooms {
		r.Close()
	}
}

func (g *Registry) forget(r *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[r.code] != r {
		return
	}
	delete(g.rooms, r.code)
	for pid, code := range g.byParticipant {
		if code == r.code {
			delete(g.byParticipant, pid)
		}
	}
	g.logger.Info().Str("room", r.code).Msg("room destroyed")
}

// Package solo runs a narrated adventure for a single participant on one
// connection. There is no roster and no turn gating; the adventure record
// is persisted after every completed turn so it can be resumed later.
package solo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tablehub/tablehub/internal/application/narration"
	"github.com/tablehub/tablehub/internal/domain/adventure"
	"github.com/tablehub/tablehub/internal/domain/character"
	"github.com/tablehub/tablehub/internal/domain/protocol"
)

var (
	ErrBusy         = errors.New("narrator is still responding")
	ErrEmptyMessage = errors.New("message is empty")
	ErrClosed       = errors.New("session closed")
	ErrNotOwner     = errors.New("adventure belongs to another user")
	ErrNoSource     = errors.New("resume needs a session id or a handle with messages")
)

// Sender delivers frames to the participant's connection without blocking.
type Sender interface {
	Send(protocol.Frame) bool
}

// Dependencies are shared by every solo session.
type Dependencies struct {
	Engine     narration.Engine
	Adventures adventure.Repository
	Characters character.Repository
	Narration  narration.Options
	Logger     zerolog.Logger
}

// StartRequest opens a new adventure.
type StartRequest struct {
	CharacterRef string
	ScenarioRef  string
	OwnerID      *uuid.UUID
}

// ResumeRequest continues an adventure, either a stored one by SessionID or
// one the client carries itself as Handle plus Messages.
type ResumeRequest struct {
	SessionID    string
	Handle       string
	Messages     []adventure.Entry
	CharacterRef string
	ScenarioRef  string
	OwnerID      *uuid.UUID
}

type Service struct {
	deps   Dependencies
	logger zerolog.Logger
}

func NewService(deps Dependencies) *Service {
	return &Service{
		deps:   deps,
		logger: deps.Logger.With().Str("service", "solo").Logger(),
	}
}

// Start creates and persists a fresh adventure and binds it to conn.
func (s *Service) Start(ctx context.Context, conn Sender, req StartRequest) (*Session, error) {
	ch, err := s.lookupCharacter(ctx, req.CharacterRef)
	if err != nil {
		return nil, err
	}
	a := adventure.New(req.CharacterRef, req.ScenarioRef, req.OwnerID)
	if err := s.deps.Adventures.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create adventure: %w", err)
	}
	sess, err := s.open(ctx, conn, a, ch)
	if err != nil {
		return nil, err
	}
	conn.Send(protocol.Frame{Type: protocol.TypeSessionCreated, SessionID: a.AdventureID.String()})
	conn.Send(protocol.StatusFrame(protocol.StatusIdle))
	s.logger.Info().Str("adventure", a.AdventureID.String()).Str("character", a.CharacterRef).Msg("adventure started")
	return sess, nil
}

// Resume reloads or reconstructs an adventure, restores the engine handle
// and replays history to conn.
func (s *Service) Resume(ctx context.Context, conn Sender, req ResumeRequest) (*Session, error) {
	a, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	ch, err := s.lookupCharacter(ctx, a.CharacterRef)
	if err != nil {
		return nil, err
	}
	sess, err := s.open(ctx, conn, a, ch)
	if err != nil {
		return nil, err
	}
	sess.narrator.SetHandle(a.Handle)

	conn.Send(protocol.Frame{Type: protocol.TypeSessionCreated, SessionID: a.AdventureID.String(), Handle: a.Handle})
	conn.Send(protocol.Frame{Type: protocol.TypeHistory, Messages: append([]adventure.Entry(nil), a.Messages...)})
	conn.Send(protocol.StatusFrame(protocol.StatusIdle))
	s.logger.Info().Str("adventure", a.AdventureID.String()).Int("messages", len(a.Messages)).Msg("adventure resumed")
	return sess, nil
}

func (s *Service) resolve(ctx context.Context, req ResumeRequest) (*adventure.Adventure, error) {
	if id := strings.TrimSpace(req.SessionID); id != "" {
		adventureID, err := uuid.Parse(id)
		if err != nil {
			return nil, adventure.ErrNotFound
		}
		a, err := s.deps.Adventures.Get(ctx, adventureID)
		if err != nil {
			return nil, fmt.Errorf("load adventure: %w", err)
		}
		if a == nil {
			return nil, adventure.ErrNotFound
		}
		if a.OwnerID != nil && (req.OwnerID == nil || *a.OwnerID != *req.OwnerID) {
			return nil, ErrNotOwner
		}
		return a, nil
	}
	if strings.TrimSpace(req.Handle) == "" && len(req.Messages) == 0 {
		return nil, ErrNoSource
	}
	a := adventure.New(req.CharacterRef, req.ScenarioRef, req.OwnerID)
	a.Record(req.Messages, strings.TrimSpace(req.Handle))
	if err := s.deps.Adventures.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create adventure: %w", err)
	}
	return a, nil
}

func (s *Service) lookupCharacter(ctx context.Context, ref string) (*character.Character, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || s.deps.Characters == nil {
		return nil, nil
	}
	ch, err := s.deps.Characters.GetByID(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("lookup character: %w", err)
	}
	if ch == nil {
		return nil, character.ErrNotFound
	}
	return ch, nil
}

package solo

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tablehub/tablehub/internal/application/narration"
	"github.com/tablehub/tablehub/internal/application/tools"
	"github.com/tablehub/tablehub/internal/domain/adventure"
	"github.com/tablehub/tablehub/internal/domain/approval"
	"github.com/tablehub/tablehub/internal/domain/character"
	"github.com/tablehub/tablehub/internal/domain/combat"
	"github.com/tablehub/tablehub/internal/domain/protocol"
)

// Session is one participant's adventure bound to one connection.
type Session struct {
	adventures adventure.Repository
	logger     zerolog.Logger
	ledger     *approval.Ledger
	narrator   *narration.Session
	toolbox    *tools.Toolbox
	ctx        context.Context
	cancel     context.CancelFunc

	mu         sync.Mutex
	conn       Sender
	record     *adventure.Adventure
	persona    string
	combat     combat.State
	processing bool
	closed     bool
	release    bool
	now        func() time.Time
}

func (s *Service) open(ctx context.Context, conn Sender, a *adventure.Adventure, ch *character.Character) (*Session, error) {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	persona := "the adventurer"
	if ch != nil {
		persona = ch.Name
	}
	sess := &Session{
		adventures: s.deps.Adventures,
		logger:     s.logger.With().Str("adventure", a.AdventureID.String()).Logger(),
		ledger:     approval.NewLedger(),
		ctx:        sctx,
		cancel:     cancel,
		conn:       conn,
		record:     a,
		persona:    persona,
		now:        time.Now,
	}
	tb, err := tools.New(sctx, sess, s.deps.Characters, sess.logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("adventure tools: %w", err)
	}
	sess.toolbox = tb
	sess.narrator = narration.NewSession(s.deps.Engine, tb, sess.ledger, s.deps.Narration, sess.logger)
	return sess, nil
}

// ID returns the adventure id.
func (s *Session) ID() string { return s.record.AdventureID.String() }

// Handle returns the current resumable engine handle.
func (s *Session) Handle() string { return s.narrator.Handle() }

// History returns a copy of the adventure's messages.
func (s *Session) History() []adventure.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.record.Messages)
}

func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// HandleMessage runs one narration turn for text and persists the result.
func (s *Session) HandleMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.processing {
		s.mu.Unlock()
		return ErrBusy
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.mu.Unlock()
		return ErrEmptyMessage
	}
	s.processing = true
	s.sendLocked(protocol.StatusFrame(protocol.StatusThinking))
	prior := slices.Clone(s.record.Messages)
	s.record.Messages = append(s.record.Messages, adventure.Entry{
		Kind: adventure.SpeakerParticipant,
		Text: text,
		At:   s.now().UTC(),
	})
	req := narration.Request{
		Message:    text,
		History:    prior,
		Characters: []string{s.persona},
		Topic:      s.record.ScenarioRef,
	}
	s.mu.Unlock()

	s.narrate(ctx, req)
	return nil
}

// ResolveApproval settles a pending tool approval. Unknown tokens are
// ignored.
func (s *Session) ResolveApproval(token string, allowed bool) bool {
	if !s.ledger.Resolve(token, allowed) {
		s.logger.Debug().Str("token", token).Msg("approval token not pending")
		return false
	}
	s.mu.Lock()
	s.sendLocked(protocol.StatusFrame(protocol.StatusThinking))
	s.mu.Unlock()
	return true
}

func (s *Session) PendingApprovals() int { return s.ledger.Len() }

// Detach drops the connection. An in-flight turn still completes and is
// persisted.
func (s *Session) Detach() {
	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()
	if n := s.ledger.DenyAll(); n > 0 {
		s.logger.Info().Int("denied", n).Msg("pending approvals denied on detach")
	}
}

// Release detaches the connection and closes the session once any
// in-flight turn has been persisted.
func (s *Session) Release() {
	s.Detach()
	s.mu.Lock()
	if s.processing {
		s.release = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.Close()
}

// Close aborts any turn, denies pending approvals and stops the tool
// server. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.conn = nil
	s.mu.Unlock()

	s.narrator.Abort()
	s.ledger.Close()
	s.cancel()
	if err := s.toolbox.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("close tool server")
	}
}

func (s *Session) narrate(ctx context.Context, req narration.Request) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	completed := false
	for ev := range s.narrator.Run(ctx, req) {
		s.mu.Lock()
		switch ev.Kind {
		case narration.KindResponse:
			s.record.Messages = append(s.record.Messages, adventure.Entry{
				Kind: adventure.SpeakerNarrator,
				Text: ev.Text,
				At:   s.now().UTC(),
			})
		case narration.KindComplete:
			completed = true
		case narration.KindPermission:
			if !s.sendLocked(ev.Frame()) {
				s.ledger.Resolve(ev.Approval.Token, false)
				s.mu.Unlock()
				continue
			}
			s.sendLocked(protocol.StatusFrame(protocol.StatusAwaitingPermission))
			s.mu.Unlock()
			continue
		}
		s.sendLocked(ev.Frame())
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.processing = false
	s.record.Record(s.record.Messages, s.narrator.Handle())
	snapshot := *s.record
	snapshot.Messages = slices.Clone(s.record.Messages)
	s.sendLocked(protocol.StatusFrame(protocol.StatusIdle))
	s.mu.Unlock()

	if err := s.adventures.Update(context.WithoutCancel(ctx), &snapshot); err != nil {
		s.logger.Error().Err(err).Bool("completed", completed).Msg("persist adventure")
	}

	s.mu.Lock()
	release := s.release
	s.mu.Unlock()
	if release {
		s.Close()
	}
}

func (s *Session) sendLocked(f protocol.Frame) bool {
	if s.conn == nil {
		return false
	}
	return s.conn.Send(f)
}

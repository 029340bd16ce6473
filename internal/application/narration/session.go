package narration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tablehub/tablehub/internal/domain/adventure"
	"github.com/tablehub/tablehub/internal/domain/approval"
)

var tracer = otel.Tracer("github.com/tablehub/tablehub/internal/application/narration")

const defaultMaxToolRounds = 8

// DefaultInstructions is the standing narrator prompt.
const DefaultInstructions = `You are the Dungeon Master of a tabletop role-playing game.
Narrate vividly but concisely, address players by their character names, and
keep the story moving. Use the available tools to inspect characters, roll
dice and run combat; never invent combat state you can look up.
When a chapter of the adventure concludes, write a short recap that begins
with the line ` + ChapterMarker + `.`

// Options configures a Session.
type Options struct {
	Instructions   string
	Policy         Policy
	DenialEndsTurn bool
	MaxToolRounds  int
}

// Request is one participant message plus the context needed to rebuild the
// conversation if the engine cannot resume it.
type Request struct {
	Message    string
	History    []adventure.Entry
	Characters []string
	Topic      string
}

// Session drives the narration engine for one room or one solo adventure.
// It owns the resumable handle; concurrent Runs are not supported.
type Session struct {
	engine Engine
	tools  ToolSet
	ledger *approval.Ledger
	opts   Options
	logger zerolog.Logger

	mu     sync.Mutex
	handle string
	cancel context.CancelFunc
}

func NewSession(engine Engine, tools ToolSet, ledger *approval.Ledger, opts Options, logger zerolog.Logger) *Session {
	if opts.Instructions == "" {
		opts.Instructions = DefaultInstructions
	}
	if opts.Policy == nil {
		opts.Policy = ReadOnlyPolicy
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = defaultMaxToolRounds
	}
	return &Session{
		engine: engine,
		tools:  tools,
		ledger: ledger,
		opts:   opts,
		logger: logger.With().Str("component", "narration").Logger(),
	}
}

func (s *Session) Handle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// SetHandle seeds the resumable handle, e.g. from a stored adventure.
func (s *Session) SetHandle(handle string) {
	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()
}

// Abort cancels the in-flight Run, if any. Pending approvals of that run
// are denied. Safe to call repeatedly.
func (s *Session) Abort() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run performs one turn and yields its events in order. Errors are yielded
// as a KindError event; the sequence always ends after it.
func (s *Session) Run(ctx context.Context, req Request) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		ctx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.cancel = cancel
		s.mu.Unlock()
		defer func() {
			cancel()
			s.mu.Lock()
			s.cancel = nil
			s.mu.Unlock()
		}()

		ctx, span := tracer.Start(ctx, "narration.run")
		defer span.End()

		out := &emitter{yield: yield}
		err := s.turn(ctx, req, out)
		if err == nil || out.stopped {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			s.logger.Info().Msg("narration aborted")
			err = fmt.Errorf("%w: aborted", ErrEngineInvocation)
		} else {
			s.logger.Error().Err(err).Msg("narration failed")
		}
		out.emit(Event{Kind: KindError, Text: err.Error(), Err: err})
	}
}

func (s *Session) turn(ctx context.Context, req Request, out *emitter) error {
	if handle := s.Handle(); handle != "" {
		err := s.converse(ctx, EngineRequest{
			Handle:       handle,
			Instructions: s.opts.Instructions,
			Input:        req.Message,
		}, out)
		if err == nil || out.count > 0 || out.stopped || ctx.Err() != nil {
			return err
		}
		stale := fmt.Errorf("%w: %v", ErrResumeStale, err)
		s.logger.Warn().Err(stale).Str("handle", handle).Msg("rebuilding context from history")
		s.SetHandle("")
	}
	return s.converse(ctx, EngineRequest{
		Instructions: s.opts.Instructions,
		Input:        freshInput(req),
	}, out)
}

// converse runs the engine, executing tool calls until it answers without
// requesting any.
func (s *Session) converse(ctx context.Context, req EngineRequest, out *emitter) error {
	req.Tools = s.definitions()
	for round := 0; ; round++ {
		res, err := s.stream(ctx, req, out)
		if err != nil || out.stopped {
			return err
		}
		if res.handle != "" && res.handle != s.Handle() {
			s.SetHandle(res.handle)
			if !out.emit(Event{Kind: KindHandle, Handle: res.handle}) {
				return nil
			}
		}
		if res.text != "" && !out.emit(Event{Kind: KindResponse, Text: res.text}) {
			return nil
		}
		if len(res.calls) == 0 {
			out.emit(Event{Kind: KindComplete, Handle: s.Handle()})
			return nil
		}
		if round+1 >= s.opts.MaxToolRounds {
			return fmt.Errorf("%w: more than %d tool rounds", ErrEngineInvocation, s.opts.MaxToolRounds)
		}
		results, done, err := s.runTools(ctx, res.calls, out)
		if err != nil {
			return err
		}
		if done {
			out.emit(Event{Kind: KindComplete, Handle: s.Handle()})
			return nil
		}
		req = EngineRequest{
			Handle:       s.Handle(),
			Instructions: s.opts.Instructions,
			ToolResults:  results,
			Tools:        req.Tools,
		}
	}
}

type streamResult struct {
	handle string
	text   string
	calls  []ToolCall
}

func (s *Session) stream(ctx context.Context, req EngineRequest, out *emitter) (streamResult, error) {
	ctx, span := tracer.Start(ctx, "engine.stream")
	defer span.End()
	span.SetAttributes(
		attribute.Bool("narration.resume", req.Handle != ""),
		attribute.Int("narration.tool_results", len(req.ToolResults)),
	)

	var res streamResult
	st, err := s.engine.Stream(ctx, req)
	if err != nil {
		span.RecordError(err)
		return res, wrapEngineErr(err)
	}
	defer st.Close()

	var text strings.Builder
	for {
		ev, err := st.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			span.RecordError(err)
			return res, wrapEngineErr(err)
		}
		switch ev.Kind {
		case EngineTextDelta:
			if ev.Text == "" {
				continue
			}
			text.WriteString(ev.Text)
			if !out.emit(Event{Kind: KindPartial, Text: ev.Text}) {
				return res, nil
			}
		case EngineToolCall:
			res.calls = append(res.calls, ev.Call)
		case EngineCompleted:
			res.handle = ev.Handle
			if text.Len() == 0 && ev.Text != "" {
				text.WriteString(ev.Text)
			}
		}
	}
	res.text = strings.TrimSpace(text.String())
	span.SetAttributes(attribute.Int("narration.tool_calls", len(res.calls)))
	return res, nil
}

// runTools executes calls in order. done reports that a denial ended the
// turn.
func (s *Session) runTools(ctx context.Context, calls []ToolCall, out *emitter) (results []ToolResult, done bool, err error) {
	for _, call := range calls {
		if call.ID == "" {
			call.ID = uuid.NewString()
		}
		def, ok := s.lookup(call.Name)
		if !ok {
			results = append(results, ToolResult{CallID: call.ID, Output: "unknown tool: " + call.Name, IsError: true})
			continue
		}
		if s.opts.Policy.RequiresApproval(def) {
			allowed, err := s.requestApproval(ctx, call, def, out)
			if err != nil {
				return nil, false, err
			}
			if !allowed {
				results = append(results, ToolResult{
					CallID:  call.ID,
					Output:  "The table declined this action. Continue the story without it.",
					IsError: true,
				})
				if s.opts.DenialEndsTurn {
					return results, true, nil
				}
				continue
			}
		}
		output, err := s.tools.Call(ctx, call.Name, call.Input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			s.logger.Warn().Err(err).Str("tool", call.Name).Msg("tool call failed")
			results = append(results, ToolResult{CallID: call.ID, Output: err.Error(), IsError: true})
			continue
		}
		results = append(results, ToolResult{CallID: call.ID, Output: output})
	}
	return results, false, nil
}

func (s *Session) requestApproval(ctx context.Context, call ToolCall, def ToolDefinition, out *emitter) (bool, error) {
	req := approval.Request{
		Token:       call.ID,
		ToolName:    call.Name,
		Description: def.Description,
		Input:       call.Input,
	}
	pending, err := s.ledger.Open(req)
	if err != nil {
		s.logger.Warn().Err(err).Str("tool", call.Name).Msg("approval not opened, denying")
		return false, nil
	}
	if !out.emit(Event{Kind: KindPermission, Approval: req}) {
		s.ledger.Resolve(req.Token, false)
		return false, context.Canceled
	}
	allowed, err := pending.Wait(ctx)
	if err != nil {
		return false, err
	}
	s.logger.Info().Str("tool", call.Name).Bool("allowed", allowed).Msg("approval resolved")
	return allowed, nil
}

func (s *Session) definitions() []ToolDefinition {
	if s.tools == nil {
		return nil
	}
	return s.tools.Definitions()
}

func (s *Session) lookup(name string) (ToolDefinition, bool) {
	for _, def := range s.definitions() {
		if def.Name == name {
			return def, true
		}
	}
	return ToolDefinition{}, false
}

// freshInput is the engine input when no handle is available: a framing
// note and recap when there is history, the bare message otherwise.
func freshInput(req Request) string {
	if len(req.History) == 0 {
		return req.Message
	}
	var b strings.Builder
	b.WriteString("You are continuing an adventure already in progress")
	if len(req.Characters) > 0 {
		b.WriteString(" with ")
		b.WriteString(strings.Join(req.Characters, ", "))
	}
	if req.Topic != "" {
		b.WriteString(" in the scenario \"")
		b.WriteString(req.Topic)
		b.WriteString("\"")
	}
	b.WriteString(". The story so far:\n\n")
	b.WriteString(BuildRecap(req.History))
	b.WriteString("\n\n=== NEW MESSAGE ===\n")
	b.WriteString(req.Message)
	return b.String()
}

func wrapEngineErr(err error) error {
	if errors.Is(err, ErrEngineInvocation) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrEngineInvocation, err)
}

// emitter forwards events to the consumer and remembers if it stopped.
type emitter struct {
	yield   func(Event) bool
	count   int
	stopped bool
}

func (e *emitter) emit(ev Event) bool {
	if e.stopped {
		return false
	}
	e.count++
	if !e.yield(ev) {
		e.stopped = true
	}
	return !e.stopped
}

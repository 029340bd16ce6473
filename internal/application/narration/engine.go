package narration

import (
	"context"
	"encoding/json"
)

// Engine is the external narration producer. Each Stream call is one
// invocation; Handle, when set, asks the engine to continue a prior
// conversation instead of starting fresh.
type Engine interface {
	Stream(ctx context.Context, req EngineRequest) (EngineStream, error)
}

// EngineStream yields events until io.EOF.
type EngineStream interface {
	Recv() (EngineEvent, error)
	Close() error
}

// EngineRequest is one engine invocation.
type EngineRequest struct {
	Handle       string
	Instructions string
	Input        string
	ToolResults  []ToolResult
	Tools        []ToolDefinition
}

// EngineEventKind discriminates EngineEvent.
type EngineEventKind int

const (
	EngineTextDelta EngineEventKind = iota + 1
	EngineToolCall
	EngineCompleted
)

// EngineEvent is one item of an engine stream. Completed carries the new
// resumable handle and, optionally, the full response text.
type EngineEvent struct {
	Kind   EngineEventKind
	Text   string
	Call   ToolCall
	Handle string
}

// ToolCall is a capability invocation requested by the engine.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult is fed back to the engine after a ToolCall.
type ToolResult struct {
	CallID  string
	Output  string
	IsError bool
}

// ToolDefinition describes a capability offered to the engine.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      json.RawMessage
	ReadOnly    bool
}

// ToolSet executes capabilities on behalf of the engine.
type ToolSet interface {
	Definitions() []ToolDefinition
	Call(ctx context.Context, name string, input json.RawMessage) (string, error)
}

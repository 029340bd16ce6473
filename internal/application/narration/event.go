package narration

import (
	"errors"

	"github.com/tablehub/tablehub/internal/domain/approval"
)

var (
	// ErrEngineInvocation wraps failures of the engine or its transport.
	ErrEngineInvocation = errors.New("narration engine invocation failed")
	// ErrResumeStale marks a resume attempt against a handle the engine no
	// longer accepts. It is recovered internally.
	ErrResumeStale = errors.New("narration handle is stale")
)

// EventKind discriminates Event.
type EventKind string

const (
	KindPartial    EventKind = "partial"
	KindResponse   EventKind = "response"
	KindHandle     EventKind = "handle"
	KindComplete   EventKind = "complete"
	KindPermission EventKind = "permission"
	KindError      EventKind = "error"
)

// Event is what a Run yields to its consumer.
type Event struct {
	Kind     EventKind
	Text     string
	Handle   string
	Approval approval.Request
	Err      error
}

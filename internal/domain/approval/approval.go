package approval

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle of a pending approval.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusDenied   Status = "DENIED"
)

// Request is what the narrator asks the authority to approve.
type Request struct {
	Token       string          `json:"correlationToken"`
	ToolName    string          `json:"toolName"`
	Description string          `json:"description"`
	Input       json.RawMessage `json:"input,omitempty"`
}

// Outcome records how a request was settled.
type Outcome struct {
	Token     string    `json:"correlationToken"`
	Status    Status    `json:"status"`
	Forced    bool      `json:"forced"`
	DecidedAt time.Time `json:"decidedAt"`
}

func statusFor(allowed bool) Status {
	if allowed {
		return StatusApproved
	}
	return StatusDenied
}

package approval

import (
	"context"
	"errors"
	"sync"
	"time"
)

const maxOutcomes = 256

var (
	ErrDuplicateToken = errors.New("approval token already pending")
	ErrLedgerClosed   = errors.New("approval ledger closed")
	ErrEmptyToken     = errors.New("approval token is required")
)

// Pending is a not-yet-resolved approval. Exactly one decision is ever
// delivered on it.
type Pending struct {
	Request     Request
	RequestedAt time.Time

	ledger   *Ledger
	decision chan bool
}

// Wait blocks until the request is resolved. If ctx ends first the request
// is resolved as denied so it does not stay in the ledger.
func (p *Pending) Wait(ctx context.Context) (bool, error) {
	select {
	case allowed := <-p.decision:
		return allowed, nil
	case <-ctx.Done():
		p.ledger.settle(p.Request.Token, false, true)
		return <-p.decision, ctx.Err()
	}
}

// Ledger tracks in-flight approvals keyed by correlation token.
type Ledger struct {
	mu       sync.Mutex
	pending  map[string]*Pending
	outcomes []Outcome
	closed   bool
	now      func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{
		pending: make(map[string]*Pending),
		now:     time.Now,
	}
}

// Open registers a request and returns the handle the caller waits on.
func (l *Ledger) Open(req Request) (*Pending, error) {
	if req.Token == "" {
		return nil, ErrEmptyToken
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrLedgerClosed
	}
	if _, ok := l.pending[req.Token]; ok {
		return nil, ErrDuplicateToken
	}
	p := &Pending{
		Request:     req,
		RequestedAt: l.now().UTC(),
		ledger:      l,
		decision:    make(chan bool, 1),
	}
	l.pending[req.Token] = p
	return p, nil
}

// Resolve settles a pending request. It reports false for unknown or
// already-settled tokens.
func (l *Ledger) Resolve(token string, allowed bool) bool {
	return l.settle(token, allowed, false)
}

// DenyAll force-resolves every pending request and returns how many were
// settled.
func (l *Ledger) DenyAll() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for token := range l.pending {
		l.settleLocked(token, false, true)
		n++
	}
	return n
}

// Close denies everything pending and refuses new requests.
func (l *Ledger) Close() int {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return l.DenyAll()
}

// Len returns the number of unresolved requests.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Get returns the pending request for token, if any.
func (l *Ledger) Get(token string) (Request, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pending[token]
	if !ok {
		return Request{}, false
	}
	return p.Request, true
}

// Outcomes returns settled requests in resolution order.
func (l *Ledger) Outcomes() []Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Outcome(nil), l.outcomes...)
}

func (l *Ledger) settle(token string, allowed, forced bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settleLocked(token, allowed, forced)
}

func (l *Ledger) settleLocked(token string, allowed, forced bool) bool {
	p, ok := l.pending[token]
	if !ok {
		return false
	}
	delete(l.pending, token)
	p.decision <- allowed
	l.outcomes = append(l.outcomes, Outcome{
		Token:     token,
		Status:    statusFor(allowed),
		Forced:    forced,
		DecidedAt: l.now().UTC(),
	})
	if len(l.outcomes) > maxOutcomes {
		l.outcomes = l.outcomes[len(l.outcomes)-maxOutcomes:]
	}
	return true
}

package generate

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type attempt struct {
	id     string
	cancel context.CancelCauseFunc
}

// Attempts tracks the live generation attempt of every tile. Starting a new
// attempt cancels the previous one before it is registered, so the most
// recently started attempt always wins.
type Attempts struct {
	mu   sync.Mutex
	live map[string]attempt
}

func NewAttempts() *Attempts {
	return &Attempts{live: make(map[string]attempt)}
}

// Begin registers a new attempt for tileID and returns its id along with a
// context that is canceled with ErrSuperseded once a newer attempt begins.
func (a *Attempts) Begin(parent context.Context, tileID string) (string, context.Context) {
	ctx, cancel := context.WithCancelCause(parent)
	id := uuid.NewString()

	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.live[tileID]; ok {
		prev.cancel(ErrSuperseded)
	}
	a.live[tileID] = attempt{id: id, cancel: cancel}
	return id, ctx
}

func (a *Attempts) IsCurrent(tileID, attemptID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.live[tileID]
	return ok && cur.id == attemptID
}

// Cancel aborts the live attempt on tileID. The attempt stays registered
// until Done so that it can still record its own abort. It reports false
// when there was nothing to cancel.
func (a *Attempts) Cancel(tileID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.live[tileID]
	if !ok {
		return false
	}
	cur.cancel(context.Canceled)
	return true
}

// Done releases attemptID. It is a no-op when a newer attempt has replaced it.
func (a *Attempts) Done(tileID, attemptID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.live[tileID]
	if !ok || cur.id != attemptID {
		return
	}
	cur.cancel(nil)
	delete(a.live, tileID)
}

// Live returns the number of attempts in flight.
func (a *Attempts) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

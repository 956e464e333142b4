package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/chatarchive/mamsync/internal/bus"
)

// Phase represents where an account is in the archive sync lifecycle.
type Phase string

const (
	Idle          Phase = "IDLE"
	Detecting     Phase = "DETECTING"
	Initializing  Phase = "INITIALIZING"
	CatchingUp    Phase = "CATCHING_UP"
	Bootstrapping Phase = "BOOTSTRAPPING"
	Synced        Phase = "SYNCED"
)

// validTransitions defines allowed phase transitions.
var validTransitions = map[Phase][]Phase{
	Idle:          {Detecting},
	Detecting:     {Initializing, CatchingUp, Bootstrapping, Synced, Idle},
	Initializing:  {Bootstrapping, Idle},
	CatchingUp:    {Bootstrapping, Synced, Idle},
	Bootstrapping: {Synced, Idle},
	Synced:        {Detecting, Idle},
}

// Tracker tracks and enforces per-account sync phase transitions.
type Tracker struct {
	mu    sync.RWMutex
	phase map[string]Phase
	bus   *bus.Bus
}

func NewTracker(b *bus.Bus) *Tracker {
	return &Tracker{
		phase: make(map[string]Phase),
		bus:   b,
	}
}

// Current returns the account's current phase.
func (t *Tracker) Current(account string) Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.phase[account]; ok {
		return p
	}
	return Idle
}

// Transition attempts to move the account to a new phase. Returns an error
// if the transition is not allowed.
func (t *Tracker) Transition(account string, to Phase) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	from, ok := t.phase[account]
	if !ok {
		from = Idle
	}
	allowed := validTransitions[from]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	t.phase[account] = to
	if t.bus != nil {
		t.bus.Publish(bus.Event{
			Kind:      "sync.phase_changed",
			Timestamp: time.Now(),
			Payload: PhaseChange{
				Account: account,
				From:    from,
				To:      to,
			},
		})
	}
	return nil
}

// Reset forces the account back to Idle without transition checks,
// used on disconnect.
func (t *Tracker) Reset(account string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.phase, account)
}

// PhaseChange is the payload for phase change events.
type PhaseChange struct {
	Account string
	From    Phase
	To      Phase
}

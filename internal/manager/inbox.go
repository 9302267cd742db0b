package manager

import (
	"sync"

	"github.com/playperu/league/internal/league"
)

// Inbox hands match reports to the round waiting for them.
type Inbox struct {
	mu      sync.Mutex
	waiting map[string]chan league.Outcome
}

func NewInbox() *Inbox {
	return &Inbox{waiting: make(map[string]chan league.Outcome)}
}

// Expect registers interest in the report for matchID.
func (b *Inbox) Expect(matchID string) <-chan league.Outcome {
	ch := make(chan league.Outcome, 1)
	b.mu.Lock()
	b.waiting[matchID] = ch
	b.mu.Unlock()
	return ch
}

// Deliver passes o to its waiter and reports whether there was one.
func (b *Inbox) Deliver(o league.Outcome) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.waiting[o.MatchID]
	if !ok {
		return false
	}
	delete(b.waiting, o.MatchID)
	ch <- o
	return true
}

func (b *Inbox) Forget(matchID string) {
	b.mu.Lock()
	delete(b.waiting, matchID)
	b.mu.Unlock()
}

package cooldown

import (
	"sync"
	"time"

	"github.com/llmproxy/credpool/internal/credential"
)

type key struct {
	credID int64
	group  credential.ModelGroup
}

// Tracker holds cooldown deadlines keyed by (credential, model group).
type Tracker struct {
	mutex sync.RWMutex
	until map[key]time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		until: make(map[key]time.Time),
	}
}

// IsCoolingDown reports whether the credential is still cooling down for the
// model group at the given instant.
func (t *Tracker) IsCoolingDown(credID int64, group credential.ModelGroup, now time.Time) bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	deadline, ok := t.until[key{credID, group}]
	return ok && deadline.After(now)
}

// Remaining returns how much cooldown is left, or zero if none.
func (t *Tracker) Remaining(credID int64, group credential.ModelGroup, now time.Time) time.Duration {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	deadline, ok := t.until[key{credID, group}]
	if !ok || !deadline.After(now) {
		return 0
	}
	return deadline.Sub(now)
}

// Start opens a cooldown window of the given duration. A zero or negative
// duration is a no-op: the credential stays immediately eligible.
//
// Starting replaces any window already open for the same key, so an upstream
// Retry-After hint can lengthen or shorten the configured cooldown.
func (t *Tracker) Start(credID int64, group credential.ModelGroup, now time.Time, duration time.Duration) {
	if duration <= 0 {
		return
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.until[key{credID, group}] = now.Add(duration)
}

// TryStart claims the key: it opens a cooldown window of the given duration
// only when no window is already open, and reports whether the claim won.
// The check and the write happen under one lock acquisition, so at most one
// of any concurrent claimants wins a given window. A zero or negative
// duration claims without opening a window.
func (t *Tracker) TryStart(credID int64, group credential.ModelGroup, now time.Time, duration time.Duration) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	k := key{credID, group}
	if deadline, ok := t.until[k]; ok && deadline.After(now) {
		return false
	}
	if duration > 0 {
		t.until[k] = now.Add(duration)
	}
	return true
}

// Clear removes every cooldown window for a credential, across all groups.
func (t *Tracker) Clear(credID int64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for k := range t.until {
		if k.credID == credID {
			delete(t.until, k)
		}
	}
}

// Reset drops all tracked state.
func (t *Tracker) Reset() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.until = make(map[key]time.Time)
}

// ActiveCount returns the number of windows still open at the given instant,
// pruning expired ones as it goes.
func (t *Tracker) ActiveCount(now time.Time) int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	count := 0
	for k, deadline := range t.until {
		if deadline.After(now) {
			count++
		} else {
			delete(t.until, k)
		}
	}
	return count
}

package scheduler

import (
	"sync"

	"github.com/google/uuid"

	"github.com/llmproxy/credpool/internal/credential"
)

// NewRequestID mints a request id for the Select/ReportFailure/Complete
// lifecycle. Callers with their own correlation ids may use those instead.
func NewRequestID() string {
	return uuid.New().String()
}

// requestState is the per-request retry context: which credentials were
// already tried and for whom. It lives exactly as long as the request —
// Complete discards it so exclusions never leak across requests.
type requestState struct {
	userID int64
	group  credential.ModelGroup
	tried  map[int64]struct{}
}

type requestTracker struct {
	mutex    sync.Mutex
	requests map[string]*requestState
}

func newRequestTracker() *requestTracker {
	return &requestTracker{
		requests: make(map[string]*requestState),
	}
}

// markTried records a tried credential, creating the request state on first
// use. Returns the state so callers can read user and group under no lock
// assumption (fields are immutable after creation).
func (t *requestTracker) markTried(requestID string, userID int64, group credential.ModelGroup, credID int64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	st, ok := t.requests[requestID]
	if !ok {
		st = &requestState{
			userID: userID,
			group:  group,
			tried:  make(map[int64]struct{}),
		}
		t.requests[requestID] = st
	}
	st.tried[credID] = struct{}{}
}

// lookup returns the request's state and a copy of its exclusion set.
func (t *requestTracker) lookup(requestID string) (userID int64, group credential.ModelGroup, tried map[int64]struct{}, ok bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	st, ok := t.requests[requestID]
	if !ok {
		return 0, "", nil, false
	}

	cp := make(map[int64]struct{}, len(st.tried))
	for id := range st.tried {
		cp[id] = struct{}{}
	}
	return st.userID, st.group, cp, true
}

// excluded returns a copy of the exclusion set, empty when the request is
// unknown.
func (t *requestTracker) excluded(requestID string) map[int64]struct{} {
	_, _, tried, ok := t.lookup(requestID)
	if !ok {
		return nil
	}
	return tried
}

// complete discards the request's state.
func (t *requestTracker) complete(requestID string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	delete(t.requests, requestID)
}

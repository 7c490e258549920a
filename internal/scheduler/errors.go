package scheduler

import (
	"errors"
	"fmt"

	"github.com/llmproxy/credpool/internal/credential"
	"github.com/llmproxy/credpool/internal/quota"
)

// Sentinel errors. All four scheduling outcomes are user-facing conditions,
// never process faults; each maps to a distinct client message.
var (
	// ErrRateLimited: the user's RPM bucket is empty. Transient; the caller
	// should back off, the scheduler does not retry it.
	ErrRateLimited = errors.New("credpool: rate limited")

	// ErrQuotaExhausted: reward balance and daily allowance are both spent.
	// Terminal until the next day boundary or the next credit.
	ErrQuotaExhausted = quota.ErrQuotaExhausted

	// ErrNoCandidates: visibility rules produced an empty candidate set.
	ErrNoCandidates = errors.New("credpool: no candidate credential")

	// ErrAllCoolingDown: candidates existed but every one is cooling down.
	// Transient; a later attempt may succeed as cooldowns expire.
	ErrAllCoolingDown = errors.New("credpool: all candidates cooling down")

	// ErrRetriesExhausted: the per-request retry bound was reached.
	ErrRetriesExhausted = errors.New("credpool: retries exhausted")

	// ErrUnknownRequest: ReportFailure referenced a request id the scheduler
	// has no state for (never selected, or already completed).
	ErrUnknownRequest = errors.New("credpool: unknown request id")
)

// SchedulerError carries scheduling context alongside the sentinel.
type SchedulerError struct {
	Err      error
	UserID   int64
	Group    credential.ModelGroup
	Attempts int
}

func (e *SchedulerError) Error() string {
	return fmt.Sprintf("credpool: user=%d group=%s attempts=%d: %v",
		e.UserID, e.Group, e.Attempts, e.Err)
}

func (e *SchedulerError) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether the request should not be attempted again:
// quota exhaustion and retry exhaustion stay failed until state changes
// outside the request's lifetime.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrQuotaExhausted) || errors.Is(err, ErrRetriesExhausted)
}

// IsNoCredential reports the two "nothing to serve with" outcomes, which
// callers usually surface with the same message.
func IsNoCredential(err error) bool {
	return errors.Is(err, ErrNoCandidates) || errors.Is(err, ErrAllCoolingDown)
}

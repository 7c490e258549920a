package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/llmproxy/credpool/internal/cooldown"
	"github.com/llmproxy/credpool/internal/credential"
	"github.com/llmproxy/credpool/internal/metrics"
	"github.com/llmproxy/credpool/internal/pool"
	"github.com/llmproxy/credpool/internal/quota"
	"github.com/llmproxy/credpool/internal/ratelimit"
	"github.com/llmproxy/credpool/internal/store"
)

// Store is the persistence surface the scheduler consumes.
type Store interface {
	pool.CredentialSource

	Add(c *credential.Credential) (int64, error)
	Get(id int64) (*credential.Credential, error)
	MarkUsed(id int64, group credential.ModelGroup, now time.Time) error
	SetActive(id int64, active bool) error
	SetPublic(id int64, public bool, lockDonate bool) error
	Stats(userID int64) (store.Stats, error)
}

// Scheduler answers "which credential, if any, serves this request" and
// records the outcome.
type Scheduler struct {
	logger    *slog.Logger
	store     Store
	config    *pool.Holder
	resolver  *pool.Resolver
	cooldowns *cooldown.Tracker
	ledger    *quota.Ledger
	limiter   *ratelimit.Limiter
	requests  *requestTracker
	collector *metrics.Collector
}

// New wires a scheduler. The collector may be nil to disable metrics.
func New(logger *slog.Logger, st Store, config *pool.Holder, ledger *quota.Ledger, collector *metrics.Collector) *Scheduler {
	return &Scheduler{
		logger:    logger,
		store:     st,
		config:    config,
		resolver:  pool.NewResolver(st, config),
		cooldowns: cooldown.NewTracker(),
		ledger:    ledger,
		limiter:   ratelimit.NewLimiter(),
		requests:  newRequestTracker(),
		collector: collector,
	}
}

// Select picks a usable credential for the user and model group, spending
// one rate-limit token and one quota unit on success. The requestID scopes
// the exclusion set used by ReportFailure; pass NewRequestID() per proxy
// request and Complete it when the request finishes.
func (s *Scheduler) Select(userID int64, group credential.ModelGroup, now time.Time, requestID string) (*credential.Credential, error) {
	if !group.Valid() {
		return nil, fmt.Errorf("credpool: unknown model group %q", group)
	}

	cfg := s.config.Snapshot()
	provider := credential.ProviderFor(group)

	s.emit(metrics.Event{Type: metrics.EventSelectStarted, Group: group})

	contributor, err := s.store.OwnsActive(userID, provider)
	if err != nil {
		return nil, fmt.Errorf("credpool: ownership lookup: %w", err)
	}

	if !s.limiter.Admit(userID, provider, cfg.RPMFor(provider, contributor), now) {
		return nil, s.reject(ErrRateLimited, userID, group, 1)
	}

	// The rate-limit token spent above is not refunded on quota failure;
	// the two gates are independent.
	if s.ledger.Remaining(userID, group, now) == 0 {
		return nil, s.reject(ErrQuotaExhausted, userID, group, 1)
	}

	return s.pickAndCommit(cfg, userID, group, now, requestID, 1)
}

func (s *Scheduler) pickAndCommit(cfg *pool.Config, userID int64, group credential.ModelGroup, now time.Time, requestID string, attempt int) (*credential.Credential, error) {
	candidates, err := s.resolver.Candidates(userID, group)
	if err != nil {
		return nil, fmt.Errorf("credpool: resolve candidates: %w", err)
	}

	excluded := s.requests.excluded(requestID)
	eligible := make([]*credential.Credential, 0, len(candidates))
	for _, c := range candidates {
		if _, tried := excluded[c.ID]; tried {
			continue
		}
		eligible = append(eligible, c)
	}

	if len(eligible) == 0 {
		return nil, s.reject(ErrNoCandidates, userID, group, attempt)
	}

	ready := eligible[:0]
	for _, c := range eligible {
		if !s.cooldowns.IsCoolingDown(c.ID, group, now) {
			ready = append(ready, c)
		}
	}

	if len(ready) == 0 {
		return nil, s.reject(ErrAllCoolingDown, userID, group, attempt)
	}

	// Reserve before committing the pick so a lost quota race consumes
	// nothing else.
	if err := s.ledger.Reserve(userID, group, now, 1); err != nil {
		if errors.Is(err, quota.ErrQuotaExhausted) {
			return nil, s.reject(ErrQuotaExhausted, userID, group, attempt)
		}
		return nil, err
	}

	// Claim in least-recently-used order. The filter above is advisory;
	// TryStart is the authoritative check, done under the tracker's lock,
	// and a candidate claimed by a parallel request in between is skipped.
	var picked *credential.Credential
	window := cfg.CooldownFor(group)
	for len(ready) > 0 {
		c := pickLeastRecentlyUsed(ready, group)
		if s.cooldowns.TryStart(c.ID, group, now, window) {
			picked = c
			break
		}
		rest := ready[:0]
		for _, r := range ready {
			if r.ID != c.ID {
				rest = append(rest, r)
			}
		}
		ready = rest
	}
	if picked == nil {
		s.ledger.Release(userID, group, now, 1)
		return nil, s.reject(ErrAllCoolingDown, userID, group, attempt)
	}

	if err := s.store.MarkUsed(picked.ID, group, now); err != nil {
		// The pick stands; usage accounting catches up on the next write.
		s.logger.Warn("failed to record credential use",
			slog.Int64("credential_id", picked.ID),
			slog.String("error", err.Error()))
	}
	picked.UseCount++
	picked.LastUsed[group] = now

	if requestID != "" {
		s.requests.markTried(requestID, userID, group, picked.ID)
	}

	s.emit(metrics.Event{
		Type:         metrics.EventCredentialSelected,
		CredentialID: picked.ID,
		Group:        group,
	})

	s.logger.Debug("credential selected",
		slog.Int64("user_id", userID),
		slog.String("group", string(group)),
		slog.Int64("credential_id", picked.ID),
		slog.Int("attempt", attempt))

	return picked, nil
}

// ReportFailure records an upstream failure for a credential tried under
// requestID and rotates to the next candidate, excluding everything already
// tried for this request. Once attempt exceeds the configured retry count
// the request is terminal and its exclusion state is discarded.
func (s *Scheduler) ReportFailure(requestID string, triedCredID int64, attempt int, now time.Time) (*credential.Credential, error) {
	userID, group, _, ok := s.requests.lookup(requestID)
	if !ok {
		return nil, ErrUnknownRequest
	}

	s.requests.markTried(requestID, userID, group, triedCredID)

	cfg := s.config.Snapshot()
	if attempt > cfg.ErrorRetryCount {
		s.requests.complete(requestID)
		return nil, s.reject(ErrRetriesExhausted, userID, group, attempt)
	}

	s.emit(metrics.Event{Type: metrics.EventRetryScheduled, Group: group})

	s.logger.Info("retrying with alternate credential",
		slog.Int64("user_id", userID),
		slog.String("group", string(group)),
		slog.Int64("failed_credential_id", triedCredID),
		slog.Int("attempt", attempt))

	return s.Select(userID, group, now, requestID)
}

// Complete acknowledges the end of a request, success or final failure, and
// discards its exclusion set.
func (s *Scheduler) Complete(requestID string) {
	s.requests.complete(requestID)
	s.emit(metrics.Event{Type: metrics.EventRequestCompleted})
}

// PunishCooldown overrides the configured cooldown for a credential and
// model group, typically with an upstream Retry-After hint from a 429.
func (s *Scheduler) PunishCooldown(credID int64, group credential.ModelGroup, now time.Time, retryAfter time.Duration) {
	s.cooldowns.Start(credID, group, now, retryAfter)

	s.logger.Warn("credential rate limited upstream",
		slog.Int64("credential_id", credID),
		slog.String("group", string(group)),
		slog.Duration("retry_after", retryAfter))
}

// ReportAuthFailure deactivates a credential after an upstream auth error
// (401/403) and, if it was donated, claws back its upload reward from the
// owner's reward balances.
func (s *Scheduler) ReportAuthFailure(credID int64) error {
	cred, err := s.store.Get(credID)
	if err != nil {
		return err
	}

	if err := s.store.SetActive(credID, false); err != nil {
		return err
	}
	s.cooldowns.Clear(credID)

	if cred.Public {
		cfg := s.config.Snapshot()
		for _, g := range cred.CoveredGroups() {
			s.ledger.Debit(cred.OwnerID, g, cfg.UploadReward[g])
		}
	}

	s.logger.Warn("credential deactivated after auth failure",
		slog.Int64("credential_id", credID),
		slog.Int64("owner_id", cred.OwnerID),
		slog.Bool("was_public", cred.Public))

	return nil
}

// AddCredential ingests a credential from upload or OAuth completion,
// applying the force-donate policy and crediting the upload reward for
// every model group the credential's tier covers.
func (s *Scheduler) AddCredential(c *credential.Credential, now time.Time) (*credential.Credential, error) {
	if !c.Provider.Valid() {
		return nil, fmt.Errorf("credpool: unknown provider %q", c.Provider)
	}

	cfg := s.config.Snapshot()

	cp := c.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cfg.ForceDonate {
		cp.Public = true
	}

	id, err := s.store.Add(cp)
	if err != nil {
		return nil, err
	}
	cp.ID = id

	for _, g := range cp.CoveredGroups() {
		if reward := cfg.UploadReward[g]; reward > 0 {
			s.ledger.Credit(cp.OwnerID, g, reward)
		}
	}

	s.logger.Info("credential ingested",
		slog.Int64("credential_id", cp.ID),
		slog.Int64("owner_id", cp.OwnerID),
		slog.String("provider", string(cp.Provider)),
		slog.String("tier", cp.Tier.String()),
		slog.Bool("public", cp.Public))

	return cp, nil
}

// SetVisibility toggles a credential's public flag under the current
// lock-donate policy.
func (s *Scheduler) SetVisibility(credID int64, public bool) error {
	return s.store.SetPublic(credID, public, s.config.Snapshot().LockDonate)
}

// Stats returns pool counters for display. Never mutates state.
func (s *Scheduler) Stats(userID int64) (store.Stats, error) {
	return s.store.Stats(userID)
}

// QuotaStatus returns the per-model-group remaining quota for display.
// Never mutates state.
func (s *Scheduler) QuotaStatus(userID int64, now time.Time) map[credential.ModelGroup]int64 {
	status := make(map[credential.ModelGroup]int64, len(credential.Groups()))
	for _, g := range credential.Groups() {
		status[g] = s.ledger.Remaining(userID, g, now)
	}
	return status
}

func (s *Scheduler) reject(sentinel error, userID int64, group credential.ModelGroup, attempt int) error {
	s.emit(metrics.Event{
		Type:   metrics.EventSelectRejected,
		Group:  group,
		Reason: rejectionReason(sentinel),
	})

	return &SchedulerError{
		Err:      sentinel,
		UserID:   userID,
		Group:    group,
		Attempts: attempt,
	}
}

func (s *Scheduler) emit(event metrics.Event) {
	if s.collector == nil {
		return
	}
	event.Timestamp = time.Now()
	s.collector.Emit(event)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrQuotaExhausted):
		return "quota_exhausted"
	case errors.Is(err, ErrNoCandidates):
		return "no_candidates"
	case errors.Is(err, ErrAllCoolingDown):
		return "all_cooling_down"
	case errors.Is(err, ErrRetriesExhausted):
		return "retries_exhausted"
	default:
		return "internal"
	}
}

// pickLeastRecentlyUsed returns the candidate least recently used for the
// model group. Never-used candidates always win; ties break on the smaller
// id. This spreads load round-robin-like without extra state.
func pickLeastRecentlyUsed(candidates []*credential.Credential, group credential.ModelGroup) *credential.Credential {
	best := candidates[0]
	bestUsed, bestWasUsed := best.LastUsedAt(group)

	for _, c := range candidates[1:] {
		used, wasUsed := c.LastUsedAt(group)

		switch {
		case !wasUsed && bestWasUsed:
			best, bestUsed, bestWasUsed = c, used, wasUsed
		case wasUsed == bestWasUsed && used.Before(bestUsed):
			best, bestUsed, bestWasUsed = c, used, wasUsed
		case wasUsed == bestWasUsed && used.Equal(bestUsed) && c.ID < best.ID:
			best, bestUsed, bestWasUsed = c, used, wasUsed
		}
	}

	return best
}

package store

import (
	"errors"
	"time"

	"github.com/llmproxy/credpool/internal/credential"
	"github.com/llmproxy/credpool/internal/pool"
)

var (
	// ErrNotFound is returned when a credential id does not exist.
	ErrNotFound = errors.New("store: credential not found")

	// ErrDonateLocked is returned by SetPublic when un-publishing an active
	// public credential while the lock-donate flag is set.
	ErrDonateLocked = errors.New("store: donated credential is locked while active")
)

// Stats summarizes the credential pool for display.
type Stats struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Public     int `json:"public"`
	UserActive int `json:"user_active"`
}

// QuotaRow is one persisted ledger entry, keyed by (user, group, day).
type QuotaRow struct {
	UserID int64
	Group  credential.ModelGroup
	Day    time.Time
	Reward int64
	Used   int64
}

// Store is the full persistence contract the scheduler and its collaborators
// consume. Consumers that need less declare their own narrower interface.
type Store interface {
	// Add inserts a credential and returns its assigned id.
	Add(c *credential.Credential) (int64, error)
	Get(id int64) (*credential.Credential, error)
	List() ([]*credential.Credential, error)
	// ListActive returns active credentials for a provider namespace.
	ListActive(provider credential.Provider) ([]*credential.Credential, error)
	OwnsActive(ownerID int64, provider credential.Provider) (bool, error)
	OwnsActiveTier(ownerID int64, provider credential.Provider, tier credential.CapabilityTier) (bool, error)
	// MarkUsed records a selection: bumps use_count and the per-group
	// last-used timestamp.
	MarkUsed(id int64, group credential.ModelGroup, now time.Time) error
	SetActive(id int64, active bool) error
	// SetPublic toggles visibility, enforcing the lock-donate invariant.
	SetPublic(id int64, public bool, lockDonate bool) error
	Delete(id int64) error
	// PurgeInactive deletes all inactive credentials, returning the count.
	PurgeInactive() (int, error)
	// Stats never mutates state.
	Stats(userID int64) (Stats, error)

	// SavePoolConfig persists the snapshot as the single versioned record.
	SavePoolConfig(cfg *pool.Config) error
	// LoadPoolConfig returns the persisted snapshot, or nil if none exists.
	LoadPoolConfig() (*pool.Config, error)

	// SaveQuota upserts one ledger entry; satisfies quota.Persister.
	SaveQuota(userID int64, group credential.ModelGroup, day time.Time, reward, used int64) error
	// LoadQuotaRows returns all persisted ledger entries for hydration.
	LoadQuotaRows() ([]QuotaRow, error)

	Close() error
}

package pool

import (
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/llmproxy/credpool/internal/credential"
)

// Mode governs which public credentials a user may draw from.
type Mode string

const (
	// ModePrivate restricts every user to their own credentials.
	ModePrivate Mode = "private"
	// ModeTier3Shared opens the public 3.0-tier pool to users who donated a
	// 3.0-tier credential; everyone else shares only up to 2.5pro.
	ModeTier3Shared Mode = "tier3_shared"
	// ModeFullShared opens the whole public pool to anyone who owns at least
	// one active credential.
	ModeFullShared Mode = "full_shared"
)

// Config is one immutable snapshot of the operator-tunable pool settings.
// Maps are read-only after construction; Replace swaps the whole snapshot.
type Config struct {
	Mode Mode

	// NoCredQuota is the per-group daily allowance granted regardless of
	// uploads. quota.Unlimited (-1) removes the cap; zero grants nothing.
	NoCredQuota map[credential.ModelGroup]int64

	// UploadReward is the one-time reward credited per covered group when a
	// credential is uploaded.
	UploadReward map[credential.ModelGroup]int64

	// Cooldown is the per-group minimum time a credential stays unselected
	// after use. Zero disables the cooldown for that group.
	Cooldown map[credential.ModelGroup]time.Duration

	// BaseRPM and ContributorRPM are per-provider request-per-minute limits;
	// the contributor rate applies to users owning an active credential for
	// that provider.
	BaseRPM        map[credential.Provider]int
	ContributorRPM map[credential.Provider]int

	// ErrorRetryCount bounds how many alternate credentials are tried after
	// upstream failures within one request.
	ErrorRetryCount int

	// ForceDonate publishes every newly ingested credential.
	ForceDonate bool

	// LockDonate forbids un-publishing an active public credential.
	LockDonate bool

	// DayResetHour is the UTC hour at which daily allowances roll over.
	DayResetHour int

	// Version increments on every replace, for the persisted record.
	Version int64
}

// Validate checks the snapshot before it is swapped in.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Mode,
			validation.Required,
			validation.In(ModePrivate, ModeTier3Shared, ModeFullShared),
		),
		validation.Field(&c.ErrorRetryCount,
			validation.Min(0),
		),
		validation.Field(&c.DayResetHour,
			validation.Min(0),
			validation.Max(23),
		),
		validation.Field(&c.NoCredQuota,
			validation.By(validateQuotaMap),
		),
		validation.Field(&c.UploadReward,
			validation.By(validateRewardMap),
		),
	)
}

func validateQuotaMap(value interface{}) error {
	m, ok := value.(map[credential.ModelGroup]int64)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a quota map")
	}
	for g, v := range m {
		if !g.Valid() {
			return validation.NewError("validation_unknown_group", "unknown model group "+string(g))
		}
		if v < -1 {
			return validation.NewError("validation_invalid_quota", "quota must be >= 0 or the unlimited sentinel -1")
		}
	}
	return nil
}

func validateRewardMap(value interface{}) error {
	m, ok := value.(map[credential.ModelGroup]int64)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a reward map")
	}
	for g, v := range m {
		if !g.Valid() {
			return validation.NewError("validation_unknown_group", "unknown model group "+string(g))
		}
		if v < 0 {
			return validation.NewError("validation_invalid_reward", "reward must be >= 0")
		}
	}
	return nil
}

// CooldownFor returns the configured cooldown for a group, zero if unset.
func (c Config) CooldownFor(g credential.ModelGroup) time.Duration {
	return c.Cooldown[g]
}

// RPMFor returns the applicable rate limit for a provider.
func (c Config) RPMFor(p credential.Provider, contributor bool) int {
	if contributor {
		return c.ContributorRPM[p]
	}
	return c.BaseRPM[p]
}

// Holder publishes Config snapshots with atomic replace-on-save semantics.
type Holder struct {
	current atomic.Pointer[Config]
}

func NewHolder(cfg Config) (*Holder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Holder{}
	h.current.Store(&cfg)
	return h, nil
}

// Snapshot returns the current configuration. The returned value must be
// treated as read-only; a scheduling decision reads it exactly once.
func (h *Holder) Snapshot() *Config {
	return h.current.Load()
}

// Replace validates and swaps in a new snapshot, bumping its version past
// the one it replaces. In-flight readers keep the snapshot they loaded.
func (h *Holder) Replace(cfg Config) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Version = h.current.Load().Version + 1
	h.current.Store(&cfg)
	return &cfg, nil
}

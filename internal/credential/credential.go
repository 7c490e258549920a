package credential

import (
	"time"
)

// ModelGroup is a class of upstream model with its own quota, cooldown and
// RPM knobs.
type ModelGroup string

const (
	GroupFlash       ModelGroup = "flash"
	GroupPro25       ModelGroup = "pro25"
	GroupPro30       ModelGroup = "pro30"
	GroupAntigravity ModelGroup = "antigravity"
	GroupAnthropic   ModelGroup = "anthropic"
)

// Groups lists every known model group.
func Groups() []ModelGroup {
	return []ModelGroup{GroupFlash, GroupPro25, GroupPro30, GroupAntigravity, GroupAnthropic}
}

// Valid reports whether g is a known model group.
func (g ModelGroup) Valid() bool {
	switch g {
	case GroupFlash, GroupPro25, GroupPro30, GroupAntigravity, GroupAnthropic:
		return true
	default:
		return false
	}
}

// Provider identifies the upstream credential namespace.
type Provider string

const (
	ProviderGeminiCLI   Provider = "gemini-cli"
	ProviderAntigravity Provider = "antigravity"
	ProviderAnthropic   Provider = "anthropic"
)

// Providers lists every known provider.
func Providers() []Provider {
	return []Provider{ProviderGeminiCLI, ProviderAntigravity, ProviderAnthropic}
}

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGeminiCLI, ProviderAntigravity, ProviderAnthropic:
		return true
	default:
		return false
	}
}

// Serves reports whether the provider's namespace contains the model group.
func (p Provider) Serves(g ModelGroup) bool {
	return ProviderFor(g) == p
}

// ProviderFor returns the provider whose namespace owns the model group.
// The Gemini groups (flash, pro25, pro30) belong to gemini-cli; antigravity
// and anthropic each form their own single-group namespace.
func ProviderFor(g ModelGroup) Provider {
	switch g {
	case GroupAntigravity:
		return ProviderAntigravity
	case GroupAnthropic:
		return ProviderAnthropic
	default:
		return ProviderGeminiCLI
	}
}

// CapabilityTier is the highest Gemini model group a credential can serve.
// Tiers are ordered: a Tier30Pro credential also serves pro25 and flash.
type CapabilityTier int

const (
	TierFlash CapabilityTier = iota
	Tier25Pro
	Tier30Pro
)

func (t CapabilityTier) String() string {
	switch t {
	case TierFlash:
		return "flash-only"
	case Tier25Pro:
		return "up-to-2.5pro"
	case Tier30Pro:
		return "up-to-3.0pro"
	default:
		return "unknown"
	}
}

// ParseTier converts the wire representation back into a CapabilityTier.
func ParseTier(s string) (CapabilityTier, bool) {
	switch s {
	case "flash-only":
		return TierFlash, true
	case "up-to-2.5pro":
		return Tier25Pro, true
	case "up-to-3.0pro":
		return Tier30Pro, true
	default:
		return TierFlash, false
	}
}

// Covers reports whether the tier is high enough to serve the model group.
// Tiers only order the Gemini groups; for the antigravity and anthropic
// namespaces the provider filter decides and Covers always passes.
func (t CapabilityTier) Covers(g ModelGroup) bool {
	switch g {
	case GroupFlash:
		return true
	case GroupPro25:
		return t >= Tier25Pro
	case GroupPro30:
		return t >= Tier30Pro
	case GroupAntigravity, GroupAnthropic:
		return true
	default:
		return false
	}
}

// Credential is one upstream OAuth/API-key object in the pool.
//
// The record is a plain value; all mutation goes through the store so that
// concurrent schedulers observe consistent state.
type Credential struct {
	ID        int64
	OwnerID   int64
	Provider  Provider
	Tier      CapabilityTier
	Active    bool
	Public    bool
	UseCount  int64
	LastUsed  map[ModelGroup]time.Time
	CreatedAt time.Time
}

// CanServe reports whether the credential qualifies for the model group:
// the group must be in the credential's provider namespace and within its
// capability tier.
func (c *Credential) CanServe(g ModelGroup) bool {
	return c.Provider.Serves(g) && c.Tier.Covers(g)
}

// LastUsedAt returns the last selection time for the model group.
// The second return is false if the credential was never used for it.
func (c *Credential) LastUsedAt(g ModelGroup) (time.Time, bool) {
	t, ok := c.LastUsed[g]
	return t, ok
}

// CoveredGroups returns the model groups this credential can serve.
func (c *Credential) CoveredGroups() []ModelGroup {
	var groups []ModelGroup
	for _, g := range Groups() {
		if c.CanServe(g) {
			groups = append(groups, g)
		}
	}
	return groups
}

// Clone returns a deep copy, safe to hand to callers while the store keeps
// mutating the original.
func (c *Credential) Clone() *Credential {
	cp := *c
	cp.LastUsed = make(map[ModelGroup]time.Time, len(c.LastUsed))
	for g, t := range c.LastUsed {
		cp.LastUsed[g] = t
	}
	return &cp
}

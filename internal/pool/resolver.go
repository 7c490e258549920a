package pool

import (
	"github.com/llmproxy/credpool/internal/credential"
)

// CredentialSource is the slice of the store the resolver needs.
type CredentialSource interface {
	// ListActive returns active credentials for a provider namespace.
	ListActive(provider credential.Provider) ([]*credential.Credential, error)
	// OwnsActive reports whether the user owns any active credential for the
	// provider.
	OwnsActive(ownerID int64, provider credential.Provider) (bool, error)
	// OwnsActiveTier reports whether the user owns an active credential of at
	// least the given tier for the provider.
	OwnsActiveTier(ownerID int64, provider credential.Provider, tier credential.CapabilityTier) (bool, error)
}

// Resolver computes the candidate credential set for a request, before
// cooldown and quota filtering. An empty result is a normal outcome, not an
// error: the caller maps it to its own "no available credential" condition.
type Resolver struct {
	source CredentialSource
	config *Holder
}

func NewResolver(source CredentialSource, config *Holder) *Resolver {
	return &Resolver{
		source: source,
		config: config,
	}
}

// Candidates returns the active credentials the user may draw from for the
// model group under the current pool mode. The capability and provider
// namespace filters are always applied.
func (r *Resolver) Candidates(userID int64, group credential.ModelGroup) ([]*credential.Credential, error) {
	provider := credential.ProviderFor(group)

	capable, err := r.listCapable(provider, group)
	if err != nil {
		return nil, err
	}

	switch r.config.Snapshot().Mode {
	case ModePrivate:
		return filter(capable, func(c *credential.Credential) bool {
			return c.OwnerID == userID
		}), nil

	case ModeTier3Shared:
		ownsTier3, err := r.source.OwnsActiveTier(userID, provider, credential.Tier30Pro)
		if err != nil {
			return nil, err
		}
		if ownsTier3 {
			// Donors of a 3.0 credential share the public 3.0 pool.
			return filter(capable, func(c *credential.Credential) bool {
				return c.OwnerID == userID || (c.Public && c.Tier == credential.Tier30Pro)
			}), nil
		}
		return filter(capable, func(c *credential.Credential) bool {
			return c.OwnerID == userID || (c.Public && c.Tier <= credential.Tier25Pro)
		}), nil

	case ModeFullShared:
		ownsAny, err := r.source.OwnsActive(userID, provider)
		if err != nil {
			return nil, err
		}
		if ownsAny {
			return filter(capable, func(c *credential.Credential) bool {
				return c.OwnerID == userID || c.Public
			}), nil
		}
		return filter(capable, func(c *credential.Credential) bool {
			return c.OwnerID == userID
		}), nil

	default:
		// Unknown mode degrades to private, the most restrictive policy.
		return filter(capable, func(c *credential.Credential) bool {
			return c.OwnerID == userID
		}), nil
	}
}

func (r *Resolver) listCapable(provider credential.Provider, group credential.ModelGroup) ([]*credential.Credential, error) {
	active, err := r.source.ListActive(provider)
	if err != nil {
		return nil, err
	}

	return filter(active, func(c *credential.Credential) bool {
		return c.CanServe(group)
	}), nil
}

func filter(creds []*credential.Credential, keep func(*credential.Credential) bool) []*credential.Credential {
	out := make([]*credential.Credential, 0, len(creds))
	for _, c := range creds {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

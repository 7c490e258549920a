package pool_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/llmproxy/credpool/internal/credential"
	"github.com/llmproxy/credpool/internal/pool"
)

// fakeSource serves a fixed credential slice with the same filtering the
// real store applies.
type fakeSource struct {
	creds []*credential.Credential
}

func (f *fakeSource) ListActive(provider credential.Provider) ([]*credential.Credential, error) {
	var out []*credential.Credential
	for _, c := range f.creds {
		if c.Active && c.Provider == provider {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeSource) OwnsActive(ownerID int64, provider credential.Provider) (bool, error) {
	for _, c := range f.creds {
		if c.OwnerID == ownerID && c.Active && c.Provider == provider {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSource) OwnsActiveTier(ownerID int64, provider credential.Provider, tier credential.CapabilityTier) (bool, error) {
	for _, c := range f.creds {
		if c.OwnerID == ownerID && c.Active && c.Provider == provider && c.Tier >= tier {
			return true, nil
		}
	}
	return false, nil
}

func gemini(id, owner int64, tier credential.CapabilityTier, public bool) *credential.Credential {
	return &credential.Credential{
		ID:       id,
		OwnerID:  owner,
		Provider: credential.ProviderGeminiCLI,
		Tier:     tier,
		Active:   true,
		Public:   public,
	}
}

func ids(creds []*credential.Credential) []int64 {
	out := make([]int64, 0, len(creds))
	for _, c := range creds {
		out = append(out, c.ID)
	}
	return out
}

var _ = Describe("Resolver", func() {
	var (
		source *fakeSource
		holder *pool.Holder
	)

	newResolver := func(mode pool.Mode) *pool.Resolver {
		cfg := validConfig()
		cfg.Mode = mode
		var err error
		holder, err = pool.NewHolder(cfg)
		Expect(err).NotTo(HaveOccurred())
		return pool.NewResolver(source, holder)
	}

	BeforeEach(func() {
		source = &fakeSource{creds: []*credential.Credential{
			gemini(1, 10, credential.Tier30Pro, false), // user 10, private
			gemini(2, 10, credential.Tier25Pro, true),  // user 10, donated
			gemini(3, 20, credential.Tier30Pro, true),  // user 20, donated 3.0
			gemini(4, 30, credential.Tier25Pro, true),  // user 30, donated 2.5
			gemini(5, 40, credential.TierFlash, false), // user 40, private
		}}
	})

	It("always drops credentials that cannot serve the group", func() {
		resolver := newResolver(pool.ModeFullShared)

		got, err := resolver.Candidates(10, credential.GroupPro30)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(got)).To(ConsistOf(int64(1), int64(3)))
	})

	It("never crosses provider namespaces", func() {
		source.creds = append(source.creds, &credential.Credential{
			ID: 9, OwnerID: 10, Provider: credential.ProviderAnthropic, Active: true, Public: true,
		})
		resolver := newResolver(pool.ModeFullShared)

		got, err := resolver.Candidates(10, credential.GroupFlash)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(got)).NotTo(ContainElement(int64(9)))
	})

	It("excludes inactive credentials", func() {
		source.creds[0].Active = false
		resolver := newResolver(pool.ModeFullShared)

		got, err := resolver.Candidates(10, credential.GroupFlash)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(got)).NotTo(ContainElement(int64(1)))
	})

	Context("private mode", func() {
		It("returns only the user's own credentials, donated or not", func() {
			resolver := newResolver(pool.ModePrivate)

			got, err := resolver.Candidates(10, credential.GroupFlash)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(got)).To(ConsistOf(int64(1), int64(2)))
		})

		It("returns nothing for a user with no credentials", func() {
			resolver := newResolver(pool.ModePrivate)

			got, err := resolver.Candidates(99, credential.GroupFlash)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeEmpty())
		})
	})

	Context("tier3_shared mode", func() {
		It("opens the public 3.0 pool to 3.0 donors", func() {
			resolver := newResolver(pool.ModeTier3Shared)

			got, err := resolver.Candidates(10, credential.GroupPro30)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(got)).To(ConsistOf(int64(1), int64(3)))
		})

		It("caps non-donors at the public 2.5 pool", func() {
			resolver := newResolver(pool.ModeTier3Shared)

			got, err := resolver.Candidates(30, credential.GroupFlash)
			Expect(err).NotTo(HaveOccurred())
			// own (4) plus public up to 2.5 (2), never the public 3.0 (3)
			Expect(ids(got)).To(ConsistOf(int64(2), int64(4)))
		})

		It("hides the public 3.0 pool from non-3.0 donors even for 3.0 requests", func() {
			resolver := newResolver(pool.ModeTier3Shared)

			got, err := resolver.Candidates(30, credential.GroupPro30)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeEmpty())
		})

		It("keeps users with no credentials on the shared low tiers", func() {
			resolver := newResolver(pool.ModeTier3Shared)

			got, err := resolver.Candidates(99, credential.GroupFlash)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(got)).To(ConsistOf(int64(2), int64(4)))
		})
	})

	Context("full_shared mode", func() {
		It("opens the whole public pool to credential owners", func() {
			resolver := newResolver(pool.ModeFullShared)

			got, err := resolver.Candidates(40, credential.GroupFlash)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(got)).To(ConsistOf(int64(2), int64(3), int64(4), int64(5)))
		})

		It("restricts non-owners to their own empty set", func() {
			resolver := newResolver(pool.ModeFullShared)

			got, err := resolver.Candidates(99, credential.GroupFlash)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeEmpty())
		})
	})
})

package ratelimit_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/llmproxy/credpool/internal/credential"
	"github.com/llmproxy/credpool/internal/ratelimit"
)

func TestRateLimit(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "RateLimit Suite")
}

var _ = Describe("Limiter", func() {
	var (
		limiter *ratelimit.Limiter
		now     time.Time
	)

	const user int64 = 1

	BeforeEach(func() {
		limiter = ratelimit.NewLimiter()
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	It("admits up to the burst and then rejects", func() {
		for i := 0; i < 5; i++ {
			Expect(limiter.Admit(user, credential.ProviderGeminiCLI, 5, now)).To(BeTrue())
		}
		Expect(limiter.Admit(user, credential.ProviderGeminiCLI, 5, now)).To(BeFalse())
	})

	It("refills continuously at rpm/60 per second", func() {
		for i := 0; i < 6; i++ {
			limiter.Admit(user, credential.ProviderGeminiCLI, 6, now)
		}
		Expect(limiter.Admit(user, credential.ProviderGeminiCLI, 6, now)).To(BeFalse())

		// 6 rpm refills one token every ten seconds
		Expect(limiter.Admit(user, credential.ProviderGeminiCLI, 6, now.Add(10*time.Second))).To(BeTrue())
		Expect(limiter.Admit(user, credential.ProviderGeminiCLI, 6, now.Add(10*time.Second))).To(BeFalse())
	})

	It("isolates users from each other", func() {
		Expect(limiter.Admit(1, credential.ProviderGeminiCLI, 1, now)).To(BeTrue())
		Expect(limiter.Admit(1, credential.ProviderGeminiCLI, 1, now)).To(BeFalse())
		Expect(limiter.Admit(2, credential.ProviderGeminiCLI, 1, now)).To(BeTrue())
	})

	It("isolates provider namespaces for the same user", func() {
		Expect(limiter.Admit(user, credential.ProviderGeminiCLI, 1, now)).To(BeTrue())
		Expect(limiter.Admit(user, credential.ProviderGeminiCLI, 1, now)).To(BeFalse())
		Expect(limiter.Admit(user, credential.ProviderAnthropic, 1, now)).To(BeTrue())
	})

	It("rebuilds the bucket when the applicable rate changes", func() {
		Expect(limiter.Admit(user, credential.ProviderGeminiCLI, 1, now)).To(BeTrue())
		Expect(limiter.Admit(user, credential.ProviderGeminiCLI, 1, now)).To(BeFalse())

		// Contributor upgrade: a fresh bucket at the higher rate
		Expect(limiter.Admit(user, credential.ProviderGeminiCLI, 30, now)).To(BeTrue())
	})

	It("disables the gate for non-positive rates", func() {
		for i := 0; i < 1000; i++ {
			Expect(limiter.Admit(user, credential.ProviderGeminiCLI, 0, now)).To(BeTrue())
		}
		Expect(limiter.Admit(user, credential.ProviderGeminiCLI, -5, now)).To(BeTrue())
	})

	It("drops all buckets on Reset", func() {
		Expect(limiter.Admit(user, credential.ProviderGeminiCLI, 1, now)).To(BeTrue())
		Expect(limiter.Admit(user, credential.ProviderGeminiCLI, 1, now)).To(BeFalse())

		limiter.Reset()
		Expect(limiter.Admit(user, credential.ProviderGeminiCLI, 1, now)).To(BeTrue())
	})
})

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/llmproxy/credpool/config"
	"github.com/llmproxy/credpool/internal/credential"
	"github.com/llmproxy/credpool/internal/pool"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Config", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("with valid config file", func() {
			BeforeEach(func() {
				configContent := `
server:
  address: ":8080"
  environment: "dev"

logging:
  level: "info"

storage:
  driver: "memory"

pool:
  mode: "full_shared"
  error_retry_count: 2
  no_cred_quota:
    flash: 100
    pro25: 20
  cooldown:
    flash: "5s"
  base_rpm:
    gemini-cli: 10
  contributor_rpm:
    gemini-cli: 30
`
				configPath := filepath.Join(tempDir, "config.yaml")
				err := os.WriteFile(configPath, []byte(configContent), 0644)
				Expect(err).NotTo(HaveOccurred())

				err = os.Chdir(tempDir)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load configuration successfully", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())
			})

			It("should parse the pool mode", func() {
				cfg, _ := config.Load()
				Expect(cfg.Pool.Mode).To(Equal("full_shared"))
			})

			It("should parse the quota and rate maps", func() {
				cfg, _ := config.Load()
				Expect(cfg.Pool.NoCredQuota).To(HaveKeyWithValue("flash", int64(100)))
				Expect(cfg.Pool.ContributorRPM).To(HaveKeyWithValue("gemini-cli", 30))
			})
		})

		Context("without a config file", func() {
			BeforeEach(func() {
				err := os.Chdir(tempDir)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should fall back to defaults", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Pool.DayResetHour).To(Equal(7))
				Expect(cfg.Pool.ErrorRetryCount).To(BeNumerically(">=", 1))
			})
		})
	})

	Describe("PoolConfig", func() {
		var cfg *config.Config

		BeforeEach(func() {
			cfg = &config.Config{
				Pool: config.PoolSettings{
					Mode:            "tier3_shared",
					ErrorRetryCount: 1,
					DayResetHour:    7,
					NoCredQuota:     map[string]int64{"flash": 50, "pro25": -1},
					UploadReward:    map[string]int64{"pro30": 25},
					Cooldown:        map[string]string{"flash": "10s"},
					BaseRPM:         map[string]int{"gemini-cli": 10},
					ContributorRPM:  map[string]int{"gemini-cli": 30},
				},
			}
		})

		It("converts the wire form into a runtime snapshot", func() {
			pc, err := cfg.PoolConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(pc.Mode).To(Equal(pool.ModeTier3Shared))
			Expect(pc.NoCredQuota).To(HaveKeyWithValue(credential.GroupFlash, int64(50)))
			Expect(pc.Cooldown).To(HaveKeyWithValue(credential.GroupFlash, 10*time.Second))
			Expect(pc.BaseRPM).To(HaveKeyWithValue(credential.ProviderGeminiCLI, 10))
		})

		It("rejects unknown model groups", func() {
			cfg.Pool.NoCredQuota["mystery"] = 1
			_, err := cfg.PoolConfig()
			Expect(err).To(HaveOccurred())
		})

		It("rejects unknown providers", func() {
			cfg.Pool.BaseRPM["mystery"] = 1
			_, err := cfg.PoolConfig()
			Expect(err).To(HaveOccurred())
		})

		It("rejects malformed cooldown durations", func() {
			cfg.Pool.Cooldown["flash"] = "soon"
			_, err := cfg.PoolConfig()
			Expect(err).To(HaveOccurred())
		})
	})
})

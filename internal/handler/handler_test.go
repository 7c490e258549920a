package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/llmproxy/credpool/internal/credential"
	"github.com/llmproxy/credpool/internal/handler"
	"github.com/llmproxy/credpool/internal/pool"
	"github.com/llmproxy/credpool/internal/quota"
	"github.com/llmproxy/credpool/internal/scheduler"
	"github.com/llmproxy/credpool/internal/store"
)

func TestHandler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Handler Suite")
}

var _ = Describe("OpsHandler", func() {
	var (
		st     *store.Memory
		holder *pool.Holder
		mux    *http.ServeMux
	)

	BeforeEach(func() {
		st = store.NewMemory()

		var err error
		holder, err = pool.NewHolder(pool.Config{
			Mode:            pool.ModeFullShared,
			ErrorRetryCount: 1,
			DayResetHour:    7,
			LockDonate:      true,
			NoCredQuota: map[credential.ModelGroup]int64{
				credential.GroupFlash: 100,
			},
		})
		Expect(err).NotTo(HaveOccurred())

		log := slog.New(slog.NewTextHandler(io.Discard, nil))
		ledger := quota.NewLedger(func(userID int64, group credential.ModelGroup) int64 {
			return holder.Snapshot().NoCredQuota[group]
		}, 7, nil, log)
		sched := scheduler.New(log, st, holder, ledger, nil)

		mux = http.NewServeMux()
		handler.NewOpsHandler(log, sched, holder, st).Register(mux)
	})

	do := func(method, target string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, bytes.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	Describe("GET /healthz", func() {
		It("reports ok", func() {
			rec := do(http.MethodGet, "/healthz", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("ok"))
		})
	})

	Describe("GET /stats", func() {
		It("returns pool counters for the user", func() {
			_, err := st.Add(&credential.Credential{
				OwnerID: 1, Provider: credential.ProviderGeminiCLI, Active: true, Public: true,
			})
			Expect(err).NotTo(HaveOccurred())

			rec := do(http.MethodGet, "/stats?user=1", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var stats store.Stats
			Expect(json.Unmarshal(rec.Body.Bytes(), &stats)).To(Succeed())
			Expect(stats.Total).To(Equal(1))
			Expect(stats.UserActive).To(Equal(1))
		})

		It("rejects a missing user parameter", func() {
			rec := do(http.MethodGet, "/stats", nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /quota", func() {
		It("returns per-group remaining quota", func() {
			rec := do(http.MethodGet, "/quota?user=1", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var status map[credential.ModelGroup]int64
			Expect(json.Unmarshal(rec.Body.Bytes(), &status)).To(Succeed())
			Expect(status).To(HaveKeyWithValue(credential.GroupFlash, int64(100)))
		})
	})

	Describe("pool config", func() {
		It("serves the active snapshot", func() {
			rec := do(http.MethodGet, "/poolconfig", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var cfg pool.Config
			Expect(json.Unmarshal(rec.Body.Bytes(), &cfg)).To(Succeed())
			Expect(cfg.Mode).To(Equal(pool.ModeFullShared))
		})

		It("replaces the snapshot and persists it", func() {
			next := *holder.Snapshot()
			next.Mode = pool.ModeTier3Shared
			body, err := json.Marshal(next)
			Expect(err).NotTo(HaveOccurred())

			rec := do(http.MethodPut, "/poolconfig", body)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(holder.Snapshot().Mode).To(Equal(pool.ModeTier3Shared))

			persisted, err := st.LoadPoolConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(persisted).NotTo(BeNil())
			Expect(persisted.Mode).To(Equal(pool.ModeTier3Shared))
			Expect(persisted.Version).To(Equal(int64(1)))
		})

		It("rejects invalid replacements without swapping", func() {
			next := *holder.Snapshot()
			next.Mode = "communal"
			body, err := json.Marshal(next)
			Expect(err).NotTo(HaveOccurred())

			rec := do(http.MethodPut, "/poolconfig", body)
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(holder.Snapshot().Mode).To(Equal(pool.ModeFullShared))
		})

		It("rejects malformed bodies", func() {
			rec := do(http.MethodPut, "/poolconfig", []byte("{"))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /credentials/visibility", func() {
		It("toggles visibility", func() {
			id, err := st.Add(&credential.Credential{
				OwnerID: 1, Provider: credential.ProviderGeminiCLI, Active: true,
			})
			Expect(err).NotTo(HaveOccurred())

			body, _ := json.Marshal(map[string]any{"credential_id": id, "public": true})
			rec := do(http.MethodPost, "/credentials/visibility", body)
			Expect(rec.Code).To(Equal(http.StatusOK))

			got, err := st.Get(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Public).To(BeTrue())
		})

		It("answers 409 when lock-donate blocks withdrawal", func() {
			id, err := st.Add(&credential.Credential{
				OwnerID: 1, Provider: credential.ProviderGeminiCLI, Active: true, Public: true,
			})
			Expect(err).NotTo(HaveOccurred())

			body, _ := json.Marshal(map[string]any{"credential_id": id, "public": false})
			rec := do(http.MethodPost, "/credentials/visibility", body)
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})

		It("answers 404 for unknown credentials", func() {
			body, _ := json.Marshal(map[string]any{"credential_id": 999, "public": true})
			rec := do(http.MethodPost, "/credentials/visibility", body)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /credentials/purge", func() {
		It("removes inactive credentials and reports the count", func() {
			_, err := st.Add(&credential.Credential{
				OwnerID: 1, Provider: credential.ProviderGeminiCLI, Active: false,
			})
			Expect(err).NotTo(HaveOccurred())
			_, err = st.Add(&credential.Credential{
				OwnerID: 1, Provider: credential.ProviderGeminiCLI, Active: true,
				LastUsed: map[credential.ModelGroup]time.Time{},
			})
			Expect(err).NotTo(HaveOccurred())

			rec := do(http.MethodPost, "/credentials/purge", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var out map[string]int
			Expect(json.Unmarshal(rec.Body.Bytes(), &out)).To(Succeed())
			Expect(out).To(HaveKeyWithValue("purged", 1))
		})
	})
})

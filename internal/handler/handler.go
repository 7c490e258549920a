package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/llmproxy/credpool/internal/pool"
	"github.com/llmproxy/credpool/internal/scheduler"
	"github.com/llmproxy/credpool/internal/store"
)

// OpsHandler serves the control-panel-facing JSON API.
type OpsHandler struct {
	logger    *slog.Logger
	scheduler *scheduler.Scheduler
	config    *pool.Holder
	store     store.Store
}

func NewOpsHandler(logger *slog.Logger, sched *scheduler.Scheduler, config *pool.Holder, st store.Store) *OpsHandler {
	return &OpsHandler{
		logger:    logger,
		scheduler: sched,
		config:    config,
		store:     st,
	}
}

// Register mounts all ops routes on the mux.
func (h *OpsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("GET /quota", h.handleQuota)
	mux.HandleFunc("GET /poolconfig", h.handleGetPoolConfig)
	mux.HandleFunc("PUT /poolconfig", h.handleReplacePoolConfig)
	mux.HandleFunc("POST /credentials/visibility", h.handleVisibility)
	mux.HandleFunc("POST /credentials/purge", h.handlePurge)
}

func (h *OpsHandler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *OpsHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user parameter")
		return
	}

	stats, err := h.scheduler.Stats(userID)
	if err != nil {
		h.logger.Error("stats query failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *OpsHandler) handleQuota(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user parameter")
		return
	}

	writeJSON(w, http.StatusOK, h.scheduler.QuotaStatus(userID, time.Now()))
}

func (h *OpsHandler) handleGetPoolConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.config.Snapshot())
}

func (h *OpsHandler) handleReplacePoolConfig(w http.ResponseWriter, r *http.Request) {
	var cfg pool.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pool config body")
		return
	}

	applied, err := h.config.Replace(cfg)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.store.SavePoolConfig(applied); err != nil {
		// The swap already happened; persistence catches up on next save.
		h.logger.Error("failed to persist pool config", slog.String("error", err.Error()))
	}

	h.logger.Info("pool config replaced",
		slog.String("mode", string(applied.Mode)),
		slog.Int64("version", applied.Version))

	writeJSON(w, http.StatusOK, applied)
}

type visibilityRequest struct {
	CredentialID int64 `json:"credential_id"`
	Public       bool  `json:"public"`
}

func (h *OpsHandler) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid visibility body")
		return
	}

	err := h.scheduler.SetVisibility(req.CredentialID, req.Public)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "credential not found")
	case errors.Is(err, store.ErrDonateLocked):
		writeError(w, http.StatusConflict, "donated credential is locked while active")
	case err != nil:
		h.logger.Error("visibility toggle failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "visibility toggle failed")
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"credential_id": req.CredentialID,
			"public":        req.Public,
		})
	}
}

func (h *OpsHandler) handlePurge(w http.ResponseWriter, r *http.Request) {
	purged, err := h.store.PurgeInactive()
	if err != nil {
		h.logger.Error("purge failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "purge failed")
		return
	}

	h.logger.Info("purged inactive credentials", slog.Int("count", purged))
	writeJSON(w, http.StatusOK, map[string]int{"purged": purged})
}

func userParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.URL.Query().Get("user"), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

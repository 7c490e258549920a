package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/llmproxy/credpool/config"
	"github.com/llmproxy/credpool/internal/credential"
	"github.com/llmproxy/credpool/internal/handler"
	"github.com/llmproxy/credpool/internal/httpserver"
	"github.com/llmproxy/credpool/internal/metrics"
	"github.com/llmproxy/credpool/internal/pool"
	"github.com/llmproxy/credpool/internal/quota"
	"github.com/llmproxy/credpool/internal/scheduler"
	"github.com/llmproxy/credpool/internal/store"
	"github.com/llmproxy/credpool/internal/verifier"
	"github.com/llmproxy/credpool/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(cfg, log)
	if err != nil {
		log.Error("Failed to open credential store", slog.Any("err", err))
		os.Exit(1)
	}
	defer st.Close()

	holder, err := initPoolConfig(cfg, st, log)
	if err != nil {
		log.Error("Failed to initialize pool config", slog.Any("err", err))
		os.Exit(1)
	}

	ledger, err := hydrateLedger(holder, st, log)
	if err != nil {
		log.Error("Failed to hydrate quota ledger", slog.Any("err", err))
		os.Exit(1)
	}

	collector := metrics.NewCollector(1024, log)
	collector.Start(ctx)

	sched := scheduler.New(log, st, holder, ledger, collector)

	if cfg.Verify.Enabled {
		interval, err := cfg.VerifyInterval()
		if err != nil {
			log.Error("Invalid verify interval", slog.Any("err", err))
			os.Exit(1)
		}
		checker := verifier.NewHTTPChecker(cfg.Verify.Endpoint)
		go verifier.Run(ctx, st, checker, interval, log)
	}

	opsHandler := handler.NewOpsHandler(log, sched, holder, st)
	mux := setupRouter(opsHandler, collector, holder)

	srv, err := httpserver.New(cfg.Server.Address, mux, log)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error running credential pool server", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func openStore(cfg *config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		log.Info("using in-memory credential store")
		return store.NewMemory(), nil
	case config.StorageSQLite:
		log.Info("using sqlite credential store", slog.String("path", cfg.Storage.Path))
		return store.OpenSQLite(cfg.Storage.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// initPoolConfig prefers the persisted pool config over the file so that
// operator changes made through the API survive restarts.
func initPoolConfig(cfg *config.Config, st store.Store, log *slog.Logger) (*pool.Holder, error) {
	persisted, err := st.LoadPoolConfig()
	if err != nil {
		return nil, err
	}

	if persisted != nil {
		log.Info("loaded persisted pool config",
			slog.String("mode", string(persisted.Mode)),
			slog.Int64("version", persisted.Version))
		return pool.NewHolder(*persisted)
	}

	initial, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}

	holder, err := pool.NewHolder(initial)
	if err != nil {
		return nil, err
	}

	if err := st.SavePoolConfig(holder.Snapshot()); err != nil {
		log.Warn("failed to persist initial pool config", slog.String("error", err.Error()))
	}

	return holder, nil
}

// hydrateLedger builds the quota ledger backed by the store and replays the
// persisted rows so balances survive restarts.
func hydrateLedger(holder *pool.Holder, st store.Store, log *slog.Logger) (*quota.Ledger, error) {
	allowance := func(userID int64, group credential.ModelGroup) int64 {
		return holder.Snapshot().NoCredQuota[group]
	}

	ledger := quota.NewLedger(allowance, holder.Snapshot().DayResetHour, st, log)

	rows, err := st.LoadQuotaRows()
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		ledger.Load(row.UserID, row.Group, row.Day, row.Reward, row.Used)
	}

	log.Info("quota ledger hydrated", slog.Int("rows", len(rows)))
	return ledger, nil
}

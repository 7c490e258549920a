package verifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/llmproxy/credpool/internal/credential"
)

// Checker decides whether a credential is still usable upstream.
type Checker interface {
	Check(ctx context.Context, cred *credential.Credential) (bool, error)
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, cred *credential.Credential) (bool, error)

func (f CheckerFunc) Check(ctx context.Context, cred *credential.Credential) (bool, error) {
	return f(ctx, cred)
}

// Store is the slice of the credential store the verifier needs.
type Store interface {
	List() ([]*credential.Credential, error)
	SetActive(id int64, active bool) error
}

// Run re-verifies every credential on the given interval until the context
// is cancelled. A check error leaves the credential's state untouched.
func Run(
	ctx context.Context,
	store Store,
	checker Checker,
	interval time.Duration,
	logger *slog.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Credential verification stopped")
			return

		case <-ticker.C:
			sweep(ctx, store, checker, logger)
		}
	}
}

func sweep(ctx context.Context, store Store, checker Checker, logger *slog.Logger) {
	creds, err := store.List()
	if err != nil {
		logger.Error("failed to list credentials for verification",
			slog.String("error", err.Error()))
		return
	}

	for _, cred := range creds {
		usable, err := checker.Check(ctx, cred)
		if err != nil {
			logger.Warn("credential check failed",
				slog.Int64("credential_id", cred.ID),
				slog.String("error", err.Error()))
			continue
		}

		if usable == cred.Active {
			continue
		}

		if err := store.SetActive(cred.ID, usable); err != nil {
			logger.Error("failed to update credential state",
				slog.Int64("credential_id", cred.ID),
				slog.String("error", err.Error()))
			continue
		}

		if usable {
			logger.Info("Credential is back up",
				slog.Int64("credential_id", cred.ID))
		} else {
			logger.Warn("Credential deactivated",
				slog.Int64("credential_id", cred.ID))
		}
	}
}

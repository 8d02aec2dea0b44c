package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"realmexchange/internal/config"
	"realmexchange/internal/repo"
)

// ResolveMarketplace picks the active marketplace and ensures its config
// exists in the DB, seeding defaults if missing. Resolution order: explicit
// override, then the workspace config file, then the single marketplace
// already in the DB.
func ResolveMarketplace(ctx context.Context, workspace, marketplaceOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	marketplaceID := marketplaceOverride
	var fileCfg *config.Config
	if marketplaceID == "" {
		var err error
		fileCfg, err = config.LoadOptional(workspace)
		if err != nil {
			return "", nil, err
		}
		if fileCfg != nil {
			marketplaceID = fileCfg.Marketplace.ID
		}
	}
	if marketplaceID == "" {
		id, err := r.SingleMarketplace(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("marketplace not specified; use --marketplace or add realmexchange.yml")
		}
		marketplaceID = id
	}

	cfg, err := r.GetMarketplaceConfig(ctx, marketplaceID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		seed := fileCfg
		if seed == nil {
			seed = config.Default(marketplaceID)
		}
		if err := seedMarketplace(ctx, r, marketplaceID, seed, actorID); err != nil {
			return "", nil, err
		}
		cfg = seed
	}
	cfg.Marketplace.ID = marketplaceID
	return marketplaceID, cfg, nil
}

func seedMarketplace(ctx context.Context, r repo.Repo, marketplaceID string, seed *config.Config, actorID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.UpsertMarketplaceConfigTx(ctx, tx, marketplaceID, seed); err != nil {
		return fmt.Errorf("seed marketplace config: %w", err)
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if err := r.EnsureUser(ctx, tx, actorID, now); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return tx.Commit()
}

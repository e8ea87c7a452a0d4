package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/vertex-labs/crmsync/internal/ratelimit"
	"github.com/vertex-labs/crmsync/internal/store"
	"github.com/vertex-labs/crmsync/pkg/ghl"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "crmsync.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: int32(cfg.Store.MaxConns),
			MinConns: int32(cfg.Store.MinConns),
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCRM builds the rate-limited CRM client plus the quota state shared
// with the ledger's progress line.
func initCRM() (ghl.Client, *ratelimit.State, error) {
	if cfg.GHL.Token == "" {
		return nil, nil, eris.New("CRM token is required (CRMSYNC_GHL_TOKEN)")
	}
	if cfg.GHL.LocationID == "" {
		return nil, nil, eris.New("CRM location id is required (CRMSYNC_GHL_LOCATION_ID)")
	}

	burst := ratelimit.NewLimiter(cfg.Sync.BurstMax, cfg.Sync.BurstWindow())
	quota := &ratelimit.State{}

	opts := []ghl.ClientOption{
		ghl.WithRetryConfig(cfg.Retry.Resilience()),
	}
	if cfg.GHL.SmoothRPS > 0 {
		opts = append(opts, ghl.WithSmoothing(cfg.GHL.SmoothRPS))
	}

	client := ghl.NewClient(ghl.Config{
		BaseURL:    cfg.GHL.BaseURL,
		Token:      cfg.GHL.Token,
		LocationID: cfg.GHL.LocationID,
		APIVersion: cfg.GHL.APIVersion,
		UserAgent:  cfg.GHL.UserAgent,
	}, burst, quota, opts...)

	return client, quota, nil
}

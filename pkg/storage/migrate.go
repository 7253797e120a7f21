package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/storeforge/pkg/log"
)

// MigrateResult counts what Migrate copied or would copy
type MigrateResult struct {
	Stores  int
	Skipped int
	Events  int
}

// Migrate copies every store record and its audit events from src to dst.
// Records that already exist in dst are skipped together with their events,
// so running it twice is safe. Events of purged stores are not reachable
// from src and are not copied. With dryRun set nothing is written.
func Migrate(ctx context.Context, dst, src Store, dryRun bool) (MigrateResult, error) {
	logger := log.WithComponent("migrate")
	var res MigrateResult

	recs, err := src.ListStores(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list source stores: %w", err)
	}
	logger.Info().Int("stores", len(recs)).Bool("dry_run", dryRun).Msg("Found stores to migrate")

	for _, rec := range recs {
		events, err := src.ListEvents(ctx, rec.ID)
		if err != nil {
			return res, fmt.Errorf("failed to list events of store %s: %w", rec.ID, err)
		}

		if dryRun {
			res.Stores++
			res.Events += len(events)
			continue
		}

		copied := *rec
		err = dst.CreateStore(ctx, &copied)
		if errors.Is(err, ErrAlreadyExists) {
			logger.Warn().Str("store_id", rec.ID).Msg("Store already present in destination, skipping")
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("failed to copy store %s: %w", rec.ID, err)
		}
		res.Stores++

		for _, ev := range events {
			ev.ID = 0
			if _, err := dst.AppendEvent(ctx, ev); err != nil {
				return res, fmt.Errorf("failed to copy event of store %s: %w", rec.ID, err)
			}
			res.Events++
		}

		if res.Stores%10 == 0 {
			logger.Info().Int("migrated", res.Stores).Int("total", len(recs)).Msg("Migration progress")
		}
	}

	return res, nil
}

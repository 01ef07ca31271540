package db

import (
	"context"
	"database/sql"
	"time"

	"rujukan/svc/util"

	"github.com/pkg/errors"
)

const (
	checkpointInterval  = 5 * time.Minute
	truncateLogPages    = 1000
	integrityCheckLimit = 30 * time.Second
)

// RunWALMaintenance checkpoints the write-ahead log until ctx is done, then
// runs one final checkpoint.
func RunWALMaintenance(ctx context.Context, db *sql.DB, interval time.Duration) {
	if interval <= 0 {
		interval = checkpointInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := performWALCheckpoint(ctx, db); err != nil {
				util.Error().Err(err).Msg("WAL checkpoint failed")
			}
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), integrityCheckLimit)
			if err := performWALCheckpoint(finalCtx, db); err != nil {
				util.Error().Err(err).Msg("final WAL checkpoint failed")
			}
			cancel()
			return
		}
	}
}
func performWALCheckpoint(ctx context.Context, db *sql.DB) error {
	start := time.Now()
	var busyPages, logPages, checkpointed int
	err := db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&busyPages, &logPages, &checkpointed)
	if err != nil {
		return errors.Wrap(err, "PASSIVE checkpoint")
	}
	util.Debug().
		Int("busy", busyPages).
		Int("log", logPages).
		Int("checkpointed", checkpointed).
		Msg("PASSIVE checkpoint result")
	if logPages > truncateLogPages || busyPages > 0 {
		util.Info().Msg("escalating to TRUNCATE checkpoint")
		err = db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busyPages, &logPages, &checkpointed)
		if err != nil {
			return errors.Wrap(err, "TRUNCATE checkpoint")
		}
		util.Info().
			Int("busy", busyPages).
			Int("log", logPages).
			Int("checkpointed", checkpointed).
			Msg("TRUNCATE checkpoint result")
	}
	if err := verifyIntegrity(ctx, db); err != nil {
		util.Error().Err(err).Msg("CRITICAL: database integrity check failed after checkpoint")
		return err
	}
	util.Debug().Dur("duration", time.Since(start)).Msg("WAL checkpoint completed")
	return nil
}
func verifyIntegrity(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, integrityCheckLimit)
	defer cancel()
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return errors.Wrap(err, "quick_check query failed")
	}
	if result != "ok" {
		return errors.Errorf("quick_check returned: %s", result)
	}
	return nil
}

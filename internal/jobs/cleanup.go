package jobs

import (
	"time"

	"log/slog"

	"pulsekit/internal/behavior"
	"pulsekit/internal/config"
	"pulsekit/internal/database"
)

// CleanupJob prunes processed interaction events past the retention period.
// Aggregates built from them (heatmap buckets, funnel instances, sessions)
// are kept.
type CleanupJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewCleanupJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *CleanupJob {
	return &CleanupJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run removes processed events older than the retention period.
func (j *CleanupJob) Run() error {
	retentionDays := j.cfg.BehaviorEventsRetentionDays
	db := j.dbManager.GetConnection()
	cutoffDate := time.Now().AddDate(0, 0, -retentionDays)

	j.logger.Info("Starting cleanup of old interaction events",
		slog.Int("retention_days", retentionDays),
		slog.Time("cutoff_date", cutoffDate))

	var countToDelete int64
	if err := db.Model(&behavior.Event{}).
		Where("processed = 1 AND created_at < ?", cutoffDate).
		Count(&countToDelete).Error; err != nil {
		j.logger.Error("Failed to count old interaction events", slog.Any("error", err))
		return err
	}

	if countToDelete == 0 {
		j.logger.Debug("No old interaction events to clean up")
		return nil
	}

	// Delete in batches to avoid locking the database for too long
	batchSize := 1000
	totalDeleted := int64(0)

	for {
		result := db.Where("processed = 1 AND created_at < ?", cutoffDate).
			Limit(batchSize).
			Delete(&behavior.Event{})

		if result.Error != nil {
			j.logger.Error("Failed to delete old interaction events",
				slog.Any("error", result.Error),
				slog.Int64("deleted_so_far", totalDeleted))
			return result.Error
		}

		totalDeleted += result.RowsAffected

		if result.RowsAffected < int64(batchSize) {
			break
		}

		time.Sleep(100 * time.Millisecond)
	}

	j.logger.Info("Cleaned up old interaction events",
		slog.Int64("deleted_count", totalDeleted),
		slog.Int("retention_days", retentionDays))

	return nil
}

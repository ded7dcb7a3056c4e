package jobs

import (
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"pulsekit/internal/behavior"
	"pulsekit/internal/config"
	"pulsekit/internal/database"
	"pulsekit/internal/funnels"
	"pulsekit/internal/heatmaps"
	"pulsekit/internal/sessions"
)

const processingBatchSize = 100

// ProcessorJob folds unprocessed interaction events into heatmap buckets and
// funnel instances. Each batch is one transaction: the events are marked
// processed in the same write that applies their aggregates, so a crash
// mid-batch re-processes nothing and loses nothing.
type ProcessorJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewProcessorJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *ProcessorJob {
	return &ProcessorJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run drains the unprocessed event queue, then sweeps stale funnel instances.
func (j *ProcessorJob) Run() error {
	db := j.dbManager.GetConnection()

	unprocessedCount, err := behavior.CountUnprocessed(db)
	if err != nil {
		j.logger.Error("Failed to count unprocessed events", slog.Any("error", err))
		return err
	}

	if unprocessedCount > 0 {
		j.logger.Info("Processing interaction events", slog.Int64("pending", unprocessedCount))

		processed := 0
		for {
			n, err := j.processBatch(db)
			if err != nil {
				j.logger.Error("Failed to process event batch",
					slog.Int("processed_so_far", processed),
					slog.Any("error", err))
				return err
			}
			processed += n
			if n < processingBatchSize {
				break
			}
		}

		j.logger.Info("Interaction events processed", slog.Int("count", processed))
	}

	window := time.Duration(j.cfg.SessionInactivitySeconds) * time.Second
	dropped, err := funnels.MarkInactiveDropoffs(db, j.logger, window)
	if err != nil {
		j.logger.Warn("Failed to mark funnel dropoffs", slog.Any("error", err))
	} else if dropped > 0 {
		j.logger.Info("Marked inactive funnel instances as dropped", slog.Int64("count", dropped))
	}

	return nil
}

// processBatch handles up to processingBatchSize events in one transaction
// and returns how many it consumed.
func (j *ProcessorJob) processBatch(db *gorm.DB) (int, error) {
	events, err := behavior.FetchUnprocessed(db, processingBatchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	deviceTypes := j.lookupDeviceTypes(db, events)

	err = sqlite.PerformWrite(j.logger, db, func(tx *gorm.DB) error {
		ids := make([]uint, 0, len(events))
		for i := range events {
			event := &events[i]

			if err := heatmaps.Apply(tx, j.logger, event, deviceTypes[event.SessionID], j.cfg.HeatmapClickSampleCap); err != nil {
				return err
			}
			if err := funnels.Apply(tx, j.logger, event); err != nil {
				return err
			}

			ids = append(ids, event.ID)
		}
		return behavior.MarkProcessed(tx, ids)
	})
	if err != nil {
		return 0, err
	}

	return len(events), nil
}

// lookupDeviceTypes resolves the session device type for each distinct
// session in the batch. Unknown sessions fall back to "".
func (j *ProcessorJob) lookupDeviceTypes(db *gorm.DB, events []behavior.Event) map[string]string {
	result := make(map[string]string)
	for i := range events {
		sid := events[i].SessionID
		if _, seen := result[sid]; seen {
			continue
		}
		session, err := sessions.FindBySessionID(db, sid)
		if err != nil {
			result[sid] = ""
			continue
		}
		result[sid] = session.DeviceType
	}
	return result
}

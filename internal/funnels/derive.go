package funnels

import (
	"errors"
	"fmt"
	"time"

	"log/slog"

	"gorm.io/gorm"

	"pulsekit/internal/behavior"
	"pulsekit/internal/sessions"
)

// Apply folds one behavior event into every funnel it advances. An event can
// start a new instance (when it matches a funnel's first step) or complete the
// next pending step of an existing one; events that match neither are ignored.
// Step completion is strictly in order, so CurrentStep only ever grows.
func Apply(tx *gorm.DB, logger *slog.Logger, event *behavior.Event) error {
	for _, def := range definitions {
		if err := applyToFunnel(tx, logger, def, event); err != nil {
			return err
		}
	}
	return nil
}

func applyToFunnel(tx *gorm.DB, logger *slog.Logger, def Definition, event *behavior.Event) error {
	var instance Instance
	err := tx.Where("funnel_name = ? AND session_id = ?", def.Name, event.SessionID).First(&instance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if !def.Steps[0].Matches(event) {
			return nil
		}
		fresh, buildErr := newInstance(def, event.SessionID, event.Timestamp)
		if buildErr != nil {
			return buildErr
		}
		return advance(tx, logger, def, fresh, event, true)
	}
	if err != nil {
		return fmt.Errorf("failed to load funnel instance: %w", err)
	}

	if instance.Completed || instance.DroppedOffAt != nil {
		return nil
	}
	if instance.CurrentStep >= len(def.Steps) {
		return nil
	}
	if !def.Steps[instance.CurrentStep].Matches(event) {
		return nil
	}
	return advance(tx, logger, def, &instance, event, false)
}

// advance completes the instance's next step with the event's timestamp and
// persists the result, closing out the instance when the last step falls.
func advance(tx *gorm.DB, logger *slog.Logger, def Definition, instance *Instance, event *behavior.Event, isNew bool) error {
	steps, err := instance.StepProgressList()
	if err != nil {
		return err
	}

	completedAt := event.Timestamp
	step := &steps[instance.CurrentStep]
	step.Completed = true
	step.CompletedAt = &completedAt
	if instance.CurrentStep == 0 {
		step.TimeSpentMs = 0
	} else {
		prev := steps[instance.CurrentStep-1]
		if prev.CompletedAt != nil {
			step.TimeSpentMs = completedAt.Sub(*prev.CompletedAt).Milliseconds()
		}
	}

	instance.CurrentStep++
	if err := instance.setStepProgress(steps); err != nil {
		return err
	}

	if instance.CurrentStep == len(def.Steps) {
		instance.Completed = true
		instance.CompletedAt = &completedAt
		instance.DroppedOffAt = nil
		instance.DropoffReason = ""
		instance.TotalDurationMs = completedAt.Sub(instance.StartedAt).Milliseconds()
	}
	instance.UpdatedAt = time.Now().UTC()

	if isNew {
		err = tx.Create(instance).Error
	} else {
		err = tx.Save(instance).Error
	}
	if err != nil {
		return fmt.Errorf("failed to persist funnel instance: %w", err)
	}

	if instance.Completed {
		logger.Info("Funnel completed",
			slog.String("funnel", def.Name),
			slog.String("session_id", instance.SessionID),
			slog.Int64("duration_ms", instance.TotalDurationMs))
		if err := sessions.MarkConverted(tx, instance.SessionID, def.ConversionType); err != nil {
			return fmt.Errorf("failed to mark session converted: %w", err)
		}
	}

	return nil
}

// MarkInactiveDropoffs closes out open instances whose session went quiet for
// longer than the inactivity window. DroppedOffAt records the step index the
// session stalled on; the reason is always "inactivity" - finer-grained
// reasons need client instrumentation this subsystem does not have.
func MarkInactiveDropoffs(db *gorm.DB, logger *slog.Logger, window time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-window)

	inactive, err := sessions.FindInactiveSince(db, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to load inactive sessions: %w", err)
	}
	if len(inactive) == 0 {
		return 0, nil
	}
	inactiveIDs := make([]string, 0, len(inactive))
	for i := range inactive {
		inactiveIDs = append(inactiveIDs, inactive[i].SessionID)
	}

	var open []Instance
	err = db.Where("completed = ? AND dropped_off_at IS NULL AND session_id IN ?", false, inactiveIDs).
		Find(&open).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load open funnel instances: %w", err)
	}

	var dropped int64
	for i := range open {
		instance := &open[i]
		stalledAt := instance.CurrentStep
		instance.DroppedOffAt = &stalledAt
		instance.DropoffReason = "inactivity"
		instance.UpdatedAt = time.Now().UTC()
		if err := db.Save(instance).Error; err != nil {
			return dropped, fmt.Errorf("failed to record funnel dropoff: %w", err)
		}
		dropped++
	}

	if dropped > 0 {
		logger.Info("Marked funnel dropoffs", slog.Int64("count", dropped))
	}
	return dropped, nil
}

// StepReport summarizes one step across all instances of a funnel.
type StepReport struct {
	Name      string `json:"name"`
	Order     int    `json:"order"`
	Reached   int64  `json:"reached"`
	DroppedAt int64  `json:"dropped_at"`
}

// Report aggregates funnel progress within a time range.
type Report struct {
	FunnelName  string       `json:"funnel_name"`
	Started     int64        `json:"started"`
	Completed   int64        `json:"completed"`
	AvgDuration float64      `json:"avg_duration_ms"`
	Steps       []StepReport `json:"steps"`
}

// BuildReport computes per-step reach and dropoff counts for a funnel.
func BuildReport(db *gorm.DB, name string, from, to time.Time) (*Report, error) {
	def, ok := DefinitionByName(name)
	if !ok {
		return nil, fmt.Errorf("unknown funnel: %s", name)
	}

	var instances []Instance
	err := db.Where("funnel_name = ? AND started_at >= ? AND started_at <= ?", name, from, to).Find(&instances).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load funnel instances: %w", err)
	}

	report := &Report{FunnelName: name, Steps: make([]StepReport, len(def.Steps))}
	for i, s := range def.Steps {
		report.Steps[i] = StepReport{Name: s.Name, Order: s.Order}
	}

	var totalDuration int64
	for _, instance := range instances {
		report.Started++
		for i := range report.Steps {
			if instance.CurrentStep > i {
				report.Steps[i].Reached++
			}
		}
		if instance.Completed {
			report.Completed++
			totalDuration += instance.TotalDurationMs
		} else if instance.DroppedOffAt != nil {
			at := *instance.DroppedOffAt
			if at >= 0 && at < len(report.Steps) {
				report.Steps[at].DroppedAt++
			}
		}
	}
	if report.Completed > 0 {
		report.AvgDuration = float64(totalDuration) / float64(report.Completed)
	}

	return report, nil
}

package behavior

import (
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// IncomingEvent is the wire shape of a single event inside a tracker batch.
// Optional fields may be absent; zero values are accepted.
type IncomingEvent struct {
	EventType       string                 `json:"eventType"`
	EventCategory   string                 `json:"eventCategory"`
	ElementID       string                 `json:"elementId"`
	ElementText     string                 `json:"elementText"`
	ElementX        int                    `json:"elementX"`
	ElementY        int                    `json:"elementY"`
	ElementSelector string                 `json:"elementSelector"`
	PageURL         string                 `json:"pageUrl"`
	ReferrerURL     string                 `json:"referrerUrl"`
	Timestamp       time.Time              `json:"timestamp"`
	DecisionTimeMs  int64                  `json:"decisionTime"`
	HoverDurationMs int64                  `json:"hoverDuration"`
	ScrollDepth     int                    `json:"scrollDepth"`
	ViewportW       int                    `json:"viewportWidth"`
	ViewportH       int                    `json:"viewportHeight"`
	Metadata        map[string]interface{} `json:"metadata"`
}

// RecordResult summarizes a batch persistence attempt. Events are written
// independently, so a batch can partially succeed; Err carries the first
// failure when Failed > 0.
type RecordResult struct {
	Persisted int
	Dropped   int
	Failed    int
	Err       error
}

// Success reports whether every accepted event was persisted.
func (r RecordResult) Success() bool {
	return r.Failed == 0
}

// RecordEvents persists each event of a batch as an immutable row. Malformed
// events (missing page URL, unknown event type) are dropped and logged, never
// escalated. There is no transaction across the batch: a failure on one event
// does not roll back the others.
func RecordEvents(dbManager cartridge.DBManager, logger *slog.Logger, sessionID string, incoming []IncomingEvent) RecordResult {
	result := RecordResult{}
	if sessionID == "" {
		result.Failed = len(incoming)
		result.Err = fmt.Errorf("missing session id")
		return result
	}

	db := dbManager.GetConnection()
	now := time.Now().UTC()

	for _, in := range incoming {
		event, ok := normalizeEvent(sessionID, in, now, logger)
		if !ok {
			result.Dropped++
			continue
		}

		err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
			return tx.Create(event).Error
		})
		if err != nil {
			logger.Error("Failed to store behavior event",
				slog.String("session_id", sessionID),
				slog.String("event_type", string(event.EventType)),
				slog.Any("error", err))
			result.Failed++
			if result.Err == nil {
				result.Err = fmt.Errorf("failed to store behavior event: %w", err)
			}
			continue
		}
		result.Persisted++
	}

	return result
}

// normalizeEvent validates and converts an incoming event. Returns false when
// the event must be dropped.
func normalizeEvent(sessionID string, in IncomingEvent, now time.Time, logger *slog.Logger) (*Event, bool) {
	if in.PageURL == "" {
		logger.Warn("Dropping event without page URL",
			slog.String("session_id", sessionID),
			slog.String("event_type", in.EventType))
		return nil, false
	}

	eventType := EventType(in.EventType)
	if !eventType.Valid() {
		logger.Warn("Dropping event with unknown type",
			slog.String("session_id", sessionID),
			slog.String("event_type", in.EventType))
		return nil, false
	}

	timestamp := in.Timestamp
	if timestamp.IsZero() {
		timestamp = now
	}

	return &Event{
		SessionID:       sessionID,
		EventType:       eventType,
		EventCategory:   EventCategory(in.EventCategory).Normalize(),
		ElementID:       in.ElementID,
		ElementText:     in.ElementText,
		ElementX:        in.ElementX,
		ElementY:        in.ElementY,
		ElementSelector: in.ElementSelector,
		PageURL:         in.PageURL,
		ReferrerURL:     in.ReferrerURL,
		Timestamp:       timestamp.UTC(),
		DecisionTimeMs:  in.DecisionTimeMs,
		HoverDurationMs: in.HoverDurationMs,
		ScrollDepth:     in.ScrollDepth,
		ViewportW:       in.ViewportW,
		ViewportH:       in.ViewportH,
		Metadata:        metadataFromMap(in.Metadata),
		CreatedAt:       now,
		Processed:       0,
	}, true
}

// metadataFromMap converts the open metadata bag to its stored JSON form.
func metadataFromMap(metadata map[string]interface{}) string {
	if len(metadata) == 0 {
		return ""
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return ""
	}
	return string(data)
}

// CountUnprocessed returns how many events are waiting for aggregation.
func CountUnprocessed(db *gorm.DB) (int64, error) {
	var count int64
	err := db.Model(&Event{}).Where("processed = 0").Count(&count).Error
	return count, err
}

// FetchUnprocessed returns unprocessed events in insertion order, capped at limit.
func FetchUnprocessed(db *gorm.DB, limit int) ([]Event, error) {
	var events []Event
	err := db.Where("processed = 0").Order("created_at asc, id asc").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unprocessed events: %w", err)
	}
	return events, nil
}

// MarkProcessed flips the processed flag for the given event ids.
func MarkProcessed(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Model(&Event{}).Where("id IN ?", ids).Update("processed", 1).Error; err != nil {
		return fmt.Errorf("failed to mark events as processed: %w", err)
	}
	return nil
}

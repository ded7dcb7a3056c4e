// Package heatmaps aggregates click, hover and scroll interactions into one
// bucket per (page, element selector, UTC calendar day). Buckets are written
// incrementally as the processor consumes raw events; counts only ever grow.
package heatmaps

import (
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"gorm.io/gorm"

	"pulsekit/internal/behavior"
)

// ClickPoint is one sampled click position, kept raw for rendering overlays.
type ClickPoint struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Bucket is the daily aggregate for one element on one page. Scroll depth is
// histogrammed into four quartile buckets; AverageHoverDurationMs is derived
// from the running total so merges stay exact.
type Bucket struct {
	ID                   uint      `gorm:"primaryKey"`
	PageURL              string    `gorm:"uniqueIndex:idx_page_selector_day;not null"`
	ElementSelector      string    `gorm:"uniqueIndex:idx_page_selector_day;not null"`
	Day                  time.Time `gorm:"uniqueIndex:idx_page_selector_day;not null"`
	ClickCount           int       `gorm:"not null;default:0"`
	HoverCount           int       `gorm:"not null;default:0"`
	HoverDurationTotalMs int64     `gorm:"not null;default:0"`
	DesktopClicks        int       `gorm:"not null;default:0"`
	MobileClicks         int       `gorm:"not null;default:0"`
	TabletClicks         int       `gorm:"not null;default:0"`
	ScrollQ1             int       `gorm:"not null;default:0"`
	ScrollQ2             int       `gorm:"not null;default:0"`
	ScrollQ3             int       `gorm:"not null;default:0"`
	ScrollQ4             int       `gorm:"not null;default:0"`
	ClickSamples         string    `gorm:"type:text"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// AverageHoverDurationMs returns the mean hover duration for the bucket.
func (b *Bucket) AverageHoverDurationMs() float64 {
	if b.HoverCount == 0 {
		return 0
	}
	return float64(b.HoverDurationTotalMs) / float64(b.HoverCount)
}

// ClickPoints decodes the stored click-position samples.
func (b *Bucket) ClickPoints() ([]ClickPoint, error) {
	if b.ClickSamples == "" {
		return nil, nil
	}
	var points []ClickPoint
	if err := json.Unmarshal([]byte(b.ClickSamples), &points); err != nil {
		return nil, fmt.Errorf("failed to decode click samples: %w", err)
	}
	return points, nil
}

// bucketDay truncates a timestamp to UTC midnight, the aggregation window key.
func bucketDay(ts time.Time) time.Time {
	utc := ts.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}

// deviceIncrements maps a device type to per-device click column increments.
func deviceIncrements(deviceType string) (desktop, mobile, tablet int) {
	switch deviceType {
	case "desktop":
		return 1, 0, 0
	case "mobile":
		return 0, 1, 0
	case "tablet":
		return 0, 0, 1
	}
	return 0, 0, 0
}

// scrollIncrements maps a scroll depth percentage to its quartile bucket.
func scrollIncrements(depth int) (q1, q2, q3, q4 int) {
	switch {
	case depth <= 0:
		return 0, 0, 0, 0
	case depth <= 25:
		return 1, 0, 0, 0
	case depth <= 50:
		return 0, 1, 0, 0
	case depth <= 75:
		return 0, 0, 1, 0
	}
	return 0, 0, 0, 1
}

// Apply folds one behavior event into its daily bucket. Only click, hover and
// scroll events contribute; everything else is a no-op. sampleCap bounds the
// stored raw click positions per bucket.
func Apply(tx *gorm.DB, logger *slog.Logger, event *behavior.Event, deviceType string, sampleCap int) error {
	switch event.EventType {
	case behavior.EventTypeClick, behavior.EventTypeHover, behavior.EventTypeScroll:
	default:
		return nil
	}

	selector := event.ElementSelector
	if selector == "" {
		selector = event.ElementID
	}
	if selector == "" {
		selector = "__page__"
	}

	day := bucketDay(event.Timestamp)
	now := time.Now().UTC()

	clickInc, hoverInc := 0, 0
	var hoverDurInc int64
	desktopInc, mobileInc, tabletInc := 0, 0, 0
	q1, q2, q3, q4 := 0, 0, 0, 0

	switch event.EventType {
	case behavior.EventTypeClick:
		clickInc = 1
		desktopInc, mobileInc, tabletInc = deviceIncrements(deviceType)
	case behavior.EventTypeHover:
		hoverInc = 1
		hoverDurInc = event.HoverDurationMs
	case behavior.EventTypeScroll:
		q1, q2, q3, q4 = scrollIncrements(event.ScrollDepth)
	}

	query := `
		INSERT INTO buckets (page_url, element_selector, day, click_count, hover_count,
			hover_duration_total_ms, desktop_clicks, mobile_clicks, tablet_clicks,
			scroll_q1, scroll_q2, scroll_q3, scroll_q4, click_samples, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?)
		ON CONFLICT (page_url, element_selector, day) DO UPDATE SET
			click_count = buckets.click_count + ?,
			hover_count = buckets.hover_count + ?,
			hover_duration_total_ms = buckets.hover_duration_total_ms + ?,
			desktop_clicks = buckets.desktop_clicks + ?,
			mobile_clicks = buckets.mobile_clicks + ?,
			tablet_clicks = buckets.tablet_clicks + ?,
			scroll_q1 = buckets.scroll_q1 + ?,
			scroll_q2 = buckets.scroll_q2 + ?,
			scroll_q3 = buckets.scroll_q3 + ?,
			scroll_q4 = buckets.scroll_q4 + ?,
			updated_at = ?
	`
	err := tx.Exec(query,
		event.PageURL, selector, day, clickInc, hoverInc, hoverDurInc,
		desktopInc, mobileInc, tabletInc, q1, q2, q3, q4, now, now,
		clickInc, hoverInc, hoverDurInc, desktopInc, mobileInc, tabletInc,
		q1, q2, q3, q4, now).Error
	if err != nil {
		return fmt.Errorf("failed to upsert heatmap bucket: %w", err)
	}

	if event.EventType == behavior.EventTypeClick {
		if err := appendClickSample(tx, event.PageURL, selector, day, ClickPoint{X: event.ElementX, Y: event.ElementY}, sampleCap); err != nil {
			// A lost sample point only degrades overlay fidelity, not counts.
			logger.Warn("Failed to append click sample",
				slog.String("page_url", event.PageURL),
				slog.Any("error", err))
		}
	}

	return nil
}

// appendClickSample adds a raw click position to the bucket's sample array,
// dropping new points once the cap is reached.
func appendClickSample(tx *gorm.DB, pageURL, selector string, day time.Time, point ClickPoint, sampleCap int) error {
	var bucket Bucket
	if err := tx.Where("page_url = ? AND element_selector = ? AND day = ?", pageURL, selector, day).First(&bucket).Error; err != nil {
		return fmt.Errorf("failed to load bucket for sample: %w", err)
	}

	points, err := bucket.ClickPoints()
	if err != nil {
		// Corrupt samples get reset rather than blocking aggregation.
		points = nil
	}
	if sampleCap > 0 && len(points) >= sampleCap {
		return nil
	}
	points = append(points, point)

	data, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("failed to encode click samples: %w", err)
	}
	return tx.Model(&Bucket{}).Where("id = ?", bucket.ID).Update("click_samples", string(data)).Error
}

// FetchBuckets returns buckets for a page within a day range, newest first.
func FetchBuckets(db *gorm.DB, pageURL string, from, to time.Time) ([]Bucket, error) {
	var buckets []Bucket
	query := db.Where("day >= ? AND day <= ?", bucketDay(from), bucketDay(to))
	if pageURL != "" {
		query = query.Where("page_url = ?", pageURL)
	}
	if err := query.Order("day desc, click_count desc").Find(&buckets).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch heatmap buckets: %w", err)
	}
	return buckets, nil
}

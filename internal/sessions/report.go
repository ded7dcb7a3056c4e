package sessions

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// MetricCount is one row of a grouped breakdown.
type MetricCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// breakdownColumns whitelists the session attributes a breakdown can group by.
var breakdownColumns = map[string]string{
	"device":  "device_type",
	"browser": "browser",
	"os":      "operating_system",
	"country": "country",
	"entry":   "entry_page",
	"exit":    "exit_page",
}

// Breakdown groups sessions in a window by one attribute, most common first.
func Breakdown(db *gorm.DB, websiteID uint, attribute string, from, to time.Time) ([]MetricCount, error) {
	column, ok := breakdownColumns[attribute]
	if !ok {
		return nil, fmt.Errorf("unknown breakdown attribute: %s", attribute)
	}

	var results []MetricCount
	query := db.Model(&Session{}).
		Select(column+" as name, count(*) as count").
		Where("session_start >= ? AND session_start <= ?", from, to).
		Group(column).
		Order("count desc")
	if websiteID != 0 {
		query = query.Where("website_id = ?", websiteID)
	}
	if err := query.Scan(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to compute %s breakdown: %w", attribute, err)
	}
	return results, nil
}

// Totals are the headline numbers for a reporting window.
type Totals struct {
	Sessions       int64   `json:"sessions"`
	PageViews      int64   `json:"pageViews"`
	Conversions    int64   `json:"conversions"`
	BounceRate     float64 `json:"bounceRate"`
	AvgDurationSec float64 `json:"avgDurationSec"`
}

// ComputeTotals summarizes sessions inside a window. Bounce rate is the share
// of sessions with at most one page view.
func ComputeTotals(db *gorm.DB, websiteID uint, from, to time.Time) (*Totals, error) {
	base := db.Model(&Session{}).
		Where("session_start >= ? AND session_start <= ?", from, to)
	if websiteID != 0 {
		base = base.Where("website_id = ?", websiteID)
	}

	var totals Totals
	row := base.Select(`count(*) as sessions,
			coalesce(sum(page_views), 0) as page_views,
			coalesce(sum(converted), 0) as conversions,
			coalesce(sum(case when page_views <= 1 then 1 else 0 end), 0) as bounced,
			coalesce(avg(case when session_end is not null
				then (julianday(session_end) - julianday(session_start)) * 86400.0
				else 0 end), 0) as avg_duration`)

	var raw struct {
		Sessions    int64
		PageViews   int64
		Conversions int64
		Bounced     int64
		AvgDuration float64
	}
	if err := row.Scan(&raw).Error; err != nil {
		return nil, fmt.Errorf("failed to compute session totals: %w", err)
	}

	totals.Sessions = raw.Sessions
	totals.PageViews = raw.PageViews
	totals.Conversions = raw.Conversions
	totals.AvgDurationSec = raw.AvgDuration
	if raw.Sessions > 0 {
		totals.BounceRate = float64(raw.Bounced) / float64(raw.Sessions) * 100
	}
	return &totals, nil
}

// ListRecent returns the latest sessions in a window, newest first.
func ListRecent(db *gorm.DB, websiteID uint, from, to time.Time, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []Session
	query := db.Where("session_start >= ? AND session_start <= ?", from, to).
		Order("session_start desc").
		Limit(limit)
	if websiteID != 0 {
		query = query.Where("website_id = ?", websiteID)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return rows, nil
}

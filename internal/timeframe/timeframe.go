// Package timeframe turns the portal's from/to query parameters into UTC
// reporting windows with an appropriate bucket granularity.
package timeframe

import (
	"fmt"
	"strings"
	"time"
)

type BucketSize string

const (
	BucketSizeMonth BucketSize = "month"
	BucketSizeDay   BucketSize = "day"
	BucketSizeHour  BucketSize = "hour"
)

// TimeWindowBuffer pads the end of "today" windows so events that are a few
// minutes behind wall clock (client clocks, network latency, queued
// processing) still land inside the window.
const TimeWindowBuffer = 5 * time.Minute

type TimeProvider interface {
	Now(loc *time.Location) time.Time
}

type DefaultTimeProvider struct{}

func (p *DefaultTimeProvider) Now(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// Window is a reporting period. From and To are stored in UTC; Tz is the
// requesting user's zone used for day boundaries.
type Window struct {
	From       time.Time
	To         time.Time
	BucketSize BucketSize
	dbFormat   string
	Tz         *time.Location
}

type bucketFormat struct {
	DBFormat string
	Size     BucketSize
}

var (
	hourlyBuckets  = bucketFormat{DBFormat: "%Y-%m-%d %H:00:00", Size: BucketSizeHour}
	dailyBuckets   = bucketFormat{DBFormat: "%Y-%m-%d", Size: BucketSizeDay}
	monthlyBuckets = bucketFormat{DBFormat: "%Y-%m-01", Size: BucketSizeMonth}
)

// appropriateBuckets picks the bucket granularity for a window span.
func appropriateBuckets(from, to time.Time) bucketFormat {
	days := to.Sub(from).Hours() / 24
	switch {
	case days >= 90:
		return monthlyBuckets
	case days >= 2:
		return dailyBuckets
	default:
		return hourlyBuckets
	}
}

// SQLiteFormat returns the strftime pattern for grouping rows into buckets.
func (w *Window) SQLiteFormat() string {
	return w.dbFormat
}

// FormatDate renders a timestamp with the window's bucket format.
func (w *Window) FormatDate(t time.Time) string {
	return t.Format(w.goFormat())
}

func (w *Window) goFormat() string {
	format := w.dbFormat
	format = strings.ReplaceAll(format, "%Y", "2006")
	format = strings.ReplaceAll(format, "%m", "01")
	format = strings.ReplaceAll(format, "%d", "02")
	format = strings.ReplaceAll(format, "%H", "15")
	return format
}

func (w *Window) Duration() time.Duration {
	return w.To.Sub(w.From)
}

type ParserParams struct {
	FromDate string
	ToDate   string
	Tz       string
}

type Parser struct {
	timeProvider TimeProvider
}

func NewParser(timeProvider ...TimeProvider) *Parser {
	var provider TimeProvider = &DefaultTimeProvider{}
	if len(timeProvider) > 0 && timeProvider[0] != nil {
		provider = timeProvider[0]
	}
	return &Parser{timeProvider: provider}
}

// ParseWindow builds a reporting window from from/to date strings. Missing
// dates default to the last 30 days; the zone defaults to UTC.
func (p *Parser) ParseWindow(params ParserParams) (*Window, error) {
	tz := params.Tz
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("error loading timezone: %w", err)
	}

	now := p.timeProvider.Now(loc)
	defaultFrom := now.Truncate(24*time.Hour).AddDate(0, 0, -30)

	from, err := p.parseDate(params.FromDate, defaultFrom, loc, false)
	if err != nil {
		return nil, fmt.Errorf("invalid 'from' date: %w", err)
	}
	to, err := p.parseDate(params.ToDate, now, loc, true)
	if err != nil {
		return nil, fmt.Errorf("invalid 'to' date: %w", err)
	}
	if from.After(to) {
		return nil, fmt.Errorf("'from' date must be before 'to' date")
	}

	buckets := appropriateBuckets(from, to)
	return &Window{
		From:       from.UTC(),
		To:         to.UTC(),
		BucketSize: buckets.Size,
		dbFormat:   buckets.DBFormat,
		Tz:         loc,
	}, nil
}

func (p *Parser) parseDate(dateStr string, defaultDate time.Time, loc *time.Location, isEndDate bool) (time.Time, error) {
	if dateStr == "" {
		return defaultDate, nil
	}

	date, err := time.ParseInLocation("2006-01-02", dateStr, loc)
	if err != nil {
		return time.Time{}, err
	}

	if !isEndDate {
		return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc), nil
	}

	now := p.timeProvider.Now(loc)
	endOfDay := time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 59, 999999999, loc)
	if !endOfDay.After(now) {
		return endOfDay, nil
	}

	// An end date covering "now" gets the buffer, clamped to the requested day
	// so future buckets never appear.
	buffered := now.Add(TimeWindowBuffer)
	if buffered.After(endOfDay) {
		return endOfDay, nil
	}
	return buffered, nil
}

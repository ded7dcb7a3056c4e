// Package sessions maintains one aggregate row per browsing session. The
// session id is generated by the tracker in the browser; the server only ever
// upserts. Sessions are never deleted here - retention is an external concern.
package sessions

import (
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Session identifies one browsing visit. SessionEnd stays nil until the first
// repeat page view; a session is treated as closed once SessionEnd (or
// SessionStart) is older than the inactivity window - there is no explicit
// stored closed state.
type Session struct {
	ID              uint   `gorm:"primaryKey"`
	SessionID       string `gorm:"uniqueIndex;not null"`
	WebsiteID       uint   `gorm:"index"`
	DeviceType      string
	Browser         string
	OperatingSystem string
	Country         string
	EntryPage       string
	ExitPage        string
	SessionStart    time.Time `gorm:"index;not null"`
	SessionEnd      *time.Time
	PageViews       int `gorm:"not null;default:0"`
	Converted       bool
	ConversionType  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UpsertInput carries the session attributes supplied by the tracker plus
// server-side enrichment (device, geo).
type UpsertInput struct {
	SessionID       string
	WebsiteID       uint
	DeviceType      string
	Browser         string
	OperatingSystem string
	Country         string
	EntryPage       string
	ExitPage        string
	SessionStart    time.Time
}

// Upsert creates the session on first sight (pageViews=1) or increments
// pageViews and refreshes sessionEnd on every subsequent call. The write is a
// single INSERT .. ON CONFLICT so two near-simultaneous page loads in one tab
// both land; true concurrent writers race last-write-wins on exit_page and
// session_end, which is accepted (no optimistic-concurrency token).
func Upsert(dbManager cartridge.DBManager, logger *slog.Logger, input *UpsertInput) (*Session, error) {
	if input.SessionID == "" {
		return nil, fmt.Errorf("missing session id")
	}

	start := input.SessionStart
	if start.IsZero() {
		start = time.Now().UTC()
	}
	now := time.Now().UTC()

	db := dbManager.GetConnection()
	query := `
		INSERT INTO sessions (session_id, website_id, device_type, browser, operating_system, country,
			entry_page, exit_page, session_start, session_end, page_views, converted, conversion_type,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 1, 0, '', ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			page_views = sessions.page_views + 1,
			session_end = ?,
			exit_page = ?,
			updated_at = ?
	`
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Exec(query,
			input.SessionID, input.WebsiteID, input.DeviceType, input.Browser, input.OperatingSystem,
			input.Country, input.EntryPage, input.ExitPage, start, now, now,
			now, input.ExitPage, now).Error
	})
	if err != nil {
		logger.Error("Failed to upsert session",
			slog.String("session_id", input.SessionID),
			slog.Any("error", err))
		return nil, fmt.Errorf("failed to upsert session: %w", err)
	}

	session, err := FindBySessionID(db, input.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read back session: %w", err)
	}
	return session, nil
}

// MarkConverted flags a session as converted with the given conversion type.
// Used by the funnel processor when a funnel instance completes.
func MarkConverted(tx *gorm.DB, sessionID, conversionType string) error {
	return tx.Model(&Session{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"converted":       true,
			"conversion_type": conversionType,
		}).Error
}

// FindBySessionID retrieves a session by its client-generated id.
func FindBySessionID(db *gorm.DB, sessionID string) (*Session, error) {
	var session Session
	if err := db.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// Bounced reports whether the session saw at most one page view.
// Derived, never stored.
func (s *Session) Bounced() bool {
	return s.PageViews <= 1
}

// LastSeen returns the most recent activity timestamp.
func (s *Session) LastSeen() time.Time {
	if s.SessionEnd != nil {
		return *s.SessionEnd
	}
	return s.SessionStart
}

// ClosedAt reports whether the session counts as closed at the given instant,
// i.e. no activity within the inactivity window. Closure is inferred by
// readers; nothing ever writes a closed state.
func (s *Session) ClosedAt(now time.Time, window time.Duration) bool {
	return now.Sub(s.LastSeen()) > window
}

// Duration returns the elapsed time between first and last activity.
func (s *Session) Duration() time.Duration {
	return s.LastSeen().Sub(s.SessionStart)
}

// FindInactiveSince returns sessions whose last activity predates cutoff.
// Used by the funnel processor to mark dropoffs.
func FindInactiveSince(db *gorm.DB, cutoff time.Time) ([]Session, error) {
	var result []Session
	err := db.Where("COALESCE(session_end, session_start) < ?", cutoff).Find(&result).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query inactive sessions: %w", err)
	}
	return result, nil
}

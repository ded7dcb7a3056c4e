package sessions_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pulsekit/internal/sessions"
	"pulsekit/internal/testsupport"
)

func seedReportSessions(t *testing.T, db *gorm.DB, now time.Time) {
	t.Helper()
	testsupport.CleanTables(db, []string{"sessions"})

	end := now.Add(-5 * time.Minute)
	rows := []sessions.Session{
		{SessionID: "r-1", WebsiteID: 1, DeviceType: "desktop", Browser: "Chrome", Country: "US",
			EntryPage: "/", ExitPage: "/contact", SessionStart: now.Add(-15 * time.Minute), SessionEnd: &end,
			PageViews: 3, Converted: true, ConversionType: "contact_form"},
		{SessionID: "r-2", WebsiteID: 1, DeviceType: "mobile", Browser: "Safari", Country: "US",
			EntryPage: "/", ExitPage: "/", SessionStart: now.Add(-10 * time.Minute), PageViews: 1},
		{SessionID: "r-3", WebsiteID: 2, DeviceType: "desktop", Browser: "Firefox", Country: "DE",
			EntryPage: "/blog", ExitPage: "/blog", SessionStart: now.Add(-8 * time.Minute), PageViews: 2},
	}
	for i := range rows {
		require.NoError(t, db.Create(&rows[i]).Error)
	}
}

func TestComputeTotals(t *testing.T) {
	now := time.Now().UTC()
	from := now.Add(-time.Hour)

	t.Run("aggregates every website when id is zero", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		seedReportSessions(t, db, now)

		totals, err := sessions.ComputeTotals(db, 0, from, now)
		require.NoError(t, err)

		assert.Equal(t, int64(3), totals.Sessions)
		assert.Equal(t, int64(6), totals.PageViews)
		assert.Equal(t, int64(1), totals.Conversions)
		assert.InDelta(t, 33.33, totals.BounceRate, 0.1)
	})

	t.Run("filters by website", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		seedReportSessions(t, db, now)

		totals, err := sessions.ComputeTotals(db, 2, from, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), totals.Sessions)
		assert.Equal(t, int64(2), totals.PageViews)
	})

	t.Run("empty window yields zeroes", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		seedReportSessions(t, db, now)

		totals, err := sessions.ComputeTotals(db, 0, now.Add(-48*time.Hour), now.Add(-47*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(0), totals.Sessions)
		assert.Equal(t, float64(0), totals.BounceRate)
	})
}

func TestBreakdown(t *testing.T) {
	now := time.Now().UTC()
	from := now.Add(-time.Hour)

	t.Run("groups by device most common first", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		seedReportSessions(t, db, now)

		rows, err := sessions.Breakdown(db, 0, "device", from, now)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "desktop", rows[0].Name)
		assert.Equal(t, int64(2), rows[0].Count)
		assert.Equal(t, "mobile", rows[1].Name)
	})

	t.Run("groups by country within one website", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		seedReportSessions(t, db, now)

		rows, err := sessions.Breakdown(db, 1, "country", from, now)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "US", rows[0].Name)
		assert.Equal(t, int64(2), rows[0].Count)
	})

	t.Run("rejects an unknown attribute", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()

		_, err := sessions.Breakdown(db, 0, "shoe_size", from, now)
		assert.Error(t, err)
	})
}

func TestListRecent(t *testing.T) {
	now := time.Now().UTC()
	from := now.Add(-time.Hour)

	t.Run("returns sessions newest first", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		seedReportSessions(t, db, now)

		rows, err := sessions.ListRecent(db, 0, from, now, 10)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "r-3", rows[0].SessionID)
		assert.Equal(t, "r-1", rows[2].SessionID)
	})

	t.Run("caps the result at the limit", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		seedReportSessions(t, db, now)

		rows, err := sessions.ListRecent(db, 0, from, now, 2)
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})
}

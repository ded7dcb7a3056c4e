package behavior_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsekit/internal/behavior"
	"pulsekit/internal/testsupport"
)

func TestRecordEvents(t *testing.T) {
	t.Run("persists a valid batch", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, []string{"events"})

		incoming := []behavior.IncomingEvent{
			{EventType: "click", PageURL: "https://acme.dev/pricing", ElementID: "cta-signup", ElementX: 120, ElementY: 380},
			{EventType: "scroll", PageURL: "https://acme.dev/pricing", ScrollDepth: 60},
		}

		result := behavior.RecordEvents(dbManager, logger, "session-1", incoming)
		assert.True(t, result.Success())
		assert.Equal(t, 2, result.Persisted)
		assert.Equal(t, 0, result.Dropped)

		var stored []behavior.Event
		require.NoError(t, db.Where("session_id = ?", "session-1").Order("id asc").Find(&stored).Error)
		require.Len(t, stored, 2)
		assert.Equal(t, behavior.EventTypeClick, stored[0].EventType)
		assert.Equal(t, "cta-signup", stored[0].ElementID)
		assert.Equal(t, 0, stored[0].Processed)
		assert.Equal(t, 60, stored[1].ScrollDepth)
	})

	t.Run("drops events without a page URL", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, []string{"events"})

		incoming := []behavior.IncomingEvent{
			{EventType: "click"},
			{EventType: "click", PageURL: "https://acme.dev/"},
		}

		result := behavior.RecordEvents(dbManager, logger, "session-2", incoming)
		assert.True(t, result.Success(), "dropped events are not failures")
		assert.Equal(t, 1, result.Persisted)
		assert.Equal(t, 1, result.Dropped)
	})

	t.Run("drops events with an unknown type", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, []string{"events"})

		incoming := []behavior.IncomingEvent{
			{EventType: "teleport", PageURL: "https://acme.dev/"},
		}

		result := behavior.RecordEvents(dbManager, logger, "session-3", incoming)
		assert.Equal(t, 0, result.Persisted)
		assert.Equal(t, 1, result.Dropped)
	})

	t.Run("normalizes unknown categories to other", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, []string{"events"})

		incoming := []behavior.IncomingEvent{
			{EventType: "click", EventCategory: "mystery", PageURL: "https://acme.dev/"},
		}

		result := behavior.RecordEvents(dbManager, logger, "session-4", incoming)
		require.Equal(t, 1, result.Persisted)

		var stored behavior.Event
		require.NoError(t, db.Where("session_id = ?", "session-4").First(&stored).Error)
		assert.Equal(t, behavior.CategoryOther, stored.EventCategory)
	})

	t.Run("fills in a missing timestamp", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, []string{"events"})

		before := time.Now().UTC().Add(-time.Second)
		result := behavior.RecordEvents(dbManager, logger, "session-5", []behavior.IncomingEvent{
			{EventType: "click", PageURL: "https://acme.dev/"},
		})
		require.Equal(t, 1, result.Persisted)

		var stored behavior.Event
		require.NoError(t, db.Where("session_id = ?", "session-5").First(&stored).Error)
		assert.True(t, stored.Timestamp.After(before))
	})

	t.Run("rejects a batch without a session id", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)

		result := behavior.RecordEvents(dbManager, logger, "", []behavior.IncomingEvent{
			{EventType: "click", PageURL: "https://acme.dev/"},
		})
		assert.False(t, result.Success())
		assert.Equal(t, 1, result.Failed)
		assert.Error(t, result.Err)
	})

	t.Run("stores metadata as JSON", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, []string{"events"})

		result := behavior.RecordEvents(dbManager, logger, "session-6", []behavior.IncomingEvent{
			{EventType: "click", PageURL: "https://acme.dev/", Metadata: map[string]interface{}{"campaign": "spring"}},
		})
		require.Equal(t, 1, result.Persisted)

		var stored behavior.Event
		require.NoError(t, db.Where("session_id = ?", "session-6").First(&stored).Error)
		assert.Contains(t, stored.Metadata, `"campaign":"spring"`)
	})
}

func TestUnprocessedQueue(t *testing.T) {
	t.Run("counts, fetches and marks processed", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, []string{"events"})

		now := time.Now().UTC()
		first := testsupport.CreateTestEvent(t, db, "queue-session", behavior.EventTypeClick, "https://acme.dev/a", now)
		second := testsupport.CreateTestEvent(t, db, "queue-session", behavior.EventTypeScroll, "https://acme.dev/b", now.Add(time.Second))

		count, err := behavior.CountUnprocessed(db)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		fetched, err := behavior.FetchUnprocessed(db, 10)
		require.NoError(t, err)
		require.Len(t, fetched, 2)
		assert.Equal(t, first.ID, fetched[0].ID, "fetch order follows insertion order")

		require.NoError(t, behavior.MarkProcessed(db, []uint{first.ID, second.ID}))

		count, err = behavior.CountUnprocessed(db)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("fetch respects the limit", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, []string{"events"})

		now := time.Now().UTC()
		for i := 0; i < 5; i++ {
			testsupport.CreateTestEvent(t, db, "limit-session", behavior.EventTypeClick, "https://acme.dev/", now)
		}

		fetched, err := behavior.FetchUnprocessed(db, 3)
		require.NoError(t, err)
		assert.Len(t, fetched, 3)
	})

	t.Run("marking an empty id list is a no-op", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()

		assert.NoError(t, behavior.MarkProcessed(db, nil))
	})
}

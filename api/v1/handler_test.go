// Package v1_test contains tests for the public ingestion API handlers
package v1_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsekit/internal/behavior"
	"pulsekit/internal/testsupport"
)

func postJSON(t *testing.T, path, origin string, body any) *http.Request {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	return decoded
}

func TestCreateEventBatchHandler(t *testing.T) {
	t.Run("accepts a batch from a registered origin", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, nil)
		testsupport.CreateTestWebsite(db, "example.com")

		app := testsupport.CreateMinimalTestApp(t, db)

		body := map[string]any{
			"sessionId": "batch-session",
			"events": []map[string]any{
				{"eventType": "click", "pageUrl": "https://example.com/pricing", "elementId": "cta"},
				{"eventType": "scroll", "pageUrl": "https://example.com/pricing", "scrollDepth": 75},
			},
		}

		resp, err := app.Test(postJSON(t, "/x/api/v1/events", "https://www.example.com", body), 30000)
		require.NoError(t, err)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		decoded := decodeBody(t, resp)
		assert.Equal(t, float64(2), decoded["persisted"])
		assert.Equal(t, float64(0), decoded["dropped"])

		var count int64
		db.Model(&behavior.Event{}).Where("session_id = ?", "batch-session").Count(&count)
		assert.Equal(t, int64(2), count)
	})

	t.Run("rejects an unregistered origin", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, nil)

		app := testsupport.CreateMinimalTestApp(t, db)

		body := map[string]any{
			"sessionId": "nope",
			"events":    []map[string]any{{"eventType": "click", "pageUrl": "https://intruder.io/"}},
		}

		resp, err := app.Test(postJSON(t, "/x/api/v1/events", "https://intruder.io", body), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("rejects a missing origin", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, nil)

		app := testsupport.CreateMinimalTestApp(t, db)

		body := map[string]any{"sessionId": "nope", "events": []map[string]any{}}
		resp, err := app.Test(postJSON(t, "/x/api/v1/events", "", body), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("requires a session id", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, nil)
		testsupport.CreateTestWebsite(db, "example.com")

		app := testsupport.CreateMinimalTestApp(t, db)

		body := map[string]any{
			"events": []map[string]any{{"eventType": "click", "pageUrl": "https://example.com/"}},
		}
		resp, err := app.Test(postJSON(t, "/x/api/v1/events", "https://example.com", body), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("drops bot traffic without storing anything", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, nil)
		testsupport.CreateTestWebsite(db, "example.com")

		app := testsupport.CreateMinimalTestApp(t, db)

		body := map[string]any{
			"sessionId": "bot-session",
			"events":    []map[string]any{{"eventType": "click", "pageUrl": "https://example.com/"}},
		}
		req := postJSON(t, "/x/api/v1/events", "https://example.com", body)
		req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		var count int64
		db.Model(&behavior.Event{}).Where("session_id = ?", "bot-session").Count(&count)
		assert.Equal(t, int64(0), count)
	})

	t.Run("malformed events are dropped, valid ones kept", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, nil)
		testsupport.CreateTestWebsite(db, "example.com")

		app := testsupport.CreateMinimalTestApp(t, db)

		body := map[string]any{
			"sessionId": "partial-session",
			"events": []map[string]any{
				{"eventType": "click", "pageUrl": "https://example.com/"},
				{"eventType": "click"},
				{"eventType": "warp-drive", "pageUrl": "https://example.com/"},
			},
		}
		resp, err := app.Test(postJSON(t, "/x/api/v1/events", "https://example.com", body), 30000)
		require.NoError(t, err)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		decoded := decodeBody(t, resp)
		assert.Equal(t, float64(1), decoded["persisted"])
		assert.Equal(t, float64(2), decoded["dropped"])
	})
}

func TestCreateEventBeaconHandler(t *testing.T) {
	t.Run("stores events and always answers 202", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, nil)
		testsupport.CreateTestWebsite(db, "example.com")

		app := testsupport.CreateMinimalTestApp(t, db)

		body := map[string]any{
			"sessionId": "beacon-session",
			"events":    []map[string]any{{"eventType": "page_exit", "pageUrl": "https://example.com/"}},
		}
		resp, err := app.Test(postJSON(t, "/x/api/v1/events/beacon", "https://example.com", body), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		var count int64
		db.Model(&behavior.Event{}).Where("session_id = ?", "beacon-session").Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("answers 202 even for garbage bodies", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, nil)

		app := testsupport.CreateMinimalTestApp(t, db)

		req := httptest.NewRequest("POST", "/x/api/v1/events/beacon", bytes.NewReader([]byte("not json")))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	})
}

func TestUpsertSessionHandler(t *testing.T) {
	t.Run("creates and then increments a session", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, nil)
		testsupport.CreateTestWebsite(db, "example.com")

		app := testsupport.CreateMinimalTestApp(t, db)

		body := map[string]any{
			"sessionId": "visit-http",
			"entryPage": "/",
			"exitPage":  "/",
			"startedAt": time.Now().UTC(),
		}

		resp, err := app.Test(postJSON(t, "/x/api/v1/sessions", "https://example.com", body), 30000)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		decoded := decodeBody(t, resp)
		assert.Equal(t, true, decoded["success"])
		assert.Equal(t, float64(1), decoded["pageViews"])

		body["exitPage"] = "/contact"
		resp, err = app.Test(postJSON(t, "/x/api/v1/sessions", "https://example.com", body), 30000)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		decoded = decodeBody(t, resp)
		assert.Equal(t, float64(2), decoded["pageViews"])
	})

	t.Run("enriches device and browser from the user agent", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, nil)
		testsupport.CreateTestWebsite(db, "example.com")

		app := testsupport.CreateMinimalTestApp(t, db)

		body := map[string]any{"sessionId": "visit-mobile", "entryPage": "/", "exitPage": "/"}
		req := postJSON(t, "/x/api/v1/sessions", "https://example.com", body)
		req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1")

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var stored struct {
			DeviceType string
			Browser    string
		}
		require.NoError(t, db.Table("sessions").Select("device_type, browser").
			Where("session_id = ?", "visit-mobile").Scan(&stored).Error)
		assert.Equal(t, "mobile", stored.DeviceType)
		assert.Equal(t, "Safari", stored.Browser)
	})

	t.Run("rejects an unknown origin", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, nil)

		app := testsupport.CreateMinimalTestApp(t, db)

		body := map[string]any{"sessionId": "visit-x"}
		resp, err := app.Test(postJSON(t, "/x/api/v1/sessions", "https://stranger.example.net", body), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

package internal_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsekit/internal/notifications"
	"pulsekit/internal/settings"
	"pulsekit/internal/testsupport"
)

func adminRequest(t *testing.T, method, path, apiKey string, body any) *http.Request {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthRoute(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	app := testsupport.CreateMinimalTestApp(t, dbManager.GetConnection())

	req, err := http.NewRequest(http.MethodGet, "/_health", nil)
	require.NoError(t, err)

	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["db_status"])
}

func TestAdminAPIKeyGate(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	app := testsupport.CreateMinimalTestApp(t, db)

	t.Run("rejects requests before a key is configured", func(t *testing.T) {
		testsupport.CleanTables(db, nil)

		resp, err := app.Test(adminRequest(t, http.MethodGet, "/admin/api/v1/websites", "", nil), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp, err = app.Test(adminRequest(t, http.MethodGet, "/admin/api/v1/websites", "whatever", nil), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects missing and malformed credentials", func(t *testing.T) {
		testsupport.CleanTables(db, nil)
		key, err := settings.GenerateAdminAPIKey(db)
		require.NoError(t, err)

		resp, err := app.Test(adminRequest(t, http.MethodGet, "/admin/api/v1/websites", "", nil), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		req := adminRequest(t, http.MethodGet, "/admin/api/v1/websites", "", nil)
		req.Header.Set("Authorization", key)
		resp, err = app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp, err = app.Test(adminRequest(t, http.MethodGet, "/admin/api/v1/websites", "not-the-key", nil), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("accepts the configured key", func(t *testing.T) {
		testsupport.CleanTables(db, nil)
		key, err := settings.GenerateAdminAPIKey(db)
		require.NoError(t, err)

		resp, err := app.Test(adminRequest(t, http.MethodGet, "/admin/api/v1/websites", key, nil), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestAdminSessionsEndpoint(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	app := testsupport.CreateMinimalTestApp(t, db)

	testsupport.CleanTables(db, nil)
	key, err := settings.GenerateAdminAPIKey(db)
	require.NoError(t, err)

	website := testsupport.CreateTestWebsite(db, "acme.dev")
	now := time.Now().UTC()
	testsupport.CreateTestSession(t, db, "sess-report-1", website.ID, now.Add(-2*time.Hour))
	testsupport.CreateTestSession(t, db, "sess-report-2", website.ID, now.Add(-1*time.Hour))

	resp, err := app.Test(adminRequest(t, http.MethodGet, "/admin/api/v1/sessions", key, nil), 30000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	totals, ok := body["totals"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), totals["sessions"])

	sessionRows, ok := body["sessions"].([]any)
	require.True(t, ok)
	require.Len(t, sessionRows, 2)

	first, ok := sessionRows[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sess-report-2", first["sessionId"])
	assert.NotEmpty(t, first["visitor"])
	assert.Equal(t, "Desktop", body["devices"].([]any)[0].(map[string]any)["name"])
}

func TestAdminFunnelsEndpoints(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	app := testsupport.CreateMinimalTestApp(t, db)

	testsupport.CleanTables(db, nil)
	key, err := settings.GenerateAdminAPIKey(db)
	require.NoError(t, err)

	t.Run("lists configured funnels", func(t *testing.T) {
		resp, err := app.Test(adminRequest(t, http.MethodGet, "/admin/api/v1/funnels", key, nil), 30000)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeJSON(t, resp)
		funnelList, ok := body["funnels"].([]any)
		require.True(t, ok)
		require.NotEmpty(t, funnelList)

		names := make([]string, 0, len(funnelList))
		for _, item := range funnelList {
			names = append(names, item.(map[string]any)["name"].(string))
		}
		assert.Contains(t, names, "contact")
	})

	t.Run("builds a report for a known funnel", func(t *testing.T) {
		resp, err := app.Test(adminRequest(t, http.MethodGet, "/admin/api/v1/funnels/contact/report", key, nil), 30000)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeJSON(t, resp)
		assert.Equal(t, "contact", body["funnel_name"])
		assert.Equal(t, float64(0), body["started"])
		steps, ok := body["steps"].([]any)
		require.True(t, ok)
		assert.NotEmpty(t, steps)
	})

	t.Run("returns not found for an unknown funnel", func(t *testing.T) {
		resp, err := app.Test(adminRequest(t, http.MethodGet, "/admin/api/v1/funnels/nope/report", key, nil), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAdminHeatmapsEndpoint(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	app := testsupport.CreateMinimalTestApp(t, db)

	testsupport.CleanTables(db, nil)
	key, err := settings.GenerateAdminAPIKey(db)
	require.NoError(t, err)

	resp, err := app.Test(adminRequest(t, http.MethodGet, "/admin/api/v1/heatmaps", key, nil), 30000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	buckets, ok := body["buckets"].([]any)
	require.True(t, ok)
	assert.Empty(t, buckets)
	assert.NotEmpty(t, body["from"])
	assert.NotEmpty(t, body["to"])
}

func TestAdminNotificationsEndpoints(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	app := testsupport.CreateMinimalTestApp(t, db)

	testsupport.CleanTables(db, nil)
	key, err := settings.GenerateAdminAPIKey(db)
	require.NoError(t, err)

	user := testsupport.CreateTestUser(t, db, "reader@acme.dev", "sup3rsecret")
	notif, err := notifications.Create(dbManager, logger, user.ID, "report", "Weekly digest", "Your numbers are in")
	require.NoError(t, err)

	t.Run("requires an identified user", func(t *testing.T) {
		resp, err := app.Test(adminRequest(t, http.MethodGet, "/admin/api/v1/notifications", key, nil), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("lists notifications with an unread count", func(t *testing.T) {
		path := fmt.Sprintf("/admin/api/v1/notifications?user_id=%d", user.ID)
		resp, err := app.Test(adminRequest(t, http.MethodGet, path, key, nil), 30000)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeJSON(t, resp)
		items, ok := body["notifications"].([]any)
		require.True(t, ok)
		require.Len(t, items, 1)
		assert.Equal(t, "Weekly digest", items[0].(map[string]any)["title"])
		assert.Equal(t, float64(1), body["unread"])
	})

	t.Run("marks a notification read", func(t *testing.T) {
		path := fmt.Sprintf("/admin/api/v1/notifications/%d/read?user_id=%d", notif.ID, user.ID)
		resp, err := app.Test(adminRequest(t, http.MethodPost, path, key, nil), 30000)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeJSON(t, resp)
		assert.Equal(t, true, body["success"])

		listPath := fmt.Sprintf("/admin/api/v1/notifications?user_id=%d", user.ID)
		resp, err = app.Test(adminRequest(t, http.MethodGet, listPath, key, nil), 30000)
		require.NoError(t, err)
		listBody := decodeJSON(t, resp)
		assert.Equal(t, float64(0), listBody["unread"])
	})

	t.Run("rejects marking an unknown notification", func(t *testing.T) {
		path := fmt.Sprintf("/admin/api/v1/notifications/999999/read?user_id=%d", user.ID)
		resp, err := app.Test(adminRequest(t, http.MethodPost, path, key, nil), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAdminWebsitesEndpoints(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	app := testsupport.CreateMinimalTestApp(t, db)

	testsupport.CleanTables(db, nil)
	key, err := settings.GenerateAdminAPIKey(db)
	require.NoError(t, err)

	var createdID float64

	t.Run("registers a website", func(t *testing.T) {
		payload := map[string]string{"domain": "www.Studio.Example.com", "name": "Studio"}
		resp, err := app.Test(adminRequest(t, http.MethodPost, "/admin/api/v1/websites", key, payload), 30000)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		body := decodeJSON(t, resp)
		assert.Equal(t, "example.com", body["domain"])
		var ok bool
		createdID, ok = body["id"].(float64)
		require.True(t, ok)
	})

	t.Run("rejects an invalid domain", func(t *testing.T) {
		payload := map[string]string{"domain": "", "name": "Nameless"}
		resp, err := app.Test(adminRequest(t, http.MethodPost, "/admin/api/v1/websites", key, payload), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("lists registered websites", func(t *testing.T) {
		resp, err := app.Test(adminRequest(t, http.MethodGet, "/admin/api/v1/websites", key, nil), 30000)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeJSON(t, resp)
		sites, ok := body["websites"].([]any)
		require.True(t, ok)
		require.Len(t, sites, 1)
	})

	t.Run("deletes a website", func(t *testing.T) {
		path := fmt.Sprintf("/admin/api/v1/websites/%d", int(createdID))
		resp, err := app.Test(adminRequest(t, http.MethodDelete, path, key, nil), 30000)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, err = app.Test(adminRequest(t, http.MethodDelete, path, key, nil), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("rejects a malformed website id", func(t *testing.T) {
		resp, err := app.Test(adminRequest(t, http.MethodDelete, "/admin/api/v1/websites/zero", key, nil), 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

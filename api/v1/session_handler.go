package v1

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pulsekit/internal/pkg/geoip"
	"pulsekit/internal/pkg/useragent"
	"pulsekit/internal/sessions"
)

// UpsertSessionParams is the body of POST /x/api/v1/sessions.
type UpsertSessionParams struct {
	SessionID string    `json:"sessionId"`
	EntryPage string    `json:"entryPage"`
	ExitPage  string    `json:"exitPage"`
	StartedAt time.Time `json:"startedAt"`
}

// UpsertSessionHandler creates or refreshes a visitor session. First sight
// creates the row with pageViews=1; every later call bumps pageViews and the
// session end marker. Device and country come from server-side enrichment,
// never from the client payload.
func UpsertSessionHandler(ctx *cartridge.Context) error {
	var params UpsertSessionParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   errInvalidRequest,
		})
	}

	website, err := validateOrigin(ctx.Ctx, ctx.DBManager, ctx.Logger)
	if err != nil {
		return handleError(ctx.Ctx, err)
	}

	if params.SessionID == "" {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "sessionId is required",
		})
	}

	if dropRequest(ctx, "session") {
		return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
			"success":   true,
			"sessionId": params.SessionID,
		})
	}

	ua := useragent.Parse(requestUserAgent(ctx))

	input := &sessions.UpsertInput{
		SessionID:       params.SessionID,
		WebsiteID:       website.ID,
		DeviceType:      ua.DeviceType(),
		Browser:         ua.Browser,
		OperatingSystem: ua.OS,
		Country:         geoip.CountryCode(getClientIP(ctx.Ctx)),
		EntryPage:       params.EntryPage,
		ExitPage:        params.ExitPage,
		SessionStart:    params.StartedAt,
	}

	session, err := sessions.Upsert(ctx.DBManager, ctx.Logger, input)
	if err != nil {
		ctx.Logger.Error("Failed to upsert session",
			slog.String("session_id", params.SessionID),
			slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to record session",
		})
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"success":   true,
		"sessionId": session.SessionID,
		"pageViews": session.PageViews,
	})
}

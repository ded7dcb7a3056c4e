// Package v1 is the public ingestion API used by the tracking client. The
// endpoints are unauthenticated; requests are accepted only when their Origin
// resolves to a registered website.
package v1

import (
	"encoding/json"
	"net/http"
	"net/url"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pulsekit/internal/behavior"
	"pulsekit/internal/pkg/useragent"
	"pulsekit/internal/settings"
	"pulsekit/internal/websites"
)

const (
	errInvalidRequest = "Invalid request"
	errInvalidOrigin  = "Invalid origin"
)

// CreateEventBatchParams is the body of POST /x/api/v1/events.
type CreateEventBatchParams struct {
	SessionID string                   `json:"sessionId"`
	Events    []behavior.IncomingEvent `json:"events"`
}

// CreateEventBatchHandler ingests a batch of interaction events. Events are
// persisted individually so one bad event never rejects the whole batch.
func CreateEventBatchHandler(ctx *cartridge.Context) error {
	ctx.Logger.Debug("Received event batch",
		slog.String("method", ctx.Method()),
		slog.String("path", ctx.Path()))

	var params CreateEventBatchParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}

	if _, err := validateOrigin(ctx.Ctx, ctx.DBManager, ctx.Logger); err != nil {
		return handleError(ctx.Ctx, err)
	}

	if params.SessionID == "" {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "sessionId is required"})
	}

	if dropRequest(ctx, "event batch") {
		return ctx.Status(http.StatusAccepted).JSON(fiber.Map{"persisted": 0, "dropped": len(params.Events)})
	}

	result := behavior.RecordEvents(ctx.DBManager, ctx.Logger, params.SessionID, params.Events)
	if result.Err != nil {
		ctx.Logger.Error("Failed to record event batch",
			slog.String("session_id", params.SessionID),
			slog.Any("error", result.Err))
	}

	if !result.Success() && result.Persisted == 0 {
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record events",
			"code":  "RECORD_ERROR",
		})
	}

	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"persisted": result.Persisted,
		"dropped":   result.Dropped,
		"failed":    result.Failed,
	})
}

// CreateEventBeaconHandler ingests events sent via navigator.sendBeacon on
// page unload. Beacon responses are never read by the browser, so every path
// returns 202.
func CreateEventBeaconHandler(ctx *cartridge.Context) error {
	var params CreateEventBatchParams
	if err := json.Unmarshal(ctx.Body(), &params); err != nil {
		ctx.Logger.Debug("Failed to parse beacon request", slog.Any("error", err))
		return ctx.SendStatus(http.StatusAccepted)
	}

	if _, err := validateOrigin(ctx.Ctx, ctx.DBManager, ctx.Logger); err != nil {
		ctx.Logger.Debug("Invalid origin in beacon request")
		return ctx.SendStatus(http.StatusAccepted)
	}

	if params.SessionID == "" || dropRequest(ctx, "beacon") {
		return ctx.SendStatus(http.StatusAccepted)
	}

	result := behavior.RecordEvents(ctx.DBManager, ctx.Logger, params.SessionID, params.Events)
	if result.Err != nil {
		ctx.Logger.Error("Failed to record beacon events",
			slog.String("session_id", params.SessionID),
			slog.Any("error", result.Err))
	}

	return ctx.SendStatus(http.StatusAccepted)
}

// dropRequest filters out traffic that should not be counted: excluded IPs
// and known bots.
func dropRequest(ctx *cartridge.Context, kind string) bool {
	ip := getClientIP(ctx.Ctx)
	if excluded, err := settings.IsIPExcluded(ip); err == nil && excluded {
		ctx.Logger.Debug("Dropping request from excluded IP",
			slog.String("kind", kind),
			slog.String("ip", ip))
		return true
	}

	if ua := requestUserAgent(ctx); ua != "" && useragent.Parse(ua).Bot {
		ctx.Logger.Debug("Dropping bot request", slog.String("kind", kind))
		return true
	}

	return false
}

func requestUserAgent(ctx *cartridge.Context) string {
	if forwardedUA := ctx.Get("X-Forwarded-User-Agent"); forwardedUA != "" {
		return forwardedUA
	}
	return ctx.Get("User-Agent")
}

// validateOrigin checks that the request comes from a registered website
// domain using the Origin header, falling back to Referer for same-origin
// requests. It returns the matched website so handlers can attribute data.
func validateOrigin(c *fiber.Ctx, dbManager cartridge.DBManager, logger *slog.Logger) (*websites.Website, error) {
	origin := c.Get("Origin")
	if origin == "" {
		origin = c.Get("Referer")
	}
	if origin == "" {
		logger.Debug("No Origin or Referer header present")
		return nil, fiber.NewError(http.StatusForbidden, errInvalidOrigin)
	}

	parsedURL, err := url.Parse(origin)
	if err != nil {
		logger.Debug("Failed to parse origin URL", slog.String("origin", origin), slog.Any("error", err))
		return nil, fiber.NewError(http.StatusForbidden, errInvalidOrigin)
	}

	baseDomain := websites.BaseDomainForHost(parsedURL.Hostname())

	db := dbManager.GetConnection()
	website, err := websites.GetWebsiteByDomain(db, baseDomain)
	if err != nil {
		logger.Debug("Origin domain not registered",
			slog.String("origin", origin),
			slog.String("baseDomain", baseDomain))
		return nil, fiber.NewError(http.StatusForbidden, errInvalidOrigin)
	}

	return website, nil
}

func handleError(c *fiber.Ctx, err error) error {
	if fiberErr, ok := err.(*fiber.Error); ok {
		return c.Status(fiberErr.Code).JSON(fiber.Map{
			"error": fiberErr.Message,
		})
	}

	return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
		"error": errInvalidRequest,
	})
}

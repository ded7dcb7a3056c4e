package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "pulsekit/api/v1"
	"pulsekit/internal/config"
	"pulsekit/internal/http"
	"pulsekit/internal/http/middleware"
)

// publicCORSConfig is the CORS setup shared by the ingestion endpoints. The
// tracker posts cross-origin from customer sites, so origins stay open; the
// real gate is the registered-website check inside the handlers.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent",
}

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()

	// Rate limiting only applies in production; in development and test it
	// interferes with rapid request sequences.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 70 req/min per IP on ingestion: enough for legitimate tracker traffic,
	// tight enough to blunt abuse.
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// The tracker SDK posts server-to-server, so browser-only fetch metadata
	// checks must stay off for ingestion.
	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		WriteConcurrency:   false,
		EnableSecFetchSite: cartridge.Bool(false),
		CustomMiddleware:   []fiber.Handler{publicRateLimiter},
		CORSConfig:         publicCORSConfig,
	}

	db := srv.GetDBManager().GetConnection()
	logger := srv.GetLogger()

	adminAPIConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
		CustomMiddleware: []fiber.Handler{
			middleware.AdminAPIKeyAuth(db, logger),
		},
	}

	preflight := func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}

	// === HEALTH ===
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	// === PUBLIC INGESTION API ===
	srv.Post("/x/api/v1/events", v1.CreateEventBatchHandler, publicAPIConfig)
	srv.Options("/x/api/v1/events", preflight, publicAPIConfig)
	srv.Post("/x/api/v1/events/beacon", v1.CreateEventBeaconHandler, publicAPIConfig)
	srv.Options("/x/api/v1/events/beacon", preflight, publicAPIConfig)
	srv.Post("/x/api/v1/sessions", v1.UpsertSessionHandler, publicAPIConfig)
	srv.Options("/x/api/v1/sessions", preflight, publicAPIConfig)

	// === ADMIN REPORTING API ===
	srv.Get("/admin/api/v1/sessions", http.SessionsIndexAction, adminAPIConfig)
	srv.Get("/admin/api/v1/funnels", http.FunnelsIndexAction, adminAPIConfig)
	srv.Get("/admin/api/v1/funnels/:name/report", http.FunnelReportAction, adminAPIConfig)
	srv.Get("/admin/api/v1/heatmaps", http.HeatmapsIndexAction, adminAPIConfig)
	srv.Get("/admin/api/v1/notifications", http.NotificationsIndexAction, adminAPIConfig)
	srv.Post("/admin/api/v1/notifications/:id/read", http.NotificationMarkReadAction, adminAPIConfig)
	srv.Get("/admin/api/v1/websites", http.WebsitesIndexAction, adminAPIConfig)
	srv.Post("/admin/api/v1/websites", http.WebsitesCreateAction, adminAPIConfig)
	srv.Delete("/admin/api/v1/websites/:id", http.WebsitesDeleteAction, adminAPIConfig)
}

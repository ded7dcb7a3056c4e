package http

import (
	"strconv"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"pulsekit/internal/websites"
)

// WebsitesIndexAction lists all registered websites.
func WebsitesIndexAction(ctx *cartridge.Context) error {
	sites, err := websites.GetAllWebsites(ctx.DBManager.GetConnection())
	if err != nil {
		ctx.Logger.Error("Failed to list websites", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list websites"})
	}
	return ctx.JSON(fiber.Map{"websites": sites})
}

// WebsitesCreateAction registers a new website.
func WebsitesCreateAction(ctx *cartridge.Context) error {
	var params struct {
		Domain string `json:"domain"`
		Name   string `json:"name"`
	}
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	website := &websites.Website{Domain: params.Domain, Name: params.Name}
	if err := websites.CreateWebsite(ctx.DBManager.GetConnection(), website); err != nil {
		ctx.Logger.Error("Failed to create website",
			slog.String("domain", params.Domain),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "Failed to create website"})
	}

	return ctx.Status(fiber.StatusCreated).JSON(website)
}

// WebsitesDeleteAction removes a website by ID.
func WebsitesDeleteAction(ctx *cartridge.Context) error {
	id, err := strconv.Atoi(ctx.Ctx.Params("id"))
	if err != nil || id <= 0 {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid website id"})
	}

	if err := websites.DeleteWebsite(ctx.DBManager.GetConnection(), uint(id)); err != nil {
		if err == gorm.ErrRecordNotFound {
			return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Website not found"})
		}
		ctx.Logger.Error("Failed to delete website", slog.Int("id", id), slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete website"})
	}

	return ctx.JSON(fiber.Map{"success": true})
}

package http

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pulsekit/internal/funnels"
)

// FunnelsIndexAction lists the configured funnel definitions.
func FunnelsIndexAction(ctx *cartridge.Context) error {
	defs := funnels.Definitions()

	type stepInfo struct {
		Name  string `json:"name"`
		Order int    `json:"order"`
	}
	type funnelInfo struct {
		Name           string     `json:"name"`
		ConversionType string     `json:"conversionType"`
		Steps          []stepInfo `json:"steps"`
	}

	result := make([]funnelInfo, 0, len(defs))
	for _, def := range defs {
		steps := make([]stepInfo, 0, len(def.Steps))
		for _, step := range def.Steps {
			steps = append(steps, stepInfo{Name: step.Name, Order: step.Order})
		}
		result = append(result, funnelInfo{
			Name:           def.Name,
			ConversionType: def.ConversionType,
			Steps:          steps,
		})
	}

	return ctx.JSON(fiber.Map{"funnels": result})
}

// FunnelReportAction returns per-step progression counts for one funnel
// within a reporting window.
func FunnelReportAction(ctx *cartridge.Context) error {
	name := ctx.Ctx.Params("name")
	if _, ok := funnels.DefinitionByName(name); !ok {
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Unknown funnel"})
	}

	window, err := parseWindow(ctx)
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	report, err := funnels.BuildReport(ctx.DBManager.GetConnection(), name, window.From, window.To)
	if err != nil {
		ctx.Logger.Error("Failed to build funnel report",
			slog.String("funnel", name),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to build report"})
	}

	return ctx.JSON(report)
}

package http

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pulsekit/internal/heatmaps"
)

// HeatmapBucketView is one aggregated element cell in the heatmap response.
type HeatmapBucketView struct {
	PageURL            string                `json:"pageUrl"`
	ElementSelector    string                `json:"elementSelector"`
	Day                string                `json:"day"`
	ClickCount         int                   `json:"clickCount"`
	HoverCount         int                   `json:"hoverCount"`
	AvgHoverDurationMs float64               `json:"avgHoverDurationMs"`
	DesktopClicks      int                   `json:"desktopClicks"`
	MobileClicks       int                   `json:"mobileClicks"`
	TabletClicks       int                   `json:"tabletClicks"`
	ScrollDepth        map[string]int        `json:"scrollDepth"`
	ClickSamples       []heatmaps.ClickPoint `json:"clickSamples"`
}

// HeatmapsIndexAction returns daily interaction buckets, optionally filtered
// to one page.
func HeatmapsIndexAction(ctx *cartridge.Context) error {
	window, err := parseWindow(ctx)
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	pageURL := ctx.Query("page", "")

	buckets, err := heatmaps.FetchBuckets(ctx.DBManager.GetConnection(), pageURL, window.From, window.To)
	if err != nil {
		ctx.Logger.Error("Failed to fetch heatmap buckets", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch heatmap data"})
	}

	views := make([]HeatmapBucketView, 0, len(buckets))
	for i := range buckets {
		b := &buckets[i]
		points, err := b.ClickPoints()
		if err != nil {
			ctx.Logger.Warn("Skipping corrupt click samples",
				slog.String("page_url", b.PageURL),
				slog.Any("error", err))
			points = nil
		}
		if points == nil {
			points = []heatmaps.ClickPoint{}
		}
		views = append(views, HeatmapBucketView{
			PageURL:            b.PageURL,
			ElementSelector:    b.ElementSelector,
			Day:                b.Day.Format("2006-01-02"),
			ClickCount:         b.ClickCount,
			HoverCount:         b.HoverCount,
			AvgHoverDurationMs: b.AverageHoverDurationMs(),
			DesktopClicks:      b.DesktopClicks,
			MobileClicks:       b.MobileClicks,
			TabletClicks:       b.TabletClicks,
			ScrollDepth: map[string]int{
				"0-25":   b.ScrollQ1,
				"26-50":  b.ScrollQ2,
				"51-75":  b.ScrollQ3,
				"76-100": b.ScrollQ4,
			},
			ClickSamples: points,
		})
	}

	return ctx.JSON(fiber.Map{
		"buckets": views,
		"from":    window.From,
		"to":      window.To,
	})
}

package http

import (
	"strconv"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"pulsekit/internal/config"
	"pulsekit/internal/sessions"
	"pulsekit/internal/timeframe"
)

// SessionView is the per-session row returned by the portal API. Visitor is a
// stable human-readable alias derived from the session ID.
type SessionView struct {
	SessionID       string     `json:"sessionId"`
	Visitor         string     `json:"visitor"`
	DeviceType      string     `json:"deviceType"`
	Browser         string     `json:"browser"`
	OperatingSystem string     `json:"operatingSystem"`
	Country         string     `json:"country"`
	EntryPage       string     `json:"entryPage"`
	ExitPage        string     `json:"exitPage"`
	PageViews       int        `json:"pageViews"`
	Converted       bool       `json:"converted"`
	ConversionType  string     `json:"conversionType,omitempty"`
	Bounced         bool       `json:"bounced"`
	Closed          bool       `json:"closed"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSec     float64    `json:"durationSec"`
}

type SessionsResponse struct {
	Totals    *sessions.Totals       `json:"totals"`
	Sessions  []SessionView          `json:"sessions"`
	Devices   []sessions.MetricCount `json:"devices"`
	Browsers  []sessions.MetricCount `json:"browsers"`
	Countries []sessions.MetricCount `json:"countries"`
	From      time.Time              `json:"from"`
	To        time.Time              `json:"to"`
}

// SessionsIndexAction returns session totals, breakdowns and recent sessions
// for a reporting window.
func SessionsIndexAction(ctx *cartridge.Context) error {
	db := ctx.DBManager.GetConnection()

	window, err := parseWindow(ctx)
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	websiteID := queryWebsiteID(ctx)

	totals, err := sessions.ComputeTotals(db, websiteID, window.From, window.To)
	if err != nil {
		ctx.Logger.Error("Failed to compute session totals", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to compute totals"})
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))
	recent, err := sessions.ListRecent(db, websiteID, window.From, window.To, limit)
	if err != nil {
		ctx.Logger.Error("Failed to list sessions", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list sessions"})
	}

	devices, err := sessions.Breakdown(db, websiteID, "device", window.From, window.To)
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to compute breakdown"})
	}
	browsers, err := sessions.Breakdown(db, websiteID, "browser", window.From, window.To)
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to compute breakdown"})
	}
	countries, err := sessions.Breakdown(db, websiteID, "country", window.From, window.To)
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to compute breakdown"})
	}

	inactivity := time.Duration(config.GetConfig().SessionInactivitySeconds) * time.Second
	now := time.Now().UTC()

	views := make([]SessionView, 0, len(recent))
	for i := range recent {
		s := &recent[i]
		views = append(views, SessionView{
			SessionID:       s.SessionID,
			Visitor:         sessions.Alias(s.SessionID),
			DeviceType:      s.DeviceType,
			Browser:         s.Browser,
			OperatingSystem: s.OperatingSystem,
			Country:         s.Country,
			EntryPage:       s.EntryPage,
			ExitPage:        s.ExitPage,
			PageViews:       s.PageViews,
			Converted:       s.Converted,
			ConversionType:  s.ConversionType,
			Bounced:         s.Bounced(),
			Closed:          s.ClosedAt(now, inactivity),
			StartedAt:       s.SessionStart,
			EndedAt:         s.SessionEnd,
			DurationSec:     s.Duration().Seconds(),
		})
	}

	return ctx.JSON(SessionsResponse{
		Totals:    totals,
		Sessions:  views,
		Devices:   titleCased(devices),
		Browsers:  browsers,
		Countries: countryNames(countries),
		From:      window.From,
		To:        window.To,
	})
}

// countryNames resolves ISO alpha codes to common country names.
func countryNames(items []sessions.MetricCount) []sessions.MetricCount {
	countries := gountries.New()
	caser := cases.Upper(language.AmericanEnglish)

	result := make([]sessions.MetricCount, len(items))
	for i, item := range items {
		if item.Name == "" {
			result[i] = sessions.MetricCount{Name: "Unknown", Count: item.Count}
			continue
		}
		country, err := countries.FindCountryByAlpha(item.Name)
		if err != nil {
			result[i] = sessions.MetricCount{Name: caser.String(item.Name), Count: item.Count}
			continue
		}
		result[i] = sessions.MetricCount{Name: country.Name.Common, Count: item.Count}
	}
	return result
}

func titleCased(items []sessions.MetricCount) []sessions.MetricCount {
	caser := cases.Title(language.AmericanEnglish)

	result := make([]sessions.MetricCount, len(items))
	for i, item := range items {
		name := item.Name
		if name == "" {
			name = "Unknown"
		}
		result[i] = sessions.MetricCount{Name: caser.String(name), Count: item.Count}
	}
	return result
}

func parseWindow(ctx *cartridge.Context) (*timeframe.Window, error) {
	parser := timeframe.NewParser()
	return parser.ParseWindow(timeframe.ParserParams{
		FromDate: ctx.Query("from", ""),
		ToDate:   ctx.Query("to", ""),
		Tz:       ctx.Query("tz", "UTC"),
	})
}

func queryWebsiteID(ctx *cartridge.Context) uint {
	id, err := strconv.Atoi(ctx.Query("website_id", "0"))
	if err != nil || id < 0 {
		return 0
	}
	return uint(id)
}

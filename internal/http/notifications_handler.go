package http

import (
	"strconv"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pulsekit/internal/notifications"
	"pulsekit/internal/users"
)

// requestUser resolves the acting user from the user_id query parameter or
// X-User-ID header.
func requestUser(ctx *cartridge.Context) (*users.User, error) {
	raw := ctx.Query("user_id", "")
	if raw == "" {
		raw = ctx.Get("X-User-ID")
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "user_id is required")
	}
	return users.FindByID(ctx.DBManager.GetConnection(), uint(id))
}

// NotificationsIndexAction lists the user's notifications, direct plus
// broadcast, with per-user read state.
func NotificationsIndexAction(ctx *cartridge.Context) error {
	user, err := requestUser(ctx)
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return ctx.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
		}
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	}

	views, err := notifications.ListForUser(ctx.DBManager.GetConnection(), user.ID)
	if err != nil {
		ctx.Logger.Error("Failed to list notifications",
			slog.Uint64("user_id", uint64(user.ID)),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list notifications"})
	}

	unread := 0
	for _, v := range views {
		if !v.IsRead {
			unread++
		}
	}

	return ctx.JSON(fiber.Map{
		"notifications": views,
		"unread":        unread,
	})
}

// NotificationMarkReadAction marks one notification read for the acting user.
// Marking an already-read notification is a no-op.
func NotificationMarkReadAction(ctx *cartridge.Context) error {
	user, err := requestUser(ctx)
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return ctx.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
		}
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	}

	id, err := strconv.Atoi(ctx.Ctx.Params("id"))
	if err != nil || id <= 0 {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid notification id"})
	}

	if err := notifications.MarkRead(ctx.DBManager, ctx.Logger, uint(id), user.ID); err != nil {
		ctx.Logger.Warn("Failed to mark notification read",
			slog.Int("notification_id", id),
			slog.Uint64("user_id", uint64(user.ID)),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Notification not found"})
	}

	return ctx.JSON(fiber.Map{"success": true})
}

package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gestpay/gestpay/internal/dashboard"
	"github.com/gestpay/gestpay/internal/notification"
)

// RegisterNotificationRoutes wires the caller's notification inbox.
func RegisterNotificationRoutes(r fiber.Router, h *notification.Handler) {
	group := r.Group("/notifications")
	group.Get("", h.List)
	group.Post("/read-all", h.MarkAllRead)
	group.Post("/:id/read", h.MarkRead)
}

// RegisterDashboardRoutes wires the monthly summary.
func RegisterDashboardRoutes(r fiber.Router, h *dashboard.Handler) {
	r.Get("/dashboard", h.Get)
}

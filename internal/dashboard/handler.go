package dashboard

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the dashboard endpoint.
type Handler struct {
	service *Service
}

// NewHandler constructs a dashboard handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Get returns the authenticated user's summary.
func (h *Handler) Get(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing user context")
	}
	summary, err := h.service.Summary(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Successful",
		"data": fiber.Map{
			"email":                   summary.Email,
			"this_month_balance":      summary.ThisMonthBalance.StringFixed(2),
			"this_month_percentage":   summary.ThisMonthPercentage,
			"transactions_no":         summary.TransactionsNo,
			"transactions_percentage": summary.TransactionsPercentage,
		},
	})
}

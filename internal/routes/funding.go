package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gestpay/gestpay/internal/funding"
)

// RegisterFundingRoutes wires card funding of the caller's wallet.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler, idem fiber.Handler) {
	r.Post("/wallet/fund/card", idem, h.CardIn)
}

package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/gestpay/gestpay/internal/identity"
	"github.com/gestpay/gestpay/internal/wallet"
)

// RegisterWalletRoutes wires wallet endpoints. GET /wallet combines the caller's
// profile with their wallet and balance.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, wallets *wallet.Service, users identity.Repository) {
	r.Get("/wallets/:walletId/balance", h.Balance)
	r.Get("/wallet", func(c *fiber.Ctx) error {
		uid, _ := c.Locals("user_id").(string)
		if uid == "" {
			return fiber.NewError(http.StatusUnauthorized, "unauthorized")
		}
		user, err := users.FindByID(c.UserContext(), uid)
		if err != nil {
			return fiber.NewError(http.StatusNotFound, "user not found")
		}
		w, err := wallets.GetByOwner(c.UserContext(), uid)
		if err != nil {
			return fiber.NewError(http.StatusNotFound, "wallet not found")
		}
		bal, err := wallets.Balance(c.UserContext(), w.ID)
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"user": identity.Profile(user),
			"wallet": fiber.Map{
				"id":         w.ID,
				"currency":   w.Currency,
				"status":     w.Status,
				"created_at": w.CreatedAt,
				"balance":    bal.Amount.StringFixed(2),
				"as_of":      bal.AsOf,
			},
		})
	})
}

package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Balance returns the balance of a wallet owned by the caller.
func (h *Handler) Balance(c *fiber.Ctx) error {
	walletID := c.Params("walletId")
	uid, _ := c.Locals("user_id").(string)

	w, err := h.service.Get(c.UserContext(), walletID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	if w.OwnerID != uid {
		return fiber.NewError(http.StatusForbidden, "not owner of wallet")
	}

	balance, err := h.service.Balance(c.UserContext(), walletID)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id": walletID,
		"balance":   balance.Amount.StringFixed(2),
		"currency":  balance.Currency,
		"timestamp": balance.AsOf,
	})
}

package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gestpay/gestpay/internal/payments"
)

// RegisterBiometricRoutes wires the face-pay endpoints used by merchant
// devices. Approval requires the payer's token.
func RegisterBiometricRoutes(r fiber.Router, h *payments.Handler, idem fiber.Handler) {
	group := r.Group("/biometric")
	group.Post("/face-pay", idem, h.FacePay)
	group.Post("/verify-payment", h.VerifyPayment)
}

// RegisterPaymentRoutes wires authenticated payment endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, idem fiber.Handler) {
	r.Post("/biometric/approve-payment", h.ApprovePayment)
	r.Post("/transfers", idem, h.Transfer)
	r.Get("/transactions", h.Transactions)
}

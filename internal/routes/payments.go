package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/settlement/internal/payments"
)

// RegisterPaymentRoutes wires payment endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, idempotent fiber.Handler) {
	r.Post("/transfers", idempotent, h.Transfer)
}

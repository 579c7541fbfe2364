package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/settlement/internal/orders"
	"github.com/congo-pay/settlement/internal/rides"
)

// RegisterRideRoutes wires ride fare settlement.
func RegisterRideRoutes(r fiber.Router, h *rides.Handler) {
	r.Post("/rides/:rideId/settle", h.Settle)
}

// RegisterOrderRoutes wires marketplace order settlement.
func RegisterOrderRoutes(r fiber.Router, h *orders.Handler, idempotent fiber.Handler) {
	r.Post("/orders", idempotent, h.Settle)
}

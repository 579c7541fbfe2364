package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/settlement/internal/funding"
)

// RegisterFundingRoutes wires authenticated top-up endpoints.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler) {
	r.Post("/topups", h.CreateTopUp)
	r.Post("/topups/:orderId/capture", h.CaptureTopUp)
}

// RegisterGuestRoutes wires the unauthenticated guest top-up endpoints.
func RegisterGuestRoutes(r fiber.Router, h *funding.Handler, limiter fiber.Handler) {
	guest := r.Group("/guest/paypal", limiter)
	guest.Post("/create", h.GuestCreate)
	guest.Post("/capture", h.GuestCapture)
}

// RegisterWebhookRoutes wires gateway webhook delivery.
func RegisterWebhookRoutes(r fiber.Router, h *funding.Handler) {
	r.Post("/paypal/webhook", h.Webhook)
}

package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/settlement/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/wallet/balance", h.Balance)
	r.Get("/wallet/transactions", h.Transactions)
}

package wallet

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/settlement/internal/apperr"
	"github.com/congo-pay/settlement/internal/ledger"
	"github.com/congo-pay/settlement/internal/middleware"
	"github.com/congo-pay/settlement/internal/money"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transactionResponse struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Direction      string    `json:"direction"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	BalanceAfter   string    `json:"balanceAfter"`
	CounterpartyID string    `json:"counterpartyId,omitempty"`
	ReferenceID    string    `json:"referenceId,omitempty"`
	OrderID        string    `json:"orderId,omitempty"`
	CaptureID      string    `json:"captureId,omitempty"`
	Note           string    `json:"note,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Balance returns the caller's balance, creating the wallet on first read.
func (h *Handler) Balance(c *fiber.Ctx) error {
	uid, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	balance, err := h.service.Balance(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"ok":        true,
		"balance":   money.Format(balance.Amount, balance.Currency),
		"currency":  balance.Currency,
		"updatedAt": balance.AsOf,
	})
}

// Transactions lists the caller's ledger entries.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	uid, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	limit := ledger.DefaultPageSize
	if raw := c.Query("limit"); raw != "" {
		limit = c.QueryInt("limit", -1)
		if limit == -1 {
			return apperr.New(apperr.InvalidArgument, "limit must be an integer")
		}
	}

	page, err := h.service.Transactions(c.UserContext(), uid, c.Query("cursor"), limit)
	if err != nil {
		return err
	}

	items := make([]transactionResponse, 0, len(page.Items))
	for _, tx := range page.Items {
		items = append(items, transactionResponse{
			ID:             tx.ID,
			Kind:           tx.Kind,
			Direction:      tx.Direction,
			Amount:         money.Format(tx.Amount, tx.Currency),
			Currency:       tx.Currency,
			BalanceAfter:   money.Format(tx.BalanceAfter, tx.Currency),
			CounterpartyID: tx.CounterpartyID,
			ReferenceID:    tx.ReferenceID,
			OrderID:        tx.OrderID,
			CaptureID:      tx.CaptureID,
			Note:           tx.Note,
			Status:         tx.Status,
			CreatedAt:      tx.CreatedAt,
		})
	}
	var next any
	if page.NextCursor != "" {
		next = page.NextCursor
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"ok":         true,
		"items":      items,
		"nextCursor": next,
	})
}

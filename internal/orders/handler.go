package orders

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/settlement/internal/middleware"
	"github.com/congo-pay/settlement/internal/money"
	"github.com/congo-pay/settlement/internal/validate"
)

// Handler exposes the marketplace order endpoint.
type Handler struct {
	service *Service
}

// NewHandler constructs an order handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type itemRequest struct {
	ProductID string          `json:"productId" validate:"required"`
	Name      string          `json:"name" validate:"max=200"`
	Quantity  int             `json:"quantity" validate:"min=1,max=10000"`
	Price     decimal.Decimal `json:"price"`
}

type settleRequest struct {
	BusinessID string          `json:"businessId" validate:"required"`
	Items      []itemRequest   `json:"items" validate:"required,min=1,max=100,dive"`
	Address    string          `json:"address" validate:"required,max=500"`
	Total      decimal.Decimal `json:"total"`
}

// Settle pays for a marketplace order from the caller's wallet.
func (h *Handler) Settle(c *fiber.Ctx) error {
	uid, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	var req settleRequest
	if err := validate.Body(c, &req); err != nil {
		return err
	}

	items := make([]Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, Item{ProductID: it.ProductID, Name: it.Name, Quantity: it.Quantity, Price: it.Price})
	}
	order, err := h.service.Settle(c.UserContext(), SettleInput{
		BuyerID:    uid,
		BusinessID: req.BusinessID,
		Items:      items,
		Address:    req.Address,
		Total:      req.Total,
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"ok":       true,
		"orderId":  order.ID,
		"status":   order.Status,
		"total":    money.Format(money.FromMinor(order.Total, order.Currency), order.Currency),
		"currency": order.Currency,
	})
}

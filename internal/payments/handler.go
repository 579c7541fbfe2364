package payments

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/settlement/internal/middleware"
	"github.com/congo-pay/settlement/internal/money"
	"github.com/congo-pay/settlement/internal/validate"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	ToUID  string          `json:"toUid" validate:"required,max=128"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note" validate:"max=140"`
}

// Transfer processes a wallet-to-wallet transfer from the caller.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	uid, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := validate.Body(c, &req); err != nil {
		return err
	}

	res, err := h.service.Transfer(c.UserContext(), TransferInput{
		SenderID:    uid,
		RecipientID: req.ToUID,
		Amount:      req.Amount,
		Note:        req.Note,
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"ok":            true,
		"status":        res.Status,
		"transferId":    res.TransferID,
		"amount":        money.Format(res.Amount, res.Currency),
		"currency":      res.Currency,
		"senderBalance": money.Format(res.SenderBalance, res.Currency),
		"completedAt":   res.CompletedAt,
	})
}

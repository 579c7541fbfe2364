package funding

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/settlement/internal/middleware"
	"github.com/congo-pay/settlement/internal/paypal"
	"github.com/congo-pay/settlement/internal/validate"
)

// Handler exposes HTTP endpoints for top-ups and gateway webhooks.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CreateTopUp opens a gateway order crediting the caller.
func (h *Handler) CreateTopUp(c *fiber.Ctx) error {
	callerID, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	var req CreateTopUpRequest
	if err := validate.Body(c, &req); err != nil {
		return err
	}

	order, err := h.service.CreateTopUp(c.UserContext(), callerID, TopUpInput{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Intent:      req.Intent,
		Description: req.Description,
		ReturnURL:   req.ReturnURL,
		CancelURL:   req.CancelURL,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toOrderResponse(order))
}

// CaptureTopUp captures the caller's order and credits the wallet.
func (h *Handler) CaptureTopUp(c *fiber.Ctx) error {
	callerID, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	result, err := h.service.CaptureTopUp(c.UserContext(), callerID, c.Params("orderId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toCaptureResponse(result))
}

// GuestCreate opens a gateway order crediting recipientUid.
func (h *Handler) GuestCreate(c *fiber.Ctx) error {
	var req GuestCreateRequest
	if err := validate.Body(c, &req); err != nil {
		return err
	}

	order, err := h.service.CreateGuestTopUp(c.UserContext(), req.RecipientUID, TopUpInput{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		ReturnURL:   req.ReturnURL,
		CancelURL:   req.CancelURL,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toOrderResponse(order))
}

// GuestCapture captures a guest order for the recipient recorded on it.
func (h *Handler) GuestCapture(c *fiber.Ctx) error {
	var req GuestCaptureRequest
	if err := validate.Body(c, &req); err != nil {
		return err
	}

	result, err := h.service.CaptureGuestTopUp(c.UserContext(), req.OrderID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toCaptureResponse(result))
}

// Webhook verifies and applies a gateway event.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	headers := paypal.WebhookHeaders{
		AuthAlgo:         c.Get("Paypal-Auth-Algo"),
		CertURL:          c.Get("Paypal-Cert-Url"),
		TransmissionID:   c.Get("Paypal-Transmission-Id"),
		TransmissionSig:  c.Get("Paypal-Transmission-Sig"),
		TransmissionTime: c.Get("Paypal-Transmission-Time"),
	}
	body := append([]byte(nil), c.Body()...)

	result, err := h.service.HandleWebhook(c.UserContext(), headers, body)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"ok":        true,
		"eventId":   result.EventID,
		"handled":   result.Handled,
		"duplicate": result.Duplicate,
	})
}

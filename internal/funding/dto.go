package funding

import (
	"github.com/shopspring/decimal"

	"github.com/congo-pay/settlement/internal/money"
	"github.com/congo-pay/settlement/internal/paypal"
)

// CreateTopUpRequest opens a top-up order for the authenticated caller.
type CreateTopUpRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" validate:"required,iso4217"`
	Intent      string          `json:"intent" validate:"omitempty,oneof=CAPTURE capture"`
	Description string          `json:"description" validate:"max=127"`
	ReturnURL   string          `json:"returnUrl" validate:"omitempty,url"`
	CancelURL   string          `json:"cancelUrl" validate:"omitempty,url"`
}

// GuestCreateRequest opens a top-up order paid by a guest for recipientUid.
type GuestCreateRequest struct {
	RecipientUID string          `json:"recipientUid" validate:"required,max=128"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency" validate:"required,iso4217"`
	Description  string          `json:"description" validate:"max=127"`
	ReturnURL    string          `json:"returnUrl" validate:"required,url"`
	CancelURL    string          `json:"cancelUrl" validate:"required,url"`
}

// GuestCaptureRequest captures a guest order.
type GuestCaptureRequest struct {
	OrderID string `json:"orderId" validate:"required"`
}

// OrderResponse is returned after a gateway order is created.
type OrderResponse struct {
	OK               bool          `json:"ok"`
	OrderID          string        `json:"orderId"`
	Status           string        `json:"status"`
	ApproveLinks     []paypal.Link `json:"approveLinks"`
	OrderCurrency    string        `json:"orderCurrency"`
	OrderAmount      string        `json:"orderAmount"`
	OriginalCurrency string        `json:"originalCurrency"`
	OriginalAmount   string        `json:"originalAmount"`
}

// CaptureResponse is returned after a capture is credited.
type CaptureResponse struct {
	OK        bool   `json:"ok"`
	Status    string `json:"status"`
	OrderID   string `json:"orderId"`
	CaptureID string `json:"captureId"`
	Credited  string `json:"credited"`
	Currency  string `json:"currency"`
	Replayed  bool   `json:"replayed,omitempty"`
}

func toOrderResponse(o TopUpOrder) OrderResponse {
	links := o.ApproveLinks
	if links == nil {
		links = []paypal.Link{}
	}
	return OrderResponse{
		OK:               true,
		OrderID:          o.OrderID,
		Status:           o.Status,
		ApproveLinks:     links,
		OrderCurrency:    o.OrderCurrency,
		OrderAmount:      money.Format(o.OrderAmount, o.OrderCurrency),
		OriginalCurrency: o.OriginalCurrency,
		OriginalAmount:   money.Format(o.OriginalAmount, o.OriginalCurrency),
	}
}

func toCaptureResponse(r CaptureResult) CaptureResponse {
	return CaptureResponse{
		OK:        true,
		Status:    r.Status,
		OrderID:   r.OrderID,
		CaptureID: r.CaptureID,
		Credited:  money.Format(r.Credited, r.Currency),
		Currency:  r.Currency,
		Replayed:  r.Replayed,
	}
}

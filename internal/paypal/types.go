package paypal

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderState is the lifecycle of a gateway order as seen by settlement.
type OrderState string

const (
	StateCreated  OrderState = "CREATED"
	StateCaptured OrderState = "CAPTURED"
	StateFailed   OrderState = "FAILED"
)

const (
	IntentCapture = "CAPTURE"

	StatusCompleted = "COMPLETED"

	EventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
)

// CreateOrderInput describes an order to open on the gateway.
type CreateOrderInput struct {
	Amount        decimal.Decimal
	Currency      string
	Intent        string
	Description   string
	ReturnURL     string
	CancelURL     string
	CorrelationID string
}

// Link is a HATEOAS link returned by the gateway.
type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

// Order is a gateway order. Amount and Currency are what the payer is
// charged; Original* is what the caller asked for before any conversion.
type Order struct {
	ID               string
	Status           string
	Currency         string
	Amount           decimal.Decimal
	OriginalCurrency string
	OriginalAmount   decimal.Decimal
	CorrelationID    string
	ApproveLinks     []Link
	Capture          *Capture
}

// State maps the gateway status onto CREATED, CAPTURED or FAILED.
func (o Order) State() OrderState {
	switch strings.ToUpper(o.Status) {
	case StatusCompleted:
		return StateCaptured
	case "VOIDED":
		return StateFailed
	default:
		return StateCreated
	}
}

// Capture is the result of capturing an approved order.
type Capture struct {
	OrderID       string
	CaptureID     string
	Status        string
	GrossAmount   decimal.Decimal
	GrossCurrency string
	CorrelationID string
}

// Completed reports whether funds were actually captured.
func (c Capture) Completed() bool {
	return strings.EqualFold(c.Status, StatusCompleted)
}

// WebhookHeaders are the transmission headers that accompany a webhook.
type WebhookHeaders struct {
	AuthAlgo         string
	CertURL          string
	TransmissionID   string
	TransmissionSig  string
	TransmissionTime string
}

func (h WebhookHeaders) complete() bool {
	return h.AuthAlgo != "" && h.CertURL != "" && h.TransmissionID != "" &&
		h.TransmissionSig != "" && h.TransmissionTime != ""
}

// Event is a decoded webhook event.
type Event struct {
	ID        string
	EventType string
	Capture   *Capture
}

type amountValue struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	ReferenceID string       `json:"reference_id,omitempty"`
	CustomID    string       `json:"custom_id,omitempty"`
	Description string       `json:"description,omitempty"`
	Amount      *amountValue `json:"amount,omitempty"`
	Payments    *struct {
		Captures []captureResource `json:"captures"`
	} `json:"payments,omitempty"`
}

type captureResource struct {
	ID                        string       `json:"id"`
	Status                    string       `json:"status"`
	CustomID                  string       `json:"custom_id"`
	Amount                    *amountValue `json:"amount"`
	SellerReceivableBreakdown *struct {
		GrossAmount *amountValue `json:"gross_amount"`
	} `json:"seller_receivable_breakdown"`
	SupplementaryData *struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

type applicationContext struct {
	ReturnURL          string `json:"return_url,omitempty"`
	CancelURL          string `json:"cancel_url,omitempty"`
	UserAction         string `json:"user_action,omitempty"`
	ShippingPreference string `json:"shipping_preference,omitempty"`
}

type orderRequest struct {
	Intent             string              `json:"intent"`
	PurchaseUnits      []purchaseUnit      `json:"purchase_units"`
	ApplicationContext *applicationContext `json:"application_context,omitempty"`
}

type orderResponse struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
	Links         []Link         `json:"links"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type errorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

type eventEnvelope struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

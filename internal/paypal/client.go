// Package paypal is a client for a PayPal-style payment gateway: OAuth
// client-credentials, checkout orders, captures and webhook verification.
package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/settlement/internal/apperr"
	"github.com/congo-pay/settlement/internal/config"
	"github.com/congo-pay/settlement/internal/currency"
	"github.com/congo-pay/settlement/internal/metrics"
	"github.com/congo-pay/settlement/internal/money"
)

const (
	tokenRefreshMargin = 60 * time.Second

	issueAlreadyCaptured = "ORDER_ALREADY_CAPTURED"
)

var baseURLs = map[string]string{
	config.PayPalEnvSandbox: "https://api-m.sandbox.paypal.com",
	config.PayPalEnvLive:    "https://api-m.paypal.com",
}

// zeroDecimal lists currencies the gateway only accepts as whole units.
var zeroDecimal = map[string]struct{}{"HUF": {}, "JPY": {}, "TWD": {}}

var (
	errCredentialsMissing = apperr.New(apperr.Internal, "payment gateway credentials are not configured")
	errWebhookIDMissing   = apperr.New(apperr.Internal, "payment gateway webhook id is not configured")
	errInvalidEnv         = fmt.Errorf("paypal environment must be %q or %q", config.PayPalEnvSandbox, config.PayPalEnvLive)

	// ErrConversionDegraded is returned when an unsupported currency could not
	// be converted to the fallback currency.
	ErrConversionDegraded = apperr.New(apperr.Internal, "currency conversion unavailable for gateway order")
)

// GatewayError describes a non-2xx response from the gateway.
type GatewayError struct {
	Op         string
	StatusCode int
	Name       string
	Issue      string
	Message    string
	DebugID    string
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "paypal %s: status %d", e.Op, e.StatusCode)
	if e.Name != "" {
		fmt.Fprintf(&b, " %s", e.Name)
	}
	if e.Issue != "" {
		fmt.Fprintf(&b, " (%s)", e.Issue)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.DebugID != "" {
		fmt.Fprintf(&b, " debug_id=%s", e.DebugID)
	}
	return b.String()
}

// IsAlreadyCaptured reports whether err is the gateway refusing to capture an
// order a second time.
func IsAlreadyCaptured(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Issue == issueAlreadyCaptured
}

// Converter converts amounts for currencies the gateway does not accept.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (currency.Conversion, error)
}

// Client talks to the gateway REST API.
type Client struct {
	http         *resty.Client
	env          string
	clientID     string
	clientSecret string
	webhookID    string
	supported    map[string]struct{}
	fallback     string
	fx           Converter
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// Option customises a Client.
type Option func(*Client)

// WithBaseURL overrides the environment's API host.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.http.SetBaseURL(strings.TrimRight(url, "/")) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient builds a gateway client for the configured environment.
func NewClient(cfg config.PayPalConfig, fx Converter, opts ...Option) (*Client, error) {
	env, err := normalizeEnv(cfg.Env)
	if err != nil {
		return nil, err
	}

	supported := make(map[string]struct{}, len(cfg.SupportedCurrencies))
	for _, code := range cfg.SupportedCurrencies {
		supported[money.Code(code)] = struct{}{}
	}
	fallback := money.Code(cfg.FallbackCurrency)
	if fallback == "" {
		fallback = "USD"
	}

	httpClient := resty.New().SetBaseURL(baseURLs[env])
	if cfg.Timeout > 0 {
		httpClient.SetTimeout(cfg.Timeout)
	}

	c := &Client{
		http:         httpClient,
		env:          env,
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: strings.TrimSpace(cfg.ClientSecret),
		webhookID:    strings.TrimSpace(cfg.WebhookID),
		supported:    supported,
		fallback:     fallback,
		fx:           fx,
		logger:       zerolog.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Environment reports the normalized gateway environment.
func (c *Client) Environment() string {
	return c.env
}

// Supports reports whether the gateway accepts orders in code.
func (c *Client) Supports(code string) bool {
	_, ok := c.supported[money.Code(code)]
	return ok
}

// Authenticate returns a bearer token, reusing a cached one until shortly
// before it expires.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return "", errCredentialsMissing
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.clientID, c.clientSecret).
		SetHeader("Accept", "application/json").
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		Post("/v1/oauth2/token")
	if err := c.check("authenticate", resp, err, start); err != nil {
		return "", err
	}

	var tok tokenResponse
	if err := json.Unmarshal(resp.Body(), &tok); err != nil || tok.AccessToken == "" {
		return "", apperr.Wrap(apperr.Internal, err, "paypal authenticate returned no token")
	}

	c.token = tok.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenRefreshMargin)
	return c.token, nil
}

// CreateOrder opens a checkout order. When the requested currency is not
// accepted by the gateway the amount is converted to the fallback currency.
func (c *Client) CreateOrder(ctx context.Context, in CreateOrderInput) (Order, error) {
	reqCurrency := money.Code(in.Currency)
	orderCurrency, orderAmount := reqCurrency, in.Amount

	if !c.Supports(reqCurrency) {
		if c.fx == nil {
			return Order{}, ErrConversionDegraded
		}
		conv, err := c.fx.Convert(ctx, in.Amount, reqCurrency, c.fallback)
		if err != nil {
			return Order{}, err
		}
		if conv.Degraded {
			return Order{}, ErrConversionDegraded
		}
		orderCurrency, orderAmount = c.fallback, conv.Amount
	}
	orderAmount = orderAmount.Round(exponent(orderCurrency))
	if !orderAmount.IsPositive() {
		return Order{}, apperr.New(apperr.InvalidArgument, "amount is too small to charge")
	}

	token, err := c.Authenticate(ctx)
	if err != nil {
		return Order{}, err
	}

	intent := strings.ToUpper(strings.TrimSpace(in.Intent))
	if intent == "" {
		intent = IntentCapture
	}
	body := orderRequest{
		Intent: intent,
		PurchaseUnits: []purchaseUnit{{
			CustomID:    in.CorrelationID,
			Description: in.Description,
			Amount:      &amountValue{CurrencyCode: orderCurrency, Value: formatAmount(orderAmount, orderCurrency)},
		}},
	}
	if in.ReturnURL != "" || in.CancelURL != "" {
		body.ApplicationContext = &applicationContext{
			ReturnURL:          in.ReturnURL,
			CancelURL:          in.CancelURL,
			UserAction:         "PAY_NOW",
			ShippingPreference: "NO_SHIPPING",
		}
	}

	c.log("request", "create_order", map[string]any{
		"currency":       orderCurrency,
		"amount":         orderAmount.String(),
		"correlation_id": in.CorrelationID,
	})

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Prefer", "return=representation").
		SetBody(body).
		Post("/v2/checkout/orders")
	if err := c.check("create_order", resp, err, start); err != nil {
		return Order{}, err
	}

	order, err := decodeOrder(resp.Body())
	if err != nil {
		return Order{}, err
	}
	order.Currency, order.Amount = orderCurrency, orderAmount
	order.OriginalCurrency, order.OriginalAmount = reqCurrency, in.Amount
	order.CorrelationID = in.CorrelationID

	c.log("response", "create_order", map[string]any{"order_id": order.ID, "status": order.Status})
	return order, nil
}

// GetOrder fetches an order, including its completed capture if any.
func (c *Client) GetOrder(ctx context.Context, orderID string) (Order, error) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return Order{}, err
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetPathParam("id", orderID).
		Get("/v2/checkout/orders/{id}")
	if err := c.check("get_order", resp, err, start); err != nil {
		return Order{}, err
	}
	return decodeOrder(resp.Body())
}

// CaptureOrder captures an approved order. Repeated calls for the same order
// carry the same request id so the gateway can replay its first answer.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (Capture, error) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return Capture{}, err
	}

	c.log("request", "capture_order", map[string]any{"order_id": orderID})

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Prefer", "return=representation").
		SetHeader("PayPal-Request-Id", "capture-"+orderID).
		SetPathParam("id", orderID).
		SetBody(map[string]any{}).
		Post("/v2/checkout/orders/{id}/capture")
	if err := c.check("capture_order", resp, err, start); err != nil {
		return Capture{}, err
	}

	order, err := decodeOrder(resp.Body())
	if err != nil {
		return Capture{}, err
	}
	if order.Capture == nil {
		return Capture{OrderID: order.ID, Status: order.Status, CorrelationID: order.CorrelationID}, nil
	}

	capture := *order.Capture
	c.log("response", "capture_order", map[string]any{
		"order_id":   capture.OrderID,
		"capture_id": capture.CaptureID,
		"status":     capture.Status,
	})
	return capture, nil
}

// VerifyWebhookSignature asks the gateway whether body was signed for the
// configured webhook. Incomplete transmission headers are never valid.
func (c *Client) VerifyWebhookSignature(ctx context.Context, headers WebhookHeaders, body []byte) (bool, error) {
	if c.webhookID == "" {
		return false, errWebhookIDMissing
	}
	if !headers.complete() || !json.Valid(body) {
		return false, nil
	}

	token, err := c.Authenticate(ctx)
	if err != nil {
		return false, err
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(verifyRequest{
			AuthAlgo:         headers.AuthAlgo,
			CertURL:          headers.CertURL,
			TransmissionID:   headers.TransmissionID,
			TransmissionSig:  headers.TransmissionSig,
			TransmissionTime: headers.TransmissionTime,
			WebhookID:        c.webhookID,
			WebhookEvent:     json.RawMessage(body),
		}).
		Post("/v1/notifications/verify-webhook-signature")
	if err := c.check("verify_webhook", resp, err, start); err != nil {
		return false, err
	}

	var out verifyResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return false, apperr.Wrap(apperr.Internal, err, "paypal verify_webhook returned malformed body")
	}
	return strings.EqualFold(out.VerificationStatus, "SUCCESS"), nil
}

// ParseEvent decodes a webhook body. Capture is set for capture events.
func ParseEvent(body []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, apperr.Wrap(apperr.InvalidArgument, err, "malformed webhook event")
	}
	evt := Event{ID: env.ID, EventType: env.EventType}
	if !strings.HasPrefix(env.EventType, "PAYMENT.CAPTURE.") || len(env.Resource) == 0 {
		return evt, nil
	}

	var res captureResource
	if err := json.Unmarshal(env.Resource, &res); err != nil {
		return Event{}, apperr.Wrap(apperr.InvalidArgument, err, "malformed capture resource")
	}
	capture, err := toCapture(res, "", "")
	if err != nil {
		return Event{}, err
	}
	evt.Capture = &capture
	return evt, nil
}

func (c *Client) check(op string, resp *resty.Response, err error, start time.Time) error {
	took := time.Since(start)
	if err != nil {
		c.metrics.GatewayCall(op, metrics.OutcomeFailure, took)
		c.log("error", op, map[string]any{"error": err.Error()})
		return apperr.Wrap(apperr.Internal, err, fmt.Sprintf("paypal %s failed", op))
	}
	if !resp.IsError() {
		c.metrics.GatewayCall(op, metrics.OutcomeSuccess, took)
		return nil
	}

	c.metrics.GatewayCall(op, metrics.OutcomeFailure, took)
	gwErr := &GatewayError{Op: op, StatusCode: resp.StatusCode()}
	var body errorResponse
	if json.Unmarshal(resp.Body(), &body) == nil {
		gwErr.Name = body.Name
		gwErr.Message = body.Message
		gwErr.DebugID = body.DebugID
		if len(body.Details) > 0 {
			gwErr.Issue = body.Details[0].Issue
		}
		if gwErr.Name == "" {
			gwErr.Name = body.Error
			gwErr.Message = body.ErrorDescription
		}
	}
	if resp.StatusCode() == http.StatusUnauthorized && op != "authenticate" {
		c.invalidateToken()
	}
	c.log("error", op, map[string]any{"status": gwErr.StatusCode, "issue": gwErr.Issue, "debug_id": gwErr.DebugID})
	return apperr.Wrap(apperr.Internal, gwErr, fmt.Sprintf("paypal %s failed", op))
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

func (c *Client) log(phase, op string, fields map[string]any) {
	evt := c.logger.Info()
	if phase == "error" {
		evt = c.logger.Error()
	}
	evt = evt.Str("operation", op).Str("phase", phase).Str("env", c.env)
	for k, v := range fields {
		evt = evt.Interface(k, redact(k, v))
	}
	evt.Msg("paypal " + phase)
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"token", "secret", "email", "payer", "sig"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func decodeOrder(raw []byte) (Order, error) {
	var resp orderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Order{}, apperr.Wrap(apperr.Internal, err, "paypal returned a malformed order")
	}

	order := Order{ID: resp.ID, Status: resp.Status}
	for _, l := range resp.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			order.ApproveLinks = append(order.ApproveLinks, l)
		}
	}
	if len(resp.PurchaseUnits) == 0 {
		return order, nil
	}

	unit := resp.PurchaseUnits[0]
	order.CorrelationID = unit.CustomID
	if unit.Amount != nil {
		order.Currency = unit.Amount.CurrencyCode
		order.Amount, _ = decimal.NewFromString(unit.Amount.Value)
	}
	if unit.Payments != nil {
		for _, res := range unit.Payments.Captures {
			capture, err := toCapture(res, resp.ID, unit.CustomID)
			if err != nil {
				return Order{}, err
			}
			order.Capture = &capture
			if capture.Completed() {
				break
			}
		}
	}
	return order, nil
}

func toCapture(res captureResource, orderID, correlationID string) (Capture, error) {
	capture := Capture{
		OrderID:       orderID,
		CaptureID:     res.ID,
		Status:        res.Status,
		CorrelationID: res.CustomID,
	}
	if capture.CorrelationID == "" {
		capture.CorrelationID = correlationID
	}
	if capture.OrderID == "" && res.SupplementaryData != nil {
		capture.OrderID = res.SupplementaryData.RelatedIDs.OrderID
	}

	gross := res.Amount
	if res.SellerReceivableBreakdown != nil && res.SellerReceivableBreakdown.GrossAmount != nil {
		gross = res.SellerReceivableBreakdown.GrossAmount
	}
	if gross != nil {
		amount, err := decimal.NewFromString(gross.Value)
		if err != nil {
			return Capture{}, apperr.Wrap(apperr.Internal, err, "paypal returned a malformed capture amount")
		}
		capture.GrossAmount = amount
		capture.GrossCurrency = money.Code(gross.CurrencyCode)
	}
	return capture, nil
}

func exponent(code string) int32 {
	if _, ok := zeroDecimal[money.Code(code)]; ok {
		return 0
	}
	return money.Exponent(code)
}

func formatAmount(amount decimal.Decimal, code string) string {
	return amount.StringFixed(exponent(code))
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = config.PayPalEnvSandbox
	}
	if _, ok := baseURLs[env]; !ok {
		return "", errInvalidEnv
	}
	return env, nil
}

package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

var errMissingAPIKey = errors.New("api key not configured")

// Provider returns the rate that converts one unit of from into to.
type Provider interface {
	Name() string
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

func newRestClient(baseURL string, timeout time.Duration) *resty.Client {
	c := resty.New().SetBaseURL(baseURL).SetHeader("Accept", "application/json")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return c
}

func decode(resp *resty.Response, out any) error {
	if resp.IsError() {
		return fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func positive(rate decimal.Decimal, ok bool) (decimal.Decimal, error) {
	if !ok || !rate.IsPositive() {
		return decimal.Zero, errors.New("rate missing from response")
	}
	return rate, nil
}

// PairProvider queries a keyed pair-conversion endpoint (ExchangeRate-API v6).
type PairProvider struct {
	client *resty.Client
	apiKey string
}

func NewPairProvider(baseURL, apiKey string, timeout time.Duration) *PairProvider {
	return &PairProvider{client: newRestClient(baseURL, timeout), apiKey: apiKey}
}

func (p *PairProvider) Name() string { return "primary" }

func (p *PairProvider) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if p.apiKey == "" {
		return decimal.Zero, errMissingAPIKey
	}
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"key": p.apiKey, "from": from, "to": to}).
		Get("/v6/{key}/pair/{from}/{to}")
	if err != nil {
		return decimal.Zero, err
	}

	var body struct {
		Result         string           `json:"result"`
		ErrorType      string           `json:"error-type"`
		ConversionRate *decimal.Decimal `json:"conversion_rate"`
	}
	if err := decode(resp, &body); err != nil {
		return decimal.Zero, err
	}
	if body.Result != "success" {
		return decimal.Zero, fmt.Errorf("provider error %q", body.ErrorType)
	}
	if body.ConversionRate == nil {
		return positive(decimal.Zero, false)
	}
	return positive(*body.ConversionRate, true)
}

// LatestRatesProvider queries a free latest-rates table keyed by base currency (open.er-api.com).
type LatestRatesProvider struct {
	client *resty.Client
}

func NewLatestRatesProvider(baseURL string, timeout time.Duration) *LatestRatesProvider {
	return &LatestRatesProvider{client: newRestClient(baseURL, timeout)}
}

func (p *LatestRatesProvider) Name() string { return "secondary" }

func (p *LatestRatesProvider) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("from", from).
		Get("/v6/latest/{from}")
	if err != nil {
		return decimal.Zero, err
	}

	var body struct {
		Result string                     `json:"result"`
		Rates  map[string]decimal.Decimal `json:"rates"`
	}
	if err := decode(resp, &body); err != nil {
		return decimal.Zero, err
	}
	if body.Result != "" && body.Result != "success" {
		return decimal.Zero, fmt.Errorf("provider result %q", body.Result)
	}
	rate, ok := body.Rates[to]
	return positive(rate, ok)
}

// QueryRatesProvider queries a free from/to rates endpoint (Frankfurter).
type QueryRatesProvider struct {
	client *resty.Client
}

func NewQueryRatesProvider(baseURL string, timeout time.Duration) *QueryRatesProvider {
	return &QueryRatesProvider{client: newRestClient(baseURL, timeout)}
}

func (p *QueryRatesProvider) Name() string { return "tertiary" }

func (p *QueryRatesProvider) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"from": from, "to": to}).
		Get("/latest")
	if err != nil {
		return decimal.Zero, err
	}

	var body struct {
		Rates map[string]decimal.Decimal `json:"rates"`
	}
	if err := decode(resp, &body); err != nil {
		return decimal.Zero, err
	}
	rate, ok := body.Rates[to]
	return positive(rate, ok)
}

package validate

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/settlement/internal/apperr"
)

type createRequest struct {
	Currency  string `json:"currency" validate:"required,iso4217"`
	ReturnURL string `json:"returnUrl" validate:"required,url"`
	Items     []item `json:"items" validate:"required,min=1,dive"`
}

type item struct {
	Quantity int `json:"quantity" validate:"min=1"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(&createRequest{Currency: "EURO", Items: []item{{Quantity: 0}}})
	if !apperr.Is(err, apperr.InvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	details, ok := apperr.As(err).Details().(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %T", apperr.As(err).Details())
	}
	for _, field := range []string{"currency", "returnUrl", "items[0].quantity"} {
		if _, ok := details[field]; !ok {
			t.Fatalf("missing detail for %s: %v", field, details)
		}
	}
	if details["returnUrl"] != "is required" {
		t.Fatalf("unexpected message: %q", details["returnUrl"])
	}
}

func TestStructAcceptsValidInput(t *testing.T) {
	req := createRequest{Currency: "XAF", ReturnURL: "https://example.com/ok", Items: []item{{Quantity: 2}}}
	if err := Struct(&req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBodyRejectsMalformedJSON(t *testing.T) {
	app := fiber.New()
	app.Post("/", func(c *fiber.Ctx) error {
		var req createRequest
		if err := Body(c, &req); err != nil {
			return fiber.NewError(apperr.HTTPStatus(apperr.KindOf(err)), err.Error())
		}
		return c.SendStatus(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

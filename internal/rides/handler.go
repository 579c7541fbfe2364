package rides

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/settlement/internal/middleware"
	"github.com/congo-pay/settlement/internal/money"
)

// Handler exposes the ride settlement endpoint.
type Handler struct {
	service *Service
}

// NewHandler constructs a ride handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Settle pays for the ride named in the path on behalf of its rider.
func (h *Handler) Settle(c *fiber.Ctx) error {
	uid, err := middleware.CallerID(c)
	if err != nil {
		return err
	}

	res, err := h.service.Settle(c.UserContext(), uid, c.Params("rideId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"ok":             true,
		"rideId":         res.RideID,
		"fare":           money.Format(money.FromMinor(res.Fare, res.Currency), res.Currency),
		"platformFee":    money.Format(money.FromMinor(res.PlatformFee, res.Currency), res.Currency),
		"driverPayout":   money.Format(money.FromMinor(res.DriverPayout, res.Currency), res.Currency),
		"currency":       res.Currency,
		"alreadySettled": res.AlreadySettled,
	})
}

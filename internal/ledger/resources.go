package ledger

import "time"

const (
	RideStatusCompleted = "completed"

	RidePaymentPending = "pending"
	RidePaymentSettled = "settled"

	OrderStatusPaid = "paid"
)

// Ride is owned by the ride subsystem; only Payment is written here.
type Ride struct {
	ID       string
	RiderID  string
	DriverID string
	Status   string
	Fare     int64
	Currency string
	Payment  RidePayment
}

// RidePayment is the settlement marker stored on a ride.
type RidePayment struct {
	Status       string    `json:"status,omitempty"`
	DriverID     string    `json:"driverId,omitempty"`
	Fare         int64     `json:"fare,omitempty"`
	PlatformFee  int64     `json:"platformFee,omitempty"`
	DriverPayout int64     `json:"driverPayout,omitempty"`
	Currency     string    `json:"currency,omitempty"`
	SettledAt    time.Time `json:"settledAt,omitempty"`
}

// Settled reports whether the ride fare has already moved.
func (p RidePayment) Settled() bool {
	return p.Status == RidePaymentSettled
}

// Business is a marketplace seller resolved to its owning principal.
type Business struct {
	ID      string
	OwnerID string
	Name    string
}

// OrderItem is one line of a marketplace order.
type OrderItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

// Order is a paid marketplace order.
type Order struct {
	ID         string
	BuyerID    string
	BusinessID string
	OwnerID    string
	Items      []OrderItem
	Address    string
	Total      int64
	Currency   string
	Status     string
	CreatedAt  time.Time
}

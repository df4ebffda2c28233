package model

import "time"

// Canonical shipment statuses. Providers report their own codes; each client
// maps them into this vocabulary. The engine records whatever the provider
// last reported; it mirrors state, it does not enforce transitions.
const (
	StatusNew               = "New"
	StatusAccepted          = "Accepted"
	StatusEnRouteToPickup   = "EnRouteToPickup"
	StatusAtPickup          = "AtPickup"
	StatusEnRouteToDelivery = "EnRouteToDelivery"
	StatusAtDelivery        = "AtDelivery"
	StatusCompleted         = "Completed"
	StatusCancelled         = "Cancelled"
	StatusUnknown           = "Unknown"
)

// TerminalStatus reports whether a shipment is done from the poller's point
// of view: no further provider updates expected.
func TerminalStatus(s string) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Order is the slice of the order record the shipping engine reads and
// writes. OrderNumber is the human-readable identifier (ORD-YYYYMMDD-XXXXXX)
// and the only identifier ever sent to a provider; the numeric row ID stays
// internal.
type Order struct {
	ID           int64  `json:"id,omitempty"`
	OrderNumber  string `json:"orderNumber"`
	RestaurantID int64  `json:"restaurantId,omitempty"`
	ShopID       string `json:"shopId,omitempty"`
	Provider     string `json:"provider,omitempty"`

	// Shipping mirror fields, written only by the engine.
	DSPOrderID      string   `json:"dspOrderId,omitempty"`
	ShippingStatus  string   `json:"shippingStatus,omitempty"`
	DriverName      string   `json:"driverName,omitempty"`
	DriverPhone     string   `json:"driverPhone,omitempty"`
	DriverLatitude  *float64 `json:"driverLatitude,omitempty"`
	DriverLongitude *float64 `json:"driverLongitude,omitempty"`

	// Delivery fields, owned by the order intake side.
	DeliveryName        string   `json:"deliveryName,omitempty"`
	DeliveryPhone       string   `json:"deliveryPhone,omitempty"`
	DeliveryAddress     string   `json:"deliveryAddress,omitempty"`
	CustomerLatitude    *float64 `json:"customerLatitude,omitempty"`
	CustomerLongitude   *float64 `json:"customerLongitude,omitempty"`
	PaymentMethod       string   `json:"paymentMethod,omitempty"`
	Total               float64  `json:"total"`
	SpecialInstructions string   `json:"specialInstructions,omitempty"`
	ScheduledFor        string   `json:"scheduledFor,omitempty"`
}

// Dispatched reports whether the order already carries a provider shipment
// id. Presence of the id is the dispatch idempotency flag.
func (o Order) Dispatched() bool { return o.DSPOrderID != "" }

// ShipmentRecord is one row per dispatched order, keyed by the
// provider-issued shipment id (dsp_order_id, unique). Created once on first
// successful dispatch (or lazily when reconciliation sees an unknown id),
// then only patched.
type ShipmentRecord struct {
	ID               int64     `json:"id,omitempty"`
	OrderID          int64     `json:"orderId,omitempty"` // 0 when no local order matched
	ShopID           string    `json:"shopId,omitempty"`
	Provider         string    `json:"provider,omitempty"`
	DSPOrderID       string    `json:"dspOrderId"`
	Status           string    `json:"status"`
	RecipientName    string    `json:"recipientName,omitempty"`
	RecipientPhone   string    `json:"recipientPhone,omitempty"`
	RecipientAddress string    `json:"recipientAddress,omitempty"`
	Latitude         *float64  `json:"latitude,omitempty"`
	Longitude        *float64  `json:"longitude,omitempty"`
	DriverName       string    `json:"driverName,omitempty"`
	DriverPhone      string    `json:"driverPhone,omitempty"`
	DriverLatitude   *float64  `json:"driverLatitude,omitempty"`
	DriverLongitude  *float64  `json:"driverLongitude,omitempty"`
	Total            float64   `json:"total"`
	PaymentType      int       `json:"paymentType"`
	Notes            string    `json:"notes,omitempty"`
	CreatedAt        time.Time `json:"createdAt,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt,omitempty"`
}

// ShipmentResult is the outcome of a successful provider create call.
type ShipmentResult struct {
	DSPOrderID     string `json:"dspOrderId"`
	ShippingStatus string `json:"shippingStatus"`
	OrderNumber    string `json:"orderNumber"`
	ShopID         string `json:"shopId"`
}

// Driver is the provider-reported courier snapshot. Pointer coordinates keep
// "absent" distinguishable from zero through patch paths.
type Driver struct {
	Name      string   `json:"name,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// StatusUpdate is a normalized reconciliation event extracted from a status
// poll response or an inbound webhook. Status is canonical, empty when the
// payload carried none. Raw keeps the provider payload for operators.
type StatusUpdate struct {
	DSPOrderID  string         `json:"dspOrderId"`
	OrderNumber string         `json:"orderNumber,omitempty"`
	Status      string         `json:"status,omitempty"`
	Driver      Driver         `json:"driver"`
	Raw         map[string]any `json:"raw,omitempty"`
}

// Cancel failure categories.
const (
	CancelAlreadyInTransit = "already_in_transit"
	CancelFailed           = "cancellation_failed"
)

// CancelFailure is the structured outcome for a provider that answered the
// cancel call with a non-2xx response. ok=false with a nil *CancelFailure
// means the provider could not be reached at all.
type CancelFailure struct {
	StatusCode       int            `json:"statusCode"`
	Message          string         `json:"message"`
	Category         string         `json:"category"`
	ProviderResponse map[string]any `json:"providerResponse,omitempty"`
}

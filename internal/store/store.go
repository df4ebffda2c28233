package store

import (
	"context"
	"errors"

	"shipsync/internal/model"
)

// Store is the persistence interface used by the engine and the API server.
type Store interface {
	// Orders
	GetOrderByID(ctx context.Context, id int64) (model.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (model.Order, error)
	GetOrderByDSPOrderID(ctx context.Context, dspID string) (model.Order, error)
	// SetOrderDispatched records the provider shipment id and initial status
	// on the order row after a successful create.
	SetOrderDispatched(ctx context.Context, orderID int64, dspID, status string) error
	// UpdateOrderShippingByNumber and ...ByDSP mirror reconciliation state
	// onto the order row. Nil pointer fields are left untouched.
	UpdateOrderShippingByNumber(ctx context.Context, orderNumber string, patch model.StatusUpdate) error
	UpdateOrderShippingByDSP(ctx context.Context, dspID string, patch model.StatusUpdate) error

	// Restaurants
	RestaurantShopID(ctx context.Context, restaurantID int64) (string, error)

	// Shipment records
	// InsertShipment returns ErrDuplicate when dsp_order_id already exists.
	InsertShipment(ctx context.Context, rec model.ShipmentRecord) (int64, error)
	GetShipmentByDSPOrderID(ctx context.Context, dspID string) (model.ShipmentRecord, error)
	UpdateShipmentByDSP(ctx context.Context, dspID string, patch model.StatusUpdate) error
	ListShipments(ctx context.Context, status, cursor string, limit int) ([]model.ShipmentRecord, string, error)
	// ListOpenShipments returns shipments not yet in a terminal status, for
	// the reconciliation poller.
	ListOpenShipments(ctx context.Context, limit int) ([]model.ShipmentRecord, error)
	// MaxFallbackSuffix returns the highest numeric suffix among
	// dsp_order_ids starting with prefix, 0 when none exist.
	MaxFallbackSuffix(ctx context.Context, prefix string) (int, error)

	// App settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Ping reports backend health for readiness probes.
	Ping(ctx context.Context) error
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

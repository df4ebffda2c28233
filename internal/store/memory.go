package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"shipsync/internal/model"
)

// Memory is an in-memory store used when no DATABASE_URL is set, and by
// tests. Semantics mirror the Postgres implementation, including the unique
// dsp_order_id constraint.
type Memory struct {
	mu          sync.Mutex
	nextOrderID int64
	nextShipID  int64
	orders      map[int64]*model.Order           // order id -> order
	restaurants map[int64]string                 // restaurant id -> shop id
	shipments   map[string]*model.ShipmentRecord // dsp_order_id -> record
	settings    map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		orders:      map[int64]*model.Order{},
		restaurants: map[int64]string{},
		shipments:   map[string]*model.ShipmentRecord{},
		settings:    map[string]string{},
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

// SeedOrder inserts an order, assigning an id when missing. Test/dev helper.
func (m *Memory) SeedOrder(o model.Order) model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == 0 {
		m.nextOrderID++
		o.ID = m.nextOrderID
	} else if o.ID > m.nextOrderID {
		m.nextOrderID = o.ID
	}
	cp := o
	m.orders[o.ID] = &cp
	return o
}

// SeedRestaurant registers a restaurant's shop reference. Test/dev helper.
func (m *Memory) SeedRestaurant(id int64, shopID string) {
	m.mu.Lock()
	m.restaurants[id] = shopID
	m.mu.Unlock()
}

func (m *Memory) GetOrderByID(ctx context.Context, id int64) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return *o, nil
}

func (m *Memory) GetOrderByNumber(ctx context.Context, number string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.OrderNumber == number {
			return *o, nil
		}
	}
	return model.Order{}, ErrNotFound
}

func (m *Memory) GetOrderByDSPOrderID(ctx context.Context, dspID string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.DSPOrderID == dspID && dspID != "" {
			return *o, nil
		}
	}
	return model.Order{}, ErrNotFound
}

func (m *Memory) SetOrderDispatched(ctx context.Context, orderID int64, dspID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.DSPOrderID = dspID
	o.ShippingStatus = status
	return nil
}

func applyOrderPatch(o *model.Order, u model.StatusUpdate) {
	if u.Status != "" {
		o.ShippingStatus = u.Status
	}
	if u.Driver.Name != "" {
		o.DriverName = u.Driver.Name
	}
	if u.Driver.Phone != "" {
		o.DriverPhone = u.Driver.Phone
	}
	if u.Driver.Latitude != nil {
		o.DriverLatitude = u.Driver.Latitude
	}
	if u.Driver.Longitude != nil {
		o.DriverLongitude = u.Driver.Longitude
	}
}

func (m *Memory) UpdateOrderShippingByNumber(ctx context.Context, orderNumber string, patch model.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.OrderNumber == orderNumber {
			applyOrderPatch(o, patch)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) UpdateOrderShippingByDSP(ctx context.Context, dspID string, patch model.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.DSPOrderID == dspID && dspID != "" {
			applyOrderPatch(o, patch)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) RestaurantShopID(ctx context.Context, restaurantID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shopID, ok := m.restaurants[restaurantID]
	if !ok {
		return "", ErrNotFound
	}
	return shopID, nil
}

func (m *Memory) InsertShipment(ctx context.Context, rec model.ShipmentRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.shipments[rec.DSPOrderID]; exists {
		return 0, ErrDuplicate
	}
	m.nextShipID++
	rec.ID = m.nextShipID
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	cp := rec
	m.shipments[rec.DSPOrderID] = &cp
	return rec.ID, nil
}

func (m *Memory) GetShipmentByDSPOrderID(ctx context.Context, dspID string) (model.ShipmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.shipments[dspID]
	if !ok {
		return model.ShipmentRecord{}, ErrNotFound
	}
	return *r, nil
}

func (m *Memory) UpdateShipmentByDSP(ctx context.Context, dspID string, patch model.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.shipments[dspID]
	if !ok {
		return ErrNotFound
	}
	if patch.Status != "" {
		r.Status = patch.Status
	}
	if patch.Driver.Name != "" {
		r.DriverName = patch.Driver.Name
	}
	if patch.Driver.Phone != "" {
		r.DriverPhone = patch.Driver.Phone
	}
	if patch.Driver.Latitude != nil {
		r.DriverLatitude = patch.Driver.Latitude
	}
	if patch.Driver.Longitude != nil {
		r.DriverLongitude = patch.Driver.Longitude
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) sortedShipments() []model.ShipmentRecord {
	out := make([]model.ShipmentRecord, 0, len(m.shipments))
	for _, r := range m.shipments {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) ListShipments(ctx context.Context, status, cursor string, limit int) ([]model.ShipmentRecord, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var after int64
	if cursor != "" {
		after, _ = strconv.ParseInt(cursor, 10, 64)
	}
	out := []model.ShipmentRecord{}
	for _, r := range m.sortedShipments() {
		if r.ID <= after {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	var next string
	if len(out) == limit {
		next = itoa64(out[len(out)-1].ID)
	}
	return out, next, nil
}

func (m *Memory) ListOpenShipments(ctx context.Context, limit int) ([]model.ShipmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 500
	}
	out := []model.ShipmentRecord{}
	for _, r := range m.sortedShipments() {
		if model.TerminalStatus(r.Status) {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MaxFallbackSuffix(ctx context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for dspID := range m.shipments {
		if !strings.HasPrefix(dspID, prefix) {
			continue
		}
		n, err := strconv.Atoi(dspID[len(prefix):])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max, nil
}

func (m *Memory) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	m.settings[key] = value
	m.mu.Unlock()
	return nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"shipsync/internal/metrics"
	"shipsync/internal/model"
	"shipsync/internal/provider"
	"shipsync/internal/store"
)

// Publisher fans applied shipment updates out to live subscribers (SSE and
// websocket). Implementations must not block.
type Publisher interface {
	PublishShipment(dspID string, event map[string]any)
}

// Engine owns the shipping lifecycle: dispatching orders to providers,
// reconciling provider-reported state into local records, and cancelling.
// Provider clients stay pure transport; every store write happens here.
type Engine struct {
	Store    store.Store
	Registry *provider.Registry
	Pub      Publisher
	Log      zerolog.Logger

	// now is swappable for fallback-id tests.
	now func() time.Time
}

func New(st store.Store, reg *provider.Registry, pub Publisher, log zerolog.Logger) *Engine {
	return &Engine{Store: st, Registry: reg, Pub: pub, Log: log.With().Str("component", "engine").Logger(), now: time.Now}
}

var ErrProviderFailed = errors.New("provider create failed")

// Dispatch sends an order to its shipping provider. Idempotent: an order
// that already carries a shipment id is returned as-is with created=false
// and nothing is sent. On provider failure the order is left untouched so
// the caller can retry.
func (e *Engine) Dispatch(ctx context.Context, o model.Order) (model.ShipmentResult, bool, error) {
	if o.Dispatched() {
		e.Log.Info().Str("order", o.OrderNumber).Str("dspOrderId", o.DSPOrderID).Msg("dispatch skipped, already dispatched")
		metrics.Dispatches.WithLabelValues(o.Provider, "skipped").Inc()
		return model.ShipmentResult{DSPOrderID: o.DSPOrderID, ShippingStatus: o.ShippingStatus, OrderNumber: o.OrderNumber, ShopID: o.ShopID}, false, nil
	}
	client, err := e.Registry.Resolve(o.Provider)
	if err != nil {
		metrics.Dispatches.WithLabelValues(o.Provider, "validation_failed").Inc()
		return model.ShipmentResult{}, false, err
	}
	o.ShopID = e.resolveShopID(ctx, o, client.Name())
	if err := provider.ValidateDispatch(o); err != nil {
		metrics.Dispatches.WithLabelValues(client.Name(), "validation_failed").Inc()
		return model.ShipmentResult{}, false, err
	}
	res := client.CreateOrder(ctx, o)
	if res == nil {
		metrics.Dispatches.WithLabelValues(client.Name(), "provider_failed").Inc()
		return model.ShipmentResult{}, false, fmt.Errorf("%w: %s", ErrProviderFailed, client.Name())
	}
	if res.ShippingStatus == "" {
		res.ShippingStatus = model.StatusNew
	}
	if res.DSPOrderID == "" {
		res.DSPOrderID = e.fallbackOrderID(ctx)
		e.Log.Warn().Str("order", o.OrderNumber).Str("dspOrderId", res.DSPOrderID).Msg("provider returned no shipment id, generated fallback")
	}
	// An order still being constructed by the caller has no row id yet; the
	// record insert waits for reconciliation in that case.
	if o.ID != 0 {
		rec := shipmentFromOrder(o, *res, client.Name())
		if _, err := e.Store.InsertShipment(ctx, rec); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				// Unique constraint is the backstop against double dispatch
				// racing past the idempotency check. Not fatal.
				e.Log.Warn().Str("order", o.OrderNumber).Str("dspOrderId", res.DSPOrderID).Msg("shipment record already exists")
			} else {
				return model.ShipmentResult{}, false, err
			}
		}
	}
	if err := e.Store.SetOrderDispatched(ctx, o.ID, res.DSPOrderID, res.ShippingStatus); err != nil && !errors.Is(err, store.ErrNotFound) {
		return model.ShipmentResult{}, false, err
	}
	metrics.Dispatches.WithLabelValues(client.Name(), "created").Inc()
	e.Log.Info().Str("order", o.OrderNumber).Str("provider", client.Name()).
		Str("dspOrderId", res.DSPOrderID).Str("status", res.ShippingStatus).Msg("order dispatched")
	e.publish(res.DSPOrderID, map[string]any{"dspOrderId": res.DSPOrderID, "orderNumber": o.OrderNumber, "status": res.ShippingStatus})
	// Some providers accept silently and only fill in state on a follow-up
	// poll; chase once, tolerating failure.
	if client.WebhookChase() {
		if u := client.GetOrderStatus(ctx, res.DSPOrderID); u != nil {
			e.ApplyUpdate(ctx, client.Name(), *u, "dispatch_chase")
		}
	}
	return *res, true, nil
}

// resolveShopID walks the shop reference chain: order, then restaurant
// registration, then empty (the client substitutes its provider default,
// which is worth an anomaly log).
func (e *Engine) resolveShopID(ctx context.Context, o model.Order, providerName string) string {
	if o.ShopID != "" {
		return o.ShopID
	}
	if o.RestaurantID != 0 {
		if shopID, err := e.Store.RestaurantShopID(ctx, o.RestaurantID); err == nil && shopID != "" {
			return shopID
		}
	}
	e.Log.Warn().Str("order", o.OrderNumber).Str("provider", providerName).
		Msg("no shop reference on order or restaurant, provider default will be used")
	return ""
}

func shipmentFromOrder(o model.Order, res model.ShipmentResult, providerName string) model.ShipmentRecord {
	return model.ShipmentRecord{
		OrderID:          o.ID,
		ShopID:           res.ShopID,
		Provider:         providerName,
		DSPOrderID:       res.DSPOrderID,
		Status:           res.ShippingStatus,
		RecipientName:    o.DeliveryName,
		RecipientPhone:   o.DeliveryPhone,
		RecipientAddress: o.DeliveryAddress,
		Latitude:         o.CustomerLatitude,
		Longitude:        o.CustomerLongitude,
		Total:            o.Total,
		PaymentType:      provider.PaymentTypeCode(o.PaymentMethod),
		Notes:            o.SpecialInstructions,
	}
}

// fallbackOrderID generates ORD-YYYYMMDD-NNNNN for providers that return no
// shipment id: one above today's highest generated suffix, starting at 20.
func (e *Engine) fallbackOrderID(ctx context.Context) string {
	prefix := "ORD-" + e.now().UTC().Format("20060102") + "-"
	max, err := e.Store.MaxFallbackSuffix(ctx, prefix)
	if err != nil {
		e.Log.Error().Err(err).Msg("fallback suffix lookup failed")
		max = 0
	}
	next := 20
	if max > 0 {
		next = max + 1
	}
	return fmt.Sprintf("%s%05d", prefix, next)
}

// ApplyUpdate reconciles one provider-reported update into the shipment
// record and the order mirror. Idempotent and last-write-wins; an update for
// an unknown shipment id lazily creates the record, backfilled from the
// matching order when one exists.
func (e *Engine) ApplyUpdate(ctx context.Context, providerName string, u model.StatusUpdate, source string) {
	if u.DSPOrderID == "" {
		e.Log.Warn().Str("provider", providerName).Str("source", source).Msg("update without shipment id ignored")
		return
	}
	if _, err := e.Store.GetShipmentByDSPOrderID(ctx, u.DSPOrderID); errors.Is(err, store.ErrNotFound) {
		rec := e.firstSeenRecord(ctx, providerName, u)
		if _, err := e.Store.InsertShipment(ctx, rec); err != nil && !errors.Is(err, store.ErrDuplicate) {
			e.Log.Error().Err(err).Str("dspOrderId", u.DSPOrderID).Msg("lazy shipment insert failed")
			return
		}
		e.Log.Info().Str("dspOrderId", u.DSPOrderID).Str("provider", providerName).Msg("shipment first seen via reconciliation")
	} else if err != nil {
		e.Log.Error().Err(err).Str("dspOrderId", u.DSPOrderID).Msg("shipment lookup failed")
		return
	}
	if err := e.Store.UpdateShipmentByDSP(ctx, u.DSPOrderID, u); err != nil {
		e.Log.Error().Err(err).Str("dspOrderId", u.DSPOrderID).Msg("shipment update failed")
		return
	}
	e.mirrorToOrder(ctx, u)
	metrics.StatusUpdates.WithLabelValues(source).Inc()
	e.Log.Info().Str("dspOrderId", u.DSPOrderID).Str("status", u.Status).Str("source", source).Msg("shipment update applied")
	e.publish(u.DSPOrderID, map[string]any{"dspOrderId": u.DSPOrderID, "status": u.Status, "driver": u.Driver, "source": source})
}

// firstSeenRecord builds the lazy insert for an update referencing an
// unknown shipment: matched order (by number, then by stored dsp id) seeds
// the snapshot fields.
func (e *Engine) firstSeenRecord(ctx context.Context, providerName string, u model.StatusUpdate) model.ShipmentRecord {
	status := u.Status
	if status == "" {
		status = model.StatusUnknown
	}
	rec := model.ShipmentRecord{Provider: providerName, DSPOrderID: u.DSPOrderID, Status: status}
	var o model.Order
	var err error
	if u.OrderNumber != "" {
		o, err = e.Store.GetOrderByNumber(ctx, u.OrderNumber)
	} else {
		err = store.ErrNotFound
	}
	if errors.Is(err, store.ErrNotFound) {
		o, err = e.Store.GetOrderByDSPOrderID(ctx, u.DSPOrderID)
	}
	if err == nil {
		rec.OrderID = o.ID
		rec.ShopID = o.ShopID
		rec.RecipientName = o.DeliveryName
		rec.RecipientPhone = o.DeliveryPhone
		rec.RecipientAddress = o.DeliveryAddress
		rec.Latitude = o.CustomerLatitude
		rec.Longitude = o.CustomerLongitude
		rec.Total = o.Total
		rec.PaymentType = provider.PaymentTypeCode(o.PaymentMethod)
		rec.Notes = o.SpecialInstructions
	}
	return rec
}

func (e *Engine) mirrorToOrder(ctx context.Context, u model.StatusUpdate) {
	if u.OrderNumber != "" {
		if err := e.Store.UpdateOrderShippingByNumber(ctx, u.OrderNumber, u); err == nil {
			return
		} else if !errors.Is(err, store.ErrNotFound) {
			e.Log.Error().Err(err).Str("orderNumber", u.OrderNumber).Msg("order mirror failed")
			return
		}
	}
	if err := e.Store.UpdateOrderShippingByDSP(ctx, u.DSPOrderID, u); err != nil && !errors.Is(err, store.ErrNotFound) {
		e.Log.Error().Err(err).Str("dspOrderId", u.DSPOrderID).Msg("order mirror failed")
	}
}

// HandleWebhook runs one inbound provider webhook through reconciliation.
// A body with no extractable shipment id is logged and dropped; webhooks are
// fire-and-forget from the provider's point of view, so this never errors.
func (e *Engine) HandleWebhook(ctx context.Context, providerName string, body []byte) bool {
	client, err := e.Registry.Resolve(providerName)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(providerName, "unknown_provider").Inc()
		return false
	}
	u := client.ParseWebhook(body)
	if u == nil {
		e.Log.Warn().Str("provider", client.Name()).Int("bytes", len(body)).Msg("webhook without shipment id ignored")
		metrics.WebhooksReceived.WithLabelValues(client.Name(), "no_id").Inc()
		return false
	}
	e.ApplyUpdate(ctx, client.Name(), *u, "webhook")
	metrics.WebhooksReceived.WithLabelValues(client.Name(), "applied").Inc()
	// Some providers send skeletal webhooks; a follow-up poll fills in
	// driver details. Chase failures are tolerated, the webhook already
	// landed.
	if client.WebhookChase() {
		if chased := client.GetOrderStatus(ctx, u.DSPOrderID); chased != nil {
			e.ApplyUpdate(ctx, client.Name(), *chased, "webhook_chase")
		}
	}
	return true
}

// Refresh polls the provider for one shipment and applies the result.
// Returns the record after the poll (fresh or stale when the poll failed).
func (e *Engine) Refresh(ctx context.Context, dspID string) (model.ShipmentRecord, error) {
	rec, err := e.Store.GetShipmentByDSPOrderID(ctx, dspID)
	if err != nil {
		return model.ShipmentRecord{}, err
	}
	client, err := e.Registry.Resolve(rec.Provider)
	if err != nil {
		return rec, nil
	}
	if u := client.GetOrderStatus(ctx, dspID); u != nil {
		e.ApplyUpdate(ctx, client.Name(), *u, "poll")
		if fresh, err := e.Store.GetShipmentByDSPOrderID(ctx, dspID); err == nil {
			return fresh, nil
		}
	}
	return rec, nil
}

// Cancel asks the provider to cancel a shipment. On success both the record
// and the order mirror move to Cancelled; on a provider-side conflict the
// stored status is left untouched and the structured failure is returned.
func (e *Engine) Cancel(ctx context.Context, dspID string) (bool, *model.CancelFailure, error) {
	rec, err := e.Store.GetShipmentByDSPOrderID(ctx, dspID)
	if err != nil {
		return false, nil, err
	}
	client, err := e.Registry.Resolve(rec.Provider)
	if err != nil {
		return false, nil, err
	}
	ok, failure := client.CancelOrder(ctx, dspID)
	if !ok {
		if failure != nil {
			e.Log.Warn().Str("dspOrderId", dspID).Int("status", failure.StatusCode).
				Str("category", failure.Category).Msg("cancel rejected by provider")
		} else {
			e.Log.Error().Str("dspOrderId", dspID).Msg("cancel failed, provider unreachable")
		}
		return false, failure, nil
	}
	u := model.StatusUpdate{DSPOrderID: dspID, Status: model.StatusCancelled}
	if err := e.Store.UpdateShipmentByDSP(ctx, dspID, u); err != nil {
		return true, nil, err
	}
	e.mirrorToOrder(ctx, u)
	e.Log.Info().Str("dspOrderId", dspID).Msg("shipment cancelled")
	e.publish(dspID, map[string]any{"dspOrderId": dspID, "status": model.StatusCancelled})
	return true, nil, nil
}

func (e *Engine) publish(dspID string, event map[string]any) {
	if e.Pub != nil {
		e.Pub.PublishShipment(dspID, event)
	}
}

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"shipsync/internal/config"
	"shipsync/internal/model"
)

// Leajlak talks to the Leajlak last-mile API. Authentication is a bearer
// token; the create body goes out as JSON or form-encoded depending on
// configuration, and cancel uses DELETE or POST likewise (the provider has
// shipped both variants).
type Leajlak struct {
	cfg     config.LeajlakConfig
	t       transport
	retries int
	backoff time.Duration
}

func NewLeajlak(cfg config.LeajlakConfig, shared config.Config, log zerolog.Logger) *Leajlak {
	return &Leajlak{
		cfg:     cfg,
		t:       newTransport("leajlak", shared.RequestTimeout, shared.ProviderRateLimit, log),
		retries: shared.CreateRetries,
		backoff: shared.RetryBackoff,
	}
}

func (l *Leajlak) Name() string       { return "leajlak" }
func (l *Leajlak) WebhookChase() bool { return false }

// DefaultShopID is the documented sandbox shop used when neither the order
// nor the restaurant carries a shop reference.
func (l *Leajlak) DefaultShopID() string {
	if l.cfg.DefaultShopID != "" {
		return l.cfg.DefaultShopID
	}
	return "210"
}

func (l *Leajlak) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + l.cfg.APIKey}
}

// configured reports whether credentials are present. Every operation aborts
// before touching the network when they are not; a missing key is a
// deployment problem, not a provider outage.
func (l *Leajlak) configured() bool {
	return l.cfg.BaseURL != "" && l.cfg.APIKey != ""
}

// createPayload builds the provider order document. The order number is the
// only identifier sent; the provider requires a unique email per order, so
// one is synthesized from the internal id.
func (l *Leajlak) createPayload(o model.Order, shopID string) map[string]any {
	coordinate := map[string]any{}
	if o.CustomerLatitude != nil {
		coordinate["latitude"] = *o.CustomerLatitude
	}
	if o.CustomerLongitude != nil {
		coordinate["longitude"] = *o.CustomerLongitude
	}
	return map[string]any{
		"id":      o.OrderNumber,
		"shop_id": shopID,
		"delivery_details": map[string]any{
			"name":       o.DeliveryName,
			"phone":      stripPhoneSuffix(o.DeliveryPhone),
			"email":      fmt.Sprintf("order%d@advfood.local", o.ID),
			"coordinate": coordinate,
			"address":    o.DeliveryAddress,
		},
		"order": map[string]any{
			"payment_type": leajlakPaymentType(o.PaymentMethod),
			"total":        o.Total,
			"notes":        o.SpecialInstructions,
		},
	}
}

// leajlakPaymentType is the wire code for this provider: 1 cash on delivery,
// 10 card machine, 0 anything else.
func leajlakPaymentType(method string) int {
	switch strings.ToLower(method) {
	case "cash":
		return 1
	case "machine":
		return 10
	default:
		return 0
	}
}

// stripPhoneSuffix drops the internal "#NN" disambiguation suffix some
// intake channels append to customer phones.
func stripPhoneSuffix(phone string) string {
	if i := strings.Index(phone, "#"); i >= 0 {
		return strings.TrimSpace(phone[:i])
	}
	return phone
}

func (l *Leajlak) CreateOrder(ctx context.Context, o model.Order) *model.ShipmentResult {
	if !l.configured() {
		l.t.log.Error().Str("order", o.OrderNumber).Msg("missing base URL or API key, create skipped")
		return nil
	}
	shopID := o.ShopID
	if shopID == "" {
		shopID = l.DefaultShopID()
	}
	payload := l.createPayload(o, shopID)
	var body []byte
	contentType := "application/json"
	if l.cfg.SendJSON {
		body, _ = json.Marshal(payload)
	} else {
		contentType = "application/x-www-form-urlencoded"
		body = []byte(formEncode(payload))
	}
	resp := l.t.doCreateWithRetry(ctx, l.retries, l.backoff, "POST", l.cfg.BaseURL+"/orders", l.headers(), contentType, body)
	if !resp.OK() {
		return nil
	}
	dspID := ""
	status := model.StatusNew
	if resp.Body != nil {
		dspID = ExtractShipmentID(resp.Body)
		if s := leajlakStatus(statusField(resp.Body)); s != "" {
			status = s
		}
	}
	// dspID may be empty: some deployments return a bare acknowledgment. The
	// engine generates a fallback identifier in that case.
	return &model.ShipmentResult{
		DSPOrderID:     dspID,
		ShippingStatus: status,
		OrderNumber:    o.OrderNumber,
		ShopID:         shopID,
	}
}

func (l *Leajlak) GetOrderStatus(ctx context.Context, dspID string) *model.StatusUpdate {
	if !l.configured() {
		l.t.log.Error().Str("dspOrderId", dspID).Msg("missing base URL or API key, status skipped")
		return nil
	}
	resp := l.t.do(ctx, "status", "GET", l.cfg.BaseURL+"/orders/"+url.PathEscape(dspID), l.headers(), "", nil)
	if !resp.OK() || resp.Body == nil {
		return nil
	}
	u := leajlakUpdate(resp.Body)
	if u.DSPOrderID == "" {
		u.DSPOrderID = dspID
	}
	return &u
}

func (l *Leajlak) CancelOrder(ctx context.Context, dspID string) (bool, *model.CancelFailure) {
	if !l.configured() {
		l.t.log.Error().Str("dspOrderId", dspID).Msg("missing base URL or API key, cancel skipped")
		return false, nil
	}
	method := "POST"
	if l.cfg.CancelViaDelete {
		method = "DELETE"
	}
	resp := l.t.do(ctx, "cancel", method, l.cfg.BaseURL+"/orders/"+url.PathEscape(dspID), l.headers(), "", nil)
	if resp == nil {
		return false, nil
	}
	if resp.OK() {
		return true, nil
	}
	return false, ClassifyCancelFailure(resp.StatusCode, resp.message(), resp.Body)
}

func (l *Leajlak) ParseWebhook(body []byte) *model.StatusUpdate {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	u := leajlakUpdate(payload)
	if u.DSPOrderID == "" {
		return nil
	}
	return &u
}

// leajlakUpdate normalizes a status or webhook document; fields may live at
// the top level or under a data envelope.
func leajlakUpdate(payload map[string]any) model.StatusUpdate {
	u := model.StatusUpdate{
		DSPOrderID: ExtractShipmentID(payload),
		Status:     leajlakStatus(statusField(payload)),
		Raw:        payload,
	}
	for _, level := range levels(payload) {
		if u.OrderNumber == "" {
			for _, key := range []string{"order_number", "orderNumber", "reference"} {
				if s := asString(level[key]); s != "" {
					u.OrderNumber = s
					break
				}
			}
		}
		// Driver arrives as a nested object ({"driver":{"name":...,
		// "location":{...}}}); some feeds flatten it instead.
		mergeDriver(&u.Driver, driverFromLevel(level))
		mergeDriver(&u.Driver, model.Driver{
			Name:      asString(level["driver_name"]),
			Phone:     asString(level["driver_phone"]),
			Latitude:  asFloat(level["driver_latitude"]),
			Longitude: asFloat(level["driver_longitude"]),
		})
	}
	return u
}

func statusField(payload map[string]any) string {
	for _, level := range levels(payload) {
		for _, key := range []string{"shipping_status", "status"} {
			if s := asString(level[key]); s != "" {
				return s
			}
		}
	}
	return ""
}

func levels(payload map[string]any) []map[string]any {
	out := []map[string]any{payload}
	for _, env := range []string{"data", "result"} {
		if inner, ok := payload[env].(map[string]any); ok {
			out = append(out, inner)
		}
	}
	return out
}

// leajlakStatus maps the provider's status strings to the canonical
// vocabulary. Unrecognized non-empty statuses map to Unknown, never to an
// error; an empty input stays empty so patches can skip the field.
func leajlakStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ""
	case "new", "new order", "pending", "created":
		return model.StatusNew
	case "accepted", "assigned", "confirmed":
		return model.StatusAccepted
	case "to_pickup", "heading_to_pickup", "on_the_way_to_pickup":
		return model.StatusEnRouteToPickup
	case "at_pickup", "arrived_at_pickup", "reached_pickup":
		return model.StatusAtPickup
	case "to_delivery", "in_transit", "on_the_way", "picked_up":
		return model.StatusEnRouteToDelivery
	case "at_delivery", "arrived", "reached_delivery":
		return model.StatusAtDelivery
	case "delivered", "completed", "complete":
		return model.StatusCompleted
	case "cancelled", "canceled":
		return model.StatusCancelled
	default:
		return model.StatusUnknown
	}
}

// formEncode flattens a nested payload into PHP-style bracket form fields
// (delivery_details[coordinate][latitude]=...), the encoding the provider's
// older endpoint expects.
func formEncode(payload map[string]any) string {
	vals := url.Values{}
	var walk func(prefix string, v any)
	walk = func(prefix string, v any) {
		switch x := v.(type) {
		case map[string]any:
			for k, inner := range x {
				key := k
				if prefix != "" {
					key = prefix + "[" + k + "]"
				}
				walk(key, inner)
			}
		case string:
			vals.Set(prefix, x)
		case float64:
			vals.Set(prefix, trimFloat(x))
		case int:
			vals.Set(prefix, fmt.Sprintf("%d", x))
		case bool:
			vals.Set(prefix, fmt.Sprintf("%t", x))
		case nil:
		default:
			vals.Set(prefix, fmt.Sprintf("%v", x))
		}
	}
	walk("", payload)
	return vals.Encode()
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

package provider

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"shipsync/internal/config"
	"shipsync/internal/model"
)

// Shadda talks to the Shadda dispatch API. Authentication is a client-id
// header plus a bearer secret; every response wraps its payload in a data
// envelope, and statuses come back as numeric codes.
//
// Two quirks, both preserved from the provider contract: the create response
// carries no shipment id, so the submitted order number IS the shipment id;
// and the wire payment method is always "card" regardless of how the
// customer pays (the local record keeps the real payment type).
type Shadda struct {
	cfg     config.ShaddaConfig
	t       transport
	retries int
	backoff time.Duration
}

func NewShadda(cfg config.ShaddaConfig, shared config.Config, log zerolog.Logger) *Shadda {
	return &Shadda{
		cfg:     cfg,
		t:       newTransport("shadda", shared.RequestTimeout, shared.ProviderRateLimit, log),
		retries: shared.CreateRetries,
		backoff: shared.RetryBackoff,
	}
}

func (s *Shadda) Name() string       { return "shadda" }
func (s *Shadda) WebhookChase() bool { return s.cfg.ChaseAfterWebhook }

func (s *Shadda) DefaultShopID() string {
	if s.cfg.DefaultShopID != "" {
		return s.cfg.DefaultShopID
	}
	return "11183"
}

// configured reports whether credentials are present. Operations abort
// before any network call when they are not.
func (s *Shadda) configured() bool {
	return s.cfg.BaseURL != "" && s.cfg.ClientID != "" && s.cfg.SecretKey != ""
}

func (s *Shadda) headers() map[string]string {
	return map[string]string{
		"client-id":     s.cfg.ClientID,
		"Authorization": "Bearer " + s.cfg.SecretKey,
	}
}

func (s *Shadda) createPayload(o model.Order, shopID string) map[string]any {
	p := map[string]any{
		"orderNumber":     o.OrderNumber,
		"branchId":        shopID,
		"customerName":    o.DeliveryName,
		"customerMobile":  stripPhoneSuffix(o.DeliveryPhone),
		"customerAddress": o.DeliveryAddress,
		"total":           o.Total,
		"paymentMethod":   "card",
		"notes":           o.SpecialInstructions,
	}
	if o.CustomerLatitude != nil {
		p["latitude"] = *o.CustomerLatitude
	}
	if o.CustomerLongitude != nil {
		p["longitude"] = *o.CustomerLongitude
	}
	if o.ScheduledFor != "" {
		p["pickupDatetime"] = o.ScheduledFor
	}
	return p
}

func (s *Shadda) CreateOrder(ctx context.Context, o model.Order) *model.ShipmentResult {
	if !s.configured() {
		s.t.log.Error().Str("order", o.OrderNumber).Msg("missing base URL or credentials, create skipped")
		return nil
	}
	shopID := o.ShopID
	if shopID == "" {
		shopID = s.DefaultShopID()
	}
	body, _ := json.Marshal(s.createPayload(o, shopID))
	resp := s.t.doCreateWithRetry(ctx, s.retries, s.backoff, "POST", s.cfg.BaseURL+"/CreateOrder", s.headers(), "application/json", body)
	if !resp.OK() {
		return nil
	}
	// No id in the create response: the order number doubles as the
	// provider-side identifier for every later call.
	return &model.ShipmentResult{
		DSPOrderID:     o.OrderNumber,
		ShippingStatus: model.StatusNew,
		OrderNumber:    o.OrderNumber,
		ShopID:         shopID,
	}
}

func (s *Shadda) GetOrderStatus(ctx context.Context, dspID string) *model.StatusUpdate {
	if !s.configured() {
		s.t.log.Error().Str("dspOrderId", dspID).Msg("missing base URL or credentials, status skipped")
		return nil
	}
	resp := s.t.do(ctx, "status", "GET", s.cfg.BaseURL+"/GetOrder/"+url.PathEscape(dspID), s.headers(), "", nil)
	if !resp.OK() || resp.Body == nil {
		return nil
	}
	u := shaddaUpdate(resp.Body)
	if u.DSPOrderID == "" {
		u.DSPOrderID = dspID
	}
	return &u
}

func (s *Shadda) CancelOrder(ctx context.Context, dspID string) (bool, *model.CancelFailure) {
	if !s.configured() {
		s.t.log.Error().Str("dspOrderId", dspID).Msg("missing base URL or credentials, cancel skipped")
		return false, nil
	}
	body, _ := json.Marshal(map[string]any{"orderId": dspID})
	resp := s.t.do(ctx, "cancel", "POST", s.cfg.BaseURL+"/CancelOrder", s.headers(), "application/json", body)
	if resp == nil {
		return false, nil
	}
	if resp.OK() {
		return true, nil
	}
	return false, ClassifyCancelFailure(resp.StatusCode, resp.message(), resp.Body)
}

func (s *Shadda) ParseWebhook(body []byte) *model.StatusUpdate {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	u := shaddaUpdate(payload)
	if u.DSPOrderID == "" {
		return nil
	}
	return &u
}

// shaddaUpdate normalizes a GetOrder response or webhook document. Fields
// live under the data envelope on real responses; webhooks sometimes arrive
// flat, so both levels are scanned. GetOrder carries the numeric code in
// statusId (plus a statusDesc text); webhooks use status or statusCode.
func shaddaUpdate(payload map[string]any) model.StatusUpdate {
	u := model.StatusUpdate{DSPOrderID: ExtractShipmentID(payload), Raw: payload}
	for _, level := range levels(payload) {
		if u.Status == "" {
			for _, key := range []string{"status", "orderStatus", "statusId", "statusCode"} {
				if v, ok := level[key]; ok {
					if s := shaddaStatus(v); s != "" {
						u.Status = s
						break
					}
				}
			}
		}
		if u.Status == "" {
			u.Status = shaddaStatusText(asString(level["statusDesc"]))
		}
		if u.OrderNumber == "" {
			u.OrderNumber = asString(level["orderNumber"])
		}
		// GetOrder flattens driver fields; webhooks nest them under driver.
		mergeDriver(&u.Driver, driverFromLevel(level))
		mergeDriver(&u.Driver, model.Driver{
			Name:      asString(level["driverName"]),
			Phone:     asString(level["driverMobile"]),
			Latitude:  asFloat(level["driverLatitude"]),
			Longitude: asFloat(level["driverLongitude"]),
		})
	}
	return u
}

// shaddaStatus maps the provider's numeric codes to the canonical
// vocabulary. Codes arrive as JSON numbers or strings depending on the
// endpoint. Unrecognized codes map to Unknown, never to an error.
func shaddaStatus(v any) string {
	code := asString(v)
	switch code {
	case "":
		return ""
	case "10":
		return model.StatusNew
	case "1":
		return model.StatusAccepted
	case "2":
		return model.StatusEnRouteToPickup
	case "3":
		return model.StatusAtPickup
	case "4":
		return model.StatusEnRouteToDelivery
	case "5":
		return model.StatusAtDelivery
	case "6":
		return model.StatusCompleted
	case "7":
		return model.StatusCancelled
	default:
		return model.StatusUnknown
	}
}

// shaddaStatusText maps the statusDesc text sent alongside the numeric code.
// Only consulted when no code key is present.
func shaddaStatusText(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ""
	case "new", "pending":
		return model.StatusNew
	case "accepted", "assigned":
		return model.StatusAccepted
	case "on the way to pickup", "heading to pickup":
		return model.StatusEnRouteToPickup
	case "at pickup", "arrived at pickup":
		return model.StatusAtPickup
	case "on the way", "in transit", "picked up":
		return model.StatusEnRouteToDelivery
	case "at delivery", "arrived":
		return model.StatusAtDelivery
	case "delivered", "completed":
		return model.StatusCompleted
	case "cancelled", "canceled":
		return model.StatusCancelled
	default:
		return model.StatusUnknown
	}
}

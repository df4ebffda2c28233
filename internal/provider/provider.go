package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"shipsync/internal/metrics"
	"shipsync/internal/model"
)

// Client is a last-mile shipping provider. Implementations are pure
// transport and mapping: they build requests, call the provider, and
// normalize responses. All persistence happens in the engine.
//
// CreateOrder and GetOrderStatus return nil on any failure (connection or
// HTTP error); failures are logged, never propagated as errors. CancelOrder
// returns ok=true on success, otherwise a structured failure when the
// provider answered and nil when it could not be reached.
type Client interface {
	Name() string
	CreateOrder(ctx context.Context, o model.Order) *model.ShipmentResult
	GetOrderStatus(ctx context.Context, dspID string) *model.StatusUpdate
	CancelOrder(ctx context.Context, dspID string) (bool, *model.CancelFailure)
	// ParseWebhook normalizes an inbound webhook body. Returns nil when no
	// shipment id can be extracted.
	ParseWebhook(body []byte) *model.StatusUpdate
	// WebhookChase reports whether a webhook should be followed by a status
	// poll to pick up fields the webhook omits.
	WebhookChase() bool
}

// Registry resolves provider names case-insensitively over a closed set.
type Registry struct {
	clients     map[string]Client
	defaultName string
}

func NewRegistry(defaultName string, clients ...Client) *Registry {
	r := &Registry{clients: map[string]Client{}, defaultName: strings.ToLower(defaultName)}
	for _, c := range clients {
		r.clients[strings.ToLower(c.Name())] = c
	}
	if _, ok := r.clients[r.defaultName]; !ok {
		r.defaultName = "leajlak"
	}
	return r
}

// Resolve returns the client for name, or the default when name is empty.
func (r *Registry) Resolve(name string) (Client, error) {
	if name == "" {
		name = r.defaultName
	}
	c, ok := r.clients[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown shipping provider: %s", name)
	}
	return c, nil
}

func (r *Registry) Default() Client { return r.clients[r.defaultName] }

// SetDefault switches the default provider; unknown names are rejected.
func (r *Registry) SetDefault(name string) error {
	n := strings.ToLower(name)
	if _, ok := r.clients[n]; !ok {
		return fmt.Errorf("unknown shipping provider: %s", name)
	}
	r.defaultName = n
	return nil
}

func (r *Registry) DefaultName() string { return r.defaultName }

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.clients))
	for n := range r.clients {
		out = append(out, n)
	}
	return out
}

// PaymentTypeCode maps an order's payment method to the numeric code stored
// on shipment records: 1 for cash on delivery, 10 for machine/card/online, 0
// otherwise.
func PaymentTypeCode(method string) int {
	switch strings.ToLower(method) {
	case "cash":
		return 1
	case "machine", "card", "online":
		return 10
	default:
		return 0
	}
}

// ClassifyCancelFailure turns a non-2xx cancel response into a structured
// failure. Responses whose message mentions the shipment being underway are
// categorized separately so callers can tell "too late" from "broken".
func ClassifyCancelFailure(statusCode int, message string, providerResponse map[string]any) *model.CancelFailure {
	category := model.CancelFailed
	lower := strings.ToLower(message)
	for _, phrase := range []string{"in transit", "picked", "cannot cancel"} {
		if strings.Contains(lower, phrase) {
			category = model.CancelAlreadyInTransit
			break
		}
	}
	return &model.CancelFailure{
		StatusCode:       statusCode,
		Message:          message,
		Category:         category,
		ProviderResponse: providerResponse,
	}
}

// ExtractShipmentID pulls the provider shipment id out of an arbitrary
// payload: dsp_order_id, order_id, orderId, or id, at the top level or under
// a data/result envelope. Empty string when none found.
func ExtractShipmentID(payload map[string]any) string {
	if id := idFromLevel(payload); id != "" {
		return id
	}
	for _, env := range []string{"data", "result"} {
		if inner, ok := payload[env].(map[string]any); ok {
			if id := idFromLevel(inner); id != "" {
				return id
			}
		}
	}
	return ""
}

func idFromLevel(m map[string]any) string {
	for _, key := range []string{"dsp_order_id", "order_id", "orderId", "id"} {
		if v, ok := m[key]; ok {
			if s := asString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// asString renders scalar JSON values as identifier strings; numeric ids lose
// no precision up to 2^53.
func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}

// driverFromLevel reads the nested driver object carried by status and
// webhook payloads: {"driver":{"name":...,"phone":...,"location":{...}}}.
// Key spellings vary per provider feed, so all observed variants are tried.
func driverFromLevel(level map[string]any) model.Driver {
	d, ok := level["driver"].(map[string]any)
	if !ok {
		return model.Driver{}
	}
	out := model.Driver{}
	for _, key := range []string{"name", "driverName"} {
		if s := asString(d[key]); s != "" {
			out.Name = s
			break
		}
	}
	for _, key := range []string{"phone", "driverPhone", "mobile"} {
		if s := asString(d[key]); s != "" {
			out.Phone = s
			break
		}
	}
	for _, key := range []string{"latitude", "lat"} {
		if f := asFloat(d[key]); f != nil {
			out.Latitude = f
			break
		}
	}
	for _, key := range []string{"longitude", "lng", "lon"} {
		if f := asFloat(d[key]); f != nil {
			out.Longitude = f
			break
		}
	}
	if loc, ok := d["location"].(map[string]any); ok {
		if out.Latitude == nil {
			out.Latitude = asFloat(loc["latitude"])
		}
		if out.Longitude == nil {
			out.Longitude = asFloat(loc["longitude"])
		}
	}
	return out
}

// mergeDriver fills only the fields dst does not carry yet.
func mergeDriver(dst *model.Driver, src model.Driver) {
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Phone == "" {
		dst.Phone = src.Phone
	}
	if dst.Latitude == nil {
		dst.Latitude = src.Latitude
	}
	if dst.Longitude == nil {
		dst.Longitude = src.Longitude
	}
}

func asFloat(v any) *float64 {
	switch x := v.(type) {
	case float64:
		return &x
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return &f
		}
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return &f
		}
	}
	return nil
}

// transport is the shared outbound HTTP path: one client with the provider
// timeout, an optional rate limiter, and uniform logging/metrics. Connection
// failures and HTTP error responses are logged distinctly; both surface to
// callers as a nil response.
type transport struct {
	provider string
	http     *http.Client
	limiter  *rate.Limiter
	log      zerolog.Logger
}

func newTransport(provider string, timeout time.Duration, rps float64, log zerolog.Logger) transport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var lim *rate.Limiter
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return transport{
		provider: provider,
		http:     &http.Client{Timeout: timeout},
		limiter:  lim,
		log:      log.With().Str("provider", provider).Logger(),
	}
}

// response carries a completed provider call. Body is the decoded JSON
// object when the provider returned one, nil otherwise.
type response struct {
	StatusCode int
	Body       map[string]any
	RawBody    []byte
}

func (r *response) OK() bool { return r != nil && r.StatusCode >= 200 && r.StatusCode < 300 }

// do performs one request. Returns nil on connection-level failure. A non-2xx
// response is returned to the caller for classification; do logs it as an
// HTTP error.
func (t *transport) do(ctx context.Context, op, method, url string, headers map[string]string, contentType string, body []byte) *response {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			t.log.Warn().Err(err).Str("op", op).Msg("rate limiter aborted request")
			metrics.ProviderRequests.WithLabelValues(t.provider, op, "conn_error").Inc()
			return nil
		}
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		t.log.Error().Err(err).Str("op", op).Str("url", url).Msg("build request failed")
		metrics.ProviderRequests.WithLabelValues(t.provider, op, "conn_error").Inc()
		return nil
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	start := time.Now()
	resp, err := t.http.Do(req)
	metrics.ProviderLatency.WithLabelValues(t.provider, op).Observe(time.Since(start).Seconds())
	if err != nil {
		// Connection-level failure: DNS, refused, timeout. Logged apart from
		// HTTP error responses so operators can tell outage from rejection.
		t.log.Error().Err(err).Str("op", op).Str("url", url).Msg("provider unreachable")
		metrics.ProviderRequests.WithLabelValues(t.provider, op, "conn_error").Inc()
		return nil
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	out := &response{StatusCode: resp.StatusCode, RawBody: raw}
	var m map[string]any
	if json.Unmarshal(raw, &m) == nil {
		out.Body = m
	}
	if out.OK() {
		metrics.ProviderRequests.WithLabelValues(t.provider, op, "ok").Inc()
	} else {
		t.log.Warn().Str("op", op).Str("url", url).Int("status", resp.StatusCode).
			Str("body", truncate(string(raw), 512)).Msg("provider returned error response")
		metrics.ProviderRequests.WithLabelValues(t.provider, op, "http_error").Inc()
	}
	return out
}

// doCreateWithRetry retries create calls a fixed number of times with a fixed
// backoff. Only creation is retried; status and cancel calls go out once.
func (t *transport) doCreateWithRetry(ctx context.Context, retries int, backoff time.Duration, method, url string, headers map[string]string, contentType string, body []byte) *response {
	if retries <= 0 {
		retries = 3
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	var resp *response
	for attempt := 1; attempt <= retries; attempt++ {
		resp = t.do(ctx, "create", method, url, headers, contentType, body)
		if resp.OK() {
			return resp
		}
		if attempt < retries {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return resp
			}
		}
	}
	return resp
}

// message digs a human-readable error message out of a provider response.
func (r *response) message() string {
	if r == nil {
		return ""
	}
	if r.Body != nil {
		for _, key := range []string{"message", "error", "detail"} {
			if s, ok := r.Body[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return truncate(string(r.RawBody), 512)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

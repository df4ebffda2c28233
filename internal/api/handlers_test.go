package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipsync/internal/auth"
	"shipsync/internal/config"
	"shipsync/internal/engine"
	"shipsync/internal/model"
	"shipsync/internal/provider"
	"shipsync/internal/store"
)

func testConfig() config.Config {
	return config.Config{
		RequestTimeout: 5 * time.Second,
		CreateRetries:  3,
		RetryBackoff:   time.Millisecond,
	}
}

// newTestServer wires a Server around the in-memory store and the given
// provider clients.
func newTestServer(t *testing.T, defaultProvider string, clients ...provider.Client) (*Server, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	broker := NewBroker()
	reg := provider.NewRegistry(defaultProvider, clients...)
	eng := engine.New(mem, reg, brokerPublisher{broker}, zerolog.Nop())
	return &Server{
		Store:    mem,
		Engine:   eng,
		Registry: reg,
		Auth:     auth.NewVerifier(config.AuthConfig{Mode: "dev"}),
		Broker:   broker,
		Log:      zerolog.Nop(),
	}, mem
}

func seedDispatchable(mem *store.Memory, number string) model.Order {
	return mem.SeedOrder(model.Order{
		OrderNumber:     number,
		ShopID:          "305",
		DeliveryName:    "Sara",
		DeliveryPhone:   "0551234567",
		DeliveryAddress: "12 Olaya St",
		PaymentMethod:   "cash",
		Total:           80,
	})
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestEndToEndShaddaLifecycle(t *testing.T) {
	// Fake Shadda upstream: accepts creates, reports status 10 (new), then
	// the webhook moves the shipment to 6 (completed).
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/CreateOrder":
			_, _ = w.Write([]byte(`{"data":{"success":true}}`))
		case strings.HasPrefix(r.URL.Path, "/GetOrder/"):
			_, _ = w.Write([]byte(`{"data":{"orderId":"ORD-20260101-00001","status":10}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer upstream.Close()

	cfg := testConfig()
	shadda := provider.NewShadda(config.ShaddaConfig{BaseURL: upstream.URL, ClientID: "c", SecretKey: "s"}, cfg, zerolog.Nop())
	s, mem := newTestServer(t, "shadda", shadda)
	mux := s.Routes()
	seedDispatchable(mem, "ORD-20260101-00001")

	// Dispatch: the order number becomes the shipment id.
	w := doJSON(t, mux, http.MethodPost, "/v1/shipments/dispatch", map[string]any{"orderNumber": "ORD-20260101-00001"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var dispatched struct {
		Result  model.ShipmentResult `json:"result"`
		Created bool                 `json:"created"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dispatched))
	assert.True(t, dispatched.Created)
	assert.Equal(t, "ORD-20260101-00001", dispatched.Result.DSPOrderID)
	assert.Equal(t, model.StatusNew, dispatched.Result.ShippingStatus)

	// Re-dispatch is a no-op.
	w = doJSON(t, mux, http.MethodPost, "/v1/shipments/dispatch", map[string]any{"orderNumber": "ORD-20260101-00001"})
	require.Equal(t, http.StatusOK, w.Code)

	// Status fetch maps code 10 to New.
	w = doJSON(t, mux, http.MethodGet, "/v1/shipments/ORD-20260101-00001", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec model.ShipmentRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, model.StatusNew, rec.Status)

	// Webhook with terminal code 6 completes the shipment.
	w = doJSON(t, mux, http.MethodPost, "/webhook/shipping/shadda", map[string]any{"orderId": "ORD-20260101-00001", "status": 6})
	require.Equal(t, http.StatusOK, w.Code)
	got, err := mem.GetShipmentByDSPOrderID(context.Background(), "ORD-20260101-00001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	order, _ := mem.GetOrderByNumber(context.Background(), "ORD-20260101-00001")
	assert.Equal(t, model.StatusCompleted, order.ShippingStatus)
}

func TestDispatchHandlerValidation(t *testing.T) {
	s, mem := newTestServer(t, "leajlak", leajlakStub(t, nil))
	mux := s.Routes()

	// No order reference.
	w := doJSON(t, mux, http.MethodPost, "/v1/shipments/dispatch", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown order.
	w = doJSON(t, mux, http.MethodPost, "/v1/shipments/dispatch", map[string]any{"orderNumber": "ORD-NOPE"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Order missing delivery fields fails before any provider call.
	o := mem.SeedOrder(model.Order{OrderNumber: "ORD-BAD", Total: 10})
	w = doJSON(t, mux, http.MethodPost, "/v1/shipments/dispatch", map[string]any{"orderId": o.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var prob Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prob))
	assert.Equal(t, "Dispatch failed", prob.Title)
}

func TestDispatchHandlerForbiddenForNonOperators(t *testing.T) {
	s, _ := newTestServer(t, "leajlak", leajlakStub(t, nil))
	mux := s.Routes()
	req := httptest.NewRequest(http.MethodPost, "/v1/shipments/dispatch", strings.NewReader(`{}`))
	req.Header.Set("X-Role", "viewer")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// leajlakStub returns a Leajlak client pointed at a stub upstream; handler
// nil means every call answers 200 with a fixed id.
func leajlakStub(t *testing.T, handler http.HandlerFunc) *provider.Leajlak {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"order_id":"LJK-1","status":"new"}`))
		}
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return provider.NewLeajlak(config.LeajlakConfig{BaseURL: srv.URL, APIKey: "k", SendJSON: true, CancelViaDelete: true}, testConfig(), zerolog.Nop())
}

func TestCancelHandlerConflict(t *testing.T) {
	s, mem := newTestServer(t, "leajlak", leajlakStub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"cannot cancel, courier picked the order"}`))
			return
		}
		_, _ = w.Write([]byte(`{"order_id":"LJK-1","status":"new"}`))
	}))
	mux := s.Routes()
	o := seedDispatchable(mem, "ORD-20260101-00003")
	w := doJSON(t, mux, http.MethodPost, "/v1/shipments/dispatch", map[string]any{"orderId": o.ID})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, mux, http.MethodPost, "/v1/shipments/LJK-1/cancel", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	var resp struct {
		Cancelled bool                 `json:"cancelled"`
		Failure   *model.CancelFailure `json:"failure"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Cancelled)
	require.NotNil(t, resp.Failure)
	assert.Equal(t, model.CancelAlreadyInTransit, resp.Failure.Category)

	rec, _ := mem.GetShipmentByDSPOrderID(context.Background(), "LJK-1")
	assert.NotEqual(t, model.StatusCancelled, rec.Status)
}

func TestCancelHandlerNotFound(t *testing.T) {
	s, _ := newTestServer(t, "leajlak", leajlakStub(t, nil))
	w := doJSON(t, s.Routes(), http.MethodPost, "/v1/shipments/NOPE/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListShipmentsHandler(t *testing.T) {
	s, mem := newTestServer(t, "leajlak", leajlakStub(t, nil))
	for _, id := range []string{"A-1", "A-2", "A-3"} {
		_, err := mem.InsertShipment(context.Background(), model.ShipmentRecord{DSPOrderID: id, Status: model.StatusNew})
		require.NoError(t, err)
	}
	w := doJSON(t, s.Routes(), http.MethodGet, "/v1/shipments?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Items      []model.ShipmentRecord `json:"items"`
		NextCursor string                 `json:"nextCursor"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Items, 2)
	assert.NotEmpty(t, resp.NextCursor)

	w = doJSON(t, s.Routes(), http.MethodGet, "/v1/shipments?limit=2&cursor="+resp.NextCursor, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Items, 1)
}

func TestWebhookHandlerUnknownProvider(t *testing.T) {
	s, _ := newTestServer(t, "leajlak", leajlakStub(t, nil))
	w := doJSON(t, s.Routes(), http.MethodPost, "/webhook/shipping/pigeon", map[string]any{"id": "X"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookHandlerMissingIDStill200(t *testing.T) {
	s, _ := newTestServer(t, "leajlak", leajlakStub(t, nil))
	w := doJSON(t, s.Routes(), http.MethodPost, "/webhook/shipping/leajlak", map[string]any{"status": "delivered"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["received"])
	assert.Equal(t, false, resp["applied"])
}

func TestGenericWebhookHandler(t *testing.T) {
	s, _ := newTestServer(t, "leajlak", leajlakStub(t, nil))
	w := doJSON(t, s.Routes(), http.MethodPost, "/webhook/generic", map[string]any{"anything": "goes"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["received"])
	assert.NotEmpty(t, resp["receiptId"])
}

func TestSettingsHandler(t *testing.T) {
	cfg := testConfig()
	shadda := provider.NewShadda(config.ShaddaConfig{BaseURL: "http://unused"}, cfg, zerolog.Nop())
	s, mem := newTestServer(t, "leajlak", leajlakStub(t, nil), shadda)
	mux := s.Routes()

	w := doJSON(t, mux, http.MethodGet, "/v1/settings/shipping", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "leajlak", resp["defaultProvider"])

	w = doJSON(t, mux, http.MethodPut, "/v1/settings/shipping", map[string]any{"defaultProvider": "Shadda"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "shadda", s.Registry.DefaultName())
	v, err := mem.GetSetting(context.Background(), settingDefaultProvider)
	require.NoError(t, err)
	assert.Equal(t, "shadda", v, "setting persists in the store")

	w = doJSON(t, mux, http.MethodPut, "/v1/settings/shipping", map[string]any{"defaultProvider": "pigeon"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// PUT requires admin.
	req := httptest.NewRequest(http.MethodPut, "/v1/settings/shipping", strings.NewReader(`{"defaultProvider":"leajlak"}`))
	req.Header.Set("X-Role", "operator")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	s, _ := newTestServer(t, "leajlak", leajlakStub(t, nil))
	mux := s.Routes()
	assert.Equal(t, http.StatusOK, doJSON(t, mux, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(t, mux, http.MethodGet, "/readyz", nil).Code)
}

func TestStreamHandlerSSE(t *testing.T) {
	s, mem := newTestServer(t, "leajlak", leajlakStub(t, nil))
	_, err := mem.InsertShipment(context.Background(), model.ShipmentRecord{DSPOrderID: "SSE-1", Status: model.StatusNew})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/shipments/stream?dspId=SSE-1", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the subscription a moment, then publish.
	time.Sleep(100 * time.Millisecond)
	s.Broker.Publish("SSE-1", SSEEvent{Type: "shipment.update", Data: map[string]any{"status": model.StatusAccepted}})

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	assert.Equal(t, "event: shipment.update", eventLine)
	assert.Contains(t, dataLine, model.StatusAccepted)
	cancel()
}

func TestTrackWebsocket(t *testing.T) {
	s, mem := newTestServer(t, "leajlak", leajlakStub(t, nil))
	_, err := mem.InsertShipment(context.Background(), model.ShipmentRecord{DSPOrderID: "WS-1", Status: model.StatusNew})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/shipments/WS-1/track"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	// First frame is the snapshot.
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frame struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "shipment.snapshot", frame.Type)
	assert.Equal(t, "WS-1", frame.Data["dspOrderId"])

	s.Broker.Publish("WS-1", SSEEvent{Type: "shipment.update", Data: map[string]any{"status": model.StatusAtDelivery}})
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "shipment.update", frame.Type)
	assert.Equal(t, model.StatusAtDelivery, frame.Data["status"])

	// Tracking an unknown shipment refuses the upgrade.
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/shipments/NOPE/track", nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
}

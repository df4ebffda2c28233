package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipsync/internal/config"
	"shipsync/internal/model"
)

func shaddaForTest(t *testing.T, srv *httptest.Server) *Shadda {
	t.Helper()
	cfg := config.ShaddaConfig{BaseURL: srv.URL, ClientID: "client-77", SecretKey: "shh", ChaseAfterWebhook: true}
	return NewShadda(cfg, testShared(), zerolog.Nop())
}

func TestShaddaCreateOrder(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/CreateOrder", r.URL.Path)
		require.Equal(t, "client-77", r.Header.Get("client-id"))
		require.Equal(t, "Bearer shh", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"data":{"success":true}}`))
	}))
	defer srv.Close()

	o := sampleOrder()
	o.ScheduledFor = "2026-01-01 14:30"
	res := shaddaForTest(t, srv).CreateOrder(context.Background(), o)
	require.NotNil(t, res)
	assert.Equal(t, o.OrderNumber, res.DSPOrderID, "submitted order number doubles as the shipment id")
	assert.Equal(t, model.StatusNew, res.ShippingStatus)

	assert.Equal(t, "ORD-20260101-00001", got["orderNumber"])
	assert.Equal(t, "305", got["branchId"])
	assert.Equal(t, "0551234567", got["customerMobile"])
	assert.Equal(t, "card", got["paymentMethod"], "wire payment method is always card")
	assert.Equal(t, "2026-01-01 14:30", got["pickupDatetime"])
}

func TestShaddaDefaultShop(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	o := sampleOrder()
	o.ShopID = ""
	res := shaddaForTest(t, srv).CreateOrder(context.Background(), o)
	require.NotNil(t, res)
	assert.Equal(t, "11183", got["branchId"])
	assert.Equal(t, "11183", res.ShopID)
}

func TestShaddaGetOrderStatus(t *testing.T) {
	// GetOrder carries the numeric code in statusId and flat driver fields.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/GetOrder/ORD-20260101-00001", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":{"orderId":"ORD-20260101-00001","statusId":4,"statusDesc":"On the way","driverName":"Fahad","driverMobile":"0561112223","driverLatitude":24.70,"driverLongitude":"46.65"}}`))
	}))
	defer srv.Close()

	u := shaddaForTest(t, srv).GetOrderStatus(context.Background(), "ORD-20260101-00001")
	require.NotNil(t, u)
	assert.Equal(t, "ORD-20260101-00001", u.DSPOrderID)
	assert.Equal(t, model.StatusEnRouteToDelivery, u.Status)
	assert.Equal(t, "Fahad", u.Driver.Name)
	assert.Equal(t, "0561112223", u.Driver.Phone)
	require.NotNil(t, u.Driver.Longitude)
	assert.InDelta(t, 46.65, *u.Driver.Longitude, 1e-9)
}

func TestShaddaGetOrderStatusDescFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"orderId":"ORD-9","statusDesc":"Delivered"}}`))
	}))
	defer srv.Close()

	u := shaddaForTest(t, srv).GetOrderStatus(context.Background(), "ORD-9")
	require.NotNil(t, u)
	assert.Equal(t, model.StatusCompleted, u.Status, "statusDesc text maps when no code key is present")
}

func TestShaddaCancelOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/CancelOrder", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		require.Equal(t, "ORD-1", req["orderId"])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ok, fail := shaddaForTest(t, srv).CancelOrder(context.Background(), "ORD-1")
	assert.True(t, ok)
	assert.Nil(t, fail)
}

func TestShaddaCancelRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"order already picked by courier"}`))
	}))
	defer srv.Close()

	ok, fail := shaddaForTest(t, srv).CancelOrder(context.Background(), "ORD-1")
	assert.False(t, ok)
	require.NotNil(t, fail)
	assert.Equal(t, model.CancelAlreadyInTransit, fail.Category)
}

func TestShaddaParseWebhook(t *testing.T) {
	s := shaddaForTest(t, httptest.NewUnstartedServer(nil))

	u := s.ParseWebhook([]byte(`{"orderId":"ORD-5","status":6}`))
	require.NotNil(t, u)
	assert.Equal(t, model.StatusCompleted, u.Status)
	assert.True(t, s.WebhookChase(), "shadda webhooks are chased with a status poll")

	u = s.ParseWebhook([]byte(`{"data":{"orderId":"ORD-5","status":99}}`))
	require.NotNil(t, u)
	assert.Equal(t, model.StatusUnknown, u.Status, "unrecognized code maps to Unknown, not an error")
}

func TestShaddaWebhookNestedDriver(t *testing.T) {
	s := shaddaForTest(t, httptest.NewUnstartedServer(nil))

	u := s.ParseWebhook([]byte(`{"orderId":"ORD-7","statusCode":5,"driver":{"driverName":"Omar","mobile":"0501234567","lat":24.6,"location":{"longitude":46.7}}}`))
	require.NotNil(t, u)
	assert.Equal(t, model.StatusAtDelivery, u.Status)
	assert.Equal(t, "Omar", u.Driver.Name)
	assert.Equal(t, "0501234567", u.Driver.Phone)
	require.NotNil(t, u.Driver.Latitude)
	assert.InDelta(t, 24.6, *u.Driver.Latitude, 1e-9)
	require.NotNil(t, u.Driver.Longitude)
	assert.InDelta(t, 46.7, *u.Driver.Longitude, 1e-9)
}

func TestShaddaUnconfiguredSkipsNetwork(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer srv.Close()

	cfg := config.ShaddaConfig{BaseURL: srv.URL} // no client id / secret
	s := NewShadda(cfg, testShared(), zerolog.Nop())

	assert.Nil(t, s.CreateOrder(context.Background(), sampleOrder()))
	assert.Nil(t, s.GetOrderStatus(context.Background(), "ORD-1"))
	ok, fail := s.CancelOrder(context.Background(), "ORD-1")
	assert.False(t, ok)
	assert.Nil(t, fail)
	assert.Zero(t, calls, "unconfigured client must not touch the network")
}

func TestShaddaStatusCodes(t *testing.T) {
	cases := map[any]string{
		float64(10): model.StatusNew,
		float64(1):  model.StatusAccepted,
		float64(2):  model.StatusEnRouteToPickup,
		float64(3):  model.StatusAtPickup,
		float64(4):  model.StatusEnRouteToDelivery,
		float64(5):  model.StatusAtDelivery,
		float64(6):  model.StatusCompleted,
		float64(7):  model.StatusCancelled,
		"6":         model.StatusCompleted,
		float64(42): model.StatusUnknown,
	}
	for in, want := range cases {
		if got := shaddaStatus(in); got != want {
			t.Errorf("shaddaStatus(%v) = %q, want %q", in, got, want)
		}
	}
	if shaddaStatus(nil) != "" {
		t.Error("missing status must stay empty")
	}
}

package provider

import (
	"testing"

	"shipsync/internal/model"
)

func TestPaymentTypeCode(t *testing.T) {
	cases := map[string]int{
		"cash":    1,
		"Cash":    1,
		"machine": 10,
		"card":    10,
		"online":  10,
		"":        0,
		"voucher": 0,
		"CRYPTO":  0,
		"MACHINE": 10,
	}
	for method, want := range cases {
		if got := PaymentTypeCode(method); got != want {
			t.Errorf("PaymentTypeCode(%q) = %d, want %d", method, got, want)
		}
	}
}

func TestClassifyCancelFailure(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"Order is already in transit", model.CancelAlreadyInTransit},
		{"order PICKED up by driver", model.CancelAlreadyInTransit},
		{"Cannot cancel at this stage", model.CancelAlreadyInTransit},
		{"internal server error", model.CancelFailed},
		{"", model.CancelFailed},
	}
	for _, tc := range tests {
		f := ClassifyCancelFailure(422, tc.message, map[string]any{"message": tc.message})
		if f.Category != tc.want {
			t.Errorf("ClassifyCancelFailure(%q) category = %s, want %s", tc.message, f.Category, tc.want)
		}
		if f.StatusCode != 422 {
			t.Errorf("status code = %d, want 422", f.StatusCode)
		}
	}
}

func TestExtractShipmentID(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{"top level dsp", map[string]any{"dsp_order_id": "DSP-1"}, "DSP-1"},
		{"top level order_id", map[string]any{"order_id": "X9"}, "X9"},
		{"camel orderId", map[string]any{"orderId": "C3"}, "C3"},
		{"numeric id", map[string]any{"id": float64(4411)}, "4411"},
		{"data envelope", map[string]any{"data": map[string]any{"order_id": "D-7"}}, "D-7"},
		{"result envelope", map[string]any{"result": map[string]any{"id": "R-2"}}, "R-2"},
		{"top wins over envelope", map[string]any{"id": "TOP", "data": map[string]any{"id": "INNER"}}, "TOP"},
		{"nothing", map[string]any{"status": "ok"}, ""},
	}
	for _, tc := range tests {
		if got := ExtractShipmentID(tc.payload); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestRegistryResolve(t *testing.T) {
	a := &fakeClient{name: "leajlak"}
	b := &fakeClient{name: "shadda"}
	reg := NewRegistry("shadda", a, b)

	if c, err := reg.Resolve("LEAJLAK"); err != nil || c.Name() != "leajlak" {
		t.Fatalf("case-insensitive resolve failed: %v", err)
	}
	if c, err := reg.Resolve(""); err != nil || c.Name() != "shadda" {
		t.Fatalf("default resolve failed: %v", err)
	}
	if _, err := reg.Resolve("aramex"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if err := reg.SetDefault("bogus"); err == nil {
		t.Fatal("expected error setting unknown default")
	}
	if err := reg.SetDefault("Leajlak"); err != nil || reg.DefaultName() != "leajlak" {
		t.Fatalf("SetDefault failed: %v", err)
	}
}

func TestRegistryUnknownDefaultFallsBack(t *testing.T) {
	reg := NewRegistry("nonsense", &fakeClient{name: "leajlak"}, &fakeClient{name: "shadda"})
	if reg.DefaultName() != "leajlak" {
		t.Fatalf("default = %s, want leajlak", reg.DefaultName())
	}
}

func TestValidateDispatch(t *testing.T) {
	ok := model.Order{
		OrderNumber:     "ORD-20260101-00001",
		DeliveryName:    "Sara",
		DeliveryPhone:   "0551234567",
		DeliveryAddress: "12 Olaya St",
		Total:           42.5,
	}
	if err := ValidateDispatch(ok); err != nil {
		t.Fatalf("valid order rejected: %v", err)
	}
	missing := ok
	missing.DeliveryName = ""
	if err := ValidateDispatch(missing); err == nil {
		t.Fatal("expected error for missing delivery name")
	}
	badLat := ok
	lat := 212.0
	badLat.CustomerLatitude = &lat
	if err := ValidateDispatch(badLat); err == nil {
		t.Fatal("expected error for out-of-range latitude")
	}
	negative := ok
	negative.Total = -1
	if err := ValidateDispatch(negative); err == nil {
		t.Fatal("expected error for negative total")
	}
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"shipsync/internal/engine"
	"shipsync/internal/model"
	"shipsync/internal/store"
)

// DispatchHandler handles POST /v1/shipments/dispatch. The body names the
// order by id or number; dispatching an already-dispatched order is a no-op
// answered with the existing shipment.
func (s *Server) DispatchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsOperator() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "operator or admin required", r.URL.Path)
		return
	}
	var req struct {
		OrderID     int64  `json:"orderId"`
		OrderNumber string `json:"orderNumber"`
		Provider    string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	var o model.Order
	var err error
	switch {
	case req.OrderID != 0:
		o, err = s.Store.GetOrderByID(r.Context(), req.OrderID)
	case req.OrderNumber != "":
		o, err = s.Store.GetOrderByNumber(r.Context(), req.OrderNumber)
	default:
		writeProblem(w, http.StatusBadRequest, "Invalid request", "orderId or orderNumber required", r.URL.Path)
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Order not found", "", r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Order lookup failed", err.Error(), r.URL.Path)
		return
	}
	if req.Provider != "" {
		o.Provider = req.Provider
	}
	res, created, err := s.Engine.Dispatch(r.Context(), o)
	if err != nil {
		status := http.StatusBadGateway
		if !errors.Is(err, engine.ErrProviderFailed) {
			status = http.StatusUnprocessableEntity
		}
		writeProblem(w, status, "Dispatch failed", err.Error(), r.URL.Path)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, map[string]any{"result": res, "created": created})
}

// ShipmentsHandler handles GET /v1/shipments
func (s *Server) ShipmentsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsOperator() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "operator or admin required", r.URL.Path)
		return
	}
	status := r.URL.Query().Get("status")
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListShipments(r.Context(), status, cursor, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List shipments failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// ShipmentByIDHandler routes /v1/shipments/{dspId}, .../cancel, .../track
func (s *Server) ShipmentByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/shipments/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeProblem(w, http.StatusNotFound, "Not found", "", r.URL.Path)
		return
	}
	dspID := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.getShipment(w, r, dspID)
	case len(parts) == 2 && parts[1] == "cancel" && r.Method == http.MethodPost:
		s.cancelShipment(w, r, dspID)
	case len(parts) == 2 && parts[1] == "track" && r.Method == http.MethodGet:
		s.TrackWSHandler(w, r, dspID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// getShipment refreshes the record from the provider and returns it. A
// failed provider poll still answers with the last stored state.
func (s *Server) getShipment(w http.ResponseWriter, r *http.Request, dspID string) {
	p := s.getPrincipal(r)
	if !p.IsOperator() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "operator or admin required", r.URL.Path)
		return
	}
	rec, err := s.Engine.Refresh(r.Context(), dspID)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Shipment not found", "", r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Shipment lookup failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) cancelShipment(w http.ResponseWriter, r *http.Request, dspID string) {
	p := s.getPrincipal(r)
	if !p.IsOperator() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "operator or admin required", r.URL.Path)
		return
	}
	ok, failure, err := s.Engine.Cancel(r.Context(), dspID)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Shipment not found", "", r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Cancel failed", err.Error(), r.URL.Path)
		return
	}
	if ok {
		writeJSON(w, http.StatusOK, map[string]any{"cancelled": true, "dspOrderId": dspID, "status": model.StatusCancelled})
		return
	}
	if failure != nil {
		code := http.StatusConflict
		if failure.Category == model.CancelFailed {
			code = http.StatusBadGateway
		}
		writeJSON(w, code, map[string]any{"cancelled": false, "failure": failure})
		return
	}
	writeProblem(w, http.StatusBadGateway, "Cancel failed", "provider unreachable", r.URL.Path)
}

// StreamHandler handles GET /v1/shipments/stream?dspId= with SSE.
func (s *Server) StreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	dspID := r.URL.Query().Get("dspId")
	if dspID == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid request", "dspId required", r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.Broker.Subscribe(dspID)
	defer s.Broker.Unsubscribe(dspID, ch)
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case evt, open := <-ch:
			if !open {
				return
			}
			data, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// ShippingWebhookHandler handles POST /webhook/shipping/{provider}. Always
// answers 200 for known providers so they do not retry forever; updates that
// cannot be applied are logged server-side.
func (s *Server) ShippingWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	providerName := strings.Trim(strings.TrimPrefix(r.URL.Path, "/webhook/shipping/"), "/")
	if providerName == "" {
		writeProblem(w, http.StatusNotFound, "Not found", "", r.URL.Path)
		return
	}
	if _, err := s.Registry.Resolve(providerName); err != nil {
		writeProblem(w, http.StatusNotFound, "Unknown provider", err.Error(), r.URL.Path)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Read failed", err.Error(), r.URL.Path)
		return
	}
	applied := s.Engine.HandleWebhook(r.Context(), providerName, body)
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "applied": applied})
}

// GenericWebhookHandler handles POST /webhook/generic: a log-only sink for
// integrations under development. Echoes a receipt id.
func (s *Server) GenericWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Read failed", err.Error(), r.URL.Path)
		return
	}
	id := uuid.New().String()
	s.Log.Info().Str("receiptId", id).Str("contentType", r.Header.Get("Content-Type")).
		Int("bytes", len(body)).Str("body", truncateBody(body, 2048)).Msg("generic webhook received")
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "receiptId": id, "bytes": len(body)})
}

func truncateBody(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}

// SettingsHandler handles GET/PUT /v1/settings/shipping. The default
// provider setting persists and survives restarts.
func (s *Server) SettingsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodGet:
		if !p.IsOperator() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "operator or admin required", r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"defaultProvider": s.Registry.DefaultName(),
			"providers":       s.Registry.Names(),
		})
	case http.MethodPut:
		if !p.IsAdmin() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
			return
		}
		var req struct {
			DefaultProvider string `json:"defaultProvider"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := s.Registry.SetDefault(req.DefaultProvider); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid provider", err.Error(), r.URL.Path)
			return
		}
		if err := s.Store.SetSetting(r.Context(), settingDefaultProvider, s.Registry.DefaultName()); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Persist failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"defaultProvider": s.Registry.DefaultName()})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// HealthHandler handles GET /healthz
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// ReadyHandler handles GET /readyz
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

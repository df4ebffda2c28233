package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// TrackWSHandler streams live updates for one shipment over a websocket,
// serving /v1/shipments/{dspId}/track. The first frame is the current record
// so clients render immediately; subsequent frames are broker events.
func (s *Server) TrackWSHandler(w http.ResponseWriter, r *http.Request, dspID string) {
	rec, err := s.Store.GetShipmentByDSPOrderID(r.Context(), dspID)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Shipment not found", "", r.URL.Path)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	_ = conn.WriteJSON(map[string]any{"type": "shipment.snapshot", "data": rec})

	ch := s.Broker.Subscribe(dspID)
	defer s.Broker.Unsubscribe(dspID, ch)

	// Reader goroutine: only to notice the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()
	for {
		select {
		case evt, open := <-ch:
			if !open {
				return
			}
			if err := conn.WriteJSON(map[string]any{"type": evt.Type, "data": evt.Data}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// Package main runs a demo WebSocket client for shipment tracking: it posts
// a webhook for a shipment and prints the live updates received on the track
// stream.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	dspID := os.Getenv("DSP_ORDER_ID")
	if dspID == "" {
		log.Fatal("DSP_ORDER_ID required")
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/shipments/" + dspID + "/track"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m map[string]any
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			data, _ := json.Marshal(m)
			log.Printf("WS <- %s", data)
		}
	}()

	// Simulate a provider webhook so an update flows through the stream.
	time.Sleep(500 * time.Millisecond)
	payload := fmt.Sprintf(`{"order_id":%q,"status":"in_transit","driver_name":"Demo Driver"}`, dspID)
	req, _ := http.NewRequest(http.MethodPost, base+"/webhook/shipping/leajlak", bytes.NewReader([]byte(payload)))
	req.Header.Set("Content-Type", "application/json")
	if _, err := http.DefaultClient.Do(req); err != nil {
		log.Printf("webhook: %v", err)
	}

	select {
	case <-time.After(3 * time.Second):
	case <-done:
	}
}

// Package api implements the HTTP surface of the shipping sync service.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"shipsync/internal/auth"
	"shipsync/internal/config"
	"shipsync/internal/engine"
	"shipsync/internal/provider"
	"shipsync/internal/store"
)

type Server struct {
	Store    store.Store
	Engine   *engine.Engine
	Registry *provider.Registry
	Auth     *auth.Verifier
	Broker   EventBroker
	Log      zerolog.Logger
}

// settingDefaultProvider is the app_settings key holding the operator-chosen
// default provider. Seeds the registry at startup, updated via the settings
// endpoint.
const settingDefaultProvider = "shipping.default_provider"

// NewServer wires store, broker, provider registry, and engine from config.
// Without DATABASE_URL the in-memory store serves; without REDIS_URL the
// in-process broker does.
func NewServer(cfg config.Config, log zerolog.Logger) (*Server, error) {
	var st store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		st = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		// Dev helper; production schemas are managed out of band.
		_ = sp.MigrateDir("db/migrations")
		st = sp
	}

	var broker EventBroker
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			broker = rb
		} else {
			log.Warn().Err(err).Msg("redis broker unavailable, using in-memory broker")
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	defaultProvider := cfg.DefaultProvider
	if v, err := st.GetSetting(context.Background(), settingDefaultProvider); err == nil && v != "" {
		defaultProvider = v
	}
	reg := provider.NewRegistry(defaultProvider,
		provider.NewLeajlak(cfg.Leajlak, cfg, log),
		provider.NewShadda(cfg.Shadda, cfg, log),
	)

	eng := engine.New(st, reg, brokerPublisher{broker}, log)
	return &Server{
		Store:    st,
		Engine:   eng,
		Registry: reg,
		Auth:     auth.NewVerifier(cfg.Auth),
		Broker:   broker,
		Log:      log,
	}, nil
}

// brokerPublisher adapts the event broker to the engine's publisher.
type brokerPublisher struct{ b EventBroker }

func (p brokerPublisher) PublishShipment(dspID string, event map[string]any) {
	p.b.Publish(dspID, SSEEvent{Type: "shipment.update", Data: event})
}

// Routes builds the service mux. Shared between main and the handler tests.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Shipments
	mux.HandleFunc("/v1/shipments", s.ShipmentsHandler)
	mux.HandleFunc("/v1/shipments/dispatch", s.DispatchHandler)
	mux.HandleFunc("/v1/shipments/stream", s.StreamHandler)
	mux.HandleFunc("/v1/shipments/", s.ShipmentByIDHandler) // includes /cancel, /track

	// Inbound provider webhooks (public by contract)
	mux.HandleFunc("/webhook/shipping/", s.ShippingWebhookHandler)
	mux.HandleFunc("/webhook/generic", s.GenericWebhookHandler)

	// Settings
	mux.HandleFunc("/v1/settings/shipping", s.SettingsHandler)

	// Health
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	return mux
}

// getPrincipal extracts the caller from a bearer token, falling back to the
// X-Role header for local development.
func (s *Server) getPrincipal(r *http.Request) auth.Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return pr
		}
	}
	role := r.Header.Get("X-Role")
	if role == "" {
		role = "admin"
	}
	return auth.Principal{Role: strings.ToLower(role)}
}

package engine

import (
	"context"
	"time"
)

// Poller periodically refreshes every non-terminal shipment through the
// provider status endpoints, feeding results into the same reconciliation
// path webhooks use. It backs up webhook delivery: a lost webhook only
// delays an update until the next sweep.
type Poller struct {
	Engine   *Engine
	Interval time.Duration
	Batch    int
	Stop     chan struct{}
}

func NewPoller(e *Engine, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{Engine: e, Interval: interval, Batch: 200, Stop: make(chan struct{})}
}

// Start launches the polling loop. Call close(p.Stop) to halt it.
func (p *Poller) Start() {
	go func() {
		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.ProcessOnce(context.Background())
			case <-p.Stop:
				return
			}
		}
	}()
}

// ProcessOnce runs a single sweep. Exported so tests and the readiness
// endpoint can drive it directly.
func (p *Poller) ProcessOnce(ctx context.Context) int {
	e := p.Engine
	open, err := e.Store.ListOpenShipments(ctx, p.Batch)
	if err != nil {
		e.Log.Error().Err(err).Msg("poller list failed")
		return 0
	}
	applied := 0
	for _, rec := range open {
		client, err := e.Registry.Resolve(rec.Provider)
		if err != nil {
			// Record predates this deployment or was written by hand; skip
			// rather than spam a provider we cannot name.
			continue
		}
		if u := client.GetOrderStatus(ctx, rec.DSPOrderID); u != nil {
			e.ApplyUpdate(ctx, client.Name(), *u, "poll")
			applied++
		}
		select {
		case <-p.Stop:
			return applied
		default:
		}
	}
	return applied
}

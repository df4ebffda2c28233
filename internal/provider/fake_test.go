package provider

import (
	"context"

	"shipsync/internal/model"
)

// fakeClient is a scriptable Client for registry and engine-adjacent tests.
type fakeClient struct {
	name        string
	createRes   *model.ShipmentResult
	statusRes   *model.StatusUpdate
	cancelOK    bool
	cancelFail  *model.CancelFailure
	chase       bool
	createCalls int
	statusCalls int
	cancelCalls int
}

func (f *fakeClient) Name() string       { return f.name }
func (f *fakeClient) WebhookChase() bool { return f.chase }

func (f *fakeClient) CreateOrder(_ context.Context, _ model.Order) *model.ShipmentResult {
	f.createCalls++
	return f.createRes
}

func (f *fakeClient) GetOrderStatus(_ context.Context, _ string) *model.StatusUpdate {
	f.statusCalls++
	return f.statusRes
}

func (f *fakeClient) CancelOrder(_ context.Context, _ string) (bool, *model.CancelFailure) {
	f.cancelCalls++
	return f.cancelOK, f.cancelFail
}

func (f *fakeClient) ParseWebhook(body []byte) *model.StatusUpdate { return f.statusRes }

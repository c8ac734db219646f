package lifecycle

import (
	"context"
	"time"

	"github.com/AnuragDani/subscription-billing/internal/gateway"
	"github.com/AnuragDani/subscription-billing/internal/logger"
	"github.com/AnuragDani/subscription-billing/internal/metrics"
	"github.com/AnuragDani/subscription-billing/internal/models"
)

// GatewaySync mirrors committed local transitions to the external gateway.
// Local state is authoritative: sync failures are logged and counted for
// out-of-band reconciliation and never undo the local change.
type GatewaySync struct {
	gw      gateway.Gateway
	timeout time.Duration
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewGatewaySync(gw gateway.Gateway, timeout time.Duration, log *logger.Logger, m *metrics.Metrics) *GatewaySync {
	return &GatewaySync{gw: gw, timeout: timeout, log: log, metrics: m}
}

func (g *GatewaySync) Cancel(ctx context.Context, sub *models.Subscription) {
	if g == nil {
		return
	}
	syncer, ok := g.gw.(gateway.CancelSyncer)
	if !ok {
		return
	}
	g.run(ctx, sub, "cancel", syncer.CancelSubscription)
}

func (g *GatewaySync) Pause(ctx context.Context, sub *models.Subscription) {
	if g == nil {
		return
	}
	syncer, ok := g.gw.(gateway.PauseSyncer)
	if !ok {
		return
	}
	g.run(ctx, sub, "pause", syncer.PauseSubscription)
}

func (g *GatewaySync) Resume(ctx context.Context, sub *models.Subscription) {
	if g == nil {
		return
	}
	syncer, ok := g.gw.(gateway.PauseSyncer)
	if !ok {
		return
	}
	g.run(ctx, sub, "resume", syncer.ResumeSubscription)
}

func (g *GatewaySync) run(ctx context.Context, sub *models.Subscription, action string, fn func(context.Context, string) error) {
	if sub.IsLocalOnly() {
		return
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := fn(ctx, sub.GatewaySubscriptionRef); err != nil {
		g.log.Error("gateway sync failed, local state kept",
			"action", action,
			"subscription_id", sub.ID,
			"gateway_subscription_ref", sub.GatewaySubscriptionRef,
			"error", err)
		g.metrics.IncGatewaySyncFailure(action)
	}
}

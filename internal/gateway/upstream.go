package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/sensorgw/internal/infrastructure/config"
	"github.com/nerrad567/sensorgw/internal/infrastructure/mqtt"
)

// StartUpstream connects to the broker and subscribes to the startup
// subscriptions.
//
// A refused subscription ends the broker session, so it is returned as
// ErrUpstreamFailed. Other subscribe failures (write errors, a missing
// SUBACK) are logged and the connection is kept.
func (g *Gateway) StartUpstream(ctx context.Context) error {
	g.upstreamMu.Lock()
	defer g.upstreamMu.Unlock()

	select {
	case <-g.done:
		return ErrStopped
	default:
	}

	return g.startUpstream(ctx)
}

// StopUpstream unsubscribes and disconnects. The unsubscribe is best-effort:
// its failure never prevents the disconnect.
func (g *Gateway) StopUpstream(ctx context.Context) {
	g.upstreamMu.Lock()
	defer g.upstreamMu.Unlock()

	g.stopUpstream(ctx)
}

// ToggleUpstream stops a running upstream link or starts a stopped one.
// It reports whether the link is up afterwards.
func (g *Gateway) ToggleUpstream(ctx context.Context) (bool, error) {
	g.upstreamMu.Lock()
	defer g.upstreamMu.Unlock()

	if g.broker.IsConnected() {
		g.stopUpstream(ctx)
		return false, nil
	}

	select {
	case <-g.done:
		return false, ErrStopped
	default:
	}

	if err := g.startUpstream(ctx); err != nil {
		return g.broker.IsConnected(), err
	}
	return g.broker.IsConnected(), nil
}

// startUpstream must be called with upstreamMu held.
func (g *Gateway) startUpstream(ctx context.Context) error {
	if g.broker.IsConnected() {
		return nil
	}

	if err := g.broker.Connect(ctx); err != nil {
		g.logError("upstream connect failed", "error", err)
		return fmt.Errorf("%w: %w", ErrUpstreamFailed, err)
	}
	g.logInfo("upstream connected")

	if err := g.broker.Subscribe(ctx, g.subs...); err != nil {
		if errors.Is(err, mqtt.ErrSubscribeRejected) {
			g.logError("startup subscription rejected, upstream closed", "error", err)
			return fmt.Errorf("%w: %w", ErrUpstreamFailed, err)
		}
		g.logWarn("startup subscription failed", "error", err)
		return nil
	}
	for _, sub := range g.subs {
		g.logInfo("subscribed", "topic", sub.Topic, "qos", sub.QoS)
	}
	return nil
}

// stopUpstream must be called with upstreamMu held.
func (g *Gateway) stopUpstream(ctx context.Context) {
	if !g.broker.IsConnected() {
		return
	}

	if err := g.broker.Unsubscribe(ctx); err != nil {
		g.logDebug("unsubscribe failed during upstream stop", "error", err)
	}
	if err := g.broker.Disconnect(); err != nil {
		g.logWarn("upstream disconnect failed", "error", err)
		return
	}
	g.logInfo("upstream disconnected")
}

// startupSubscriptions returns the configured subscription list, or the
// sensor topic at QoS 0 when none is configured.
func startupSubscriptions(cfg config.MQTTConfig) []mqtt.Subscription {
	if len(cfg.Subscriptions) == 0 {
		return []mqtt.Subscription{{Topic: mqtt.NewTopics(cfg).Sensors(), QoS: 0}}
	}

	subs := make([]mqtt.Subscription, 0, len(cfg.Subscriptions))
	for _, s := range cfg.Subscriptions {
		subs = append(subs, mqtt.Subscription{Topic: s.Topic, QoS: byte(s.QoS)}) //nolint:gosec // validated 0..2
	}
	return subs
}

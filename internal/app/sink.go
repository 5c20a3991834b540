package app

import (
	"context"

	"github.com/mbd888/computeledger/internal/events"
	"github.com/mbd888/computeledger/internal/metrics"
	"github.com/mbd888/computeledger/internal/providers"
	"github.com/mbd888/computeledger/internal/rewards"
)

// metricsSink turns committed events into domain counters. It only sees
// committed operations, so rejected slashes or settlements are never counted.
type metricsSink struct{}

func (metricsSink) Publish(_ context.Context, evs []events.Event) {
	for _, ev := range evs {
		switch {
		case ev.Module == providers.ModuleName && ev.Type == providers.EventTypeProviderRegistered:
			metrics.RegisteredProviders.Inc()
		case ev.Module == providers.ModuleName && ev.Type == providers.EventTypeStakeWithdrawn:
			metrics.RegisteredProviders.Dec()
		case ev.Module == providers.ModuleName && ev.Type == providers.EventTypeProviderSlashed:
			metrics.SlashesTotal.WithLabelValues(ev.Attr(events.AttributeKeyReason)).Inc()
		case ev.Module == rewards.ModuleName && ev.Type == rewards.EventTypeBatchSettled:
			metrics.BatchesSettledTotal.Inc()
		}
	}
}

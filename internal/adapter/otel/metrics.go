package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "agentfleet"

// Metrics holds all fleet metric instruments.
type Metrics struct {
	AgentsCreated    metric.Int64Counter
	AgentsDeleted    metric.Int64Counter
	MessagesSent     metric.Int64Counter
	MessageFailures  metric.Int64Counter
	Recoveries       metric.Int64Counter
	ScaleEvents      metric.Int64Counter
	FleetSize        metric.Int64UpDownCounter
	MessageDuration  metric.Float64Histogram
	QuickQueryHits   metric.Int64Counter
	QuickQueryMisses metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.AgentsCreated, err = meter.Int64Counter("agentfleet.agents.created",
		metric.WithDescription("Number of agents created"))
	if err != nil {
		return nil, err
	}

	m.AgentsDeleted, err = meter.Int64Counter("agentfleet.agents.deleted",
		metric.WithDescription("Number of agents deleted"))
	if err != nil {
		return nil, err
	}

	m.MessagesSent, err = meter.Int64Counter("agentfleet.messages.sent",
		metric.WithDescription("Number of message exchanges completed"))
	if err != nil {
		return nil, err
	}

	m.MessageFailures, err = meter.Int64Counter("agentfleet.messages.failed",
		metric.WithDescription("Number of message exchanges failed"))
	if err != nil {
		return nil, err
	}

	m.Recoveries, err = meter.Int64Counter("agentfleet.recoveries",
		metric.WithDescription("Number of agent recovery attempts"))
	if err != nil {
		return nil, err
	}

	m.ScaleEvents, err = meter.Int64Counter("agentfleet.scale.events",
		metric.WithDescription("Number of autoscaler actions"))
	if err != nil {
		return nil, err
	}

	m.FleetSize, err = meter.Int64UpDownCounter("agentfleet.fleet.size",
		metric.WithDescription("Current number of registered agents"))
	if err != nil {
		return nil, err
	}

	m.MessageDuration, err = meter.Float64Histogram("agentfleet.message.duration_seconds",
		metric.WithDescription("Message exchange duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.QuickQueryHits, err = meter.Int64Counter("agentfleet.quickquery.cache_hits",
		metric.WithDescription("Quick query responses served from cache"))
	if err != nil {
		return nil, err
	}

	m.QuickQueryMisses, err = meter.Int64Counter("agentfleet.quickquery.cache_misses",
		metric.WithDescription("Quick query responses requiring a session"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Package metrics wires up the process-wide OTel MeterProvider (stdout
// exporter by default, OTLP when configured) and the outbox instrument
// set. Nothing in the module calls Init or NewOutboxInstruments, and the
// outbox worker records no metrics. Modeled on the teacher's
// telemetry.Init()-delegates-to-global-provider pattern referenced by
// internal/storage/dolt/store.go's package-level doltMetrics.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Provider owns the process's MeterProvider and must be shut down on
// exit to flush any buffered readings.
type Provider struct {
	mp *sdkmetric.MeterProvider
}

// Init installs a global MeterProvider. otlpEndpoint empty selects the
// stdout exporter (the default, suited to local single-process runs);
// non-empty selects OTLP/HTTP for shipping to a collector.
func Init(ctx context.Context, otlpEndpoint string) (*Provider, error) {
	var reader sdkmetric.Reader

	if otlpEndpoint == "" {
		exp, err := stdoutmetric.New(stdoutmetric.WithoutTimestamps())
		if err != nil {
			return nil, fmt.Errorf("metrics: stdout exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(time.Minute))
	} else {
		exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(otlpEndpoint))
		if err != nil {
			return nil, fmt.Errorf("metrics: otlp exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	return &Provider{mp: mp}, nil
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.mp == nil {
		return nil
	}
	return p.mp.Shutdown(ctx)
}

// OutboxInstruments are the outbox counters (the vector worker does not
// hold or update them), registered at construction time against whatever MeterProvider is
// current (the global no-op until Init runs, same delegation as the
// teacher's package-level metric vars).
type OutboxInstruments struct {
	Claimed metric.Int64Counter
	Done    metric.Int64Counter
	Failed  metric.Int64Counter
	Retried metric.Int64Counter
}

func NewOutboxInstruments() (OutboxInstruments, error) {
	m := otel.Meter("github.com/cml-project/cml/outbox")
	var (
		out OutboxInstruments
		err error
	)
	if out.Claimed, err = m.Int64Counter("cml.outbox.claimed",
		metric.WithDescription("outbox rows claimed by the vector worker"), metric.WithUnit("{row}")); err != nil {
		return out, err
	}
	if out.Done, err = m.Int64Counter("cml.outbox.done",
		metric.WithDescription("outbox rows successfully embedded and upserted"), metric.WithUnit("{row}")); err != nil {
		return out, err
	}
	if out.Failed, err = m.Int64Counter("cml.outbox.failed",
		metric.WithDescription("outbox rows that failed embedding or upsert"), metric.WithUnit("{row}")); err != nil {
		return out, err
	}
	if out.Retried, err = m.Int64Counter("cml.outbox.retried",
		metric.WithDescription("failed outbox rows requeued to pending"), metric.WithUnit("{row}")); err != nil {
		return out, err
	}
	return out, nil
}

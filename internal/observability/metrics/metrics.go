package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	billingEvents   metric.Int64Counter
	accessDecisions metric.Int64Counter
	sbomUploads     metric.Int64Counter
	composeDuration metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "sbomify"
	}
	meter := provider.Meter(name)

	billingEvents, err := meter.Int64Counter("sbomify_billing_events_total")
	if err != nil {
		return nil, err
	}
	accessDecisions, err := meter.Int64Counter("sbomify_access_decisions_total")
	if err != nil {
		return nil, err
	}
	sbomUploads, err := meter.Int64Counter("sbomify_sbom_uploads_total")
	if err != nil {
		return nil, err
	}
	composeDuration, err := meter.Float64Histogram("sbomify_release_compose_duration_ms")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		billingEvents:   billingEvents,
		accessDecisions: accessDecisions,
		sbomUploads:     sbomUploads,
		composeDuration: composeDuration,
	}, nil
}

// RecordBillingEvent increments webhook event counts per type and outcome.
func (m *Metrics) RecordBillingEvent(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	m.billingEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	))
}

// RecordAccessDecision increments access resolver verdict counts.
func (m *Metrics) RecordAccessDecision(ctx context.Context, verdict string) {
	if m == nil {
		return
	}
	m.accessDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("verdict", strings.TrimSpace(verdict)),
	))
}

// RecordSBOMUpload increments upload counts per format.
func (m *Metrics) RecordSBOMUpload(ctx context.Context, format string) {
	if m == nil {
		return
	}
	m.sbomUploads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("format", strings.TrimSpace(format)),
	))
}

// RecordComposeDuration observes release composition latency.
func (m *Metrics) RecordComposeDuration(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.composeDuration.Record(ctx, float64(d.Milliseconds()))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

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
	observationsIngested metric.Int64Counter
	latestUpdates        metric.Int64Counter
	opportunities        metric.Int64Counter
	skippedPairs         metric.Int64Counter
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

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "soleledger"
	}
	meter := provider.Meter(name)

	observationsIngested, err := meter.Int64Counter("soleledger_observations_ingested_total")
	if err != nil {
		return nil, err
	}
	latestUpdates, err := meter.Int64Counter("soleledger_latest_price_updates_total")
	if err != nil {
		return nil, err
	}
	opportunities, err := meter.Int64Counter("soleledger_opportunities_total")
	if err != nil {
		return nil, err
	}
	skippedPairs, err := meter.Int64Counter("soleledger_skipped_pairs_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		observationsIngested: observationsIngested,
		latestUpdates:        latestUpdates,
		opportunities:        opportunities,
		skippedPairs:         skippedPairs,
	}, nil
}

// RecordObservationIngested increments ingested observation counts by outcome.
func (m *Metrics) RecordObservationIngested(ctx context.Context, sourceType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source_type", strings.TrimSpace(sourceType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.observationsIngested.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLatestUpdate increments latest-price projection update counts.
func (m *Metrics) RecordLatestUpdate(ctx context.Context, sourceType, priceType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source_type", strings.TrimSpace(sourceType)),
		attribute.String("price_type", strings.TrimSpace(priceType)),
	)
	m.latestUpdates.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordOpportunities adds the size of one matching run's result set.
func (m *Metrics) RecordOpportunities(ctx context.Context, count int) {
	if m == nil || count < 0 {
		return
	}
	m.opportunities.Add(ctx, int64(count))
}

// RecordSkippedPair increments skipped pair counts by reason.
func (m *Metrics) RecordSkippedPair(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	// Mismatch reasons embed the offending currencies; strip the detail so
	// the label set stays bounded.
	if idx := strings.IndexByte(reason, ':'); idx >= 0 {
		reason = reason[:idx]
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.skippedPairs.Add(ctx, 1, metric.WithAttributes(attrs...))
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"source_type": {},
	"price_type":  {},
	"outcome":     {},
	"reason":      {},
	"marketplace": {},
	"currency":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

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

// Metrics exposes the archival domain instruments.
type Metrics struct {
	archived       metric.Int64Counter
	retrieved      metric.Int64Counter
	migrationFails metric.Int64Counter
	corruption     metric.Int64Counter
	inconsistent   metric.Int64Counter
	blobBytes      metric.Int64Histogram
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
		name = "billarchive"
	}
	meter := provider.Meter(name)

	archived, err := meter.Int64Counter("billarchive_records_archived_total",
		metric.WithDescription("Records moved from the hot store to the cold store."))
	if err != nil {
		return nil, err
	}
	retrieved, err := meter.Int64Counter("billarchive_records_retrieved_total",
		metric.WithDescription("Records served, by tier."))
	if err != nil {
		return nil, err
	}
	migrationFails, err := meter.Int64Counter("billarchive_migration_failures_total",
		metric.WithDescription("Failed migrations by stage."))
	if err != nil {
		return nil, err
	}
	corruption, err := meter.Int64Counter("billarchive_corruption_detected_total",
		metric.WithDescription("Archived blobs whose checksum did not match."))
	if err != nil {
		return nil, err
	}
	inconsistent, err := meter.Int64Counter("billarchive_archive_inconsistent_total",
		metric.WithDescription("Metadata entries pointing at a missing blob."))
	if err != nil {
		return nil, err
	}
	blobBytes, err := meter.Int64Histogram("billarchive_archived_blob_bytes",
		metric.WithUnit("By"),
		metric.WithDescription("Size of archived canonical blobs."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		archived:       archived,
		retrieved:      retrieved,
		migrationFails: migrationFails,
		corruption:     corruption,
		inconsistent:   inconsistent,
		blobBytes:      blobBytes,
	}, nil
}

// NewNoop returns instruments backed by the no-op provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

func (m *Metrics) RecordArchived(ctx context.Context, size int) {
	if m == nil {
		return
	}
	m.archived.Add(ctx, 1)
	m.blobBytes.Record(ctx, int64(size))
}

func (m *Metrics) RecordRetrieved(ctx context.Context, tier string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("tier", strings.TrimSpace(tier)))
	m.retrieved.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordMigrationFailure(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("stage", strings.TrimSpace(stage)))
	m.migrationFails.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCorruption counts checksum mismatches; source is "read" or "scrub".
func (m *Metrics) RecordCorruption(ctx context.Context, source string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source", strings.TrimSpace(source)))
	m.corruption.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordInconsistent(ctx context.Context, source string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source", strings.TrimSpace(source)))
	m.inconsistent.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"tier":        {},
	"stage":       {},
	"source":      {},
	"backend":     {},
	"operation":   {},
	"status_code": {},
	"reason":      {},
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

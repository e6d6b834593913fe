package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	SessionsTotal        metric.Int64Counter
	SessionDuration      metric.Float64Histogram
	SessionsActive       metric.Int64UpDownCounter
	SessionErrorsTotal   metric.Int64Counter
	FilesTransferred     metric.Int64Counter
	BytesTransferred     metric.Int64Counter
	ConflictsTotal       metric.Int64Counter
	DiscoveryRetries     metric.Int64Counter
	ConnectionsTotal     metric.Int64Counter
	FramesCompressed     metric.Int64Counter
	CompressionBytesSave metric.Int64Counter
}

// NewMetrics creates and initializes all metrics
func NewMetrics(meterProvider metric.MeterProvider, serviceName string) (*Metrics, error) {
	meter := meterProvider.Meter(serviceName)
	m := &Metrics{}
	var err error

	if m.SessionsTotal, err = meter.Int64Counter(
		"sessions_total",
		metric.WithDescription("Sync sessions started"),
	); err != nil {
		return nil, err
	}

	if m.SessionDuration, err = meter.Float64Histogram(
		"session_duration",
		metric.WithDescription("Sync session duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.SessionsActive, err = meter.Int64UpDownCounter(
		"sessions_active",
		metric.WithDescription("Sessions not yet in a terminal phase"),
	); err != nil {
		return nil, err
	}

	if m.SessionErrorsTotal, err = meter.Int64Counter(
		"session_errors_total",
		metric.WithDescription("Sessions that ended in Error"),
	); err != nil {
		return nil, err
	}

	if m.FilesTransferred, err = meter.Int64Counter(
		"files_transferred_total",
		metric.WithDescription("Files sent or received and verified"),
	); err != nil {
		return nil, err
	}

	if m.BytesTransferred, err = meter.Int64Counter(
		"bytes_transferred_total",
		metric.WithDescription("File bytes sent or received"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.ConflictsTotal, err = meter.Int64Counter(
		"conflicts_total",
		metric.WithDescription("Conflicts detected during diff"),
	); err != nil {
		return nil, err
	}

	if m.DiscoveryRetries, err = meter.Int64Counter(
		"discovery_retries_total",
		metric.WithDescription("Automatic discovery retries"),
	); err != nil {
		return nil, err
	}

	if m.ConnectionsTotal, err = meter.Int64Counter(
		"connections_total",
		metric.WithDescription("Peer connections established"),
	); err != nil {
		return nil, err
	}

	if m.FramesCompressed, err = meter.Int64Counter(
		"frames_compressed_total",
		metric.WithDescription("Frames sent compressed"),
	); err != nil {
		return nil, err
	}

	if m.CompressionBytesSave, err = meter.Int64Counter(
		"compression_bytes_saved",
		metric.WithDescription("Bytes saved through frame compression"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NewNoopMetrics returns metrics backed by a no-op provider
func NewNoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider(), "syncshare")
	return m
}

// SessionStarted records a new session for folder
func (m *Metrics) SessionStarted(ctx context.Context, folder string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("folder", folder))
	m.SessionsTotal.Add(ctx, 1, attrs)
	m.SessionsActive.Add(ctx, 1, attrs)
}

// SessionFinished records a terminal phase
func (m *Metrics) SessionFinished(ctx context.Context, folder, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("folder", folder), attribute.String("status", status))
	m.SessionsActive.Add(ctx, -1, metric.WithAttributes(attribute.String("folder", folder)))
	m.SessionDuration.Record(ctx, elapsed.Seconds(), attrs)
	if status == "error" {
		m.SessionErrorsTotal.Add(ctx, 1, attrs)
	}
}

// FileTransferred records one verified file
func (m *Metrics) FileTransferred(ctx context.Context, direction string, size int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("direction", direction))
	m.FilesTransferred.Add(ctx, 1, attrs)
	m.BytesTransferred.Add(ctx, size, attrs)
}

// ConflictDetected records one enqueued conflict
func (m *Metrics) ConflictDetected(ctx context.Context) {
	if m == nil {
		return
	}
	m.ConflictsTotal.Add(ctx, 1)
}

// DiscoveryRetry records an automatic discovery retry
func (m *Metrics) DiscoveryRetry(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.DiscoveryRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", kind)))
}

// Connected records an established connection
func (m *Metrics) Connected(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", kind)))
}

// FrameCompressed records a frame sent compressed
func (m *Metrics) FrameCompressed(ctx context.Context, algorithm string, saved int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("algorithm", algorithm))
	m.FramesCompressed.Add(ctx, 1, attrs)
	m.CompressionBytesSave.Add(ctx, int64(saved), attrs)
}

// InitMetricsProvider initializes the OpenTelemetry metrics provider
func InitMetricsProvider(ctx context.Context, endpoint string, serviceName string) (metric.MeterProvider, func() error, error) {
	if endpoint == "" {
		// Return a no-op provider if no endpoint is configured
		return sdkmetric.NewMeterProvider(), func() error { return nil }, nil
	}

	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(endpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)

	otel.SetMeterProvider(mp)

	return mp, func() error {
		return mp.Shutdown(context.Background())
	}, nil
}

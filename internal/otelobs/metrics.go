package otelobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures the controller's metrics provider.
type MetricsConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	ExporterType   ExporterType
	OTLPEndpoint   string
	OTLPInsecure   bool
	Attributes     map[string]string
}

func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "labbenchd",
		ExporterType: ExporterNone,
	}
}

// Metrics wraps the instruments the controller records against: device
// poll/command latency, sequence step progress, trigger fires, and the
// count of live device sessions.
type Metrics struct {
	config            *MetricsConfig
	meterProvider     *sdkmetric.MeterProvider
	meter             metric.Meter
	shutdown          func(context.Context) error
	mu                sync.RWMutex
	activeDeviceCount atomic.Int64
	activeGauge       metric.Int64ObservableGauge
	activeGaugeReg    metric.Registration

	pollLatency      metric.Float64Histogram
	commandLatency   metric.Float64Histogram
	errorCounter     metric.Int64Counter
	activeSessions   metric.Int64UpDownCounter
	reconnectCounter metric.Int64Counter
	sequenceSteps    metric.Int64Counter
	triggerFires     metric.Int64Counter
}

var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{config: cfg}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metrics exporter: %w", err)
	}

	res, err := createResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Attributes)
	if err != nil {
		return nil, fmt.Errorf("create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("register metric instruments: %w", err)
	}

	return m, nil
}

func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()
	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

func (m *Metrics) registerInstruments() error {
	var err error

	m.pollLatency, err = m.meter.Float64Histogram(
		"labbench.poll.latency",
		metric.WithDescription("Latency of device status polls"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("create poll latency histogram: %w", err)
	}

	m.commandLatency, err = m.meter.Float64Histogram(
		"labbench.command.latency",
		metric.WithDescription("Latency of driver commands (SetMode, SetOutput, SetValue, ...)"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("create command latency histogram: %w", err)
	}

	m.errorCounter, err = m.meter.Int64Counter(
		"labbench.errors",
		metric.WithDescription("Count of errors by category"),
	)
	if err != nil {
		return fmt.Errorf("create error counter: %w", err)
	}

	m.activeSessions, err = m.meter.Int64UpDownCounter(
		"labbench.sessions.active",
		metric.WithDescription("Number of active device sessions"),
	)
	if err != nil {
		return fmt.Errorf("create active sessions counter: %w", err)
	}

	m.reconnectCounter, err = m.meter.Int64Counter(
		"labbench.reconnects",
		metric.WithDescription("Count of device session reconnections"),
	)
	if err != nil {
		return fmt.Errorf("create reconnect counter: %w", err)
	}

	m.sequenceSteps, err = m.meter.Int64Counter(
		"labbench.sequence.steps",
		metric.WithDescription("Count of sequence steps applied"),
	)
	if err != nil {
		return fmt.Errorf("create sequence step counter: %w", err)
	}

	m.triggerFires, err = m.meter.Int64Counter(
		"labbench.trigger.fires",
		metric.WithDescription("Count of trigger fires"),
	)
	if err != nil {
		return fmt.Errorf("create trigger fire counter: %w", err)
	}

	m.activeGauge, err = m.meter.Int64ObservableGauge(
		"labbench.devices.active",
		metric.WithDescription("Number of devices currently enumerated"),
	)
	if err != nil {
		return fmt.Errorf("create active device gauge: %w", err)
	}

	m.activeGaugeReg, err = m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(m.activeGauge, m.activeDeviceCount.Load())
			return nil
		},
		m.activeGauge,
	)
	if err != nil {
		return fmt.Errorf("register active device gauge callback: %w", err)
	}

	return nil
}

// RecordPollLatency records one device status poll round-trip.
func (m *Metrics) RecordPollLatency(ctx context.Context, deviceKind string, latencyMs float64, success bool) {
	if m.pollLatency == nil {
		return
	}
	m.pollLatency.Record(ctx, latencyMs, metric.WithAttributes(
		attribute.String("device_kind", deviceKind),
		attribute.Bool("success", success),
	))
}

// RecordCommandLatency records one driver command round-trip.
func (m *Metrics) RecordCommandLatency(ctx context.Context, command, deviceKind string, latencyMs float64, success bool) {
	if m.commandLatency == nil {
		return
	}
	m.commandLatency.Record(ctx, latencyMs, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("device_kind", deviceKind),
		attribute.Bool("success", success),
	))
}

func (m *Metrics) RecordError(ctx context.Context, category string) {
	if m.errorCounter == nil {
		return
	}
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

func (m *Metrics) IncrementSessions(ctx context.Context) {
	if m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, 1)
}

func (m *Metrics) DecrementSessions(ctx context.Context) {
	if m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, -1)
}

func (m *Metrics) RecordReconnect(ctx context.Context) {
	if m.reconnectCounter == nil {
		return
	}
	m.reconnectCounter.Add(ctx, 1)
}

// RecordSequenceStep records one applied sequence step.
func (m *Metrics) RecordSequenceStep(ctx context.Context, sequenceID string) {
	if m.sequenceSteps == nil {
		return
	}
	m.sequenceSteps.Add(ctx, 1, metric.WithAttributes(attribute.String("sequence_id", sequenceID)))
}

// RecordTriggerFire records one trigger fire.
func (m *Metrics) RecordTriggerFire(ctx context.Context, scriptID, triggerID string) {
	if m.triggerFires == nil {
		return
	}
	m.triggerFires.Add(ctx, 1, metric.WithAttributes(
		attribute.String("script_id", scriptID),
		attribute.String("trigger_id", triggerID),
	))
}

// SetActiveDeviceCount sets the gauge read by the device-count callback.
func (m *Metrics) SetActiveDeviceCount(count int) {
	m.activeDeviceCount.Store(int64(count))
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeGaugeReg != nil {
		if err := m.activeGaugeReg.Unregister(); err != nil {
			return fmt.Errorf("unregister active device gauge: %w", err)
		}
	}
	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m
	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()
	if globalMetrics == nil {
		return NoopMetrics()
	}
	return globalMetrics
}

func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}

package tracing

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/moolen/lattice/internal/lifecycle"
	"github.com/moolen/lattice/internal/logging"
	"github.com/moolen/lattice/internal/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// ComponentName is the name of the tracing component in the node graph.
const ComponentName = "tracing"

// Config holds tracing configuration
type Config struct {
	Enabled     bool
	Endpoint    string // OTLP gRPC endpoint (e.g., "otel-collector:4317")
	TLSCAPath   string // CA certificate for TLS verification (optional)
	TLSInsecure bool   // Skip TLS certificate verification
}

// Provider owns the OpenTelemetry tracer provider of a node. When disabled it
// hands out the global (no-op) tracer.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	logger         *logging.Logger
	enabled        bool
}

// Option configures NewProvider.
type Option func(*options)

type options struct {
	exporter   sdktrace.SpanExporter
	instanceID string
}

// WithExporter replaces the OTLP exporter (used in tests).
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = exp }
}

// WithInstanceID records the service instance id on the resource.
func WithInstanceID(id string) Option {
	return func(o *options) { o.instanceID = id }
}

// NewProvider creates the tracer provider and installs it globally.
func NewProvider(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	logger := logging.GetLogger("tracing")

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if !cfg.Enabled && o.exporter == nil {
		logger.Info("Tracing disabled")
		return &Provider{logger: logger}, nil
	}

	exporter := o.exporter
	if exporter == nil {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("tracing enabled but endpoint not configured")
		}
		var err error
		exporter, err = newOTLPExporter(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	attrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceName(version.Name),
			semconv.ServiceVersion(version.Version),
		),
	}
	if o.instanceID != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceInstanceID(o.instanceID)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tracerProvider)

	logger.Info("Tracing initialized with endpoint: %s", cfg.Endpoint)

	return &Provider{
		tracerProvider: tracerProvider,
		logger:         logger,
		enabled:        true,
	}, nil
}

func newOTLPExporter(ctx context.Context, cfg Config, logger *logging.Logger) (sdktrace.SpanExporter, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var dialOptions []grpc.DialOption
	var otlpOptions []otlptracegrpc.Option

	if cfg.TLSCAPath != "" || cfg.TLSInsecure {
		var tlsConfig *tls.Config

		if cfg.TLSInsecure {
			tlsConfig = &tls.Config{
				InsecureSkipVerify: true,
				MinVersion:         tls.VersionTLS12,
			}
			logger.Warn("TLS enabled for tracing with certificate verification disabled")
		} else {
			caCert, err := os.ReadFile(cfg.TLSCAPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA certificate: %w", err)
			}

			certPool := x509.NewCertPool()
			if !certPool.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("failed to append CA certificate to pool")
			}

			tlsConfig = &tls.Config{
				RootCAs:    certPool,
				MinVersion: tls.VersionTLS12,
			}
			logger.Info("TLS enabled for tracing with CA from: %s", cfg.TLSCAPath)
		}

		dialOptions = append(dialOptions, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	} else {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
		otlpOptions = append(otlpOptions, otlptracegrpc.WithInsecure())
	}

	otlpOptions = append(otlpOptions,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(dialOptions...),
	)

	exporter, err := otlptracegrpc.New(ctx, otlpOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return exporter, nil
}

// Stop flushes remaining spans and shuts the provider down.
func (p *Provider) Stop(ctx context.Context) error {
	if !p.enabled {
		return nil
	}

	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		p.logger.Error("Error shutting down tracer provider: %v", err)
		return err
	}

	p.logger.Info("Tracing provider stopped")
	return nil
}

// ForceFlush exports all ended spans that are still buffered.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	return p.tracerProvider.ForceFlush(ctx)
}

// Tracer returns a tracer for instrumenting code.
func (p *Provider) Tracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}

// IsEnabled returns whether spans are exported.
func (p *Provider) IsEnabled() bool {
	return p.enabled
}

// Descriptor declares the tracing component. It has no dependencies and no
// tasks; its handle flushes spans when the service stops, after every other
// component.
func Descriptor(opts ...Option) lifecycle.Descriptor {
	return lifecycle.Descriptor{
		Name: ComponentName,
		Start: func(ctx context.Context, sc *lifecycle.StartContext) (lifecycle.Handle, []lifecycle.Task, error) {
			tc := sc.Config.Tracing
			all := append([]Option{WithInstanceID(sc.InstanceID)}, opts...)
			p, err := NewProvider(ctx, Config{
				Enabled:     tc.Enabled,
				Endpoint:    tc.Endpoint,
				TLSCAPath:   tc.TLSCAPath,
				TLSInsecure: tc.TLSInsecure,
			}, all...)
			if err != nil {
				return nil, nil, err
			}
			return p, nil, nil
		},
	}
}

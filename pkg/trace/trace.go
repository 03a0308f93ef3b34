package trace

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type Config struct {
	// Exporter: "otlp" / "stdout" / "" (disabled)
	Exporter string `mapstructure:"exporter"`
	// Endpoint: OTLP gRPC 地址，比如 "localhost:4317"
	Endpoint string `mapstructure:"endpoint"`
}

// InitTrace 初始化 OpenTelemetry TracerProvider，返回服务退出时调用的关闭函数
func InitTrace(ctx context.Context, serviceName string, c Config) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	var err error
	switch c.Exporter {
	case "":
		return func(context.Context) error { return nil }, nil
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
	case "otlp":
		otlpClient := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(c.Endpoint),
			otlptracegrpc.WithInsecure(), // 没有tls
		)
		exporter, err = otlptrace.New(ctx, otlpClient)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", c.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", c.Exporter, err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

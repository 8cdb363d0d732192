package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func initOpenTelemetry(ctx context.Context) (shutdown func(context.Context) error, promHandler http.Handler, err error) {
	serviceName := os.Getenv("OTEL_SERVICE_NAME")
	if strings.TrimSpace(serviceName) == "" {
		serviceName = "backend-go-chat-gateway"
	}

	res, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, err
	}

	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if strings.TrimSpace(otlpEndpoint) == "" {
		otlpEndpoint = "localhost:4317"
	}
	traceExp, err := otlptracegrpc.New(
		ctx,
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		return nil, nil, err
	}
	tp := trace.NewTracerProvider(trace.WithBatcher(traceExp), trace.WithResource(res))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	reg := promclient.NewRegistry()
	promExp, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := metric.NewMeterProvider(metric.WithReader(promExp), metric.WithResource(res))
	otel.SetMeterProvider(mp)

	shutdown = func(ctx context.Context) error {
		err1 := tp.Shutdown(ctx)
		err2 := mp.Shutdown(ctx)
		if err1 != nil {
			return err1
		}
		return err2
	}
	return shutdown, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

// breakerTransitions counts circuit breaker state changes. It must be called
// after the meter provider is installed.
func breakerTransitions() func(name, from, to string) {
	counter, err := otel.Meter("backend-go-chat-gateway").Int64Counter(
		"chat_breaker_transitions_total",
		otelmetric.WithDescription("Circuit breaker state transitions."),
		otelmetric.WithUnit("1"),
	)
	if err != nil {
		return nil
	}
	return func(name, from, to string) {
		counter.Add(context.Background(), 1, otelmetric.WithAttributes(
			attribute.String("breaker", name),
			attribute.String("from", from),
			attribute.String("to", to),
		))
	}
}

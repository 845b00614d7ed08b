// Package observability настраивает распределённую трассировку.
package observability

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/annel0/replistream/internal/logging"
	"github.com/annel0/replistream/internal/replication"
)

// ServiceVersion версия сервиса, попадает в атрибуты ресурса трейсов
const ServiceVersion = "1.2.0"

// InitTelemetry настраивает OTLP экспортер и устанавливает глобальный
// TracerProvider. Адрес коллектора берётся из стандартных переменных
// окружения OTEL_* (по умолчанию localhost:4318). Возвращает функцию
// shutdown, которую нужно вызвать при завершении приложения.
func InitTelemetry(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(ServiceVersion),
			semconv.HostName(hostname),
			// Версия проводного протокола различает трейсы несовместимых
			// записей при миграциях
			attribute.Int("replistream.protocol_version", int(replication.ProtocolVersion)),
			attribute.String("deployment.environment", deployEnv()),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	logging.Info("📡 OpenTelemetry инициализирован (OTLP → 4318, service=%s v%s)", serviceName, ServiceVersion)

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}
	return shutdown, nil
}

func deployEnv() string {
	if env := os.Getenv("REPL_ENV"); env != "" {
		return env
	}
	return "development"
}

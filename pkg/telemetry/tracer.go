// Package telemetry はOpenTelemetryのトレースプロバイダを初期化する。
package telemetry

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// ShutdownFunc はトレースプロバイダを停止し、未送信のスパンを書き出す。
type ShutdownFunc func(context.Context) error

// InitTracer はスパンをwへ書き出すトレースプロバイダをグローバルに登録する。
// wがnilの場合は標準出力へ書き出す。
func InitTracer(serviceName string, w io.Writer, logger *logrus.Logger) (ShutdownFunc, error) {
	opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if w != nil {
		opts = append(opts, stdouttrace.WithWriter(w))
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.WithField("service", serviceName).Info("OpenTelemetryを初期化しました")
	return tp.Shutdown, nil
}

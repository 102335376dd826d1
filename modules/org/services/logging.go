package services

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iota-uz/salesorg/pkg/composables"
)

var tracer = otel.Tracer("github.com/iota-uz/salesorg/modules/org/services")

func logWithFields(ctx context.Context, level logrus.Level, msg string, fields logrus.Fields) {
	logger := composables.UseLogger(ctx)
	if logger == nil {
		return
	}
	logger.WithFields(fields).Log(level, msg)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

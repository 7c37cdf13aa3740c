package otelhelper

import (
	"github.com/dukex/courier/pkg/contracts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ErrorCodeKey = "courier.error.code"
	RetryableKey = "courier.error.retryable"
)

// SetError marks span as failed and tags it with the taxonomy code of err.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	attrs = append(attrs,
		attribute.String(ErrorCodeKey, string(contracts.CodeOf(err))),
		attribute.Bool(RetryableKey, contracts.IsRetryable(err)),
	)

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attrs...)
}

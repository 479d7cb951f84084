package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used across spans and metrics
const (
	AttrHTTPEndpoint    = "http.endpoint"
	AttrHTTPMethod      = "http.method"
	AttrHTTPStatusCode  = "http.status_code"
	AttrClientID        = "oauth.client_id"
	AttrGrantType       = "oauth.grant_type"
	AttrErrorCode       = "oauth.error_code"
	AttrRateLimiterType = "ratelimit.type"
)

// SetSpanError marks the span as failed with the given message
func SetSpanError(span trace.Span, message string) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetStatus(codes.Error, message)
	span.SetAttributes(attribute.String(AttrErrorCode, message))
}

// SetSpanOK marks the span as successful
func SetSpanOK(span trace.Span) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// RecordError records an error event on the span without changing its status
func RecordError(span trace.Span, err error) {
	if span == nil || !span.IsRecording() || err == nil {
		return
	}
	span.RecordError(err)
}

// SetClientID attaches the client identifier to the span
func SetClientID(span trace.Span, clientID string) {
	if span == nil || !span.IsRecording() || clientID == "" {
		return
	}
	span.SetAttributes(attribute.String(AttrClientID, clientID))
}

// SetGrantType attaches the grant type to the span
func SetGrantType(span trace.Span, grantType string) {
	if span == nil || !span.IsRecording() || grantType == "" {
		return
	}
	span.SetAttributes(attribute.String(AttrGrantType, grantType))
}

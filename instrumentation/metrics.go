package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments for the OAuth server
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// OAuth flow
	AuthorizationStarted metric.Int64Counter
	CodeExchanged        metric.Int64Counter
	TokenRefreshed       metric.Int64Counter
	TokenRevoked         metric.Int64Counter
	ClientRegistered     metric.Int64Counter

	// Security
	RateLimitExceeded metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	httpMeter := inst.Meter("http")
	flowMeter := inst.Meter("flow")
	securityMeter := inst.Meter("security")

	m := &Metrics{}

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"oauth.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.AuthorizationStarted, err = flowMeter.Int64Counter(
		"oauth.authorization.started",
		metric.WithDescription("Number of authorization flows started"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization.started counter: %w", err)
	}

	m.CodeExchanged, err = flowMeter.Int64Counter(
		"oauth.code.exchanged",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.exchanged counter: %w", err)
	}

	m.TokenRefreshed, err = flowMeter.Int64Counter(
		"oauth.token.refreshed",
		metric.WithDescription("Number of access tokens refreshed"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.TokenRevoked, err = flowMeter.Int64Counter(
		"oauth.token.revoked",
		metric.WithDescription("Number of tokens revoked"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.revoked counter: %w", err)
	}

	m.ClientRegistered, err = flowMeter.Int64Counter(
		"oauth.client.registered",
		metric.WithDescription("Number of OAuth clients registered"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client.registered counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"oauth.ratelimit.exceeded",
		metric.WithDescription("Number of requests rejected by rate limiting"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.exceeded counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with its outcome and duration
func (m *Metrics) RecordHTTPRequest(ctx context.Context, endpoint, method string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.String(AttrHTTPMethod, method),
		attribute.Int(AttrHTTPStatusCode, status),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordAuthorizationStarted records the start of an authorization flow
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context) {
	m.AuthorizationStarted.Add(ctx, 1)
}

// RecordCodeExchanged records a successful authorization code exchange
func (m *Metrics) RecordCodeExchanged(ctx context.Context) {
	m.CodeExchanged.Add(ctx, 1)
}

// RecordTokenRefreshed records a successful refresh token exchange
func (m *Metrics) RecordTokenRefreshed(ctx context.Context) {
	m.TokenRefreshed.Add(ctx, 1)
}

// RecordTokenRevoked records a token revocation
func (m *Metrics) RecordTokenRevoked(ctx context.Context) {
	m.TokenRevoked.Add(ctx, 1)
}

// RecordClientRegistered records a client registration
func (m *Metrics) RecordClientRegistered(ctx context.Context) {
	m.ClientRegistered.Add(ctx, 1)
}

// RecordRateLimitExceeded records a request rejected by rate limiting
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrRateLimiterType, limiterType),
	))
}

package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type operationKey struct{}

// WithOperation tags ctx with the backend operation name used as metric label.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

func operation(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey{}).(string); ok {
		return op
	}
	return "unknown"
}

// RoundTripper collects request related metrics for outgoing backend calls.
type RoundTripper struct {
	Next            http.RoundTripper
	RequestDuration *prometheus.HistogramVec
}

// RoundTrip implements http.RoundTripper.
func (rt RoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	next := rt.Next
	if next == nil {
		next = http.DefaultTransport
	}

	start := time.Now()
	resp, err := next.RoundTrip(r)
	duration := time.Since(start)

	code := "error"
	if err == nil {
		code = strconv.Itoa(resp.StatusCode)
	}
	rt.RequestDuration.WithLabelValues(operation(r.Context()), code).Observe(float64(duration) / float64(time.Millisecond))

	return resp, err
}

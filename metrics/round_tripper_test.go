package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

func TestRoundTripperObservesOperation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_duration"}, []string{"operation", "code"})
	client := &http.Client{Transport: RoundTripper{RequestDuration: histogram}}

	req, _ := http.NewRequestWithContext(WithOperation(context.Background(), "get"), http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)

	assert.Nil(t, err)
	resp.Body.Close()
	assert.Equal(t, 1, testutil.CollectAndCount(histogram))

	m := &dto.Metric{}
	assert.Nil(t, histogram.WithLabelValues("get", "404").(prometheus.Histogram).Write(m))
	assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
}

func TestRoundTripperUnknownOperation(t *testing.T) {
	assert.Equal(t, "unknown", operation(context.Background()))
}

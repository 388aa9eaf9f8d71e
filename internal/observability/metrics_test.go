package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPRequestDuration(t *testing.T) {
	t.Run("histogram_accepts_labels", func(t *testing.T) {
		HTTPRequestDuration.WithLabelValues("GET", "/api/v1/csrf", "200").Observe(0.05)
		HTTPRequestDuration.WithLabelValues("POST", "/api/v1/documents", "422").Observe(0.1)

		assert.Equal(t, 2, testutil.CollectAndCount(HTTPRequestDuration, "http_request_duration_seconds"))
	})
}

func TestHTTPRequestsTotal(t *testing.T) {
	counter := HTTPRequestsTotal.WithLabelValues("GET", "/health", "200")
	before := testutil.ToFloat64(counter)

	counter.Inc()
	counter.Inc()

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestRecordRejection(t *testing.T) {
	tests := []struct {
		guard  string
		reason string
	}{
		{"csrf", "missing_token"},
		{"csrf", "invalid_token"},
		{"rate_limit", "limit_exceeded"},
		{"validator", "too_many_external_links"},
	}

	for _, tt := range tests {
		t.Run(tt.guard+"_"+tt.reason, func(t *testing.T) {
			counter := SecurityRejectionsTotal.WithLabelValues(tt.guard, tt.reason)
			before := testutil.ToFloat64(counter)

			RecordRejection(tt.guard, tt.reason)

			assert.Equal(t, before+1, testutil.ToFloat64(counter))
		})
	}
}

func TestGuardMetrics_Registered(t *testing.T) {
	assert.NotNil(t, UploadsValidatedTotal)
	assert.NotNil(t, RateLimitDecisionsTotal)
	assert.NotNil(t, RateLimitTrackedKeys)
	assert.NotNil(t, StoreSweepDeleted)
	assert.NotNil(t, DBQueryDuration)

	RateLimitTrackedKeys.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(RateLimitTrackedKeys))
}

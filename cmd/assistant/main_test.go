package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahan-lms/lms-assistant/internal/infrastructure/external/lms"
)

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name     string
		status   lms.ClientStatus
		wantCode int
	}{
		{
			name:     "no breaker",
			status:   lms.ClientStatus{RateLimiter: lms.RateLimiterStatus{MaxTokens: 20}},
			wantCode: http.StatusOK,
		},
		{
			name:     "closed breaker",
			status:   lms.ClientStatus{Breaker: &lms.BreakerStatus{Name: "lms-api", State: "closed"}},
			wantCode: http.StatusOK,
		},
		{
			name:     "open breaker",
			status:   lms.ClientStatus{Breaker: &lms.BreakerStatus{Name: "lms-api", State: "open", Open: true, ConsecutiveFailures: 5}},
			wantCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			healthHandler(func() lms.ClientStatus { return tt.status }).
				ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var got lms.ClientStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.status, got)
		})
	}
}

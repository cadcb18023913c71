package http

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		want   string
	}{
		{name: "query", url: "/ws/notification?token=abc", want: "abc"},
		{name: "bearer", url: "/ws/notification", header: "Bearer xyz", want: "xyz"},
		{name: "lowercase scheme", url: "/ws/notification", header: "bearer xyz", want: "xyz"},
		{name: "query wins", url: "/ws/notification?token=abc", header: "Bearer xyz", want: "abc"},
		{name: "basic auth ignored", url: "/ws/notification", header: "Basic Zm9vOmJhcg==", want: ""},
		{name: "none", url: "/ws/notification", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, TokenFromRequest(r))
		})
	}
}

func TestRateLimiter(t *testing.T) {
	r := newRateLimiter(2, time.Hour)
	assert.True(t, r.allow())
	assert.True(t, r.allow())
	assert.False(t, r.allow())

	r.counter.Store(0)
	assert.True(t, r.allow())

	assert.True(t, newRateLimiter(0, time.Hour).allow(), "zero limit disables limiting")
	var nilLimiter *rateLimiter
	assert.True(t, nilLimiter.allow())
}

func TestRateLimiterResets(t *testing.T) {
	r := newRateLimiter(1, 10*time.Millisecond)
	stop := make(chan struct{})
	defer close(stop)
	r.startReset(stop)

	assert.True(t, r.allow())
	assert.False(t, r.allow())
	assert.Eventually(t, r.allow, time.Second, 5*time.Millisecond)
}

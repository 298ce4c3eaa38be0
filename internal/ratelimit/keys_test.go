package ratelimit_test

import (
	"testing"

	"github.com/anchapin/apiguard/internal/ratelimit"
	"github.com/stretchr/testify/assert"
)

func TestLimitKey(t *testing.T) {
	t.Parallel()

	fullReq := ratelimit.Request{
		Identifier: "10.0.0.1",
		Endpoint:   "/reports",
		APIKey:     "key-123",
		UserID:     "user-7",
	}

	tests := []struct {
		name  string
		scope ratelimit.Scope
		req   ratelimit.Request
		want  string
	}{
		{"global ignores all request data", ratelimit.ScopeGlobal, fullReq, "global"},
		{"ip keys on the identifier", ratelimit.ScopeIP, fullReq, "ip:10.0.0.1"},
		{"api key scope", ratelimit.ScopeAPIKey, fullReq, "api_key:key-123"},
		{"user scope", ratelimit.ScopeUser, fullReq, "user:user-7"},
		{"endpoint scope combines identifier and endpoint", ratelimit.ScopeEndpoint, fullReq, "endpoint:10.0.0.1:/reports"},
		{
			"api key scope falls back to ip without a key",
			ratelimit.ScopeAPIKey,
			ratelimit.Request{Identifier: "10.0.0.1"},
			"ip:10.0.0.1",
		},
		{
			"user scope falls back to ip without a user",
			ratelimit.ScopeUser,
			ratelimit.Request{Identifier: "10.0.0.1"},
			"ip:10.0.0.1",
		},
		{
			"endpoint scope falls back to ip without an endpoint",
			ratelimit.ScopeEndpoint,
			ratelimit.Request{Identifier: "10.0.0.1"},
			"ip:10.0.0.1",
		},
		{
			"missing identifier degrades to the unknown sentinel",
			ratelimit.ScopeIP,
			ratelimit.Request{},
			"ip:unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, ratelimit.LimitKey(tt.scope, tt.req))
		})
	}
}

func TestLimitKey_Deterministic(t *testing.T) {
	t.Parallel()

	req := ratelimit.Request{Identifier: "10.0.0.1", Endpoint: "/x"}

	a := ratelimit.LimitKey(ratelimit.ScopeEndpoint, req)
	b := ratelimit.LimitKey(ratelimit.ScopeEndpoint, req)

	assert.Equal(t, a, b, "identical inputs must hash to the same key")
}

// Zaparoo Link
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Link.
//
// Zaparoo Link is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Link is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Link.  If not, see <http://www.gnu.org/licenses/>.

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRemoteIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want string
	}{
		{addr: "192.168.1.10:5000", want: "192.168.1.10"},
		{addr: "[::1]:8080", want: "::1"},
		{addr: "10.0.0.1", want: "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			t.Parallel()
			ip := ParseRemoteIP(tt.addr)
			require.NotNil(t, ip)
			assert.Equal(t, tt.want, ip.String())
		})
	}
	assert.Nil(t, ParseRemoteIP("not-an-ip"))
}

func TestIPRateLimiter_Burst(t *testing.T) {
	t.Parallel()

	limiter := NewIPRateLimiter(clockwork.NewFakeClock())

	for i := range BurstSize {
		assert.True(t, limiter.allow("192.168.1.100"), "request %d within burst", i+1)
	}
	assert.False(t, limiter.allow("192.168.1.100"))
	assert.True(t, limiter.allow("192.168.1.101"), "other IPs have their own bucket")
}

func TestIPRateLimiter_Refills(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	limiter := NewIPRateLimiter(clock)

	for range BurstSize {
		limiter.allow("10.0.0.1")
	}
	require.False(t, limiter.allow("10.0.0.1"))

	clock.Advance(time.Minute / RequestsPerMinute)
	assert.True(t, limiter.allow("10.0.0.1"))
}

func TestIPRateLimiter_SameIPReuse(t *testing.T) {
	t.Parallel()

	limiter := NewIPRateLimiter(nil)
	assert.Same(t, limiter.GetLimiter("10.0.0.1"), limiter.GetLimiter("10.0.0.1"))
}

func TestIPRateLimiter_Cleanup(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	limiter := NewIPRateLimiter(clock)

	limiter.GetLimiter("10.0.0.1")
	clock.Advance(limiterMaxAge / 2)
	limiter.GetLimiter("10.0.0.2")
	clock.Advance(limiterMaxAge/2 + time.Second)

	limiter.Cleanup()
	assert.Equal(t, 1, limiter.size())
}

func TestIPRateLimiter_StartCleanup(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	limiter := NewIPRateLimiter(clock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter.GetLimiter("10.0.0.1")
	limiter.StartCleanup(ctx)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(limiterMaxAge + cleanupInterval)
	assert.Eventually(t, func() bool {
		return limiter.size() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestHTTPRateLimitMiddleware(t *testing.T) {
	t.Parallel()

	limiter := NewIPRateLimiter(clockwork.NewFakeClock())
	handler := HTTPRateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for range BurstSize {
		req := httptest.NewRequest(http.MethodGet, "/api/link", http.NoBody)
		req.RemoteAddr = "192.168.1.50:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/link", http.NoBody)
	req.RemoteAddr = "192.168.1.50:4321"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"rate limit exceeded","kind":"rate_limited"}`, rec.Body.String())
}

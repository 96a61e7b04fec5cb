package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(time.Hour, 2)

	require.True(t, rl.Allow("owner-a"))
	require.True(t, rl.Allow("owner-a"))
	require.False(t, rl.Allow("owner-a"))

	// Keys are independent.
	require.True(t, rl.Allow("owner-b"))
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	require.True(t, rl.Allow("owner-a"))
}

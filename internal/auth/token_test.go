package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenSet_ExpiredFiveMinutesBeforeExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		expired   bool
	}{
		{"well before the window", now.Add(time.Hour), false},
		{"just outside the window", now.Add(5*time.Minute + time.Second), false},
		{"exactly at the window edge", now.Add(5 * time.Minute), true},
		{"inside the window", now.Add(time.Minute), true},
		{"already past expiry", now.Add(-time.Minute), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := TokenSet{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.expired, set.Expired(now))
		})
	}
}

func TestDecodeForDiagnostics_MalformedTokenYieldsZeroValues(t *testing.T) {
	kid, exp := decodeForDiagnostics("not-a-jwt")
	assert.Empty(t, kid)
	assert.True(t, exp.IsZero())
}

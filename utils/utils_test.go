package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edumarket/api/models"
)

func TestParsePeriod(t *testing.T) {
	cases := map[string]time.Duration{
		"24h": 24 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"30D": 30 * 24 * time.Hour,
		"2w":  14 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParsePeriod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "d", "0d", "-3d", "7y", "abc"} {
		_, err := ParsePeriod(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseRangeDefaultsToLastDay(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	start, end, err := ParseRange("", "", now)
	require.NoError(t, err)
	assert.Equal(t, now, end)
	assert.Equal(t, now.Add(-24*time.Hour), start)

	_, _, err = ParseRange("2026-10-15T00:00:00Z", "2026-10-14T00:00:00Z", now)
	assert.Error(t, err)
	_, _, err = ParseRange("yesterday", "", now)
	assert.Error(t, err)
}

func TestTokenRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("s3cret", time.Hour)
	require.NoError(t, err)

	token, err := issuer.Generate(&models.User{ID: 7, Email: "ops@edumarket.io"})
	require.NoError(t, err)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, 7, claims.UserID)
	assert.Equal(t, "ops@edumarket.io", claims.Email)

	other, err := NewTokenIssuer("different", time.Hour)
	require.NoError(t, err)
	_, err = other.Validate(token)
	assert.Error(t, err)

	_, err = NewTokenIssuer("", time.Hour)
	assert.Error(t, err)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	issuer, err := NewTokenIssuer("s3cret", time.Minute)
	require.NoError(t, err)
	issued := time.Now().Add(-time.Hour)
	issuer.now = func() time.Time { return issued }

	token, err := issuer.Generate(&models.User{ID: 1, Email: "a@b.io"})
	require.NoError(t, err)

	issuer.now = time.Now
	_, err = issuer.Validate(token)
	assert.Error(t, err)
}

func TestVisitorIDs(t *testing.T) {
	id := NewVisitorID()
	norm, ok := NormalizeVisitorID(" " + id + " ")
	require.True(t, ok)
	assert.Equal(t, id, norm)

	_, ok = NormalizeVisitorID("not-a-visitor")
	assert.False(t, ok)
	_, ok = NormalizeVisitorID("")
	assert.False(t, ok)
}

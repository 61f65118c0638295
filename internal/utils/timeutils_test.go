package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRFC3339RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 11, 12, 500, time.UTC)
	parsed, err := ParseRFC3339(FormatRFC3339(now))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(now))

	_, err = ParseRFC3339("")
	assert.Error(t, err)
	_, err = ParseRFC3339("yesterday")
	assert.Error(t, err)
}

func TestWindowStart(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(-5*time.Minute), WindowStart(now, 5))
	assert.Equal(t, now, WindowStart(now, -3))
}

func TestMessageUnwrapsAppError(t *testing.T) {
	err := NewAppError("correlate", "invalid insight batch", assert.AnError)
	assert.Equal(t, "invalid insight batch", Message(err))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, assert.AnError.Error(), Message(assert.AnError))
	assert.Empty(t, Message(nil))
}

package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfo(t *testing.T) {
	ref := time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)

	info, err := GetTriggerInfo("*/5 * * * *", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC), info.Next)
	assert.Equal(t, 3*time.Minute, info.TimeUntilNext)

	info, err = GetTriggerInfo("@hourly", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), info.Next)
}

func TestGetTriggerInfo_Invalid(t *testing.T) {
	_, err := GetTriggerInfo("every tuesday", time.Now())
	assert.ErrorContains(t, err, "invalid cron expression")
}

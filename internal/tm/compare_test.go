package tm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthoritative_QualityThenTimestamp(t *testing.T) {
	candidates := []Unit{
		{GUID: "g", JobGUID: "j1", Quality: 10, TS: 5},
		{GUID: "g", JobGUID: "j2", Quality: 40, TS: 3},
		{GUID: "g", JobGUID: "j3", Quality: 40, TS: 9},
	}

	best := Authoritative(candidates)
	require.NotNil(t, best)
	assert.Equal(t, 40, best.Quality)
	assert.Equal(t, int64(9), best.TS)
	assert.Equal(t, "j3", best.JobGUID)
}

func TestAuthoritative_InFlightSupersededByScored(t *testing.T) {
	candidates := []Unit{
		{GUID: "g", JobGUID: "j1", Quality: 0, TS: 0},
		{GUID: "g", JobGUID: "j2", Quality: 1, TS: 1},
	}

	best := Authoritative(candidates)
	require.NotNil(t, best)
	assert.Equal(t, 1, best.Quality)
}

func TestAuthoritative_Empty(t *testing.T) {
	assert.Nil(t, Authoritative(nil))
}

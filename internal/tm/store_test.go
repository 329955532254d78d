package tm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/loctra/loctra/internal/segment"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), language.English, language.German,
		WithClock(func() time.Time { return time.UnixMilli(1000) }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_SetEntry_IdempotentUpsert(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	u := Unit{
		GUID:    "g1",
		RID:     "app.json",
		SID:     "greeting",
		Source:  segment.Text{segment.Lit("Hello")},
		Target:  segment.Text{segment.Lit("Hallo")},
		Quality: 50,
		TS:      7,
	}
	require.NoError(t, store.SetEntry(ctx, "job-a", u))
	require.NoError(t, store.SetEntry(ctx, "job-a", u))

	rows, err := store.GetJobUnits(ctx, "job-a")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(7), rows[0].TS)
	assert.Equal(t, 50, rows[0].Quality)
}

func TestStore_GetEntryByGUID_AuthorityResolution(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	src := segment.Text{segment.Lit("Save")}

	require.NoError(t, store.SetEntry(ctx, "j1", Unit{GUID: "g", Source: src, Quality: 10, TS: 5}))
	require.NoError(t, store.SetEntry(ctx, "j2", Unit{GUID: "g", Source: src, Quality: 40, TS: 3}))
	require.NoError(t, store.SetEntry(ctx, "j3", Unit{GUID: "g", Source: src, Quality: 40, TS: 9}))

	got, err := store.GetEntryByGUID(ctx, "g")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 40, got.Quality)
	assert.Equal(t, int64(9), got.TS)
	assert.Equal(t, "j3", got.JobGUID)
}

func TestStore_GetEntryByGUID_Unknown(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	got, err := store.GetEntryByGUID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_GetExactMatches_OrdinalForm(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	stored := segment.Text{segment.Lit("Hello "), segment.Ph("x", "{name}")}
	query := segment.Text{segment.Lit("Hello "), segment.Ph("x", "{other}")}

	require.NoError(t, store.SetEntry(ctx, "j1", Unit{GUID: "g1", Source: stored, Quality: 80, TS: 1}))

	matches, err := store.GetExactMatches(ctx, query)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "g1", matches[0].GUID)

	// different literal text must not match
	none, err := store.GetExactMatches(ctx, segment.Text{segment.Lit("Bye "), segment.Ph("x", "{name}")})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_ProcessJob_PendingThenDone(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	req := JobRequest{
		JobGUID:    "job-1",
		SourceLang: language.English,
		TargetLang: language.German,
		Provider:   "acme",
		Units: []Unit{
			{GUID: "g1", RID: "r", SID: "s1", Source: segment.Text{segment.Lit("One")}},
			{GUID: "g2", RID: "r", SID: "s2", Source: segment.Text{segment.Lit("Two")}},
		},
	}

	// async provider accepted the job: placeholders only
	require.NoError(t, store.ProcessJob(ctx, JobResponse{
		JobGUID:  "job-1",
		Provider: "acme",
		Status:   StatusPending,
		InFlight: []string{"g1", "g2"},
	}, req))

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, StatusPending, job.Status)

	got, err := store.GetEntryByGUID(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.InFlight())
	assert.Equal(t, "s1", got.SID) // pulled from the request

	// results arrive: scored rows replace the placeholders
	require.NoError(t, store.ProcessJob(ctx, JobResponse{
		JobGUID:  "job-1",
		Provider: "acme",
		Status:   StatusDone,
		Units: []Unit{
			{GUID: "g1", Target: segment.Text{segment.Lit("Eins")}, Quality: 40, TS: 11},
			{GUID: "g2", Target: segment.Text{segment.Lit("Zwei")}, Quality: 40, TS: 11},
		},
	}, req))

	job, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, job.Status)

	got, err = store.GetEntryByGUID(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.InFlight())
	assert.Equal(t, 40, got.Quality)
	assert.Equal(t, segment.Text{segment.Lit("One")}, got.Source) // merged from request side
}

func TestStore_ProcessJob_DefaultTimestampFromClock(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	req := JobRequest{
		JobGUID:  "job-ts",
		Provider: "acme",
		Units:    []Unit{{GUID: "g1", Source: segment.Text{segment.Lit("Hi")}}},
	}
	require.NoError(t, store.ProcessJob(ctx, JobResponse{
		JobGUID:  "job-ts",
		Provider: "acme",
		Status:   StatusDone,
		Units:    []Unit{{GUID: "g1", Target: segment.Text{segment.Lit("Hallo")}, Quality: 50}},
	}, req))

	got, err := store.GetEntryByGUID(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1000), got.TS) // pinned test clock
}

func TestStore_DeleteJob_RemovesOwnedRows(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	src := segment.Text{segment.Lit("Hello")}

	require.NoError(t, store.SetEntry(ctx, "j1", Unit{GUID: "g1", Source: src, Quality: 50, TS: 1}))
	require.NoError(t, store.SetEntry(ctx, "j2", Unit{GUID: "g1", Source: src, Quality: 30, TS: 2}))
	require.NoError(t, store.SaveJob(ctx, Job{JobGUID: "j1", Status: StatusDone, Provider: "acme"}))

	require.NoError(t, store.DeleteJob(ctx, "j1"))

	got, err := store.GetEntryByGUID(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "j2", got.JobGUID) // lower-quality row survives

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestStore_GetStats(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	src := segment.Text{segment.Lit("x")}

	require.NoError(t, store.SaveJob(ctx, Job{JobGUID: "j1", Status: StatusDone, Provider: "acme"}))
	require.NoError(t, store.SetEntry(ctx, "j1", Unit{GUID: "g1", Source: src, Quality: 50, TS: 1}))
	require.NoError(t, store.SetEntry(ctx, "j1", Unit{GUID: "g2", Source: src, Quality: 50, TS: 1}))
	require.NoError(t, store.SaveJob(ctx, Job{JobGUID: "j2", Status: StatusPending, Provider: "other"}))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, StatsRow{Provider: "acme", Status: StatusDone, Units: 2}, stats[0])
	assert.Equal(t, StatsRow{Provider: "other", Status: StatusPending, Units: 0}, stats[1])
}

func TestStore_LeafCheckpointsRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveLeafResult(ctx, "task-1", 1, "translateChunk", []byte(`["b"]`)))
	require.NoError(t, store.SaveLeafResult(ctx, "task-1", 0, "translateChunk", []byte(`["a"]`)))

	cps, err := store.LoadLeafResults(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, 0, cps[0].LeafIndex)
	assert.Equal(t, `["a"]`, string(cps[0].Result))

	require.NoError(t, store.ClearTask(ctx, "task-1"))
	cps, err = store.LoadLeafResults(ctx, "task-1")
	require.NoError(t, err)
	assert.Empty(t, cps)
}

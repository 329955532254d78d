package pseudo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/loctra/loctra/internal/provider"
	"github.com/loctra/loctra/internal/segment"
	"github.com/loctra/loctra/internal/tm"
)

func TestRequestTranslations_FoldsLiteralsKeepsPlaceholders(t *testing.T) {
	p := New(nil, WithQuality(10))

	resp, err := p.RequestTranslations(context.Background(), tm.JobRequest{
		JobGUID:    "job-1",
		SourceLang: language.English,
		TargetLang: language.German,
		Provider:   "pseudo",
		Units: []tm.Unit{
			{GUID: "g1", Source: segment.Text{segment.Lit("Hello "), segment.Ph("x", "{name}")}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, tm.StatusDone, resp.Status)
	require.Len(t, resp.Units, 1)

	target := resp.Units[0].Target
	require.Len(t, target, 2)
	assert.Equal(t, "Hèllò ", target[0].Text)
	require.NotNil(t, target[1].Ph)
	assert.Equal(t, "{name}", target[1].Ph.Key)
	assert.Equal(t, 10, resp.Units[0].Quality)
}

func TestRequestTranslations_RejectsUnsupportedPair(t *testing.T) {
	p := New([]provider.Pair{{Source: language.English, Target: language.French}})

	_, err := p.RequestTranslations(context.Background(), tm.JobRequest{
		SourceLang: language.English,
		TargetLang: language.German,
	})
	assert.ErrorContains(t, err, "unsupported pair")
}

func TestRefreshTranslations_Deterministic(t *testing.T) {
	p := New(nil)
	req := tm.JobRequest{
		Units: []tm.Unit{{GUID: "g1", Source: segment.Text{segment.Lit("Cane")}}},
	}

	first, err := p.RefreshTranslations(context.Background(), req)
	require.NoError(t, err)
	second, err := p.RefreshTranslations(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, segment.Equal(first.Units[0].Target, second.Units[0].Target))
}

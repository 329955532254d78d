// Package provider defines the contract every translation provider
// adapter satisfies. The engine only ever talks to providers through
// this interface; concrete SDK integrations live outside the core.
package provider

import (
	"context"

	"golang.org/x/text/language"

	"github.com/loctra/loctra/internal/tm"
)

// Pair is one supported source→target language combination.
type Pair struct {
	Source language.Tag
	Target language.Tag
}

// Limits are a provider's batching and scheduling constraints.
type Limits struct {
	// Parallelism bounds concurrent chunk calls within one job.
	Parallelism int
	// MinBatch is the smallest unit count worth sending; smaller
	// candidate sets are left for lower-priority providers.
	MinBatch int
	// MaxBatch caps units per chunk. Zero means unbounded.
	MaxBatch int
	// MaxChunkChars caps the flattened source length per chunk.
	// Zero means unbounded.
	MaxChunkChars int
	// CostPerWord is the estimated price of one source word.
	CostPerWord float64
}

// Provider is the three-method translation contract plus metadata.
//
// RequestTranslations either completes synchronously (status done, Units
// populated) or accepts the work asynchronously (status pending,
// InFlight populated). FetchTranslations polls an accepted job and
// returns nil when results are not ready yet; that is not an error.
// RefreshTranslations re-runs already-translated units synchronously so
// callers can detect drift.
type Provider interface {
	Name() string
	Quality() int
	Pairs() []Pair
	Limits() Limits

	RequestTranslations(ctx context.Context, req tm.JobRequest) (*tm.JobResponse, error)
	FetchTranslations(ctx context.Context, pending tm.JobResponse, req tm.JobRequest) (*tm.JobResponse, error)
	RefreshTranslations(ctx context.Context, req tm.JobRequest) (*tm.JobResponse, error)
}

// SupportsPair reports whether p serves the given language pair.
func SupportsPair(p Provider, source, target language.Tag) bool {
	for _, pair := range p.Pairs() {
		if pair.Source == source && pair.Target == target {
			return true
		}
	}
	return false
}

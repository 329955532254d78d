// Package pseudo is a synchronous pseudo-localization provider: literal
// text is accent-folded so untranslated strings are obvious on screen,
// placeholders pass through untouched. It serves as the in-repo
// reference implementation of the provider contract and as a test
// double for the dispatcher.
package pseudo

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/loctra/loctra/internal/provider"
	"github.com/loctra/loctra/internal/segment"
	"github.com/loctra/loctra/internal/tm"
)

const defaultQuality = 1

var accentMap = map[rune]rune{
	'a': 'à', 'e': 'è', 'i': 'ì', 'o': 'ò', 'u': 'ù', 'y': 'ý',
	'A': 'À', 'E': 'È', 'I': 'Ì', 'O': 'Ò', 'U': 'Ù', 'Y': 'Ý',
	'c': 'ç', 'C': 'Ç', 'n': 'ñ', 'N': 'Ñ',
}

type Translator struct {
	quality int
	pairs   []provider.Pair
	limits  provider.Limits
}

// Option configures the pseudo provider.
type Option func(*Translator)

// WithQuality overrides the provider's declared quality score.
func WithQuality(q int) Option {
	return func(t *Translator) { t.quality = q }
}

// WithLimits overrides batching limits, mainly for dispatcher tests.
func WithLimits(l provider.Limits) Option {
	return func(t *Translator) { t.limits = l }
}

// New builds a pseudo provider serving the given pairs. With no pairs
// it accepts any pair.
func New(pairs []provider.Pair, opts ...Option) *Translator {
	t := &Translator{
		quality: defaultQuality,
		pairs:   pairs,
		limits:  provider.Limits{Parallelism: 4},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Translator) Name() string            { return "pseudo" }
func (t *Translator) Quality() int            { return t.quality }
func (t *Translator) Limits() provider.Limits { return t.limits }

func (t *Translator) Pairs() []provider.Pair {
	return t.pairs
}

// RequestTranslations completes synchronously: every unit comes back
// translated in request order.
func (t *Translator) RequestTranslations(_ context.Context, req tm.JobRequest) (*tm.JobResponse, error) {
	if !t.supports(req.SourceLang, req.TargetLang) {
		return nil, fmt.Errorf("pseudo: unsupported pair %s→%s", req.SourceLang, req.TargetLang)
	}
	units := make([]tm.Unit, 0, len(req.Units))
	for _, u := range req.Units {
		translated := u
		translated.Target = pseudolocalize(u.Source)
		translated.Quality = t.quality
		units = append(units, translated)
	}
	return &tm.JobResponse{
		JobGUID:  req.JobGUID,
		Provider: t.Name(),
		Status:   tm.StatusDone,
		Units:    units,
	}, nil
}

// FetchTranslations never has anything to fetch; the provider is
// synchronous.
func (t *Translator) FetchTranslations(context.Context, tm.JobResponse, tm.JobRequest) (*tm.JobResponse, error) {
	return nil, fmt.Errorf("pseudo: provider has no asynchronous jobs")
}

// RefreshTranslations re-runs the same deterministic transform.
func (t *Translator) RefreshTranslations(ctx context.Context, req tm.JobRequest) (*tm.JobResponse, error) {
	return t.RequestTranslations(ctx, req)
}

func (t *Translator) supports(source, target language.Tag) bool {
	if len(t.pairs) == 0 {
		return true
	}
	return provider.SupportsPair(t, source, target)
}

func pseudolocalize(src segment.Text) segment.Text {
	out := make(segment.Text, 0, len(src))
	for _, part := range src {
		if part.Ph != nil {
			out = append(out, part)
			continue
		}
		out = append(out, segment.Lit(accentFold(part.Text)))
	}
	return out
}

func accentFold(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if mapped, ok := accentMap[r]; ok {
			r = mapped
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Package leverage estimates how much of a candidate set is already
// covered by the translation memory and what the remainder would cost.
package leverage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/loctra/loctra/internal/segment"
	"github.com/loctra/loctra/internal/tm"
)

// Bucket accumulates word and character counts for one leverage class.
type Bucket struct {
	Units int
	Words int
	Chars int
}

func (b *Bucket) add(src segment.Text) {
	b.Units++
	b.Words += segment.Words(src)
	b.Chars += segment.Chars(src)
}

// Summary is the result of one estimation pass.
type Summary struct {
	Translated          Bucket
	Pending             Bucket
	InternalRepetitions Bucket
	Untranslated        Bucket

	// QualityHistogram counts translated units per quality score.
	QualityHistogram map[int]int

	// Cost is the estimated price of translating the untranslated
	// bucket, zero when no cost-per-word is configured.
	Cost float64
}

// Estimate walks the candidates in stable (rid, sid) order and buckets
// each one against the store. An untranslated unit whose ordinal source
// was already seen in this pass counts as an internal repetition, so
// repeated strings are only paid for once. The pass streams one unit at
// a time; only the set of seen ordinal keys is buffered.
func Estimate(ctx context.Context, store *tm.Store, candidates []tm.Unit, minQuality int, costPerWord float64) (*Summary, error) {
	ordered := make([]tm.Unit, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].RID != ordered[j].RID {
			return ordered[i].RID < ordered[j].RID
		}
		return ordered[i].SID < ordered[j].SID
	})

	summary := &Summary{QualityHistogram: make(map[int]int)}
	seen := make(map[string]bool)

	for _, u := range ordered {
		existing, err := store.GetEntryByGUID(ctx, u.GUID)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", u.GUID, err)
		}
		switch {
		case existing != nil && !existing.InFlight() && existing.Quality >= minQuality:
			summary.Translated.add(u.Source)
			summary.QualityHistogram[existing.Quality]++
		case existing != nil && existing.InFlight():
			summary.Pending.add(u.Source)
		default:
			key := segment.Ordinal(u.Source)
			if seen[key] {
				summary.InternalRepetitions.add(u.Source)
			} else {
				seen[key] = true
				summary.Untranslated.add(u.Source)
			}
		}
	}

	if costPerWord > 0 {
		summary.Cost = float64(summary.Untranslated.Words) * costPerWord
	}
	return summary, nil
}

// Render formats the summary for console output.
func (s *Summary) Render() string {
	var b strings.Builder
	line := func(name string, bk Bucket) {
		fmt.Fprintf(&b, "%-12s %6s units  %8s words  %9s chars\n",
			name,
			humanize.Comma(int64(bk.Units)),
			humanize.Comma(int64(bk.Words)),
			humanize.Comma(int64(bk.Chars)))
	}
	line("translated", s.Translated)
	line("pending", s.Pending)
	line("repetitions", s.InternalRepetitions)
	line("untranslated", s.Untranslated)

	if len(s.QualityHistogram) > 0 {
		qualities := make([]int, 0, len(s.QualityHistogram))
		for q := range s.QualityHistogram {
			qualities = append(qualities, q)
		}
		sort.Ints(qualities)
		b.WriteString("quality:")
		for _, q := range qualities {
			fmt.Fprintf(&b, " q%d=%s", q, humanize.Comma(int64(s.QualityHistogram[q])))
		}
		b.WriteString("\n")
	}
	if s.Cost > 0 {
		fmt.Fprintf(&b, "estimated cost: %s\n", humanize.CommafWithDigits(s.Cost, 2))
	}
	return b.String()
}

package dispatch

import (
	"fmt"

	"github.com/loctra/loctra/internal/provider"
	"github.com/loctra/loctra/internal/segment"
	"github.com/loctra/loctra/internal/tm"
)

// chunkUnits splits a request into provider-sized chunks, preserving
// unit order. A chunk never drops below one unit; a single unit that
// exceeds the provider's character limit cannot be dispatched at all.
func chunkUnits(units []tm.Unit, limits provider.Limits) ([][]tm.Unit, error) {
	chunks := make([][]tm.Unit, 0, 1)
	current := make([]tm.Unit, 0, len(units))
	currentChars := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, current)
			current = make([]tm.Unit, 0, len(units))
			currentChars = 0
		}
	}

	for _, u := range units {
		chars := segment.Chars(u.Source)
		if limits.MaxChunkChars > 0 && chars > limits.MaxChunkChars {
			return nil, fmt.Errorf("unit %s (%d chars): %w", u.GUID, chars, ErrUnitTooLarge)
		}
		if limits.MaxChunkChars > 0 && len(current) > 0 && currentChars+chars > limits.MaxChunkChars {
			flush()
		}
		current = append(current, u)
		currentChars += chars
		if limits.MaxBatch > 0 && len(current) >= limits.MaxBatch {
			flush()
		}
	}
	flush()
	return chunks, nil
}

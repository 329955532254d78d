package tm

// MoreAuthoritative reports whether a beats b when both are candidate
// rows for the same guid: higher quality wins, ties go to the newer
// timestamp. This is the only home of the tie-break rule; every read
// path resolves authority through it.
func MoreAuthoritative(a, b Unit) bool {
	if a.Quality != b.Quality {
		return a.Quality > b.Quality
	}
	return a.TS > b.TS
}

// Authoritative returns the winning unit of a non-empty candidate set,
// or nil for an empty one.
func Authoritative(units []Unit) *Unit {
	if len(units) == 0 {
		return nil
	}
	best := units[0]
	for _, u := range units[1:] {
		if MoreAuthoritative(u, best) {
			best = u
		}
	}
	return &best
}

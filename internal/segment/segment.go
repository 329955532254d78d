package segment

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"
)

// Text is a normalized source or target string: an ordered sequence of
// literal text parts and placeholders. Placeholders carry the original
// markup so emitters can restore it, but identity and matching never
// depend on their content.
type Text []Part

// Part is one element of a normalized string. Exactly one of Text or Ph
// is set.
type Part struct {
	Text string       `json:"t,omitempty"`
	Ph   *Placeholder `json:"ph,omitempty"`
}

// Placeholder is a protected non-translatable span.
type Placeholder struct {
	Kind   string `json:"kind,omitempty"`
	Key    string `json:"key"`
	Sample string `json:"sample,omitempty"`
}

// Lit builds a literal text part.
func Lit(s string) Part {
	return Part{Text: s}
}

// Ph builds a placeholder part.
func Ph(kind, key string) Part {
	return Part{Ph: &Placeholder{Kind: kind, Key: key}}
}

func (p Part) IsPlaceholder() bool {
	return p.Ph != nil
}

// GUID derives the content-addressed identity of a segment from its
// resource id, segment id and normalized source. Resubmitting the same
// source in the same slot always yields the same guid.
func GUID(rid, sid string, src Text) string {
	h := sha256.New()
	h.Write([]byte(rid))
	h.Write([]byte{0x1f})
	h.Write([]byte(sid))
	h.Write([]byte{0x1f})
	for _, part := range src {
		if part.Ph != nil {
			h.Write([]byte{0x1e})
			h.Write([]byte(part.Ph.Key))
		} else {
			h.Write([]byte(part.Text))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Ordinal renders a segment with every placeholder collapsed to a
// positional marker. Two sources that differ only in placeholder content
// produce the same ordinal form, which is what exact-match and
// repetition detection key on.
func Ordinal(src Text) string {
	var sb strings.Builder
	pos := 0
	for _, part := range src {
		if part.Ph != nil {
			sb.WriteString("{{")
			sb.WriteString(strconv.Itoa(pos))
			sb.WriteString("}}")
			pos++
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// Flatten renders a segment as plain text with placeholder markup
// inlined, for language detection and length accounting.
func Flatten(src Text) string {
	var sb strings.Builder
	for _, part := range src {
		if part.Ph != nil {
			sb.WriteString(part.Ph.Key)
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// Words counts the whitespace-separated words in the literal parts of a
// segment. Placeholders do not count as words.
func Words(src Text) int {
	total := 0
	for _, part := range src {
		if part.Ph != nil {
			continue
		}
		total += len(strings.FieldsFunc(part.Text, unicode.IsSpace))
	}
	return total
}

// Chars counts the runes of the flattened segment.
func Chars(src Text) int {
	total := 0
	for _, part := range src {
		if part.Ph != nil {
			total += len([]rune(part.Ph.Key))
			continue
		}
		total += len([]rune(part.Text))
	}
	return total
}

// Equal reports whether two normalized strings are byte-identical,
// placeholders included.
func Equal(a, b Text) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		pa, pb := a[i], b[i]
		if (pa.Ph == nil) != (pb.Ph == nil) {
			return false
		}
		if pa.Ph != nil {
			if pa.Ph.Kind != pb.Ph.Kind || pa.Ph.Key != pb.Ph.Key || pa.Ph.Sample != pb.Ph.Sample {
				return false
			}
			continue
		}
		if pa.Text != pb.Text {
			return false
		}
	}
	return true
}

package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGUID_StableAcrossResubmission(t *testing.T) {
	src := Text{Lit("Hello "), Ph("x", "{name}")}

	first := GUID("app.json", "greeting", src)
	second := GUID("app.json", "greeting", Text{Lit("Hello "), Ph("x", "{name}")})

	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestGUID_ChangesWithContext(t *testing.T) {
	src := Text{Lit("OK")}

	a := GUID("app.json", "dialog.ok", src)
	b := GUID("app.json", "toolbar.ok", src)

	assert.NotEqual(t, a, b)
}

func TestOrdinal_IgnoresPlaceholderContent(t *testing.T) {
	a := Text{Lit("Hello "), Ph("x", "{name}")}
	b := Text{Lit("Hello "), Ph("x", "{other}")}

	assert.Equal(t, Ordinal(a), Ordinal(b))
	assert.Equal(t, "Hello {{0}}", Ordinal(a))
}

func TestOrdinal_PositionMatters(t *testing.T) {
	a := Text{Ph("x", "{a}"), Lit(" items")}
	b := Text{Lit(" items"), Ph("x", "{a}")}

	assert.NotEqual(t, Ordinal(a), Ordinal(b))
}

func TestWordsAndChars(t *testing.T) {
	src := Text{Lit("two words "), Ph("x", "{n}")}

	assert.Equal(t, 2, Words(src))
	assert.Equal(t, len([]rune("two words {n}")), Chars(src))
}

func TestEqual(t *testing.T) {
	a := Text{Lit("Hi "), Ph("x", "{n}")}
	b := Text{Lit("Hi "), Ph("x", "{n}")}
	c := Text{Lit("Hi "), Ph("x", "{m}")}

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
	assert.False(t, Equal(a, a[:1]))
}

func TestFlatten(t *testing.T) {
	src := Text{Lit("Hello "), Ph("x", "{name}"), Lit("!")}
	assert.Equal(t, "Hello {name}!", Flatten(src))
}

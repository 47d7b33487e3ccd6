package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormSpace(t *testing.T) {
	assert.Equal(t, "a b c", NormSpace("  a \t b\n\nc "))
	assert.Equal(t, "", NormSpace("   "))

	cases := map[string]string{
		"Loyer\u00a0payé":          "Loyer payé",
		"Loyer\u202fpayé":          "Loyer payé",
		"\u00a0 Loyer \u2009payé ": "Loyer payé",
		"a\u3000b\u0085c":          "a b c",
		"a\x1fb":                   "a b",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormSpace(in), "NormSpace(%q)", in)
	}
}

func TestSlugish(t *testing.T) {
	assert.Equal(t, "vente-de-lappartement", Slugish("Vente de l'appartement!"))
	assert.Equal(t, "école-du-soir", Slugish("École du soir"))
	assert.Equal(t, "na", Slugish("?!"))
	assert.Equal(t, "na", Slugish(""))
	assert.Equal(t, "vie-commune", Slugish("vie\u00a0commune"))
	assert.Equal(t, "prix", Slugish("prix\u202f€"))
	assert.Equal(t, "loyer-payé", Slugish("\u00a0Loyer  payé\u202f!"))
}

func TestHashID(t *testing.T) {
	// sha1("abc") = a9993e364706816aba3e25717850c26c9cd0d89d
	assert.Equal(t, "FREF-a9993e3647", HashID("FREF", "abc", 10))
	assert.Equal(t, "FREF-a9993e36", HashID("FREF", "abc", 8))
	assert.Equal(t, HashID("X", "same", 10), HashID("X", "same", 10))
}

func TestDeaccentAndCanonKey(t *testing.T) {
	assert.Equal(t, "eleve a l'ecole", Deaccent("élève à l'école"))
	assert.Equal(t, "argument d autorite", CanonKey("  Argument d'Autorité "))
	assert.Equal(t, "red herring fausse piste", CanonKey("Red herring (fausse piste)"))
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "frais d ecole bus", NormalizeLabel("Frais d'école / bus"))
	assert.Equal(t, "visa immigration", NormalizeLabel("Visa-immigration"))
	assert.Equal(t, "frais d ecole", NormalizeLabel("Frais\u00a0d'École"))
	assert.Equal(t, "", NormalizeLabel(""))
}

func TestJaccard(t *testing.T) {
	a := TokenSet("paiement salaires atelier")
	b := TokenSet("paiement des salaires atelier")
	assert.InDelta(t, 0.75, Jaccard(a, b), 1e-9)
	assert.Equal(t, 0.0, Jaccard(a, TokenSet("")))
}

func TestSequenceRatio(t *testing.T) {
	assert.Equal(t, 1.0, SequenceRatio("abcd", "abcd"))
	assert.InDelta(t, 0.75, SequenceRatio("abcd", "bcde"), 1e-9)
	assert.Equal(t, 0.0, SequenceRatio("abc", "xyz"))
}

func TestCloseMatch(t *testing.T) {
	choices := []string{"Projection psychologique", "Argument d'autorité"}
	got, ok := CloseMatch("Projection psycologique", choices, 0.78)
	assert.True(t, ok)
	assert.Equal(t, "Projection psychologique", got)

	_, ok = CloseMatch("Tout autre chose", choices, 0.78)
	assert.False(t, ok)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5, "..."))
	assert.Equal(t, "ab...", Truncate("abcdef", 2, "..."))
}

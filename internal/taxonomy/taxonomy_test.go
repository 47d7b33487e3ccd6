package taxonomy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
- name: "Hors sujet / diversion"
  category: Diversion
- name: "Homme de paille"
  category: "Inversion et falsification"
  aliases: ["straw man", "épouvantail"]
- name: "Culpabilisation"
  category: "Manipulation émotionnelle"
- name: ""
  category: Ignored
`

func loadSample(t *testing.T, mode Mode) *Taxonomy {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sophismes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0644))
	tx, err := Load(path, mode)
	require.NoError(t, err)
	return tx
}

func TestLoad(t *testing.T) {
	tx := loadSample(t, ModeHint)
	assert.Equal(t, []string{"Culpabilisation", "Homme de paille", "Hors sujet / diversion"}, tx.Names())
	assert.Equal(t, []string{"Diversion", "Inversion et falsification", "Manipulation émotionnelle"}, tx.Categories())

	missing, err := Load(filepath.Join(t.TempDir(), "none.yaml"), ModeStrict)
	require.NoError(t, err)
	assert.Empty(t, missing.Names())

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: [unclosed"), 0644))
	_, err = Load(bad, ModeHint)
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	tx := loadSample(t, ModeNormalize)

	name, cat, ok := tx.Lookup("EPOUVANTAIL", "")
	assert.True(t, ok)
	assert.Equal(t, "Homme de paille", name)
	assert.Equal(t, "Inversion et falsification", cat)

	// built-in alias of a YAML entry
	name, _, ok = tx.Lookup("Répond à côté", "")
	assert.True(t, ok)
	assert.Equal(t, "Hors sujet / diversion", name)

	// close match on the canonical names
	name, _, ok = tx.Lookup("Culpabilisations", "X")
	assert.True(t, ok)
	assert.Equal(t, "Culpabilisation", name)

	name, cat, ok = tx.Lookup("Pente glissante", "Logique")
	assert.False(t, ok)
	assert.Equal(t, "Pente glissante", name)
	assert.Equal(t, "Logique", cat)
}

func TestNormalizeModes(t *testing.T) {
	off := loadSample(t, ModeOff)
	name, cat := off.Normalize("straw man", "c")
	assert.Equal(t, "straw man", name)
	assert.Equal(t, "c", cat)

	norm := loadSample(t, ModeNormalize)
	name, _ = norm.Normalize("straw man", "c")
	assert.Equal(t, "Homme de paille", name)
	name, cat = norm.Normalize("Pente glissante", "Logique")
	assert.Equal(t, "Pente glissante", name)
	assert.Equal(t, "Logique", cat)

	strict := loadSample(t, ModeStrict)
	name, cat = strict.Normalize("Pente glissante", "Logique")
	assert.Equal(t, UnclassifiedName, name)
	assert.Equal(t, UnclassifiedCategory, cat)
	name, _ = strict.Normalize("Culpabilisation", "")
	assert.Equal(t, "Culpabilisation", name)

	var nilTax *Taxonomy
	name, _ = nilTax.Normalize("x", "y")
	assert.Equal(t, "x", name)
}

func TestHint(t *testing.T) {
	assert.Empty(t, loadSample(t, ModeNormalize).Hint())
	hint := loadSample(t, ModeStrict).Hint()
	assert.Contains(t, hint, "- Noms canoniques: Culpabilisation, Homme de paille, Hors sujet / diversion")
	assert.Contains(t, hint, "- Catégories: Diversion,")
	assert.Equal(t, "Nomenclature de référence (utilise ces libellés si pertinent) :\n- Noms canoniques: —\n- Catégories: —\n",
		New(nil, ModeHint).Hint())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Strict ")
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeOff, m)
	_, err = ParseMode("loose")
	assert.Error(t, err)
}

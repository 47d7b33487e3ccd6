package archive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `=== MESSAGE ===
🗕 Date : 2021-03-04
👤 From : Alice <alice@example.org>
📨 To   : bob@example.org
🧕 Subject : Re: appartement
---
// UID: 4242
Bonjour,=
 tout va bien=20ici.
=== FIN ===

=== MESSAGE ===
🗕 Date : 2020-12-31
👤 From : bob@example.org
📨 To   : Alice
🧕 Subject :
---
Second message
=== FIN ===
`

func TestParse(t *testing.T) {
	msgs := Parse(sample)
	require.Len(t, msgs, 2)

	want := []Message{
		{Date: "2021-03-04", From: "Alice <alice@example.org>", To: "bob@example.org", Subject: "Re: appartement", UID: "4242", Body: "Bonjour, tout va bien ici."},
		{Date: "2020-12-31", From: "bob@example.org", To: "Alice", Subject: "", Body: "Second message"},
	}
	if diff := cmp.Diff(want, msgs, cmpopts.IgnoreFields(Message{}, "Raw")); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2021, msgs[0].Year())
}

func TestMessage_FormatRoundTrip(t *testing.T) {
	m := Message{Date: "2022-01-02", From: "a@x", To: "b@x", Subject: "s", UID: "7", Body: "hello\nworld"}
	out := m.Format()
	assert.True(t, strings.HasPrefix(out, "=== MESSAGE ===\n🗕 Date : 2022-01-02\n"))
	assert.True(t, strings.HasSuffix(out, "hello\nworld\n=== FIN ==="))

	parsed := Parse(out)
	require.Len(t, parsed, 1)
	assert.Equal(t, "7", parsed[0].UID)
	assert.Equal(t, "hello\nworld", parsed[0].Body)
}

func TestMessage_YearUnknown(t *testing.T) {
	assert.Equal(t, 0, Message{Date: "Tue, 3 Mar"}.Year())
}

func TestWriter_Dedupe(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "whatsapp")
	m := Message{Date: "2022-01-02", From: "a", To: "b", Subject: "WhatsApp", Body: "salut"}

	written, err := w.Write(2022, m)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = w.Write(2022, m)
	require.NoError(t, err)
	assert.False(t, written)

	// A fresh writer sees the existing file content.
	written, err = NewWriter(dir, "whatsapp").Write(2022, m)
	require.NoError(t, err)
	assert.False(t, written)

	data, err := os.ReadFile(filepath.Join(dir, "whatsapp_2022.txt"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "=== MESSAGE ==="))
}

func TestDiscoverAndParseYears(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"emails_2019.txt", "emails_2021.txt", "emails_2021_NORMALIZED.txt", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	years, err := DiscoverYears(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []int{2019, 2021}, years)

	years, err = DiscoverYears(dir, true)
	require.NoError(t, err)
	assert.Equal(t, []int{2021}, years)

	years, err = ParseYears("all", dir, false)
	require.NoError(t, err)
	assert.Equal(t, []int{2019, 2021}, years)

	years, err = ParseYears("2022-2020", dir, false)
	require.NoError(t, err)
	assert.Equal(t, []int{2020, 2021, 2022}, years)

	years, err = ParseYears("2018, 2020", dir, false)
	require.NoError(t, err)
	assert.Equal(t, []int{2018, 2020}, years)

	_, err = ParseYears("all", t.TempDir(), false)
	assert.Error(t, err)

	_, err = ParseYears("20x1", dir, false)
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte(sample), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "b.txt"), []byte(sample), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "junk.txt"), []byte("nothing here"), 0644))

	res, err := Merge(src, dst, 2021, 2030)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 4, res.Read)
	assert.Equal(t, 1, res.Written)

	_, err = os.Stat(filepath.Join(dst, "emails_2020.txt"))
	assert.True(t, os.IsNotExist(err))

	msgs, err := ReadFile(filepath.Join(dst, "emails_2021.txt"))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "4242", msgs[0].UID)
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "emails_2020.txt"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_processed_ids.txt"), nil, 0644))

	removed, err := Clear(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"emails_2020.txt"}, removed)
	_, err = os.Stat(filepath.Join(dir, "_processed_ids.txt"))
	assert.NoError(t, err)
}

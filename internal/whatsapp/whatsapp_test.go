package whatsapp

import (
	"autopn/internal/archive"
	"autopn/internal/config"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chat = "12/31/21, 11:58 PM - Maman: Bonne année en avance\r\n" +
	"on se voit demain ?\r\n" +
	"1/1/2022, 00:05 - Yann: Oui, à midi\n" +
	"1/1/22, 9:15 am - Maman: Apporte les papiers du terrain\n" +
	"3/4/19, 10:00 - Maman: Trop ancien\n" +
	"ignoré car hors période\n" +
	"Messages and calls are end-to-end encrypted.\n"

func TestParseTime(t *testing.T) {
	got, ok := ParseTime("12/31/21", "11:58", "pm")
	require.True(t, ok)
	assert.Equal(t, time.Date(2021, 12, 31, 23, 58, 0, 0, time.UTC), got)

	got, ok = ParseTime("1/2/2022", "07:30", "")
	require.True(t, ok)
	assert.Equal(t, time.Date(2022, 1, 2, 7, 30, 0, 0, time.UTC), got)

	_, ok = ParseTime("31/12/21", "10:00", "")
	assert.False(t, ok)
}

func TestParse(t *testing.T) {
	msgs := Parse(chat, config.YearRange{From: 2020, To: 2022})
	require.Len(t, msgs, 3)

	assert.Equal(t, "Maman", msgs[0].Author)
	assert.Equal(t, "Bonne année en avance\non se voit demain ?", msgs[0].Text)
	assert.Equal(t, 2021, msgs[0].Time.Year())
	assert.Equal(t, "Yann", msgs[1].Author)
	assert.Equal(t, "Oui, à midi", msgs[1].Text)
	assert.Equal(t, 9, msgs[2].Time.Hour())
	assert.Equal(t, "Apporte les papiers du terrain", msgs[2].Text)

	assert.Len(t, Parse(chat, config.YearRange{}), 4)
}

func TestDecode(t *testing.T) {
	s, err := Decode([]byte("déjà"))
	require.NoError(t, err)
	assert.Equal(t, "déjà", s)

	s, err = Decode([]byte{'d', 0xe9, 'j', 0xe0})
	require.NoError(t, err)
	assert.Equal(t, "déjà", s)
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()
	chatPath := filepath.Join(dir, "chat.txt")
	require.NoError(t, os.WriteFile(chatPath, []byte(chat), 0644))
	out := filepath.Join(dir, "out")

	opts := Options{Recipient: "Yann", Years: config.YearRange{From: 2020, To: 2022}}
	res, err := Convert(chatPath, out, opts)
	require.NoError(t, err)
	assert.Equal(t, Result{Messages: 3, Written: 3, Years: []int{2021, 2022}}, res)

	msgs, err := archive.ReadFile(filepath.Join(out, "whatsapp_2022.txt"))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "2022-01-01", msgs[0].Date)
	assert.Equal(t, "Yann", msgs[0].From)
	assert.Equal(t, "Yann", msgs[0].To)
	assert.Equal(t, "WhatsApp", msgs[0].Subject)
	assert.Equal(t, "Apporte les papiers du terrain", msgs[1].Body)

	res, err = Convert(chatPath, out, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Written)
	assert.Equal(t, 3, res.Duplicates)

	_, err = Convert(filepath.Join(dir, "missing.txt"), out, opts)
	assert.Error(t, err)
}

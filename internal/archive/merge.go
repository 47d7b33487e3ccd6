package archive

import (
	"autopn/internal/logging"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// MergeResult summarizes a Merge run.
type MergeResult struct {
	Read     int
	Written  int
	Skipped  int
	Rejected int
}

// Merge reads every block file in srcDir, orders the messages by date and
// appends them to dstDir/emails_<year>.txt, keeping only years in
// [yearFrom, yearTo]. Files without any parsable block are rejected.
func Merge(srcDir, dstDir string, yearFrom, yearTo int) (MergeResult, error) {
	var res MergeResult

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return res, fmt.Errorf("failed to list %s: %w", srcDir, err)
	}

	type dated struct {
		msg  Message
		year int
		key  string
	}
	var all []dated
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(srcDir, e.Name())
		msgs, err := ReadFile(path)
		if err != nil || len(msgs) == 0 {
			logging.ConvertWarn("merge: rejected %s", path)
			res.Rejected++
			continue
		}
		for _, m := range msgs {
			t, ok := m.Time()
			if !ok {
				continue
			}
			m.Date = t.Format(dateLayout)
			all = append(all, dated{msg: m, year: t.Year(), key: m.Date})
		}
	}
	res.Read = len(all)

	sort.SliceStable(all, func(i, j int) bool { return all[i].key < all[j].key })

	w := NewWriter(dstDir, "emails")
	for _, d := range all {
		if d.year < yearFrom || d.year > yearTo {
			res.Skipped++
			continue
		}
		written, err := w.Write(d.year, d.msg)
		if err != nil {
			return res, err
		}
		if written {
			res.Written++
		} else {
			res.Skipped++
		}
	}
	logging.Convert("merge: %d read, %d written, %d rejected files", res.Read, res.Written, res.Rejected)
	return res, nil
}

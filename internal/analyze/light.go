package analyze

import (
	"autopn/internal/events"
	"autopn/internal/logging"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// LightFields is the column order of the light topics CSV.
var LightFields = []string{"id_topic", "year", "email_id", "email_sender", "speaker", "field", "text", "status_code"}

// LightRow is one finding of the light topics CSV.
type LightRow struct {
	IDTopic     string
	Year        int
	EmailID     string
	EmailSender string
	Speaker     string
	Field       string
	Text        string
	StatusCode  string
}

func (r LightRow) values() []string {
	return []string{r.IDTopic, strconv.Itoa(r.Year), r.EmailID, r.EmailSender, r.Speaker, r.Field, r.Text, r.StatusCode}
}

// TopicID numbers finding local of message msg (both 1-based).
func TopicID(year, msg, local int) string {
	return fmt.Sprintf("Y%d-%05d-%02d", year, msg, local)
}

// LightCSV appends findings to the light topics CSV, skipping ids it
// already holds.
type LightCSV struct {
	path string
	mu   sync.Mutex
	ids  map[string]bool
}

// OpenLight opens the light CSV at path, creating it with its header.
// truncate discards existing rows.
func OpenLight(path string, truncate bool) (*LightCSV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if truncate {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to clear light CSV: %w", err)
		}
	}

	l := &LightCSV{path: path, ids: make(map[string]bool)}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create light CSV: %w", err)
		}
		w := csv.NewWriter(f)
		w.Write(LightFields)
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
		return l, nil
	}

	rows, err := events.Read(path)
	if err != nil {
		logging.AnalyzeWarn("could not read existing light CSV ids: %v", err)
		return l, nil
	}
	for _, r := range rows {
		if id := r.Get("id_topic"); id != "" {
			l.ids[id] = true
		}
	}
	return l, nil
}

// Path returns the CSV location.
func (l *LightCSV) Path() string { return l.path }

// Len returns the number of distinct ids in the file.
func (l *LightCSV) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

// Append writes rows whose id is new and returns how many were written.
func (l *LightCSV) Append(rows []LightRow) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var fresh []LightRow
	for _, r := range rows {
		if l.ids[r.IDTopic] {
			continue
		}
		l.ids[r.IDTopic] = true
		fresh = append(fresh, r)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open light CSV: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	for _, r := range fresh {
		w.Write(r.values())
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("failed to append light rows: %w", err)
	}
	logging.Audit().FileWrite(l.path, len(fresh))
	return len(fresh), nil
}

package archive

import (
	"autopn/internal/logging"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Writer appends blocks to per-year files, skipping blocks already present
// in the target file.
type Writer struct {
	dir    string
	prefix string

	mu    sync.Mutex
	cache map[string]string
}

// NewWriter creates a writer for <dir>/<prefix>_<year>.txt files.
func NewWriter(dir, prefix string) *Writer {
	return &Writer{dir: dir, prefix: prefix, cache: make(map[string]string)}
}

// Path returns the file a given year is written to.
func (w *Writer) Path(year int) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%d.txt", w.prefix, year))
}

// Write appends msg to its year file. It reports false when the same block
// was already in the file.
func (w *Writer) Write(year int, msg Message) (bool, error) {
	return w.WriteBlock(w.Path(year), msg.Format())
}

// WriteBlock appends a preformatted block to path with the same dedupe rule.
func (w *Writer) WriteBlock(path, block string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	existing, ok := w.cache[path]
	if !ok {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return false, fmt.Errorf("failed to read %s: %w", path, err)
		}
		existing = string(data)
	}
	if strings.Contains(existing, block) {
		w.cache[path] = existing
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(block + "\n\n"); err != nil {
		return false, fmt.Errorf("failed to append to %s: %w", path, err)
	}
	w.cache[path] = existing + block + "\n\n"
	return true, nil
}

// YearFile returns emails_YYYY.txt (or emails_YYYY_NORMALIZED.txt) in dir.
func YearFile(dir string, year int, normalized bool) string {
	suffix := ""
	if normalized {
		suffix = "_NORMALIZED"
	}
	return filepath.Join(dir, fmt.Sprintf("emails_%d%s.txt", year, suffix))
}

var yearFileRe = regexp.MustCompile(`^emails_(\d{4})(_NORMALIZED)?\.txt$`)

// DiscoverYears lists the years that have an emails file in dir.
func DiscoverYears(dir string, normalized bool) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	seen := make(map[int]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := yearFileRe.FindStringSubmatch(e.Name())
		if m == nil || (m[2] != "") != normalized {
			continue
		}
		y, _ := strconv.Atoi(m[1])
		seen[y] = true
	}
	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

// ParseYears resolves a years selector: "all" (discovered in dir),
// "2019-2021", "2019,2021" or a single year.
func ParseYears(spec, dir string, normalized bool) ([]int, error) {
	token := strings.ToLower(strings.TrimSpace(spec))
	if token == "" || token == "all" {
		years, err := DiscoverYears(dir, normalized)
		if err != nil {
			return nil, err
		}
		if len(years) == 0 {
			return nil, fmt.Errorf("no emails_YYYY files found in %s", dir)
		}
		return years, nil
	}
	if a, b, ok := strings.Cut(token, "-"); ok {
		start, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil {
			return nil, fmt.Errorf("invalid year range %q: %w", spec, err)
		}
		end, err := strconv.Atoi(strings.TrimSpace(b))
		if err != nil {
			return nil, fmt.Errorf("invalid year range %q: %w", spec, err)
		}
		if start > end {
			start, end = end, start
		}
		years := make([]int, 0, end-start+1)
		for y := start; y <= end; y++ {
			years = append(years, y)
		}
		return years, nil
	}
	var years []int
	for _, part := range strings.Split(token, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		y, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid year %q: %w", part, err)
		}
		years = append(years, y)
	}
	return years, nil
}

// Clear removes every emails_*.txt file in dir.
func Clear(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var removed []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "emails_") || !strings.HasSuffix(name, ".txt") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", name, err)
		}
		logging.ConvertDebug("removed archive file %s", name)
		removed = append(removed, name)
	}
	return removed, nil
}

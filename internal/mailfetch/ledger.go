package mailfetch

import (
	"autopn/internal/archive"
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Ledger file names, kept in the output directory.
const (
	ProcessedLedger = "_processed_ids.txt"
	ErrorLedger     = "_error_ids.txt"
)

// Ledger is an append-only set of UIDs stored one per line.
type Ledger struct {
	path string
	mu   sync.Mutex
	ids  map[string]bool
}

// OpenLedger loads the ledger at path. A missing file is an empty ledger.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path, ids: make(map[string]bool)}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if id := strings.TrimSpace(sc.Text()); id != "" {
			l.ids[id] = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", path, err)
	}
	return l, nil
}

// Has reports whether id is recorded.
func (l *Ledger) Has(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ids[id]
}

// Len returns the number of recorded ids.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

// Add records id, appending it to the file unless already present.
func (l *Ledger) Add(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ids[id] {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(id + "\n"); err != nil {
		return fmt.Errorf("failed to append to ledger: %w", err)
	}
	l.ids[id] = true
	return nil
}

// Reset removes the exported emails_*.txt files and both ledgers of dir.
// It returns the removed file names.
func Reset(dir string) ([]string, error) {
	removed, err := archive.Clear(dir)
	if err != nil {
		return removed, err
	}
	for _, name := range []string{ProcessedLedger, ErrorLedger} {
		p := filepath.Join(dir, name)
		if err := os.Remove(p); err == nil {
			removed = append(removed, name)
		} else if !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return removed, nil
}

package consolidate

import (
	"autopn/internal/logging"
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-runs a Job whenever one of its input files changes.
// Directories are watched rather than files so editors that replace files
// on save are still seen.
type Watcher struct {
	job         Job
	watcher     *fsnotify.Watcher
	inputs      map[string]bool
	debounceDur time.Duration
	onRun       func(*Result, error)

	mu      sync.Mutex
	pending bool
	lastEv  time.Time
	runs    int
}

// NewWatcher creates a watcher for job. onRun is called after each run.
func NewWatcher(job Job, onRun func(*Result, error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		job:         job,
		watcher:     fw,
		inputs:      make(map[string]bool),
		debounceDur: 300 * time.Millisecond,
		onRun:       onRun,
	}
	dirs := make(map[string]bool)
	for _, in := range job.Inputs() {
		abs, err := filepath.Abs(in)
		if err != nil {
			abs = in
		}
		w.inputs[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			logging.ConsolidateWarn("watch: cannot watch %s: %v", dir, err)
			continue
		}
		logging.ConsolidateDebug("watch: watching %s", dir)
	}
	return w, nil
}

// Runs returns how many consolidations ran.
func (w *Watcher) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

// Run blocks until ctx is cancelled, consolidating once at start and after
// every debounced change. Outputs written by the job itself are ignored.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	w.runOnce()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logging.ConsolidateWarn("watch error: %v", err)

		case <-ticker.C:
			w.mu.Lock()
			due := w.pending && time.Since(w.lastEv) >= w.debounceDur
			if due {
				w.pending = false
			}
			w.mu.Unlock()
			if due {
				w.runOnce()
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		abs = ev.Name
	}
	if !w.inputs[abs] {
		return
	}
	logging.ConsolidateDebug("watch: %s %s", ev.Op, ev.Name)
	w.mu.Lock()
	w.pending = true
	w.lastEv = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) runOnce() {
	res, _, err := w.job.Run()
	w.mu.Lock()
	w.runs++
	w.mu.Unlock()
	if err != nil {
		logging.ConsolidateWarn("watch: consolidation failed: %v", err)
	}
	if w.onRun != nil {
		w.onRun(res, err)
	}
}

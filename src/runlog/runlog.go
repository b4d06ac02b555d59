// Package runlog writes one log file per process run and prunes old runs.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const filePrefix = "graphdoctor-run-"

// Writer appends captured console lines to the current run's file.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open creates a new run log in dir, named by start time, and prunes the
// oldest files beyond maxRuns. maxRuns < 1 disables pruning.
func Open(dir string, maxRuns int) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run log dir: %w", err)
	}

	name := filePrefix + time.Now().Format("20060102-150405") + ".log"
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating run log: %w", err)
	}

	if maxRuns > 0 {
		if err := prune(dir, maxRuns); err != nil {
			// Pruning failure is not worth failing startup over.
			fmt.Fprintf(os.Stderr, "run log prune: %v\n", err)
		}
	}

	return &Writer{file: file, path: path}, nil
}

// Write appends one line, timestamped.
func (w *Writer) Write(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.file, "%s %s\n", time.Now().Format(time.RFC3339), line)
	return err
}

// Path returns the current run's file path.
func (w *Writer) Path() string {
	return w.path
}

// Close flushes and closes the run file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// prune removes the oldest run files so at most maxRuns remain, counting the
// file just created.
func prune(dir string, maxRuns int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var runs []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), filePrefix) && strings.HasSuffix(e.Name(), ".log") {
			runs = append(runs, e.Name())
		}
	}
	if len(runs) <= maxRuns {
		return nil
	}

	// Timestamped names sort chronologically.
	sort.Strings(runs)
	for _, name := range runs[:len(runs)-maxRuns] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

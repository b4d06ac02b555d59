package patterns

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"

	"graphdoctor/src/logger"
)

// Watcher hot-reloads the pattern registry when its backing file changes.
// A reload that fails to parse or validate keeps the previous registry; the
// classifier is never left without a table.
type Watcher struct {
	path       string
	classifier *Classifier
	log        logger.Logger
	fw         *fsnotify.Watcher
}

// NewWatcher creates a watcher for path that swaps reloaded registries into
// classifier.
func NewWatcher(path string, classifier *Classifier, log logger.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch pattern file %s: %w", path, err)
	}
	return &Watcher{path: path, classifier: classifier, log: log, fw: fw}, nil
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()

	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("[PatternWatcher] watch error: %v", err)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Watcher) reload() {
	reg, err := LoadFile(w.path)
	if err != nil {
		w.log.Error("[PatternWatcher] reload rejected, keeping registry v%d: %v",
			w.classifier.Registry().Version(), err)
		return
	}
	w.classifier.Swap(reg)
	w.log.Info("[PatternWatcher] pattern registry reloaded: v%d, %d patterns", reg.Version(), reg.Len())
}

// Package outputwatch notices when a persisted output file is removed or
// moved away from outside the process, so it can be rewritten from memory.
package outputwatch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Config for the output watcher
type Config struct {
	Paths []string
	// OnLost is called with the absolute path of a watched file that was
	// removed or renamed. It runs on the watcher goroutine.
	OnLost func(path string)
}

// Watcher watches the directories holding the output files.
type Watcher struct {
	cfg     Config
	log     *logrus.Logger
	watcher *fsnotify.Watcher
	targets map[string]bool
}

// New creates a watcher on the parent directory of every configured path.
func New(cfg Config, log *logrus.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		cfg:     cfg,
		log:     log,
		watcher: fw,
		targets: make(map[string]bool, len(cfg.Paths)),
	}

	dirs := make(map[string]bool)
	for _, p := range cfg.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		w.targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Start processes filesystem events until ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	w.log.WithField("paths", len(w.targets)).Info("Starting output watcher")

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Output watcher stopping")
			w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Error("Watcher error")
		}
	}
}

// Close releases the underlying watcher without waiting for Start.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	name, err := filepath.Abs(event.Name)
	if err != nil || !w.targets[name] {
		return
	}
	w.log.WithFields(logrus.Fields{
		"path": name,
		"op":   event.Op.String(),
	}).Warn("Output file disappeared, rewriting from memory")
	if w.cfg.OnLost != nil {
		w.cfg.OnLost(name)
	}
}

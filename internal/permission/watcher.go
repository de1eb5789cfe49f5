package permission

import (
	"context"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the engine when a policy source file changes on disk.
// It watches the parent directories so edits via rename (the common
// editor save pattern) are still observed.
type Watcher struct {
	engine  *Engine
	watcher *fsnotify.Watcher
	paths   map[string]bool
}

// NewWatcher creates a watcher for the engine's configured override
// files. Paths that do not exist yet are still covered through their
// parent directory.
func NewWatcher(engine *Engine) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		engine:  engine,
		watcher: fsw,
		paths:   make(map[string]bool),
	}

	for _, path := range []string{engine.cfg.WorkspacePolicyPath, engine.cfg.UserSettingsPath} {
		if path == "" {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		w.paths[abs] = true
		if err := fsw.Add(filepath.Dir(abs)); err != nil {
			log.Printf("[permission] watch %s: %v", filepath.Dir(abs), err)
		}
	}

	return w, nil
}

// Run processes file events until the context is cancelled. Each change
// to a watched policy file triggers a full reload and re-merge.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			log.Printf("[permission] policy source changed: %s", event.Name)
			if err := w.engine.Reload(); err != nil {
				log.Printf("[permission] reload failed: %v", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[permission] watcher error: %v", err)
		}
	}
}

// relevant reports whether an event concerns one of the policy files.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return w.paths[abs]
}

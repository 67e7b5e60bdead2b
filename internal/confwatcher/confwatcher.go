// Package confwatcher contains a configuration watcher.
package confwatcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bluenviron/hwdecode/internal/conf"
	"github.com/bluenviron/hwdecode/internal/logger"
)

const (
	minInterval    = 1 * time.Second
	additionalWait = 10 * time.Millisecond
)

// ConfWatcher watches a configuration file and reloads it when it changes.
type ConfWatcher struct {
	FilePath string
	Parent   logger.Writer

	inner        *fsnotify.Watcher
	absolutePath string

	// in
	terminate chan struct{}

	// out
	reloaded chan *conf.Conf
	done     chan struct{}
}

// Initialize initializes ConfWatcher.
func (w *ConfWatcher) Initialize() error {
	if _, err := os.Stat(w.FilePath); err != nil {
		return err
	}

	var err error
	w.inner, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// the parent directory is watched in order to follow editors that replace files
	w.absolutePath, _ = filepath.Abs(w.FilePath)

	err = w.inner.Add(filepath.Dir(w.absolutePath))
	if err != nil {
		w.inner.Close() //nolint:errcheck
		return err
	}

	w.terminate = make(chan struct{})
	w.reloaded = make(chan *conf.Conf)
	w.done = make(chan struct{})

	go w.run()

	return nil
}

// Close closes ConfWatcher.
func (w *ConfWatcher) Close() {
	close(w.terminate)
	<-w.done
}

// Log implements logger.Writer.
func (w *ConfWatcher) Log(level logger.Level, format string, args ...any) {
	w.Parent.Log(level, "[conf] "+format, args...)
}

func (w *ConfWatcher) changed(event fsnotify.Event, previousPath *string) bool {
	currentPath, _ := filepath.EvalSymlinks(w.absolutePath)
	eventPath, _ := filepath.Abs(event.Name)
	eventPath, _ = filepath.EvalSymlinks(eventPath)

	if currentPath == "" {
		// file was removed, a later write will bring it back
		*previousPath = ""
		return false
	}

	if currentPath != *previousPath ||
		(eventPath == currentPath &&
			((event.Op&fsnotify.Write) == fsnotify.Write ||
				(event.Op&fsnotify.Create) == fsnotify.Create)) {
		*previousPath = currentPath
		return true
	}

	return false
}

func (w *ConfWatcher) run() {
	defer close(w.done)

	var lastLoaded time.Time
	previousPath, _ := filepath.EvalSymlinks(w.absolutePath)

outer:
	for {
		select {
		case event := <-w.inner.Events:
			if time.Since(lastLoaded) < minInterval || !w.changed(event, &previousPath) {
				continue
			}

			// wait for the writer to complete its job
			time.Sleep(additionalWait)
			lastLoaded = time.Now()

			newConf, _, err := conf.Load(w.FilePath, nil)
			if err != nil {
				w.Log(logger.Error, "unable to reload configuration: %v", err)
				continue
			}

			w.Log(logger.Info, "configuration reloaded")

			select {
			case w.reloaded <- newConf:
			case <-w.terminate:
				break outer
			}

		case err := <-w.inner.Errors:
			w.Log(logger.Error, "%v", err)
			break outer

		case <-w.terminate:
			break outer
		}
	}

	close(w.reloaded)
	w.inner.Close() //nolint:errcheck
}

// Reloaded returns a channel that receives the configuration every time the file is changed.
// Files that fail to load or validate are skipped.
func (w *ConfWatcher) Reloaded() <-chan *conf.Conf {
	return w.reloaded
}

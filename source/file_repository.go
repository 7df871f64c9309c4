package source

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/sardine-ai/go-uwsgi-config/ini"
)

// FileRepository is a struct that implements the Repository interface for
// handling a configuration stored in local ini files.
type FileRepository struct {
	store
	Name   string // Name of the configuration source
	Path   string // File path of the entry ini file
	Strict bool   // Fail on placeholders naming undefined keys

	// Debounce delays the reload after a burst of file events in Watch.
	// Defaults to 500ms.
	Debounce time.Duration
}

// GetName returns the name of the configuration source.
func (f *FileRepository) GetName() string {
	return f.Name
}

// Refresh reads and resolves the entry file and its includes. The entry is
// loaded by absolute path, so %d is the absolute directory of each file as
// uWSGI expands it.
func (f *FileRepository) Refresh() error {
	entry, err := filepath.Abs(f.Path)
	if err != nil {
		return err
	}
	_, err = f.store.load(context.Background(), ini.LocalOpener(), filepath.ToSlash(entry), f.Strict)
	if err != nil {
		logrus.WithError(err).WithField("path", f.Path).Debug("error loading file")
		return err
	}
	return nil
}

// files returns the absolute paths of the entry file and of every include of
// the last resolved document.
func (f *FileRepository) files() ([]string, error) {
	entry, err := filepath.Abs(f.Path)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{entry: true}
	out := []string{entry}

	f.RLock()
	defer f.RUnlock()
	if f.data == nil {
		return out, nil
	}
	for _, g := range f.data.Groups() {
		for _, spec := range g.Includes() {
			name, _ := ini.SplitSpec(spec)
			abs, err := filepath.Abs(name)
			if err != nil {
				return nil, err
			}
			if !seen[abs] {
				seen[abs] = true
				out = append(out, abs)
			}
		}
	}
	return out, nil
}

// Watch reloads the repository whenever the entry file or one of its includes
// changes, until ctx is done. Directories are watched rather than files so
// that editors replacing files by rename are noticed.
func (f *FileRepository) Watch(ctx context.Context) error {
	files, err := f.files()
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	watched := make(map[string]bool, len(files))
	dirs := make(map[string]bool)
	for _, file := range files {
		watched[file] = true
		dir := filepath.Dir(file)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	logrus.WithField("files", files).Info("watching configuration files")
	go f.watchLoop(ctx, watcher, watched)
	return nil
}

func (f *FileRepository) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, watched map[string]bool) {
	defer func() {
		if err := watcher.Close(); err != nil {
			logrus.WithError(err).Debug("error closing watcher")
		}
	}()

	debounce := f.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !watched[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logrus.WithField("event", event.String()).Debug("configuration file changed")
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Error("error watching configuration files")
		case <-timer.C:
			if err := f.Refresh(); err != nil {
				logrus.WithError(err).Error("error refreshing repository")
				continue
			}
			logrus.WithField("path", f.Path).Info("configuration reloaded")
		}
	}
}

// Package watcher reports debounced changes to workflow source files.
package watcher

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/agentmap/internal/log"
)

// DefaultDebounce coalesces editor save bursts.
const DefaultDebounce = 500 * time.Millisecond

// Change lists the watched files touched during one debounce window.
type Change struct {
	Paths []string
}

// Watcher monitors a fixed set of files and sends one Change per burst.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	files     map[string]bool // cleaned absolute path -> watched
	dirs      []string
	debounce  time.Duration
	onChange  chan Change
	done      chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	Paths    []string
	Debounce time.Duration
}

// DefaultConfig watches paths with DefaultDebounce.
func DefaultConfig(paths ...string) Config {
	return Config{
		Paths:    paths,
		Debounce: DefaultDebounce,
	}
}

// New creates a watcher for cfg.Paths. The files need not exist yet.
func New(cfg Config) (*Watcher, error) {
	if len(cfg.Paths) == 0 {
		return nil, errors.New("no paths to watch")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	files := make(map[string]bool, len(cfg.Paths))
	dirSet := make(map[string]bool)
	for _, p := range cfg.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		files[abs] = true
		dirSet[filepath.Dir(abs)] = true
	}
	dirs := make([]string, 0, len(dirSet))
	for d := range dirSet {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsw,
		files:     files,
		dirs:      dirs,
		debounce:  cfg.Debounce,
		onChange:  make(chan Change, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start watches the parent directory of every file, so atomic saves that
// replace the file are still seen.
func (w *Watcher) Start() (<-chan Change, error) {
	for _, dir := range w.dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			return nil, fmt.Errorf("watching directory %s: %w", dir, err)
		}
	}

	go w.loop()

	return w.onChange, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending = make(map[string]bool)
	)

	timerC := func() <-chan time.Time {
		if timer != nil {
			return timer.C
		}
		return nil
	}

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			path, relevant := w.relevant(event)
			if !relevant {
				continue
			}
			pending[path] = true

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case <-timerC():
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)

			// Drop the burst if the consumer has not taken the previous one.
			select {
			case w.onChange <- Change{Paths: paths}:
				log.Debug(log.CatWatcher, "source changed", "paths", paths)
			default:
				log.Debug(log.CatWatcher, "change dropped, consumer busy", "paths", paths)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "watch error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) (string, bool) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return "", false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return "", false
	}
	return abs, w.files[abs]
}

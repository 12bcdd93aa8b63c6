package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const watchDebounce = 100 * time.Millisecond

// Reload carries the reloadable settings parsed from the env file.
type Reload struct {
	LogLevel        string
	RefreshInterval time.Duration
}

// Watcher watches the env file and reports changes to the reloadable
// settings. Falls back to polling when inotify is unavailable (bind mounts,
// some container filesystems).
type Watcher struct {
	path     string
	onReload func(Reload)

	mu       sync.Mutex
	lastSeen Reload
	cancel   context.CancelFunc
}

// NewWatcher creates a watcher for the env file. onReload fires with the new
// values after every effective change.
func NewWatcher(path string, onReload func(Reload)) *Watcher {
	return &Watcher{path: path, onReload: onReload}
}

// Start begins watching until Stop or ctx cancellation. No-op if the path
// is empty.
func (w *Watcher) Start(ctx context.Context) {
	if w.path == "" {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.lastSeen = w.read()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("fsnotify unavailable, polling env file instead")
		go w.poll(ctx)
		return
	}
	// Watch the directory: editors replace the file, killing a direct watch.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		log.Warn().Err(err).Str("path", w.path).Msg("Cannot watch env file directory, polling instead")
		go w.poll(ctx)
		return
	}
	go w.watch(ctx, fw)
}

// Stop ends watching.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Watcher) watch(ctx context.Context, fw *fsnotify.Watcher) {
	defer fw.Close()
	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, w.apply)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Env file watcher error")
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	var lastMod time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastMod) {
				lastMod = info.ModTime()
				w.apply()
			}
		}
	}
}

func (w *Watcher) read() Reload {
	r := Reload{}
	vars, err := godotenv.Read(w.path)
	if err != nil {
		return r
	}
	r.LogLevel = vars["FINDINGS_LOG_LEVEL"]
	if v := vars["FINDINGS_REFRESH_INTERVAL"]; v != "" {
		if d, err := parseInterval(v); err == nil {
			r.RefreshInterval = d
		}
	}
	return r
}

func (w *Watcher) apply() {
	fresh := w.read()
	w.mu.Lock()
	changed := fresh != w.lastSeen
	w.lastSeen = fresh
	w.mu.Unlock()
	if !changed {
		return
	}
	log.Info().
		Str("logLevel", fresh.LogLevel).
		Dur("refreshInterval", fresh.RefreshInterval).
		Msg("Env file changed, applying reloadable settings")
	if w.onReload != nil {
		w.onReload(fresh)
	}
}

package http

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates renders the identity service's HTML screens. The embedded files
// are the source of truth; pointing overrideDir at a directory swaps in its
// files and hot-reloads them on change, which keeps the edit loop short
// during development.
type Templates struct {
	mu     sync.RWMutex
	t      *template.Template
	dir    string
	logger *slog.Logger
}

func NewTemplates(overrideDir string, logger *slog.Logger) (*Templates, error) {
	tpl := &Templates{dir: overrideDir, logger: logger}
	if err := tpl.load(); err != nil {
		return nil, err
	}
	if overrideDir != "" {
		if err := tpl.watch(); err != nil {
			return nil, err
		}
	}
	return tpl, nil
}

func (tp *Templates) load() error {
	var (
		t   *template.Template
		err error
	)
	if tp.dir != "" {
		t, err = template.ParseGlob(filepath.Join(tp.dir, "*.html"))
	} else {
		t, err = template.ParseFS(templateFS, "templates/*.html")
	}
	if err != nil {
		return err
	}

	tp.mu.Lock()
	tp.t = t
	tp.mu.Unlock()
	return nil
}

func (tp *Templates) Render(w http.ResponseWriter, status int, name string, data any) {
	tp.mu.RLock()
	t := tp.t
	tp.mu.RUnlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := t.ExecuteTemplate(w, name, data); err != nil {
		tp.logger.Error("template render failed", "template", name, "error", err)
	}
}

func (tp *Templates) watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(tp.dir); err != nil {
		_ = watcher.Close()
		return err
	}

	reload := make(chan struct{}, 1)
	go tp.scheduleReload(reload)
	go tp.handleEvents(watcher, reload)
	return nil
}

func (tp *Templates) handleEvents(watcher *fsnotify.Watcher, reload chan<- struct{}) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write | fsnotify.Remove | fsnotify.Create) {
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			tp.logger.Error("template watcher error", "error", err)
		}
	}
}

// scheduleReload debounces bursts of filesystem events into one reload.
func (tp *Templates) scheduleReload(reload <-chan struct{}) {
	var timer *time.Timer
	var c <-chan time.Time
	const debounce = 500 * time.Millisecond

	for {
		select {
		case <-reload:
			if timer != nil {
				timer.Reset(debounce)
			} else {
				timer = time.NewTimer(debounce)
				c = timer.C
			}
		case <-c:
			c = nil
			timer = nil
			if err := tp.load(); err != nil {
				tp.logger.Error("template reload failed", "error", err)
			} else {
				tp.logger.Info("templates reloaded", "dir", tp.dir)
			}
		}
	}
}

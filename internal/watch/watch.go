// Package watch submits builder commands in reaction to filesystem
// changes: a RECONFIGURE whenever the reconfigure document on disk
// changes, and a LOADZONE whenever a watched zone file changes.
package watch

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/nsauth/datasrc/internal/builder"
	"github.com/nsauth/datasrc/internal/config"
)

// The watched YAML document must itself be shaped as a RECONFIGURE
// command envelope, {"classes": {...}, "_generation_id": N}: an
// operator bumps _generation_id every time they edit the file, the
// same way any other RECONFIGURE submitter must.

// ConfigWatcher submits a RECONFIGURE command every time the watched
// YAML document changes on disk.
type ConfigWatcher struct {
	path string
	bld  *builder.Builder
	log  *slog.Logger
	fsw  *fsnotify.Watcher
}

// NewConfigWatcher starts watching path's directory (watching the
// directory rather than the file directly survives editors that
// replace the file via rename instead of in-place write).
func NewConfigWatcher(path string, bld *builder.Builder, log *slog.Logger) (*ConfigWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &ConfigWatcher{path: path, bld: bld, log: log, fsw: fsw}, nil
}

// Run processes fsnotify events until the watcher is closed. Intended
// to run in its own goroutine.
func (w *ConfigWatcher) Run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.submitReconfigure()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("config watch error", "error", err)
		}
	}
}

func (w *ConfigWatcher) submitReconfigure() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Error("reconfigure: read config", "path", w.path, "error", err)
		return
	}
	params, err := config.FromYAML(data)
	if err != nil {
		w.log.Error("reconfigure: parse config", "path", w.path, "error", err)
		return
	}
	w.bld.Submit(builder.Command{
		ID:     builder.Reconfigure,
		Params: params,
		Callback: func(value *config.Value, err error) {
			if err != nil {
				w.log.Warn("reconfigure from file watch failed", "error", err)
				return
			}
			pending := false
			if value != nil {
				pending, _ = value.AsBool()
			}
			w.log.Info("reconfigure from file watch submitted", "waiting-on-mapped-segments", pending)
		},
	})
}

// Close stops the underlying fsnotify watcher.
func (w *ConfigWatcher) Close() error { return w.fsw.Close() }

// ZoneDirWatcher submits a LOADZONE command, for the given class, any
// time a file changes inside a watched zone directory. origin is
// derived from each file's base name (e.g. "example.com.zone" ->
// "example.com.").
type ZoneDirWatcher struct {
	dir   string
	class string
	bld   *builder.Builder
	log   *slog.Logger
	fsw   *fsnotify.Watcher
}

// NewZoneDirWatcher starts watching dir for zone-file changes.
func NewZoneDirWatcher(dir, class string, bld *builder.Builder, log *slog.Logger) (*ZoneDirWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &ZoneDirWatcher{dir: dir, class: class, bld: bld, log: log, fsw: fsw}, nil
}

// Run processes fsnotify events until the watcher is closed.
func (w *ZoneDirWatcher) Run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.submitLoadZone(originFromPath(ev.Name))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("zone watch error", "error", err)
		}
	}
}

func (w *ZoneDirWatcher) submitLoadZone(origin string) {
	params := config.Map(map[string]*config.Value{
		"class":  config.Str(w.class),
		"origin": config.Str(origin),
	})
	w.bld.Submit(builder.Command{
		ID:     builder.LoadZone,
		Params: params,
		Callback: func(value *config.Value, err error) {
			if err != nil {
				w.log.Warn("loadzone from file watch failed", "origin", origin, "error", err)
			} else {
				w.log.Info("loadzone from file watch installed", "origin", origin)
			}
		},
	})
}

// Close stops the underlying fsnotify watcher.
func (w *ZoneDirWatcher) Close() error { return w.fsw.Close() }

func originFromPath(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	return base + "."
}

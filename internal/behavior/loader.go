package behavior

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce is how long the watcher waits for a burst of file events to
// settle before applying them.
const watchDebounce = 500 * time.Millisecond

// ScriptError is a script that failed to load.
type ScriptError struct {
	Name string
	Err  error
}

func (e *ScriptError) Error() string { return fmt.Sprintf("behavior %s: %v", e.Name, e.Err) }

func (e *ScriptError) Unwrap() error { return e.Err }

// LoadReport is the outcome of one pass over the behavior directory.
type LoadReport struct {
	Loaded  []string
	Failed  []*ScriptError
	Removed []string
}

// Err joins the script failures. It is nil when every script loaded.
func (r LoadReport) Err() error {
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// scriptName maps a file to its behavior name. Hidden files are skipped so
// editor swap files never load.
func scriptName(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, ".lua") {
		return "", false
	}
	return strings.TrimSuffix(base, ".lua"), true
}

func (e *Engine) scriptFiles() (map[string]string, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return nil, err
	}
	files := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name, ok := scriptName(entry.Name()); ok {
			files[name] = filepath.Join(e.dir, entry.Name())
		}
	}
	return files, nil
}

// LoadDir brings the loaded scripts in line with the behavior directory.
// Every script file is (re)loaded; a script that fails keeps its previous
// version running, and scripts whose file is gone are unloaded. Only
// directory errors are returned; script failures are in the report.
func (e *Engine) LoadDir() (LoadReport, error) {
	var report LoadReport
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return report, err
	}
	files, err := e.scriptFiles()
	if err != nil {
		return report, err
	}

	// One manifest snapshot per pass.
	manifest, manifestErr := e.integrityManifest()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		err := manifestErr
		if err == nil {
			err = e.loadScript(name, files[name], manifest)
		}
		if err != nil {
			report.Failed = append(report.Failed, &ScriptError{Name: name, Err: err})
			e.logger.Error().Err(err).Str("behavior", name).Msg("failed to load behavior")
			continue
		}
		report.Loaded = append(report.Loaded, name)
	}

	for _, name := range e.names() {
		if _, ok := files[name]; !ok {
			e.UnloadBehavior(name)
			report.Removed = append(report.Removed, name)
		}
	}

	e.logger.Info().
		Int("loaded", len(report.Loaded)).
		Int("failed", len(report.Failed)).
		Int("removed", len(report.Removed)).
		Msg("behavior directory loaded")
	return report, nil
}

// ReloadAll loads the directory again. Failed scripts come back as a joined
// error of *ScriptError values.
func (e *Engine) ReloadAll() error {
	report, err := e.LoadDir()
	if err != nil {
		return err
	}
	return report.Err()
}

// StartWatcher reloads scripts as they change on disk. Stop ends the
// watcher.
func (e *Engine) StartWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(e.dir); err != nil {
		watcher.Close()
		return err
	}

	e.watcher = watcher
	go e.watchLoop(watcher)

	e.logger.Info().Str("dir", e.dir).Msg("watching for behavior changes")
	return nil
}

func (e *Engine) watchLoop(watcher *fsnotify.Watcher) {
	defer watcher.Close()

	pending := make(map[string]fsnotify.Op)
	debounce := time.NewTimer(watchDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			_, isScript := scriptName(event.Name)
			if !isScript && filepath.Base(event.Name) != ManifestFilename {
				continue
			}
			pending[event.Name] |= event.Op
			debounce.Reset(watchDebounce)

		case <-debounce.C:
			batch := pending
			pending = make(map[string]fsnotify.Op)
			e.processBatch(batch)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			e.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

// processBatch applies one debounced set of file changes. A manifest change
// reloads everything so every script is verified again.
func (e *Engine) processBatch(batch map[string]fsnotify.Op) {
	if _, ok := batch[filepath.Join(e.dir, ManifestFilename)]; ok {
		e.logger.Info().Msg("manifest changed, reloading all behaviors")
		if err := e.ReloadAll(); err != nil {
			e.logger.Error().Err(err).Msg("reload behaviors after manifest change")
		}
		return
	}

	for path := range batch {
		name, ok := scriptName(path)
		if !ok {
			continue
		}
		// Editors often replace files with remove+create, so the file's
		// presence decides, not the last op.
		if _, err := os.Stat(path); err != nil {
			e.UnloadBehavior(name)
			continue
		}
		if err := e.LoadBehavior(name, path); err != nil {
			e.logger.Error().Err(err).Str("behavior", name).Msg("failed to reload behavior, previous version kept")
		}
	}
}

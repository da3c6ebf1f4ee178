package server

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// templateReloadDelay coalesces the burst of events an editor save produces
const templateReloadDelay = 200 * time.Millisecond

// startTemplateWatcher reloads the page templates when files in the
// templates directory change.
func (ss *SiteServer) startTemplateWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(ss.templates.dir); err != nil {
		watcher.Close()
		return err
	}
	ss.watcher = watcher

	go ss.watchTemplates(watcher)

	ss.logger.WithField("templates_dir", ss.templates.dir).Info("Template watcher started")
	return nil
}

// watchTemplates selects on watcher channels and dispatches events.
func (ss *SiteServer) watchTemplates(watcher *fsnotify.Watcher) {
	var reload <-chan time.Time

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ss.isTemplateEvent(event) {
				reload = time.After(templateReloadDelay)
			}

		case <-reload:
			reload = nil
			if err := ss.templates.reload(); err != nil {
				ss.logger.WithError(err).Error("Template reload failed, keeping previous templates")
				continue
			}
			ss.logger.Info("Templates reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			ss.logger.WithError(err).Error("Template watcher error")
		}
	}
}

// isTemplateEvent filters editor temp files and irrelevant operations.
func (ss *SiteServer) isTemplateEvent(event fsnotify.Event) bool {
	fileName := filepath.Base(event.Name)
	if strings.HasPrefix(fileName, ".") || strings.HasSuffix(fileName, ".tmp") || strings.HasSuffix(fileName, "~") {
		return false
	}
	if filepath.Ext(fileName) != ".html" {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

// stopTemplateWatcher closes the watcher (idempotent).
func (ss *SiteServer) stopTemplateWatcher() {
	if ss.watcher != nil {
		ss.watcher.Close()
		ss.watcher = nil
	}
}

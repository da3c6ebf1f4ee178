package server

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"path/filepath"
	"sync"
)

//go:embed web/templates/*.html web/assets
var webFS embed.FS

var assetFS = mustSub(webFS, "web/assets")

const pageTemplate = "index.html"

// templateSet holds the parsed page templates. Templates come from dir when
// set, otherwise from the binary.
type templateSet struct {
	dir string

	mu    sync.RWMutex
	pages *template.Template
}

func newTemplateSet(dir string) (*templateSet, error) {
	ts := &templateSet{dir: dir}
	if err := ts.reload(); err != nil {
		return nil, err
	}
	return ts, nil
}

// reload parses the templates again. The previous set stays in use on error.
func (ts *templateSet) reload() error {
	var (
		pages *template.Template
		err   error
	)
	if ts.dir == "" {
		pages, err = template.ParseFS(webFS, "web/templates/*.html")
	} else {
		pages, err = template.ParseGlob(filepath.Join(ts.dir, "*.html"))
	}
	if err != nil {
		return fmt.Errorf("failed to parse templates: %w", err)
	}
	if pages.Lookup(pageTemplate) == nil {
		return fmt.Errorf("template %s not found", pageTemplate)
	}

	ts.mu.Lock()
	ts.pages = pages
	ts.mu.Unlock()
	return nil
}

func (ts *templateSet) execute(w io.Writer, name string, data interface{}) error {
	ts.mu.RLock()
	pages := ts.pages
	ts.mu.RUnlock()
	return pages.ExecuteTemplate(w, name, data)
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

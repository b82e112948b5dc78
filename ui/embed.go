// Package ui embeds the browser control pages.
package ui

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
)

//go:embed static
var staticFS embed.FS

// pages maps clean URL paths to page files.
var pages = map[string]string{
	"/":     "index.html",
	"/filo": "filo.html",
}

// Handler serves the control pages and their assets.
func Handler() (http.Handler, error) {
	fsys, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, err
	}
	fileServer := http.FileServer(http.FS(fsys))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if name, ok := pages[path.Clean(r.URL.Path)]; ok {
			http.ServeFileFS(w, r, fsys, name)
			return
		}
		fileServer.ServeHTTP(w, r)
	}), nil
}

// Package web serves the built trainer frontend from a directory on disk as
// a single-page application (SPA).
//
// In development the frontend runs on its own dev server and STATIC_DIR is
// left empty, so no handler is mounted.
package web

import (
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// SPAHandler returns an http.Handler that serves files from dir and falls
// back to index.html for any path that doesn't match a file (client-side
// routing). dir must contain index.html.
func SPAHandler(dir string) (http.Handler, error) {
	root := os.DirFS(dir)
	if _, err := fs.Stat(root, "index.html"); err != nil {
		return nil, fmt.Errorf("web: %s has no index.html: %w", dir, err)
	}

	fileServer := http.FileServer(http.FS(root))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}

		if f, err := root.Open(path); err == nil {
			if closeErr := f.Close(); closeErr != nil {
				slog.Debug("web: failed to close file", "path", path, "error", closeErr)
			}
			fileServer.ServeHTTP(w, r)
			return
		}

		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	}), nil
}

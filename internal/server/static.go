package server

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var mimeTypes = map[string]string{
	".html":  "text/html",
	".css":   "text/css",
	".js":    "application/javascript",
	".json":  "application/json",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".glb":   "model/gltf-binary",
	".gltf":  "model/gltf+json",
	".woff":  "font/woff",
	".woff2": "font/woff2",
}

// contentType maps a file extension to its MIME type.
func contentType(name string) string {
	if ct, ok := mimeTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// staticPath resolves a request path inside root. Cleaning against "/"
// drops any ".." that would climb above it.
func staticPath(root, urlPath string) string {
	clean := path.Clean("/" + urlPath)
	if clean == "/" {
		clean = "/index.html"
	}
	return filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
}

// denySet resolves each file to an absolute path, adding the SQLite
// sidecar files of each.
func denySet(files []string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range files {
		if f == "" {
			continue
		}
		abs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
			set[abs+suffix] = true
		}
	}
	return set
}

// hidden reports whether urlPath has a dot-file segment or resolves to a
// denied file.
func (h *handler) hidden(urlPath, name string) bool {
	for _, seg := range strings.Split(urlPath, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	abs, err := filepath.Abs(name)
	return err != nil || h.deny[abs]
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte("File not found"))
}

func (h *handler) static(w http.ResponseWriter, r *http.Request) {
	name := staticPath(h.opts.StaticDir, r.URL.Path)
	if h.hidden(r.URL.Path, name) {
		notFound(w)
		return
	}
	content, err := os.ReadFile(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			notFound(w)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		h.logger.Warn("static read failed", "path", r.URL.Path, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Server error"))
		return
	}

	w.Header().Set("Content-Type", contentType(name))
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

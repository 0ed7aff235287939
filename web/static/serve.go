// Package static embeds the browser UI so the binary is self-contained.
package static

import (
	"embed"
	"net/http"
	"path"
)

//go:embed index.html app.js style.css manifest.json sw.js
var assets embed.FS

var contentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".json": "application/json",
}

// Serve returns a handler for one embedded asset with its MIME type set.
func Serve(name string) http.HandlerFunc {
	data, err := assets.ReadFile(name)
	if err != nil {
		// Embedded files are fixed at compile time; a miss is a build bug.
		panic(err)
	}
	contentType := contentTypes[path.Ext(name)]
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Write(data)
	}
}

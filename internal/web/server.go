// Package web serves the browser chat client.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var staticFiles embed.FS

// Prefix is where the chat client is mounted.
const Prefix = "/ui/"

// Handler returns an http.Handler that serves the embedded client files.
// Requests for a directory get index.html.
func Handler() http.Handler {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServerFS(subFS)
}

// RegisterRoutes mounts the chat client under [Prefix]. A bare "/ui"
// redirects to the trailing-slash form.
func RegisterRoutes(mux *http.ServeMux) {
	handler := http.StripPrefix(Prefix[:len(Prefix)-1], Handler())
	mux.Handle("GET "+Prefix, handler)
	mux.HandleFunc("GET /ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, Prefix, http.StatusMovedPermanently)
	})
}

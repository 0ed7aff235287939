package handlers

import (
	"net/http"

	"cmux-remote/gitdiff"
	"cmux-remote/log"

	"github.com/go-chi/chi/v5"
)

// DiffHandler returns the uncommitted working-tree changes of a workspace's
// directory. Directories outside a git repository report clean.
func DiffHandler(view *HostView) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			http.Error(w, "Workspace id required", http.StatusBadRequest)
			return
		}

		dir := ""
		for _, ws := range view.Workspaces() {
			if ws.ID == id {
				dir = ws.Directory
				break
			}
		}
		if dir == "" {
			http.Error(w, "Workspace not found", http.StatusNotFound)
			return
		}

		stats, err := gitdiff.ForDirectory(dir)
		if err != nil {
			log.FileOnlyErrorLog.Printf("API: diff for workspace %s (%s): %v", id, dir, err)
			http.Error(w, "Error computing diff", http.StatusInternalServerError)
			return
		}
		writeJSON(w, stats)
	}
}

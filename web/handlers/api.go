package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"cmux-remote/agents"
	"cmux-remote/bridge"
	"cmux-remote/log"
	"cmux-remote/tmux"
	"cmux-remote/web/types"

	"github.com/go-chi/chi/v5"
)

// maxBodySize bounds REST request bodies. Commands are small JSON objects.
const maxBodySize = 1 << 20

// ClientCounter reports how many state clients are connected, for /api/status.
type ClientCounter interface {
	ClientCount() int
}

// HostView reads host state on the executor goroutine. REST handlers run on
// the HTTP worker pool and must never touch the host directly.
type HostView struct {
	Executor *bridge.Executor
	Host     types.Host
}

// Workspaces snapshots the workspace list on the executor.
func (v *HostView) Workspaces() []types.Workspace {
	var out []types.Workspace
	v.Executor.Sync(func() { out = v.Host.Workspaces() })
	return out
}

// Notifications snapshots up to limit notifications on the executor.
func (v *HostView) Notifications(limit int) []types.Notification {
	var out []types.Notification
	v.Executor.Sync(func() { out = v.Host.Notifications(limit) })
	return out
}

// statusResponse is the body of GET /api/status.
type statusResponse struct {
	Version           string `json:"version"`
	WorkspaceCount    int    `json:"workspaceCount"`
	SelectedWorkspace string `json:"selectedWorkspace"`
	UnreadCount       int    `json:"unreadCount"`
	ConnectedClients  int    `json:"connectedClients"`
	Port              int    `json:"port"`
	Uptime            int64  `json:"uptime"`
}

// StatusHandler reports server and host counters.
func StatusHandler(version string, startTime time.Time, port int, view *HostView, clients ClientCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Version:          version,
			ConnectedClients: clients.ClientCount(),
			Port:             port,
			Uptime:           int64(time.Since(startTime).Seconds()),
		}
		view.Executor.Sync(func() {
			resp.WorkspaceCount = view.Host.WorkspaceCount()
			resp.SelectedWorkspace = view.Host.SelectedWorkspaceID()
			resp.UnreadCount = view.Host.UnreadCount()
		})
		writeJSON(w, resp)
	}
}

// WorkspacesHandler lists workspace snapshots.
func WorkspacesHandler(view *HostView) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaces := view.Workspaces()
		if workspaces == nil {
			workspaces = []types.Workspace{}
		}
		writeJSON(w, workspaces)
	}
}

// NotificationsHandler lists up to the 50 most recent notifications.
func NotificationsHandler(view *HostView) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		notifications := view.Notifications(50)
		if notifications == nil {
			notifications = []types.Notification{}
		}
		writeJSON(w, notifications)
	}
}

// SelectWorkspaceHandler bridges POST /api/workspaces/{id}/select.
func SelectWorkspaceHandler(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			http.Error(w, "Workspace id required", http.StatusBadRequest)
			return
		}
		writeBridgeReply(w, b, "workspace.select", map[string]any{"id": id})
	}
}

// CommandHandler bridges an arbitrary JSON-RPC-shaped command body.
func CommandHandler(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			http.Error(w, "Error reading request body", http.StatusBadRequest)
			return
		}
		if len(body) == 0 || !json.Valid(body) {
			http.Error(w, "Request body must be a JSON command", http.StatusBadRequest)
			return
		}
		writeReply(w, b.Execute(string(body)))
	}
}

// NewWorkspaceHandler bridges workspace creation with an optional body of
// {tmux, directory}.
func NewWorkspaceHandler(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params struct {
			Tmux      *bool  `json:"tmux"`
			Directory string `json:"directory"`
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			http.Error(w, "Error reading request body", http.StatusBadRequest)
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &params); err != nil {
				http.Error(w, "Request body must be JSON", http.StatusBadRequest)
				return
			}
		}
		// An omitted tmux field defers to the host's default mode.
		fields := map[string]any{"directory": params.Directory}
		if params.Tmux != nil {
			fields["tmux"] = *params.Tmux
		}
		writeBridgeReply(w, b, "workspace.new", fields)
	}
}

// SetTmuxHandler bridges POST /api/workspaces/{id}/tmux, toggling whether a
// workspace's panels run under tmux.
func SetTmuxHandler(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			http.Error(w, "Workspace id required", http.StatusBadRequest)
			return
		}
		var params struct {
			Enabled *bool `json:"enabled"`
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			http.Error(w, "Error reading request body", http.StatusBadRequest)
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &params); err != nil {
				http.Error(w, "Request body must be JSON", http.StatusBadRequest)
				return
			}
		}
		enabled := true
		if params.Enabled != nil {
			enabled = *params.Enabled
		}
		writeBridgeReply(w, b, "workspace.setTmux", map[string]any{"id": id, "enabled": enabled})
	}
}

// SplitHandler bridges POST /api/workspaces/{id}/split for the focused panel.
func SplitHandler(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			http.Error(w, "Workspace id required", http.StatusBadRequest)
			return
		}
		var params struct {
			Direction string `json:"direction"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&params); err != nil {
			http.Error(w, "Request body must be JSON", http.StatusBadRequest)
			return
		}
		if params.Direction != "right" && params.Direction != "down" {
			http.Error(w, `Split direction must be "right" or "down"`, http.StatusBadRequest)
			return
		}
		writeBridgeReply(w, b, "workspace.split", map[string]any{"id": id, "direction": params.Direction})
	}
}

// TmuxSessionsHandler lists the tmux sessions this application owns.
func TmuxSessionsHandler(coordinator *tmux.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, tmuxSessionInfos(coordinator.ListActiveSessions()))
	}
}

// tmuxSessionInfos converts enumerated sessions to their wire form.
func tmuxSessionInfos(sessions []tmux.Session) []types.TmuxSessionInfo {
	out := make([]types.TmuxSessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, types.TmuxSessionInfo{
			Name:        s.Name,
			Created:     s.Created.UTC().Format(time.RFC3339),
			WindowCount: s.WindowCount,
			Attached:    s.Attached,
			CurrentPath: s.CurrentPath,
		})
	}
	return out
}

// KillTmuxSessionHandler kills one owned tmux session by name.
func KillTmuxSessionHandler(coordinator *tmux.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if name == "" {
			http.Error(w, "Session name required", http.StatusBadRequest)
			return
		}
		if err := coordinator.KillSession(name); err != nil {
			log.FileOnlyWarningLog.Printf("API: kill tmux session %s: %v", name, err)
			writeJSON(w, map[string]any{"ok": false, "killed": false, "error": err.Error()})
			return
		}
		writeJSON(w, map[string]any{"ok": true, "killed": true})
	}
}

// KillAllTmuxSessionsHandler kills every owned tmux session.
func KillAllTmuxSessionsHandler(coordinator *tmux.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		killed := coordinator.KillAllSessions()
		writeJSON(w, map[string]any{"ok": true, "killed": killed})
	}
}

// AgentSessionsHandler lists recent agent transcript summaries.
func AgentSessionsHandler(index *agents.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := index.Sessions(50)
		if err != nil {
			log.FileOnlyErrorLog.Printf("API: agent transcript scan failed: %v", err)
			http.Error(w, "Error scanning agent sessions", http.StatusInternalServerError)
			return
		}
		if sessions == nil {
			sessions = []agents.Summary{}
		}
		writeJSON(w, sessions)
	}
}

// AgentResumeHandler creates a workspace rooted at an agent transcript's
// project path.
func AgentResumeHandler(b *bridge.Bridge, index *agents.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params struct {
			SessionID   string `json:"sessionId"`
			ProjectPath string `json:"projectPath"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&params); err != nil {
			http.Error(w, "Request body must be JSON", http.StatusBadRequest)
			return
		}
		dir := params.ProjectPath
		if dir == "" && params.SessionID != "" {
			if s := index.Find(params.SessionID); s != nil {
				dir = s.ProjectPath
			}
		}
		if dir == "" {
			http.Error(w, "projectPath or a known sessionId required", http.StatusBadRequest)
			return
		}
		writeBridgeReply(w, b, "workspace.new", map[string]any{"directory": dir})
	}
}

// writeBridgeReply marshals a command, runs it through the bridge and writes
// the reply. Replies are always JSON and always HTTP 200; failures travel in
// the ok/error fields.
func writeBridgeReply(w http.ResponseWriter, b *bridge.Bridge, method string, params map[string]any) {
	cmd, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
	if err != nil {
		http.Error(w, "Error building command", http.StatusInternalServerError)
		return
	}
	writeReply(w, b.Execute(string(cmd)))
}

func writeReply(w http.ResponseWriter, reply string) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write([]byte(reply)); err != nil {
		log.FileOnlyWarningLog.Printf("API: writing reply: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FileOnlyErrorLog.Printf("API: encoding response: %v", err)
	}
}

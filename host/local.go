// Package host provides an in-memory host implementation so the server can
// run standalone, without an embedding application. It keeps the workspace,
// panel and notification model the remote protocol expects and answers the
// same bridge commands.
package host

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cmux-remote/config"
	"cmux-remote/log"
	"cmux-remote/tmux"
	"cmux-remote/web/types"

	"github.com/atotto/clipboard"
	"github.com/google/uuid"
)

// panel is one terminal surface inside a workspace.
type panel struct {
	ID          string `json:"id"`
	Directory   string `json:"directory"`
	TmuxSession string `json:"tmuxSession,omitempty"`
}

// workspace is the internal model behind the wire snapshot.
type workspace struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Directory   string            `json:"directory"`
	Pinned      bool              `json:"pinned"`
	TmuxEnabled bool              `json:"tmuxEnabled"`
	Color       string            `json:"color,omitempty"`
	Panels      []panel           `json:"panels"`
	Layout      *types.LayoutNode `json:"layout"`
	FocusedID   string            `json:"focusedId"`
}

// LocalHost implements types.Host with in-memory state. Every method must run
// on the host executor; nothing here takes a lock.
type LocalHost struct {
	workspaces    []*workspace
	selectedID    string
	notifications []types.Notification

	coordinator *tmux.Coordinator
	state       config.StateManager
	tmuxDefault bool
}

// NewLocalHost restores persisted workspaces, or creates the first one when
// none exist. tmuxDefault makes new workspaces run their panels under tmux
// unless a creation command says otherwise.
func NewLocalHost(coordinator *tmux.Coordinator, state config.StateManager, tmuxDefault bool) *LocalHost {
	h := &LocalHost{coordinator: coordinator, state: state, tmuxDefault: tmuxDefault}
	h.restore()
	if len(h.workspaces) == 0 {
		ws := h.newWorkspace(defaultDirectory(), tmuxDefault)
		h.workspaces = append(h.workspaces, ws)
		h.selectedID = ws.ID
		h.persist()
	}
	return h
}

func defaultDirectory() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/"
	}
	return home
}

func (h *LocalHost) restore() {
	if h.state == nil {
		return
	}
	raw := h.state.GetWorkspaces()
	if len(raw) == 0 {
		return
	}
	var restored []*workspace
	if err := json.Unmarshal(raw, &restored); err != nil {
		log.WarningLog.Printf("could not restore workspaces: %v", err)
		return
	}
	h.workspaces = restored
	h.selectedID = h.state.GetSelectedWorkspace()
	if h.findWorkspace(h.selectedID) == nil && len(h.workspaces) > 0 {
		h.selectedID = h.workspaces[0].ID
	}
	// Re-register restored tmux names so panels rejoin their old sessions.
	for _, ws := range h.workspaces {
		for _, p := range ws.Panels {
			if p.TmuxSession != "" {
				h.coordinator.RegisterSession(p.ID, p.TmuxSession)
			}
		}
	}
}

func (h *LocalHost) persist() {
	if h.state == nil {
		return
	}
	raw, err := json.Marshal(h.workspaces)
	if err != nil {
		log.ErrorLog.Printf("could not marshal workspaces: %v", err)
		return
	}
	if err := h.state.SaveWorkspaces(raw); err != nil {
		log.WarningLog.Printf("could not save workspaces: %v", err)
	}
	if err := h.state.SetSelectedWorkspace(h.selectedID); err != nil {
		log.WarningLog.Printf("could not save selection: %v", err)
	}
}

func (h *LocalHost) newWorkspace(dir string, tmuxEnabled bool) *workspace {
	id := uuid.NewString()
	title := fmt.Sprintf("Workspace %d", len(h.workspaces)+1)
	p := panel{ID: uuid.NewString(), Directory: dir}
	if tmuxEnabled {
		p.TmuxSession = h.coordinator.SessionNameFor(p.ID, title)
	}
	return &workspace{
		ID:          id,
		Title:       title,
		Directory:   dir,
		TmuxEnabled: tmuxEnabled,
		Panels:      []panel{p},
		Layout:      &types.LayoutNode{Type: "pane", Pane: &types.PaneNode{PanelIDs: []string{p.ID}}},
		FocusedID:   p.ID,
	}
}

func (h *LocalHost) findWorkspace(id string) *workspace {
	for _, ws := range h.workspaces {
		if ws.ID == id {
			return ws
		}
	}
	return nil
}

// Workspaces returns the wire snapshot, selection stamped.
func (h *LocalHost) Workspaces() []types.Workspace {
	out := make([]types.Workspace, 0, len(h.workspaces))
	for _, ws := range h.workspaces {
		panels := make([]types.Panel, 0, len(ws.Panels))
		for _, p := range ws.Panels {
			panels = append(panels, types.Panel{ID: p.ID, Directory: p.Directory, TmuxSession: p.TmuxSession})
		}
		out = append(out, types.Workspace{
			ID:            ws.ID,
			Title:         ws.Title,
			Directory:     ws.Directory,
			PanelCount:    len(ws.Panels),
			UnreadCount:   h.unreadFor(ws.ID),
			IsPinned:      ws.Pinned,
			IsTmuxEnabled: ws.TmuxEnabled,
			IsSelected:    ws.ID == h.selectedID,
			Color:         ws.Color,
			Panels:        panels,
			Layout:        ws.Layout,
		})
	}
	return out
}

// SelectedWorkspaceID returns the selected workspace id, or "".
func (h *LocalHost) SelectedWorkspaceID() string { return h.selectedID }

// WorkspaceCount returns the number of workspaces.
func (h *LocalHost) WorkspaceCount() int { return len(h.workspaces) }

// UnreadCount returns the total number of unread notifications.
func (h *LocalHost) UnreadCount() int {
	n := 0
	for _, note := range h.notifications {
		if !note.IsRead {
			n++
		}
	}
	return n
}

func (h *LocalHost) unreadFor(workspaceID string) int {
	n := 0
	for _, note := range h.notifications {
		if !note.IsRead && note.TabID == workspaceID {
			n++
		}
	}
	return n
}

// Notifications returns up to limit notifications, newest first.
func (h *LocalHost) Notifications(limit int) []types.Notification {
	out := make([]types.Notification, 0, limit)
	for i := len(h.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.notifications[i])
	}
	return out
}

// AddNotification records a notification against a workspace and returns it.
func (h *LocalHost) AddNotification(title, subtitle, body, tabID string) types.Notification {
	note := types.Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Subtitle:  subtitle,
		Body:      body,
		TabID:     tabID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	h.notifications = append(h.notifications, note)
	return note
}

// HandleCommand dispatches one bridge command and completes synchronously.
func (h *LocalHost) HandleCommand(command string, complete func(string)) {
	var cmd struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal([]byte(command), &cmd); err != nil {
		complete(errReply(fmt.Sprintf("invalid command: %v", err)))
		return
	}

	switch cmd.Method {
	case "workspace.select":
		complete(h.selectWorkspace(cmd.Params))
	case "workspace.new":
		complete(h.createWorkspace(cmd.Params))
	case "workspace.close":
		complete(h.closeWorkspace(cmd.Params))
	case "workspace.setTmux":
		complete(h.setTmux(cmd.Params))
	case "workspace.split":
		complete(h.splitPanel(cmd.Params))
	case "notification.markRead":
		complete(h.markNotificationRead(cmd.Params))
	case "clipboard.set":
		complete(h.clipboardSet(cmd.Params))
	case "clipboard.get":
		complete(h.clipboardGet())
	default:
		complete(errReply(fmt.Sprintf("Unknown method: %s", cmd.Method)))
	}
}

func (h *LocalHost) selectWorkspace(params json.RawMessage) string {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.ID == "" {
		return errReply("workspace.select requires an id")
	}
	if h.findWorkspace(p.ID) == nil {
		return errReply(fmt.Sprintf("no workspace %s", p.ID))
	}
	h.selectedID = p.ID
	h.persist()
	return okReply(nil)
}

func (h *LocalHost) createWorkspace(params json.RawMessage) string {
	var p struct {
		Directory string `json:"directory"`
		Tmux      *bool  `json:"tmux"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return errReply(fmt.Sprintf("invalid params: %v", err))
		}
	}
	dir := p.Directory
	if dir == "" {
		dir = defaultDirectory()
	} else if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		dir = defaultDirectory()
	}
	tmuxEnabled := h.tmuxDefault
	if p.Tmux != nil {
		tmuxEnabled = *p.Tmux
	}

	ws := h.newWorkspace(dir, tmuxEnabled)
	h.workspaces = append(h.workspaces, ws)
	h.selectedID = ws.ID
	h.persist()
	return okReply(map[string]any{"workspaceId": ws.ID, "tmux": ws.TmuxEnabled})
}

func (h *LocalHost) closeWorkspace(params json.RawMessage) string {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.ID == "" {
		return errReply("workspace.close requires an id")
	}
	idx := -1
	for i, ws := range h.workspaces {
		if ws.ID == p.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errReply(fmt.Sprintf("no workspace %s", p.ID))
	}
	h.workspaces = append(h.workspaces[:idx], h.workspaces[idx+1:]...)
	if h.selectedID == p.ID {
		h.selectedID = ""
		if len(h.workspaces) > 0 {
			h.selectedID = h.workspaces[min(idx, len(h.workspaces)-1)].ID
		}
	}
	h.persist()
	return okReply(nil)
}

func (h *LocalHost) setTmux(params json.RawMessage) string {
	var p struct {
		ID      string `json:"id"`
		Enabled *bool  `json:"enabled"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.ID == "" {
		return errReply("workspace.setTmux requires an id")
	}
	ws := h.findWorkspace(p.ID)
	if ws == nil {
		return errReply(fmt.Sprintf("no workspace %s", p.ID))
	}
	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}
	ws.TmuxEnabled = enabled
	for i := range ws.Panels {
		if enabled && ws.Panels[i].TmuxSession == "" {
			ws.Panels[i].TmuxSession = h.coordinator.SessionNameFor(ws.Panels[i].ID, ws.Title)
		}
	}
	h.persist()
	return okReply(map[string]any{"tmuxEnabled": ws.TmuxEnabled})
}

func (h *LocalHost) splitPanel(params json.RawMessage) string {
	var p struct {
		Direction string `json:"direction"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return errReply(fmt.Sprintf("invalid params: %v", err))
	}
	if p.Direction != "right" && p.Direction != "down" {
		return errReply(`split direction must be "right" or "down"`)
	}
	ws := h.findWorkspace(h.selectedID)
	if ws == nil {
		return errReply("no selected workspace")
	}
	focused := h.findPanel(ws, ws.FocusedID)
	if focused == nil {
		return errReply("no focused panel")
	}

	next := panel{ID: uuid.NewString(), Directory: focused.Directory}
	if ws.TmuxEnabled {
		next.TmuxSession = h.coordinator.SessionNameFor(next.ID, ws.Title)
	}
	ws.Panels = append(ws.Panels, next)

	// AppKit terms: a vertical split puts panes side by side.
	orientation := "vertical"
	if p.Direction == "down" {
		orientation = "horizontal"
	}
	ws.Layout = splitLeaf(ws.Layout, focused.ID, next.ID, orientation)
	ws.FocusedID = next.ID
	h.persist()
	return okReply(nil)
}

func (h *LocalHost) findPanel(ws *workspace, id string) *panel {
	for i := range ws.Panels {
		if ws.Panels[i].ID == id {
			return &ws.Panels[i]
		}
	}
	return nil
}

// splitLeaf replaces the pane leaf holding panelID with a split whose first
// child is the old leaf and second is a new pane for newID.
func splitLeaf(node *types.LayoutNode, panelID, newID, orientation string) *types.LayoutNode {
	if node == nil {
		return &types.LayoutNode{Type: "pane", Pane: &types.PaneNode{PanelIDs: []string{newID}}}
	}
	switch node.Type {
	case "pane":
		if node.Pane == nil || !contains(node.Pane.PanelIDs, panelID) {
			return node
		}
		return &types.LayoutNode{
			Type: "split",
			Split: &types.SplitNode{
				Orientation:     orientation,
				DividerPosition: 0.5,
				First:           node,
				Second:          &types.LayoutNode{Type: "pane", Pane: &types.PaneNode{PanelIDs: []string{newID}}},
			},
		}
	case "split":
		if node.Split != nil {
			node.Split.First = splitLeaf(node.Split.First, panelID, newID, orientation)
			node.Split.Second = splitLeaf(node.Split.Second, panelID, newID, orientation)
		}
		return node
	default:
		return node
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (h *LocalHost) markNotificationRead(params json.RawMessage) string {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.ID == "" {
		return errReply("notification.markRead requires an id")
	}
	for i := range h.notifications {
		if h.notifications[i].ID == p.ID {
			h.notifications[i].IsRead = true
			return okReply(nil)
		}
	}
	return errReply(fmt.Sprintf("no notification %s", p.ID))
}

func (h *LocalHost) clipboardSet(params json.RawMessage) string {
	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return errReply(fmt.Sprintf("invalid params: %v", err))
	}
	if err := clipboard.WriteAll(p.Text); err != nil {
		return errReply(fmt.Sprintf("clipboard write failed: %v", err))
	}
	return okReply(nil)
}

func (h *LocalHost) clipboardGet() string {
	text, err := clipboard.ReadAll()
	if err != nil {
		return errReply(fmt.Sprintf("clipboard read failed: %v", err))
	}
	return okReply(map[string]any{"text": text})
}

func okReply(fields map[string]any) string {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["ok"] = true
	out, err := json.Marshal(fields)
	if err != nil {
		return `{"ok":true}`
	}
	return string(out)
}

func errReply(msg string) string {
	out, err := json.Marshal(map[string]any{"ok": false, "error": msg})
	if err != nil {
		return `{"ok":false}`
	}
	return string(out)
}

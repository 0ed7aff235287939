// Package types provides shared data structures for the remote access server.
package types

// Workspace is the snapshot of a single workspace pushed to state clients.
type Workspace struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Directory     string      `json:"directory"`
	PanelCount    int         `json:"panelCount"`
	UnreadCount   int         `json:"unreadCount"`
	IsPinned      bool        `json:"isPinned"`
	IsTmuxEnabled bool        `json:"isTmuxEnabled"`
	IsSelected    bool        `json:"isSelected"`
	Color         string      `json:"color,omitempty"`
	Panels        []Panel     `json:"panels,omitempty"`
	Layout        *LayoutNode `json:"layout,omitempty"`
}

// Panel describes one terminal panel inside a workspace.
type Panel struct {
	ID          string `json:"id"`
	Directory   string `json:"directory"`
	TmuxSession string `json:"tmuxSession,omitempty"`
}

// LayoutNode is one node of a workspace's recursive split tree. Exactly one of
// Pane or Split is set, matching Type ("pane" or "split").
type LayoutNode struct {
	Type  string     `json:"type"`
	Pane  *PaneNode  `json:"pane,omitempty"`
	Split *SplitNode `json:"split,omitempty"`
}

// PaneNode is a leaf holding one or more stacked panels.
type PaneNode struct {
	PanelIDs []string `json:"panelIds"`
}

// SplitNode divides the area between two child nodes.
type SplitNode struct {
	Orientation     string      `json:"orientation"` // "vertical" or "horizontal"
	DividerPosition float64     `json:"dividerPosition"`
	First           *LayoutNode `json:"first"`
	Second          *LayoutNode `json:"second"`
}

// Notification is a host notification pushed to state clients and returned by
// the notifications endpoint.
type Notification struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Subtitle  string `json:"subtitle"`
	Body      string `json:"body"`
	TabID     string `json:"tabId"`
	IsRead    bool   `json:"isRead"`
	CreatedAt string `json:"createdAt"`
}

// TmuxSessionInfo is the wire form of a tmux session, used both in the
// periodic state broadcast and by the tmux REST endpoints. Created is
// ISO-8601.
type TmuxSessionInfo struct {
	Name        string `json:"name"`
	Created     string `json:"created"`
	WindowCount int    `json:"windowCount"`
	Attached    int    `json:"attached"`
	CurrentPath string `json:"currentPath"`
}

// StateMessage is the periodic broadcast sent to every state client.
type StateMessage struct {
	Type         string            `json:"type"` // always "state"
	Data         []Workspace       `json:"data"`
	TmuxSessions []TmuxSessionInfo `json:"tmuxSessions"`
}

// Host is the surface of the embedding application the server talks to. All
// methods MUST be called on the host executor; the server never touches
// workspace or notification state from its own goroutines.
type Host interface {
	// HandleCommand processes one JSON command and completes with a reply
	// string, possibly asynchronously. An empty reply means "no response".
	HandleCommand(command string, complete func(reply string))

	// Workspaces returns the full workspace snapshot, selection already
	// stamped.
	Workspaces() []Workspace

	// SelectedWorkspaceID returns the id of the selected workspace, or "".
	SelectedWorkspaceID() string

	// WorkspaceCount returns the number of open workspaces.
	WorkspaceCount() int

	// UnreadCount returns the total unread notification count.
	UnreadCount() int

	// Notifications returns up to limit most recent notifications, newest
	// first.
	Notifications(limit int) []Notification
}

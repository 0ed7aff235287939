package config

import (
	"encoding/json"
	"sync"
)

// MemoryStorage implements StateManager in memory for testing
type MemoryStorage struct {
	mu                sync.Mutex
	workspacesData    json.RawMessage
	selectedWorkspace string
}

// SaveWorkspaces saves the raw workspace data
func (m *MemoryStorage) SaveWorkspaces(workspacesJSON json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workspacesData = make(json.RawMessage, len(workspacesJSON))
	copy(m.workspacesData, workspacesJSON)
	return nil
}

// GetWorkspaces returns the raw workspace data
func (m *MemoryStorage) GetWorkspaces() json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.workspacesData == nil {
		return json.RawMessage("[]")
	}
	return m.workspacesData
}

// DeleteAllWorkspaces removes all stored workspaces
func (m *MemoryStorage) DeleteAllWorkspaces() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workspacesData = json.RawMessage("[]")
	return nil
}

// GetSelectedWorkspace returns the id of the last selected workspace
func (m *MemoryStorage) GetSelectedWorkspace() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.selectedWorkspace
}

// SetSelectedWorkspace updates the last selected workspace
func (m *MemoryStorage) SetSelectedWorkspace(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.selectedWorkspace = id
	return nil
}

package config

import (
	"cmux-remote/log"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const StateFileName = "state.json"

// WorkspaceStorage handles workspace-related operations
type WorkspaceStorage interface {
	// SaveWorkspaces saves the raw workspace data
	SaveWorkspaces(workspacesJSON json.RawMessage) error
	// GetWorkspaces returns the raw workspace data
	GetWorkspaces() json.RawMessage
	// DeleteAllWorkspaces removes all stored workspaces
	DeleteAllWorkspaces() error
}

// AppState handles application-level state
type AppState interface {
	// GetSelectedWorkspace returns the id of the last selected workspace
	GetSelectedWorkspace() string
	// SetSelectedWorkspace updates the last selected workspace
	SetSelectedWorkspace(id string) error
}

// StateManager combines workspace storage and app state management
type StateManager interface {
	WorkspaceStorage
	AppState
}

// State represents the application state that persists between runs
type State struct {
	// SelectedWorkspace is the id of the workspace selected when the app last ran
	SelectedWorkspace string `json:"selected_workspace"`
	// WorkspacesData stores the serialized workspace data as raw JSON
	WorkspacesData json.RawMessage `json:"workspaces"`
}

// DefaultState returns the default state
func DefaultState() *State {
	return &State{
		SelectedWorkspace: "",
		WorkspacesData:    json.RawMessage("[]"),
	}
}

// LoadState loads the state from disk. If it cannot be done, we return the default state.
func LoadState() *State {
	configDir, err := GetConfigDir()
	if err != nil {
		log.ErrorLog.Printf("failed to get config directory: %v", err)
		return DefaultState()
	}

	statePath := filepath.Join(configDir, StateFileName)
	data, err := os.ReadFile(statePath)
	if err != nil {
		if os.IsNotExist(err) {
			// Create and save default state if file doesn't exist
			defaultState := DefaultState()
			if saveErr := SaveState(defaultState); saveErr != nil {
				log.WarningLog.Printf("failed to save default state: %v", saveErr)
			}
			return defaultState
		}

		log.WarningLog.Printf("failed to get state file: %v", err)
		return DefaultState()
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		log.ErrorLog.Printf("failed to parse state file: %v", err)
		return DefaultState()
	}

	return &state
}

// SaveState saves the state to disk
func SaveState(state *State) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	statePath := filepath.Join(configDir, StateFileName)
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	return os.WriteFile(statePath, data, 0644)
}

// WorkspaceStorage interface implementation

// SaveWorkspaces saves the raw workspace data
func (s *State) SaveWorkspaces(workspacesJSON json.RawMessage) error {
	s.WorkspacesData = workspacesJSON
	return SaveState(s)
}

// GetWorkspaces returns the raw workspace data
func (s *State) GetWorkspaces() json.RawMessage {
	return s.WorkspacesData
}

// DeleteAllWorkspaces removes all stored workspaces
func (s *State) DeleteAllWorkspaces() error {
	s.WorkspacesData = json.RawMessage("[]")
	return SaveState(s)
}

// AppState interface implementation

// GetSelectedWorkspace returns the id of the last selected workspace
func (s *State) GetSelectedWorkspace() string {
	return s.SelectedWorkspace
}

// SetSelectedWorkspace updates the last selected workspace
func (s *State) SetSelectedWorkspace(id string) error {
	s.SelectedWorkspace = id
	return SaveState(s)
}

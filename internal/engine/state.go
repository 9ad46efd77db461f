// Package engine runs test scripts against the bench: one session at a
// time, walked step by step through an explicit execution state machine.
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// ValidateTransition checks one edge of the execution state machine.
func ValidateTransition(from, to State) error {
	validTransitions := map[State][]State{
		StateIdle:     {StateRunning},
		StateRunning:  {StatePaused, StateStopping},
		StatePaused:   {StateRunning, StateStopping},
		StateStopping: {StateStopped},
		StateStopped:  {StateIdle},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid current state: %s", from)
	}
	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}
	return fmt.Errorf("invalid state transition: %s -> %s", from, to)
}

// RunStatus is the engine snapshot for status endpoints and the GUI.
type RunStatus struct {
	State          State     `json:"state"`
	RunID          string    `json:"run_id,omitempty"`
	Script         string    `json:"script,omitempty"`
	Iteration      int       `json:"iteration,omitempty"`
	Iterations     int       `json:"iterations,omitempty"`
	StepMode       bool      `json:"step_mode"`
	ConnectionLost bool      `json:"connection_lost"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	LogPath        string    `json:"log_path,omitempty"`
	StartedAt      time.Time `json:"started_at"`
}

// RunInfo describes one started run for the recorder.
type RunInfo struct {
	ID         uuid.UUID
	Name       string
	Iterations int
	LogPath    string
	StartedAt  time.Time
}

// StepResult is one executed script line for the recorder.
type StepResult struct {
	Iteration  int
	Section    string
	Index      int
	Device     string
	Command    string
	Detached   bool
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

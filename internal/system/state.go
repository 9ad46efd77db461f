package system

import (
	"encoding/json"
	"fmt"
)

type SystemState int

const (
	StateInitializing SystemState = iota
	StateRunning
	StateStopping
	StateStopped
	StateError
)

func (s SystemState) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON keeps the wire form readable for GUI and broker consumers.
func (s SystemState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// SystemStatus geht an Statusabonnenten (WebSocket, MQTT) bei jedem
// Zustandswechsel raus.
type SystemStatus struct {
	State     SystemState `json:"state"`
	Timestamp int64       `json:"timestamp"`
	Error     string      `json:"error,omitempty"`
}

func ValidateTransition(from, to SystemState) error {
	validTransitions := map[SystemState][]SystemState{
		StateInitializing: {StateRunning, StateStopping, StateError},
		StateRunning:      {StateStopping, StateError},
		StateStopping:     {StateStopped, StateError},
		StateStopped:      {StateInitializing},
		StateError:        {StateInitializing, StateStopping, StateStopped},
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

package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Run struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Iterations   int        `json:"iterations"`
	Outcome      string     `json:"outcome"`
	ErrorMessage string     `json:"error_message,omitempty"`
	LogPath      string     `json:"log_path"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

type RunStep struct {
	ID           int64     `json:"id"`
	RunID        uuid.UUID `json:"run_id"`
	Iteration    int       `json:"iteration"`
	Section      string    `json:"section"`
	StepIndex    int       `json:"step_index"`
	Device       string    `json:"device"`
	Command      string    `json:"command"`
	Detached     bool      `json:"detached"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

type RunEventRecord struct {
	ID        int64           `json:"id"`
	RunID     uuid.UUID       `json:"run_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

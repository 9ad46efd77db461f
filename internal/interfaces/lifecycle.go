package interfaces

import (
	"context"
	"time"

	"benchlink/internal/calibration"
	"benchlink/internal/config"
	"benchlink/internal/devices"
	"benchlink/internal/engine"
	"benchlink/internal/script"
	"benchlink/internal/storage"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State          string    `json:"state"`
	Bench          string    `json:"bench"`
	GatewayHealthy bool      `json:"gateway_healthy"`
	DeviceCount    int       `json:"device_count"`
	RunState       string    `json:"run_state"`
	ActiveScript   string    `json:"active_script,omitempty"`
	StartedAt      time.Time `json:"started_at"`
}

type LifecycleManager interface {
	Config() *config.Config
	Bench() *devices.Bench
	Engine() *engine.Engine
	Validator() *script.Validator
	Calibration() *calibration.FileStore
	Archive() *storage.PostgresClient
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}

package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunRecorder archives runs, steps and events. The engine treats it as
// best-effort: recording failures are logged, never run-fatal. A nil
// recorder disables archiving.
type RunRecorder interface {
	RecordRunStart(ctx context.Context, run RunInfo) error
	RecordStep(ctx context.Context, runID uuid.UUID, step StepResult) error
	RecordEvent(ctx context.Context, runID uuid.UUID, event RunEvent) error
	RecordRunEnd(ctx context.Context, runID uuid.UUID, outcome, message string, endedAt time.Time) error
}

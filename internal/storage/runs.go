package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"benchlink/internal/engine"
)

// ErrNotFound marks lookups of runs that were never archived.
var ErrNotFound = errors.New("not found")

// PostgresClient is the engine's run archive.
var _ engine.RunRecorder = (*PostgresClient)(nil)

func (p *PostgresClient) RecordRunStart(ctx context.Context, run engine.RunInfo) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO runs (id, run_name, iterations, outcome, log_path, started_at)
		VALUES ($1, $2, $3, 'running', $4, $5)
	`, run.ID, run.Name, run.Iterations, run.LogPath, run.StartedAt)

	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (p *PostgresClient) RecordStep(ctx context.Context, runID uuid.UUID, step engine.StepResult) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO run_steps (run_id, iteration, section, step_index, device, command, detached, error_message, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, runID, step.Iteration, step.Section, step.Index, step.Device, step.Command,
		step.Detached, step.Error, step.StartedAt, step.FinishedAt)

	if err != nil {
		return fmt.Errorf("failed to insert run step: %w", err)
	}
	return nil
}

func (p *PostgresClient) RecordEvent(ctx context.Context, runID uuid.UUID, event engine.RunEvent) error {
	var payload []byte
	if event.Payload != nil {
		data, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		payload = data
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO run_events (run_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, runID, string(event.Type), payload, event.Timestamp)

	if err != nil {
		return fmt.Errorf("failed to insert run event: %w", err)
	}
	return nil
}

func (p *PostgresClient) RecordRunEnd(ctx context.Context, runID uuid.UUID, outcome, message string, endedAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE runs
		SET outcome = $2, error_message = $3, ended_at = $4
		WHERE id = $1
	`, runID, outcome, message, endedAt)

	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// ListRuns returns the newest runs first.
func (p *PostgresClient) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, run_name, iterations, outcome, error_message, log_path, started_at, ended_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)

	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		var run Run
		if err := rows.Scan(
			&run.ID,
			&run.Name,
			&run.Iterations,
			&run.Outcome,
			&run.ErrorMessage,
			&run.LogPath,
			&run.StartedAt,
			&run.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (p *PostgresClient) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var run Run
	err := p.pool.QueryRow(ctx, `
		SELECT id, run_name, iterations, outcome, error_message, log_path, started_at, ended_at
		FROM runs
		WHERE id = $1
	`, runID).Scan(
		&run.ID,
		&run.Name,
		&run.Iterations,
		&run.Outcome,
		&run.ErrorMessage,
		&run.LogPath,
		&run.StartedAt,
		&run.EndedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	return &run, nil
}

func (p *PostgresClient) RunSteps(ctx context.Context, runID uuid.UUID) ([]RunStep, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, run_id, iteration, section, step_index, device, command, detached, error_message, started_at, finished_at
		FROM run_steps
		WHERE run_id = $1
		ORDER BY id
	`, runID)

	if err != nil {
		return nil, fmt.Errorf("failed to load run steps: %w", err)
	}
	defer rows.Close()

	steps := make([]RunStep, 0)
	for rows.Next() {
		var step RunStep
		if err := rows.Scan(
			&step.ID,
			&step.RunID,
			&step.Iteration,
			&step.Section,
			&step.StepIndex,
			&step.Device,
			&step.Command,
			&step.Detached,
			&step.ErrorMessage,
			&step.StartedAt,
			&step.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run step: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (p *PostgresClient) RunEvents(ctx context.Context, runID uuid.UUID) ([]RunEventRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, run_id, event_type, payload, created_at
		FROM run_events
		WHERE run_id = $1
		ORDER BY id
	`, runID)

	if err != nil {
		return nil, fmt.Errorf("failed to load run events: %w", err)
	}
	defer rows.Close()

	events := make([]RunEventRecord, 0)
	for rows.Next() {
		var ev RunEventRecord
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.EventType, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run event: %w", err)
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	return events, rows.Err()
}

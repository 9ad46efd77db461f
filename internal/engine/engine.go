package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"benchlink/internal/devices"
	"benchlink/internal/logger"
	"benchlink/internal/script"
	"benchlink/internal/types"
)

// ConnectionProbe is what the engine and its monitor need from the
// transport: a cheap reachability check.
type ConnectionProbe interface {
	Ping(ctx context.Context) error
}

// errStopRequested unwinds the worker on stop; it is not a run failure.
var errStopRequested = errors.New("stop requested")

const stopJoinTimeout = 10 * time.Second

// Engine owns one test session: the state machine, the worker goroutine,
// the per-run log and the event fan-out. One run at a time per bench.
type Engine struct {
	bench       *devices.Bench
	probe       ConnectionProbe
	broadcaster *Broadcaster
	recorder    RunRecorder
	logger      *zap.Logger

	logDir      string
	logInterval time.Duration
	rowHook     func(logger.Row)

	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	program   *script.Program
	runID     uuid.UUID
	runErr    string
	iteration int
	stepMode  bool
	connLost  bool
	startedAt time.Time

	tap        *logger.EventTap
	runLog     *logger.RunLogger
	stepGate   chan struct{}
	runCancel  context.CancelFunc
	workerDone chan struct{}
}

func New(bench *devices.Bench, probe ConnectionProbe, logDir string, logInterval time.Duration, lg *zap.Logger) *Engine {
	if lg == nil {
		lg = zap.NewNop()
	}
	e := &Engine{
		bench:       bench,
		probe:       probe,
		broadcaster: NewBroadcaster(),
		logger:      lg,
		logDir:      logDir,
		logInterval: logInterval,
		state:       StateIdle,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// SetRecorder wires the optional run archive. Call before Start.
func (e *Engine) SetRecorder(r RunRecorder) { e.recorder = r }

// OnLogRow registers a hook for every written log row. Call before Start.
func (e *Engine) OnLogRow(fn func(logger.Row)) { e.rowHook = fn }

// Broadcaster exposes the event fan-out for subscribers.
func (e *Engine) Broadcaster() *Broadcaster { return e.broadcaster }

// State returns the current execution state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status returns a snapshot for status endpoints.
func (e *Engine) Status() RunStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := RunStatus{
		State:          e.state,
		StepMode:       e.stepMode,
		ConnectionLost: e.connLost,
		ErrorMessage:   e.runErr,
		Iteration:      e.iteration,
		StartedAt:      e.startedAt,
	}
	if e.runID != uuid.Nil {
		st.RunID = e.runID.String()
	}
	if e.program != nil {
		st.Script = e.program.Name
		st.Iterations = e.program.Iterations
	}
	if e.runLog != nil {
		st.LogPath = e.runLog.Path()
	}
	return st
}

// Start validates the program, arms the run log and spawns the worker.
func (e *Engine) Start(program *script.Program) (uuid.UUID, error) {
	if program == nil {
		return uuid.Nil, fmt.Errorf("%w: no program", types.ErrConfiguration)
	}
	if program.Name == "" {
		return uuid.Nil, fmt.Errorf("%w: script has no name", types.ErrConfiguration)
	}
	if program.Iterations < 1 {
		return uuid.Nil, fmt.Errorf("%w: iterations must be at least 1, got %d",
			types.ErrConfiguration, program.Iterations)
	}

	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return uuid.Nil, fmt.Errorf("cannot start: engine must be idle (current: %s)", e.state)
	}

	runID := uuid.New()
	startedAt := time.Now()
	tap := logger.NewEventTap()
	runLog := logger.New(
		filepath.Join(e.logDir, logFileName(startedAt, program.Name)),
		e.logInterval,
		e.benchColumns(),
		tap,
		e.logger.Named("runlog"),
	)
	if e.rowHook != nil {
		runLog.OnRow(e.rowHook)
	}
	if err := runLog.Start(); err != nil {
		e.mu.Unlock()
		return uuid.Nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	e.program = program
	e.runID = runID
	e.runErr = ""
	e.iteration = 0
	e.stepMode = program.StepMode
	e.connLost = false
	e.startedAt = startedAt
	e.tap = tap
	e.runLog = runLog
	e.stepGate = make(chan struct{}, 1)
	e.runCancel = cancel
	e.workerDone = make(chan struct{})

	e.setStateLocked(StateRunning)
	e.mu.Unlock()

	e.publish(EventRunStarted, map[string]any{
		"script":     program.Name,
		"iterations": program.Iterations,
		"step_mode":  program.StepMode,
	})
	e.record(func(ctx context.Context, r RunRecorder) error {
		return r.RecordRunStart(ctx, RunInfo{
			ID:         runID,
			Name:       program.Name,
			Iterations: program.Iterations,
			LogPath:    runLog.Path(),
			StartedAt:  startedAt,
		})
	})

	go e.worker(runCtx, program, runID)

	e.logger.Info("run started",
		zap.String("run_id", runID.String()),
		zap.String("script", program.Name),
		zap.Int("iterations", program.Iterations))
	return runID, nil
}

// Pause halts the worker before its next step. Non-preemptive: a step in
// flight finishes first.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRunning {
		return fmt.Errorf("cannot pause: engine not running (current: %s)", e.state)
	}
	e.setStateLocked(StatePaused)
	e.tap.Push("paused")
	return nil
}

// Resume lets the worker continue. After a connectivity loss the
// remembered setpoints go back out before the first step runs.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return fmt.Errorf("cannot resume: engine not paused (current: %s)", e.state)
	}
	wasLost := e.connLost
	e.connLost = false
	e.mu.Unlock()

	if wasLost {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		e.reapplySetpoints(ctx)
		cancel()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		// Stop kam während des Reapply dazwischen
		return nil
	}
	e.setStateLocked(StateRunning)
	e.tap.Push("resumed")
	return nil
}

// StepOnce releases exactly one step while step mode gates the worker.
func (e *Engine) StepOnce() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRunning && e.state != StatePaused {
		return fmt.Errorf("cannot step: no run active (current: %s)", e.state)
	}
	if !e.stepMode {
		return fmt.Errorf("%w: step mode is not enabled", types.ErrConfiguration)
	}
	select {
	case e.stepGate <- struct{}{}:
	default:
		// ein Schritt ist bereits freigegeben
	}
	return nil
}

// SetStepMode toggles the per-step gate at runtime. Turning it off
// releases a worker already waiting at the gate.
func (e *Engine) SetStepMode(on bool) {
	e.mu.Lock()
	e.stepMode = on
	gate := e.stepGate
	e.mu.Unlock()

	if !on && gate != nil {
		select {
		case gate <- struct{}{}:
		default:
		}
	}
}

// RecordMessage queues an ad hoc message for the next log row.
func (e *Engine) RecordMessage(msg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tap == nil || e.state == StateIdle {
		return fmt.Errorf("no run active")
	}
	e.tap.Push(msg)
	return nil
}

// Stop ends the run and joins the worker with a bounded wait. Stopping an
// idle engine is a no-op so shutdown paths can always call it.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state == StateIdle || e.state == StateStopped {
		e.mu.Unlock()
		return nil
	}
	if e.state == StateStopping {
		done := e.workerDone
		e.mu.Unlock()
		<-done
		return nil
	}

	e.setStateLocked(StateStopping)
	cancel := e.runCancel
	done := e.workerDone
	e.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		e.logger.Error("worker did not stop in time", zap.Duration("timeout", stopJoinTimeout))
		e.mu.Lock()
		if e.state == StateStopping {
			e.setStateLocked(StateStopped)
		}
		e.mu.Unlock()
	}
	return nil
}

// Reset clears a finished run so a new one can start.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateStopped {
		return fmt.Errorf("cannot reset: run not stopped (current: %s)", e.state)
	}
	e.setStateLocked(StateIdle)
	e.program = nil
	e.runID = uuid.Nil
	e.runErr = ""
	e.iteration = 0
	e.connLost = false
	e.tap = nil
	e.runLog = nil
	return nil
}

// worker executes setup once, then every iteration of the section steps.
func (e *Engine) worker(ctx context.Context, program *script.Program, runID uuid.UUID) {
	defer close(e.workerDone)

	err := e.runProgram(ctx, program)
	e.finishRun(runID, err)
}

func (e *Engine) runProgram(ctx context.Context, program *script.Program) error {
	for i, step := range program.Setup {
		if err := e.gate(ctx); err != nil {
			return err
		}
		if err := e.executeStep(ctx, 0, "", i, step); err != nil {
			return err
		}
	}

	for it := 1; it <= program.Iterations; it++ {
		if err := e.waitWhilePaused(); err != nil {
			return err
		}

		// Ein Regler kann seinen Sollwert über einen Spannungs- oder
		// Verbindungsabriss verlieren, deshalb vor jeder Iteration neu setzen.
		e.reapplySetpoints(ctx)

		e.mu.Lock()
		e.iteration = it
		tap := e.tap
		e.mu.Unlock()

		tap.Push(fmt.Sprintf("iteration %d", it))
		e.publish(EventIterationStarted, map[string]any{"iteration": it})

		for _, sec := range program.Sections {
			tap.Push("section " + sec.Name)
			e.publish(EventSectionStarted, map[string]any{
				"iteration": it,
				"section":   sec.Name,
			})

			for i, step := range sec.Steps {
				if err := e.gate(ctx); err != nil {
					return err
				}
				if err := e.executeStep(ctx, it, sec.Name, i, step); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// executeStep runs one line: detached when the step asks for a thread,
// then the optional hold on the main line.
func (e *Engine) executeStep(ctx context.Context, iteration int, section string, index int, step script.Step) error {
	e.publish(EventStepStarted, map[string]any{
		"iteration": iteration,
		"section":   section,
		"step":      index + 1,
		"device":    step.Device,
		"command":   step.Command,
		"thread":    step.Thread,
	})

	startedAt := time.Now()
	result := StepResult{
		Iteration: iteration,
		Section:   section,
		Index:     index,
		Device:    step.Device,
		Command:   step.Command,
		Detached:  step.Thread,
		StartedAt: startedAt,
	}

	if step.Thread {
		// detached: Fehler werden geloggt, der Hauptfaden läuft weiter
		go func() {
			if err := e.runStep(ctx, step); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Error("detached step failed",
					zap.String("device", step.Device),
					zap.String("command", step.Command),
					zap.Error(err))
				e.publish(EventStepFailed, map[string]any{
					"iteration": iteration,
					"section":   section,
					"step":      index + 1,
					"device":    step.Device,
					"command":   step.Command,
					"error":     err.Error(),
					"thread":    true,
				})
			}
		}()
		result.FinishedAt = time.Now()
		e.recordStep(result)
		return e.holdAfter(ctx, step)
	}

	if err := e.runStep(ctx, step); err != nil {
		if errors.Is(err, context.Canceled) {
			return errStopRequested
		}
		stepErr := &StepError{
			Section:   section,
			Iteration: iteration,
			Index:     index,
			Device:    step.Device,
			Command:   step.Command,
			Err:       err,
		}
		result.Error = err.Error()
		result.FinishedAt = time.Now()
		e.recordStep(result)
		e.publish(EventStepFailed, map[string]any{
			"iteration": iteration,
			"section":   section,
			"step":      index + 1,
			"device":    step.Device,
			"command":   step.Command,
			"error":     err.Error(),
		})
		return stepErr
	}

	result.FinishedAt = time.Now()
	e.recordStep(result)
	return e.holdAfter(ctx, step)
}

func (e *Engine) holdAfter(ctx context.Context, step script.Step) error {
	if step.HoldDuration() <= 0 {
		return nil
	}
	if err := sleepCtx(ctx, step.HoldDuration()); err != nil {
		return errStopRequested
	}
	return nil
}

// waitWhilePaused blocks the worker between script lines. Stop wakes the
// wait via the state broadcast.
func (e *Engine) waitWhilePaused() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.state == StatePaused {
		e.cond.Wait()
	}
	if e.state != StateRunning {
		return errStopRequested
	}
	return nil
}

// gate blocks while paused, honours the step gate and unwinds on stop.
// A step token taken right before a pause does not survive it, the
// operator steps again after resuming.
func (e *Engine) gate(ctx context.Context) error {
	for {
		if err := e.waitWhilePaused(); err != nil {
			return err
		}
		e.mu.Lock()
		stepMode := e.stepMode
		e.mu.Unlock()

		if !stepMode {
			return nil
		}

		select {
		case <-e.stepGate:
			e.mu.Lock()
			st := e.state
			e.mu.Unlock()
			switch st {
			case StateRunning:
				return nil
			case StatePaused:
				continue
			default:
				return errStopRequested
			}
		case <-ctx.Done():
			return errStopRequested
		}
	}
}

// finishRun tears the session down and lands in Stopped.
func (e *Engine) finishRun(runID uuid.UUID, err error) {
	outcome := "completed"
	message := ""
	eventType := EventRunCompleted

	switch {
	case err == nil:
	case errors.Is(err, errStopRequested):
		outcome = "stopped"
		eventType = EventRunStopped
	default:
		outcome = "failed"
		message = err.Error()
		eventType = EventRunFailed
		e.logger.Error("run failed", zap.String("run_id", runID.String()), zap.Error(err))
	}

	e.mu.Lock()
	runLog := e.runLog
	if e.state == StateRunning || e.state == StatePaused {
		e.setStateLocked(StateStopping)
	}
	e.mu.Unlock()

	// letzte Zeile trägt das Ergebnis, dann ist die Datei zu
	if message != "" {
		runLog.InsertBreak("run failed: " + message)
	} else {
		runLog.InsertBreak("run " + outcome)
	}
	if lerr := runLog.Stop(); lerr != nil {
		e.logger.Error("run log close failed", zap.Error(lerr))
	}

	payload := map[string]any{"outcome": outcome}
	if message != "" {
		payload["error"] = message
	}
	e.publish(eventType, payload)
	e.record(func(ctx context.Context, r RunRecorder) error {
		return r.RecordRunEnd(ctx, runID, outcome, message, time.Now())
	})

	e.mu.Lock()
	e.runErr = message
	if e.state == StateStopping {
		e.setStateLocked(StateStopped)
	}
	e.mu.Unlock()
}

// pauseForConnectionLoss is the monitor's entry: auto-pause and flag the
// loss so Resume knows to reconcile setpoints. A loss during a manual
// pause still sets the flag, the outputs may be gone either way.
func (e *Engine) pauseForConnectionLoss(cause error) {
	e.mu.Lock()
	if e.state != StateRunning && e.state != StatePaused {
		e.mu.Unlock()
		return
	}
	e.connLost = true
	if e.state == StateRunning {
		e.setStateLocked(StatePaused)
	}
	tap := e.tap
	e.mu.Unlock()

	tap.Push("connection lost")
	e.publish(EventConnectionLost, map[string]any{"error": cause.Error()})
	e.logger.Warn("connection lost, run paused", zap.Error(cause))
}

// noteConnectionRestored surfaces the recovered link. The run stays
// paused, resuming is the operator's call.
func (e *Engine) noteConnectionRestored() {
	e.mu.Lock()
	tap := e.tap
	active := e.state == StateRunning || e.state == StatePaused
	e.mu.Unlock()

	if active && tap != nil {
		tap.Push("connection restored")
	}
	e.publish(EventConnectionRestored, nil)
	e.logger.Info("connection restored")
}

// benchColumns snapshots the loggable devices in wiring order.
func (e *Engine) benchColumns() []logger.Column {
	columns := make([]logger.Column, 0)
	for _, inst := range e.bench.Instances() {
		src, ok := inst.Device.(logger.ValueSource)
		if !ok {
			continue
		}
		columns = append(columns, logger.Column{Alias: inst.Alias, Source: src})
	}
	return columns
}

// setStateLocked flips the state, wakes the worker and announces the edge.
// Broadcast never blocks, so holding e.mu here is fine.
func (e *Engine) setStateLocked(to State) {
	from := e.state
	if err := ValidateTransition(from, to); err != nil {
		e.logger.Error("state transition rejected", zap.Error(err))
		return
	}
	e.state = to
	e.cond.Broadcast()

	e.broadcaster.Broadcast(RunEvent{
		RunID:     e.runID,
		Type:      EventStateChanged,
		Payload:   map[string]any{"from": string(from), "to": string(to)},
		Timestamp: time.Now(),
	})
}

// publish fans one event out and archives it.
func (e *Engine) publish(eventType EventType, payload map[string]any) {
	e.mu.Lock()
	runID := e.runID
	e.mu.Unlock()

	event := RunEvent{
		RunID:     runID,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	e.broadcaster.Broadcast(event)
	e.record(func(ctx context.Context, r RunRecorder) error {
		return r.RecordEvent(ctx, runID, event)
	})
}

func (e *Engine) recordStep(result StepResult) {
	e.mu.Lock()
	runID := e.runID
	e.mu.Unlock()
	e.record(func(ctx context.Context, r RunRecorder) error {
		return r.RecordStep(ctx, runID, result)
	})
}

// record runs one archive call with a short budget; failures only log.
func (e *Engine) record(fn func(context.Context, RunRecorder) error) {
	if e.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx, e.recorder); err != nil {
		e.logger.Warn("run archive write failed", zap.Error(err))
	}
}

// logFileName builds "<stamp>_<script>.csv" with a filesystem-safe name.
func logFileName(startedAt time.Time, name string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	return fmt.Sprintf("%s_%s.csv", startedAt.Format("20060102_150405"), safe)
}

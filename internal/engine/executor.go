package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"benchlink/internal/script"
	"benchlink/internal/types"
)

// StepError wraps the failure of one script line with its position.
type StepError struct {
	Section   string
	Iteration int
	Index     int
	Device    string
	Command   string
	Err       error
}

func (e *StepError) Error() string {
	if e.Section == "" {
		return fmt.Sprintf("setup step %d (%s.%s): %v", e.Index+1, e.Device, e.Command, e.Err)
	}
	return fmt.Sprintf("iteration %d, section %q step %d (%s.%s): %v",
		e.Iteration, e.Section, e.Index+1, e.Device, e.Command, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// runStep executes one script line against the bench. The builtin hold
// waits without touching a device; everything else dispatches to the
// device's command set.
func (e *Engine) runStep(ctx context.Context, step script.Step) error {
	if step.Device == "" {
		if step.Command != script.HoldCommand {
			return fmt.Errorf("%w: command %q needs a device alias", types.ErrConfiguration, step.Command)
		}
		return e.runHold(ctx, step.Params)
	}

	dev, ok := e.bench.Device(step.Device)
	if !ok {
		return fmt.Errorf("%w: unknown device alias %q", types.ErrConfiguration, step.Device)
	}
	_, err := dev.Invoke(ctx, step.Command, step.Params)
	return err
}

// runHold sleeps for params.seconds, default one second.
func (e *Engine) runHold(ctx context.Context, params map[string]any) error {
	seconds := 1.0
	if v, ok := params["seconds"]; ok {
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("%w: hold seconds is %T, want number", types.ErrConfiguration, v)
		}
		if f < 0 {
			return fmt.Errorf("%w: hold seconds must not be negative", types.ErrConfiguration)
		}
		seconds = f
	}
	return sleepCtx(ctx, time.Duration(seconds*float64(time.Second)))
}

// reapplySetpoints pushes remembered setpoints back out, defends against a
// regulator losing its output after a connectivity blip.
func (e *Engine) reapplySetpoints(ctx context.Context) {
	type reapplier interface {
		Reapply(ctx context.Context) error
	}

	for _, inst := range e.bench.Instances() {
		r, ok := inst.Device.(reapplier)
		if !ok {
			continue
		}
		if err := r.Reapply(ctx); err != nil {
			e.logger.Warn("setpoint reapply failed",
				zap.String("alias", inst.Alias),
				zap.Error(err))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

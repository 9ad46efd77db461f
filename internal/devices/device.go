// Package devices implements the drivers for the instruments a bench can
// carry: valve manifolds, the pressure regulator, and the sensor family on
// both the IO-Link ports and the analog hub.
package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"benchlink/internal/types"
)

// Device is the runtime face of one configured instrument. Commands arrive
// by name with loosely typed parameters, exactly as test scripts carry them.
type Device interface {
	TypeName() string
	Invoke(ctx context.Context, command string, params map[string]any) (any, error)
}

// ChannelReader is what the analog drivers need from the hub.
type ChannelReader interface {
	ReadChannel(ctx context.Context, channel int) (uint16, error)
}

func unknownCommand(typeName, command string) error {
	return fmt.Errorf("%w: %s has no command %q", types.ErrConfiguration, typeName, command)
}

// recordSlot holds the most recent script-requested reading until the run
// logger consumes it. Sensors embed it; one read, one log cell.
type recordSlot struct {
	mu    sync.Mutex
	value string
	valid bool
}

func (r *recordSlot) record(value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value = value
	r.valid = true
}

// LogValue hands the stored reading to the logger and clears the slot.
func (r *recordSlot) LogValue() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.valid {
		return "", false
	}
	r.valid = false
	return r.value, true
}

// Parameter-Zugriff: Scripts kommen aus JSON, Zahlen daher meist float64.

func floatParam(params map[string]any, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing parameter %q", types.ErrConfiguration, key)
	}
	return coerceFloat(key, v)
}

func optionalFloatParam(params map[string]any, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	return coerceFloat(key, v)
}

func coerceFloat(key string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: parameter %q: %v", types.ErrConfiguration, key, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: parameter %q is %T, want number", types.ErrConfiguration, key, v)
}

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("%w: missing parameter %q", types.ErrConfiguration, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: parameter %q is %T, want string", types.ErrConfiguration, key, v)
	}
	return s, nil
}

func optionalBoolParam(params map[string]any, key string, def bool) (bool, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: parameter %q is %T, want bool", types.ErrConfiguration, key, v)
	}
	return b, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// stringListParam akzeptiert einen einzelnen String oder eine Liste davon.
func stringListParam(params map[string]any, key string) ([]string, error) {
	v, ok := params[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing parameter %q", types.ErrConfiguration, key)
	}
	switch list := v.(type) {
	case string:
		return []string{list}, nil
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: parameter %q contains %T, want string", types.ErrConfiguration, key, item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: parameter %q is %T, want string or list", types.ErrConfiguration, key, v)
}

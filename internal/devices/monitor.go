package devices

import (
	"context"
	"time"
)

// DefaultMonitorInterval is used when a monitor is started with interval 0.
const DefaultMonitorInterval = 250 * time.Millisecond

// monitorFloat startet das zyklische Polling eines Sensors. cb bekommt bei
// jedem Tick den Messwert, bei einem Lesefehler nil; der Loop pollt weiter.
// duration <= 0 heißt: laufen bis ctx abbricht.
func monitorFloat(ctx context.Context, interval, duration time.Duration, read func(context.Context) (float64, error), cb func(*float64)) {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}

	var deadline <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-ticker.C:
			value, err := read(ctx)
			if err != nil {
				cb(nil)
				continue
			}
			cb(&value)
		}
	}
}

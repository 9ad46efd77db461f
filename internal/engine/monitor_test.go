package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"benchlink/internal/script"
)

func TestMonitorPausesRunOnConnectionLoss(t *testing.T) {
	rig := newTestRig(t)
	events := collectEvents(rig.engine.Broadcaster().Subscribe())

	mon := NewConnectionMonitor(rig.engine, rig.probe, 10*time.Millisecond, zap.NewNop())
	require.NoError(t, mon.Start())
	t.Cleanup(mon.Stop)

	prog := &script.Program{
		Name:       "soak",
		Iterations: 1,
		Sections: []script.Section{
			{Name: "main", Steps: []script.Step{
				{Device: "regulator", Command: "set_pressure", Params: map[string]any{"psi": 80.0}},
				{Command: script.HoldCommand, Params: map[string]any{"seconds": 30.0}},
			}},
		},
	}

	_, err := rig.engine.Start(prog)
	require.NoError(t, err)
	waitForState(t, rig.engine, StateRunning)
	require.Eventually(t, func() bool { return len(rig.bus.writesTo(2101)) == 1 },
		2*time.Second, 5*time.Millisecond, "the script must push the setpoint out")

	rig.probe.down.Store(true)
	waitForState(t, rig.engine, StatePaused)
	assert.True(t, rig.engine.Status().ConnectionLost)
	assert.False(t, mon.Healthy())
	require.Eventually(t, func() bool { return events.has(EventConnectionLost) },
		time.Second, 10*time.Millisecond)

	rig.probe.down.Store(false)
	require.Eventually(t, func() bool { return mon.Healthy() },
		time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return events.has(EventConnectionRestored) },
		time.Second, 10*time.Millisecond)
	assert.Equal(t, StatePaused, rig.engine.State(), "resuming stays with the operator")

	require.NoError(t, rig.engine.Resume())
	writes := rig.bus.writesTo(2101)
	require.Len(t, writes, 2, "resume must push the remembered setpoint out again")
	assert.Equal(t, writes[0], writes[1])

	st := rig.engine.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.False(t, st.ConnectionLost)

	require.NoError(t, rig.engine.Stop())
}

func TestMonitorPlainResumeSkipsReapply(t *testing.T) {
	rig := newTestRig(t)

	prog := &script.Program{
		Name:       "soak",
		Iterations: 1,
		Sections: []script.Section{
			{Name: "main", Steps: []script.Step{
				{Device: "regulator", Command: "set_pressure", Params: map[string]any{"psi": 50.0}},
				{Command: script.HoldCommand, Params: map[string]any{"seconds": 30.0}},
			}},
		},
	}

	_, err := rig.engine.Start(prog)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rig.bus.writesTo(2101)) == 1 },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, rig.engine.Pause())
	require.NoError(t, rig.engine.Resume())
	assert.Len(t, rig.bus.writesTo(2101), 1, "a plain pause must not rewrite setpoints")

	require.NoError(t, rig.engine.Stop())
}

func TestMonitorIgnoresLossWhileIdle(t *testing.T) {
	rig := newTestRig(t)
	events := collectEvents(rig.engine.Broadcaster().Subscribe())

	mon := NewConnectionMonitor(rig.engine, rig.probe, 10*time.Millisecond, zap.NewNop())
	require.NoError(t, mon.Start())
	t.Cleanup(mon.Stop)

	rig.probe.down.Store(true)
	require.Eventually(t, func() bool { return !mon.Healthy() },
		time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateIdle, rig.engine.State())
	assert.False(t, events.has(EventConnectionLost), "no run, nothing to pause")
}

func TestMonitorStartStopAreIdempotent(t *testing.T) {
	rig := newTestRig(t)
	mon := NewConnectionMonitor(rig.engine, rig.probe, 10*time.Millisecond, nil)

	assert.True(t, mon.Healthy())
	require.NoError(t, mon.Start())
	require.NoError(t, mon.Start())
	mon.Stop()
	mon.Stop()
}

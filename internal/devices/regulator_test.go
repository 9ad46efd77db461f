package devices

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegulator(t *testing.T, bus *fakeBus) *PressureRegulator {
	t.Helper()
	pr, err := NewPressureRegulator(PortDeps{Bus: bus, Port: 2})
	require.NoError(t, err)
	return pr
}

func TestRegulatorCurveEnds(t *testing.T) {
	bus := newFakeBus()
	pr := newTestRegulator(t, bus)
	ctx := context.Background()

	require.NoError(t, pr.SetPressure(ctx, 15))
	w, _ := bus.lastWrite()
	assert.Equal(t, uint16(2101), w.addr) // Schreibbasis Port 2
	assert.Equal(t, uint16(0), w.value)

	require.NoError(t, pr.SetPressure(ctx, 115))
	w, _ = bus.lastWrite()
	assert.Equal(t, uint16(65535), w.value)

	require.NoError(t, pr.SetPressure(ctx, 65))
	w, _ = bus.lastWrite()
	assert.Equal(t, uint16(32768), w.value) // Mitte, gerundet
}

func TestRegulatorClampsOutOfRange(t *testing.T) {
	bus := newFakeBus()
	pr := newTestRegulator(t, bus)
	ctx := context.Background()

	require.NoError(t, pr.SetPressure(ctx, 5))
	w, _ := bus.lastWrite()
	assert.Equal(t, uint16(0), w.value)
	sp, ok := pr.Setpoint()
	require.True(t, ok)
	assert.Equal(t, 15.0, sp)

	require.NoError(t, pr.SetPressure(ctx, 500))
	w, _ = bus.lastWrite()
	assert.Equal(t, uint16(65535), w.value)
	sp, _ = pr.Setpoint()
	assert.Equal(t, 115.0, sp)
}

func TestRegulatorFeedbackInvertsCurve(t *testing.T) {
	bus := newFakeBus()
	pr := newTestRegulator(t, bus)

	bus.set(2002, 32768) // Lesebasis Port 2
	reading, err := pr.ReadFeedback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(32768), reading.Raw)
	assert.InDelta(t, 65.0, reading.Psi, 0.01)

	bus.set(2002, 0)
	reading, err = pr.ReadFeedback(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 15.0, reading.Psi, 1e-9)
}

func TestRegulatorWaitSettles(t *testing.T) {
	bus := newFakeBus()
	pr := newTestRegulator(t, bus)

	// Feedback steht schon am Ziel, der erste Poll trifft
	raw, _ := rawFromPsi(80)
	bus.set(2002, raw)

	start := time.Now()
	require.NoError(t, pr.SetPressureWait(context.Background(), 80, 1.0, 2*time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRegulatorWaitTimesOut(t *testing.T) {
	bus := newFakeBus()
	pr := newTestRegulator(t, bus)

	bus.set(2002, 0) // Feedback klebt bei 15 psi

	err := pr.SetPressureWait(context.Background(), 80, 1.0, 300*time.Millisecond)
	require.ErrorIs(t, err, ErrNotSettled)
}

func TestRegulatorWaitHonoursContext(t *testing.T) {
	bus := newFakeBus()
	pr := newTestRegulator(t, bus)
	bus.set(2002, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := pr.SetPressureWait(ctx, 80, 1.0, 10*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRegulatorReapply(t *testing.T) {
	bus := newFakeBus()
	pr := newTestRegulator(t, bus)
	ctx := context.Background()

	// ohne Sollwert ein No-op
	require.NoError(t, pr.Reapply(ctx))
	assert.Empty(t, bus.writeLog())

	require.NoError(t, pr.SetPressure(ctx, 90))
	want, _ := bus.lastWrite()
	bus.clearWrites()

	require.NoError(t, pr.Reapply(ctx))
	got, ok := bus.lastWrite()
	require.True(t, ok)
	assert.Equal(t, want.value, got.value)
}

func TestRegulatorLogValue(t *testing.T) {
	bus := newFakeBus()
	pr := newTestRegulator(t, bus)

	_, ok := pr.LogValue()
	assert.False(t, ok)

	require.NoError(t, pr.SetPressure(context.Background(), 80))
	value, ok := pr.LogValue()
	require.True(t, ok)
	assert.Equal(t, "80.0 psi", value)

	// Zustandswert, wiederholt sich Zeile für Zeile
	value, ok = pr.LogValue()
	require.True(t, ok)
	assert.Equal(t, "80.0 psi", value)
}

func TestRegulatorInvokeSetPressure(t *testing.T) {
	bus := newFakeBus()
	pr := newTestRegulator(t, bus)
	ctx := context.Background()

	_, err := pr.Invoke(ctx, "set_pressure", map[string]any{"psi": 80.0})
	require.NoError(t, err)
	sp, ok := pr.Setpoint()
	require.True(t, ok)
	assert.Equal(t, 80.0, sp)

	raw, _ := rawFromPsi(60)
	bus.set(2002, raw)
	_, err = pr.Invoke(ctx, "set_pressure", map[string]any{
		"psi":     60.0,
		"wait":    true,
		"timeout": 2.0,
	})
	require.NoError(t, err)
}

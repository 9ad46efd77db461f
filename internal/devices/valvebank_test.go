package devices

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"benchlink/internal/types"
)

func newTestValveBank(t *testing.T, bus *fakeBus) *ValveBank {
	t.Helper()
	vb, err := NewValveBank(PortDeps{Bus: bus, Port: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vb.Close() })
	return vb
}

func TestValveOnWritesMask(t *testing.T) {
	bus := newFakeBus()
	vb := newTestValveBank(t, bus)

	require.NoError(t, vb.ValveOn(context.Background(), "1.A", 0))

	w, ok := bus.lastWrite()
	require.True(t, ok)
	assert.Equal(t, uint16(3101), w.addr) // Schreibbasis Port 3
	assert.Equal(t, uint16(0x0100), w.value)
	assert.Equal(t, []string{"1.A"}, vb.Active())
}

func TestValveOnForcesPairedCoilOff(t *testing.T) {
	bus := newFakeBus()
	vb := newTestValveBank(t, bus)
	ctx := context.Background()

	require.NoError(t, vb.ValveOn(ctx, "1.A", 0))
	require.NoError(t, vb.ValveOn(ctx, "1.B", 0))

	// die Gegenspule fliegt im selben Write raus, nie beide zugleich
	writes := bus.writeLog()
	require.Len(t, writes, 2)
	assert.Equal(t, uint16(0x0100), writes[0].value)
	assert.Equal(t, uint16(0x0200), writes[1].value)
	assert.Equal(t, []string{"1.B"}, vb.Active())
}

func TestValveWordAggregatesStations(t *testing.T) {
	bus := newFakeBus()
	vb := newTestValveBank(t, bus)
	ctx := context.Background()

	require.NoError(t, vb.ValveOn(ctx, "1.A", 0))
	require.NoError(t, vb.ValveOn(ctx, "5.B", 0))
	require.NoError(t, vb.ValveOn(ctx, "8.B", 0))

	w, _ := bus.lastWrite()
	assert.Equal(t, uint16(0x0100|0x0002|0x0080), w.value)
	assert.Equal(t, []string{"1.A", "5.B", "8.B"}, vb.Active())
}

func TestValveOffBatchIsOneWrite(t *testing.T) {
	bus := newFakeBus()
	vb := newTestValveBank(t, bus)
	ctx := context.Background()

	require.NoError(t, vb.ValveOn(ctx, "1.A", 0))
	require.NoError(t, vb.ValveOn(ctx, "2.A", 0))
	bus.clearWrites()

	require.NoError(t, vb.ValveOff(ctx, "1.A", "2.A"))

	writes := bus.writeLog()
	require.Len(t, writes, 1)
	assert.Equal(t, uint16(0), writes[0].value)
	assert.Empty(t, vb.Active())
}

func TestValveOffSkipsInactiveCoils(t *testing.T) {
	bus := newFakeBus()
	vb := newTestValveBank(t, bus)
	ctx := context.Background()

	require.NoError(t, vb.ValveOn(ctx, "1.A", 0))
	require.NoError(t, vb.ValveOff(ctx, "4.A"))

	// 4.A war nie an, 1.A bleibt stehen
	w, _ := bus.lastWrite()
	assert.Equal(t, uint16(0x0100), w.value)
	assert.Equal(t, []string{"1.A"}, vb.Active())
}

func TestValveRejectsUnknownIDs(t *testing.T) {
	bus := newFakeBus()
	vb := newTestValveBank(t, bus)
	ctx := context.Background()

	require.ErrorIs(t, vb.ValveOn(ctx, "9.A", 0), types.ErrConfiguration)
	require.ErrorIs(t, vb.ValveOn(ctx, "1.C", 0), types.ErrConfiguration)

	// ein unbekanntes Ventil in der Liste verwirft den ganzen Batch
	require.NoError(t, vb.ValveOn(ctx, "1.A", 0))
	require.ErrorIs(t, vb.ValveOff(ctx, "1.A", "nope"), types.ErrConfiguration)
	assert.Equal(t, []string{"1.A"}, vb.Active())
}

func TestValveAutoOff(t *testing.T) {
	bus := newFakeBus()
	vb := newTestValveBank(t, bus)

	require.NoError(t, vb.ValveOn(context.Background(), "1.A", 30*time.Millisecond))
	require.Equal(t, []string{"1.A"}, vb.Active())

	require.Eventually(t, func() bool {
		return len(vb.Active()) == 0
	}, time.Second, 5*time.Millisecond)

	w, ok := bus.lastWrite()
	require.True(t, ok)
	assert.Equal(t, uint16(0), w.value)
}

func TestValveLatchSupersedesTimer(t *testing.T) {
	bus := newFakeBus()
	vb := newTestValveBank(t, bus)
	ctx := context.Background()

	require.NoError(t, vb.ValveOn(ctx, "1.A", 30*time.Millisecond))
	require.NoError(t, vb.ValveOn(ctx, "1.A", 0)) // Dauer-Ein

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"1.A"}, vb.Active(), "elapsed timer must not fire after latch")
}

func TestAllOffCancelsPendingTimers(t *testing.T) {
	bus := newFakeBus()
	vb := newTestValveBank(t, bus)
	ctx := context.Background()

	require.NoError(t, vb.ValveOn(ctx, "1.A", 30*time.Millisecond))
	require.NoError(t, vb.ValveOn(ctx, "5.B", 30*time.Millisecond))
	require.NoError(t, vb.AllOff(ctx))

	before := len(bus.writeLog())
	time.Sleep(100 * time.Millisecond)

	// kein nachlaufender Timer-Write nach dem AllOff
	assert.Equal(t, before, len(bus.writeLog()))
	assert.Empty(t, vb.Active())
}

func TestValveLogValue(t *testing.T) {
	bus := newFakeBus()
	vb := newTestValveBank(t, bus)
	ctx := context.Background()

	_, ok := vb.LogValue()
	assert.False(t, ok)

	require.NoError(t, vb.ValveOn(ctx, "5.B", 0))
	require.NoError(t, vb.ValveOn(ctx, "1.A", 0))

	value, ok := vb.LogValue()
	require.True(t, ok)
	assert.Equal(t, "1.A+5.B", value)

	// Zustandswert, kein Verbrauchswert: bleibt bis zur Änderung stehen
	value, ok = vb.LogValue()
	require.True(t, ok)
	assert.Equal(t, "1.A+5.B", value)
}

func TestValveInvoke(t *testing.T) {
	bus := newFakeBus()
	vb := newTestValveBank(t, bus)
	ctx := context.Background()

	_, err := vb.Invoke(ctx, "valve_on", map[string]any{"valve": "2.A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2.A"}, vb.Active())

	_, err = vb.Invoke(ctx, "valve_on", map[string]any{"valve": "2.A", "duration": -1.0})
	require.ErrorIs(t, err, types.ErrConfiguration)

	_, err = vb.Invoke(ctx, "valve_off", map[string]any{"valves": []any{"2.A"}})
	require.NoError(t, err)
	assert.Empty(t, vb.Active())

	_, err = vb.Invoke(ctx, "valve_off", map[string]any{"valve": "2.A"})
	require.NoError(t, err)

	_, err = vb.Invoke(ctx, "all_off", nil)
	require.NoError(t, err)
}

func TestValveBankCloseIsIdempotent(t *testing.T) {
	vb, err := NewValveBank(PortDeps{Bus: newFakeBus(), Port: 3})
	require.NoError(t, err)
	require.NoError(t, vb.Close())
	require.NoError(t, vb.Close())
}

package devices

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"benchlink/internal/types"
)

func TestLoadCellConversion(t *testing.T) {
	h := newFakeHub()
	h.set(3, 3000) // 3.000 V

	lc, err := NewLoadCell(ChannelDeps{Hub: h, Channel: 3})
	require.NoError(t, err)

	reading, err := lc.ReadForce(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 3.0, reading.Volts, 1e-9)
	assert.InDelta(t, 20.0, reading.Lbf, 1e-9)
	assert.InDelta(t, 88.9644, reading.Newtons, 1e-4)
}

func TestLoadCellAtRest(t *testing.T) {
	h := newFakeHub()
	h.set(0, 5000) // Ruhelage, keine Last

	lc, err := NewLoadCell(ChannelDeps{Hub: h, Channel: 0})
	require.NoError(t, err)

	reading, err := lc.ReadForce(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.0, reading.Lbf, 1e-9)
}

func TestLoadCellRecordsOnScriptRead(t *testing.T) {
	h := newFakeHub()
	h.set(1, 3000)

	lc, err := NewLoadCell(ChannelDeps{Hub: h, Channel: 1})
	require.NoError(t, err)

	_, err = lc.Invoke(context.Background(), "read_force", nil)
	require.NoError(t, err)

	value, ok := lc.LogValue()
	require.True(t, ok)
	assert.Equal(t, "20.00 lbf", value)

	// eine Messung, eine Logzelle
	_, ok = lc.LogValue()
	assert.False(t, ok)
}

func TestPressureSensorConversion(t *testing.T) {
	h := newFakeHub()

	ps, err := NewPressureSensor(ChannelDeps{Hub: h, Channel: 2})
	require.NoError(t, err)

	cases := []struct {
		raw  uint16
		psi  float64
		name string
	}{
		{4000, -15.0, "loop zero"},
		{12000, 65.0, "midscale"},
		{20000, 145.0, "loop full"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h.set(2, tc.raw)
			reading, err := ps.ReadPressure(context.Background())
			require.NoError(t, err)
			assert.InDelta(t, tc.psi, reading.Psi, 1e-9)
		})
	}
}

func TestButtonStates(t *testing.T) {
	h := newFakeHub()

	b, err := NewButton(ChannelDeps{Hub: h, Channel: 5})
	require.NoError(t, err)

	cases := []struct {
		raw  uint16
		want ButtonState
	}{
		{257, ButtonStart},
		{1, ButtonHold},
		{0, ButtonStop},
		{9999, ButtonUnknown},
	}
	for _, tc := range cases {
		h.set(5, tc.raw)
		state, err := b.ReadState(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tc.want, state, "word %d", tc.raw)
	}
}

func TestAnalogUnknownCommand(t *testing.T) {
	h := newFakeHub()
	lc, err := NewLoadCell(ChannelDeps{Hub: h, Channel: 0})
	require.NoError(t, err)

	_, err = lc.Invoke(context.Background(), "open_pod_bay_doors", nil)
	require.ErrorIs(t, err, types.ErrConfiguration)
}

package hub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"benchlink/internal/types"
)

type fakeBus struct {
	regs  map[uint16]uint16
	reads []uint16
}

func (f *fakeBus) ReadRegisters(_ context.Context, addr uint16, count uint16) ([]uint16, error) {
	f.reads = append(f.reads, addr)
	out := make([]uint16, count)
	for i := range out {
		out[i] = f.regs[addr+uint16(i)]
	}
	return out, nil
}

func (f *fakeBus) WriteRegister(_ context.Context, addr uint16, value uint16) error {
	f.regs[addr] = value
	return nil
}

func TestReadChannelAddressing(t *testing.T) {
	// Kanal → Register bei Basis 1002 (Port 1)
	expected := map[int]uint16{
		0: 1003,
		1: 1006,
		2: 1007,
		3: 1008,
		4: 1009,
		5: 1010,
		6: 1011,
		7: 1012,
	}

	bus := &fakeBus{regs: map[uint16]uint16{}}
	for ch, reg := range expected {
		bus.regs[reg] = uint16(1000 + ch)
	}

	h, err := New(bus, 1)
	require.NoError(t, err)

	for ch, reg := range expected {
		bus.reads = nil
		value, err := h.ReadChannel(context.Background(), ch)
		require.NoError(t, err, "channel %d", ch)
		assert.Equal(t, uint16(1000+ch), value, "channel %d", ch)
		require.Len(t, bus.reads, 1)
		assert.Equal(t, reg, bus.reads[0], "channel %d", ch)
	}
}

func TestReadChannelOnHigherPort(t *testing.T) {
	bus := &fakeBus{regs: map[uint16]uint16{2003: 777}}
	h, err := New(bus, 2)
	require.NoError(t, err)

	value, err := h.ReadChannel(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(777), value)
}

func TestReadChannelRejectsInvalidIndex(t *testing.T) {
	h, err := New(&fakeBus{regs: map[uint16]uint16{}}, 1)
	require.NoError(t, err)

	for _, ch := range []int{-1, 8, 42} {
		_, err := h.ReadChannel(context.Background(), ch)
		assert.ErrorIs(t, err, types.ErrConfiguration, "channel %d", ch)
	}
}

func TestNewRejectsInvalidPort(t *testing.T) {
	_, err := New(&fakeBus{regs: map[uint16]uint16{}}, 0)
	assert.ErrorIs(t, err, types.ErrConfiguration)

	_, err = New(&fakeBus{regs: map[uint16]uint16{}}, 9)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

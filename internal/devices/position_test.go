package devices

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"benchlink/internal/calibration"
	"benchlink/internal/types"
)

func newTestPositionSensor(t *testing.T, h ChannelReader, store calibration.Store) *PositionSensor {
	t.Helper()
	s, err := NewPositionSensor(ChannelDeps{
		Hub:         h,
		Channel:     3,
		Key:         "X1.3",
		Calibration: store,
	})
	require.NoError(t, err)
	return s
}

func TestPositionSensorRequiresStore(t *testing.T) {
	_, err := NewPositionSensor(ChannelDeps{Hub: newFakeHub(), Channel: 3, Key: "X1.3"})
	require.ErrorIs(t, err, types.ErrConfiguration)
}

func TestReadPositionCalibrated(t *testing.T) {
	h := newFakeHub()
	h.set(3, 3000)

	store := newMemStore()
	require.NoError(t, store.Put("X1.3", calibration.Record{
		Min:    intPtr(1000),
		Max:    intPtr(5000),
		Stroke: 150,
	}))

	s := newTestPositionSensor(t, h, store)
	pos, err := s.ReadPosition(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 75.0, pos, 1e-9)
}

func TestReadPositionClampsToStroke(t *testing.T) {
	h := newFakeHub()
	store := newMemStore()
	require.NoError(t, store.Put("X1.3", calibration.Record{
		Min:    intPtr(1000),
		Max:    intPtr(5000),
		Stroke: 150,
	}))
	s := newTestPositionSensor(t, h, store)

	h.set(3, 6000) // jenseits des gelernten Maximums
	pos, err := s.ReadPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 150.0, pos)

	h.set(3, 200) // unterhalb des gelernten Minimums
	pos, err = s.ReadPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, pos)
}

func TestReadPositionDefaultStroke(t *testing.T) {
	h := newFakeHub()
	h.set(3, 3000)

	store := newMemStore()
	require.NoError(t, store.Put("X1.3", calibration.Record{
		Min: intPtr(1000),
		Max: intPtr(5000),
	}))

	s := newTestPositionSensor(t, h, store)
	pos, err := s.ReadPosition(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 75.0, pos, 1e-9) // halbe Spanne bei 150mm Default
}

func TestReadPositionUncalibrated(t *testing.T) {
	h := newFakeHub()
	h.set(3, 3000)

	t.Run("no record", func(t *testing.T) {
		s := newTestPositionSensor(t, h, newMemStore())
		_, err := s.ReadPosition(context.Background())
		require.ErrorIs(t, err, types.ErrConfiguration)
	})

	t.Run("only one endpoint taught", func(t *testing.T) {
		store := newMemStore()
		require.NoError(t, store.Put("X1.3", calibration.Record{Min: intPtr(1000)}))
		s := newTestPositionSensor(t, h, store)
		_, err := s.ReadPosition(context.Background())
		require.ErrorIs(t, err, types.ErrConfiguration)
	})

	t.Run("zero span", func(t *testing.T) {
		store := newMemStore()
		require.NoError(t, store.Put("X1.3", calibration.Record{
			Min: intPtr(2000),
			Max: intPtr(2000),
		}))
		s := newTestPositionSensor(t, h, store)
		_, err := s.ReadPosition(context.Background())
		require.ErrorIs(t, err, types.ErrConfiguration)
	})
}

func TestReadRawBypassesCalibration(t *testing.T) {
	h := newFakeHub()
	h.set(3, 4242)

	s := newTestPositionSensor(t, h, newMemStore())
	raw, err := s.Invoke(context.Background(), "read_raw", nil)
	require.NoError(t, err)
	assert.Equal(t, 4242, raw)
}

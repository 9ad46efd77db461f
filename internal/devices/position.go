package devices

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"benchlink/internal/calibration"
	"benchlink/internal/types"
)

// DefaultStroke is assumed when a calibration record carries no stroke.
const DefaultStroke = 150.0

// PositionSensor reads an SDAT-MHS-M160 cylinder position sensor. The raw
// counts mean nothing without the taught endpoints, so every read goes
// through the calibration store.
type PositionSensor struct {
	recordSlot
	hub     ChannelReader
	channel int
	key     string
	store   calibration.Store
	logger  *zap.Logger
}

func NewPositionSensor(d ChannelDeps) (*PositionSensor, error) {
	d = d.normalize()
	if d.Calibration == nil {
		return nil, fmt.Errorf("%w: position sensor %s needs a calibration store", types.ErrConfiguration, d.Key)
	}
	return &PositionSensor{
		hub:     d.Hub,
		channel: d.Channel,
		key:     d.Key,
		store:   d.Calibration,
		logger:  d.Logger,
	}, nil
}

func (s *PositionSensor) TypeName() string { return "SDAT-MHS-M160" }

// Key returns the calibration key of the channel ("X1.3").
func (s *PositionSensor) Key() string { return s.key }

// ReadRaw liest den unkalibrierten Zählerstand.
func (s *PositionSensor) ReadRaw(ctx context.Context) (uint16, error) {
	return s.hub.ReadChannel(ctx, s.channel)
}

// ReadPosition mappt den Rohwert linear zwischen die gelernten Endpunkte
// und klemmt auf den mechanischen Hub.
func (s *PositionSensor) ReadPosition(ctx context.Context) (float64, error) {
	raw, err := s.ReadRaw(ctx)
	if err != nil {
		return 0, err
	}

	rec, ok := s.store.Record(s.key)
	if !ok || rec.Min == nil || rec.Max == nil {
		return 0, fmt.Errorf("%w: channel %s is not calibrated", types.ErrConfiguration, s.key)
	}
	span := float64(*rec.Max - *rec.Min)
	if span == 0 {
		return 0, fmt.Errorf("%w: channel %s calibration has zero span", types.ErrConfiguration, s.key)
	}

	stroke := rec.Stroke
	if stroke <= 0 {
		stroke = DefaultStroke
	}

	position := ((float64(raw) - float64(*rec.Min)) / span) * stroke
	if position < 0 {
		position = 0
	}
	if position > stroke {
		position = stroke
	}
	return position, nil
}

func (s *PositionSensor) Monitor(ctx context.Context, interval, duration time.Duration, cb func(*float64)) {
	monitorFloat(ctx, interval, duration, s.ReadPosition, cb)
}

func (s *PositionSensor) Invoke(ctx context.Context, command string, params map[string]any) (any, error) {
	switch command {
	case "read_position":
		position, err := s.ReadPosition(ctx)
		if err != nil {
			return nil, err
		}
		s.record(fmt.Sprintf("%.2f mm", position))
		return position, nil
	case "read_raw":
		raw, err := s.ReadRaw(ctx)
		if err != nil {
			return nil, err
		}
		return int(raw), nil
	}
	return nil, unknownCommand(s.TypeName(), command)
}

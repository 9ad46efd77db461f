package devices

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// PQ3834: 4..20mA Stromschleife über den Messbereich -15..145 psi, der Hub
// liefert Mikroampere-Rohwerte als Tausendstel Milliampere.
const (
	pqMilliampPerCount = 1.0 / 1000.0
	pqMinPsi           = -15.0
	pqMaxPsi           = 145.0
	pqLoopZeroMilliamp = 4.0
	pqLoopSpanMilliamp = 16.0
)

type LoopPressureReading struct {
	Milliamps float64 `json:"milliamps"`
	Psi       float64 `json:"psi"`
}

// PressureSensor reads a PQ3834 pressure transducer on one hub channel.
type PressureSensor struct {
	recordSlot
	hub     ChannelReader
	channel int
	logger  *zap.Logger
}

func NewPressureSensor(d ChannelDeps) (*PressureSensor, error) {
	d = d.normalize()
	return &PressureSensor{hub: d.Hub, channel: d.Channel, logger: d.Logger}, nil
}

func (ps *PressureSensor) TypeName() string { return "PQ3834" }

// ReadMilliamps liest den Schleifenstrom.
func (ps *PressureSensor) ReadMilliamps(ctx context.Context) (float64, error) {
	raw, err := ps.hub.ReadChannel(ctx, ps.channel)
	if err != nil {
		return 0, err
	}
	return float64(raw) * pqMilliampPerCount, nil
}

// ReadPressure rechnet den Schleifenstrom linear in den Messbereich um.
func (ps *PressureSensor) ReadPressure(ctx context.Context) (LoopPressureReading, error) {
	milliamps, err := ps.ReadMilliamps(ctx)
	if err != nil {
		return LoopPressureReading{}, err
	}
	psi := pqMinPsi + ((milliamps-pqLoopZeroMilliamp)/pqLoopSpanMilliamp)*(pqMaxPsi-pqMinPsi)
	return LoopPressureReading{Milliamps: milliamps, Psi: psi}, nil
}

func (ps *PressureSensor) Monitor(ctx context.Context, interval, duration time.Duration, cb func(*float64)) {
	monitorFloat(ctx, interval, duration, func(ctx context.Context) (float64, error) {
		reading, err := ps.ReadPressure(ctx)
		return reading.Psi, err
	}, cb)
}

func (ps *PressureSensor) Invoke(ctx context.Context, command string, params map[string]any) (any, error) {
	switch command {
	case "read_pressure":
		reading, err := ps.ReadPressure(ctx)
		if err != nil {
			return nil, err
		}
		ps.record(fmt.Sprintf("%.2f psi", reading.Psi))
		return reading, nil
	case "read_current":
		return ps.ReadMilliamps(ctx)
	}
	return nil, unknownCommand(ps.TypeName(), command)
}

package devices

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Umrechnung LCM300: der Hub liefert Millivolt-Rohwerte, die Zelle gibt
// 10 lbf pro Volt unterhalb der 5V-Ruhelage ab (Druckkraft positiv).
const (
	loadCellVoltsPerCount = 1.0 / 1000.0
	loadCellRestVolts     = 5.0
	loadCellLbfPerVolt    = 10.0
	lbfToNewton           = 4.44822
)

type ForceReading struct {
	Volts   float64 `json:"volts"`
	Lbf     float64 `json:"lbf"`
	Newtons float64 `json:"newtons"`
}

// LoadCell reads an LCM300 force sensor on one hub channel.
type LoadCell struct {
	recordSlot
	hub     ChannelReader
	channel int
	logger  *zap.Logger
}

func NewLoadCell(d ChannelDeps) (*LoadCell, error) {
	d = d.normalize()
	return &LoadCell{hub: d.Hub, channel: d.Channel, logger: d.Logger}, nil
}

func (lc *LoadCell) TypeName() string { return "LCM300" }

// ReadVolts liest den Rohwert und skaliert auf Volt.
func (lc *LoadCell) ReadVolts(ctx context.Context) (float64, error) {
	raw, err := lc.hub.ReadChannel(ctx, lc.channel)
	if err != nil {
		return 0, err
	}
	return float64(raw) * loadCellVoltsPerCount, nil
}

// ReadForce misst die aktuelle Druckkraft.
func (lc *LoadCell) ReadForce(ctx context.Context) (ForceReading, error) {
	volts, err := lc.ReadVolts(ctx)
	if err != nil {
		return ForceReading{}, err
	}
	lbf := (loadCellRestVolts - volts) * loadCellLbfPerVolt
	return ForceReading{
		Volts:   volts,
		Lbf:     lbf,
		Newtons: lbf * lbfToNewton,
	}, nil
}

func (lc *LoadCell) Monitor(ctx context.Context, interval, duration time.Duration, cb func(*float64)) {
	monitorFloat(ctx, interval, duration, func(ctx context.Context) (float64, error) {
		reading, err := lc.ReadForce(ctx)
		return reading.Lbf, err
	}, cb)
}

func (lc *LoadCell) Invoke(ctx context.Context, command string, params map[string]any) (any, error) {
	switch command {
	case "read_force":
		reading, err := lc.ReadForce(ctx)
		if err != nil {
			return nil, err
		}
		lc.record(fmt.Sprintf("%.2f lbf", reading.Lbf))
		return reading, nil
	case "read_voltage":
		return lc.ReadVolts(ctx)
	}
	return nil, unknownCommand(lc.TypeName(), command)
}

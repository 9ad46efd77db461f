package devices

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const barToPsi = 14.5037738

// Feldlayout im SD9500-Prozessdatenframe
const (
	sd9500FlowOffset     = 4  // int16, 0.1 m³/h
	sd9500TempOffset     = 8  // int16, 0.1 °C
	sd9500PressureOffset = 12 // int16, 0.01 bar
)

const (
	sd9500FlowScale     = 0.1
	sd9500TempScale     = 0.1
	sd9500PressureScale = 0.01
)

// FlowPressureSensor reads an SD9500 combined flow/pressure meter over
// IO-Link process data.
type FlowPressureSensor struct {
	recordSlot
	pd     *pdinReader
	logger *zap.Logger
}

func NewFlowPressureSensor(d PortDeps) (*FlowPressureSensor, error) {
	d = d.normalize()
	pd, err := newPDINReader(d.Bus, d.Port, d.Logger)
	if err != nil {
		return nil, err
	}
	return &FlowPressureSensor{pd: pd, logger: d.Logger}, nil
}

func (fp *FlowPressureSensor) TypeName() string { return "SD9500" }

// RefreshConfig re-reads the master's process-data framing registers.
func (fp *FlowPressureSensor) RefreshConfig(ctx context.Context) error {
	return fp.pd.RefreshConfig(ctx)
}

// ReadFlow liefert den Durchfluss in CFM.
func (fp *FlowPressureSensor) ReadFlow(ctx context.Context) (float64, bool, error) {
	frame, err := fp.pd.readFrame(ctx)
	if err != nil {
		return 0, false, err
	}
	raw, ok := int16Field(frame, sd9500FlowOffset)
	if !ok {
		return 0, false, nil
	}
	return float64(raw) * sd9500FlowScale * m3hToCFM, true, nil
}

// ReadPressure liefert den Leitungsdruck in psi.
func (fp *FlowPressureSensor) ReadPressure(ctx context.Context) (float64, bool, error) {
	frame, err := fp.pd.readFrame(ctx)
	if err != nil {
		return 0, false, err
	}
	raw, ok := int16Field(frame, sd9500PressureOffset)
	if !ok {
		return 0, false, nil
	}
	return float64(raw) * sd9500PressureScale * barToPsi, true, nil
}

// ReadTemperature liefert die Medientemperatur in °C.
func (fp *FlowPressureSensor) ReadTemperature(ctx context.Context) (float64, bool, error) {
	frame, err := fp.pd.readFrame(ctx)
	if err != nil {
		return 0, false, err
	}
	raw, ok := int16Field(frame, sd9500TempOffset)
	if !ok {
		return 0, false, nil
	}
	return float64(raw) * sd9500TempScale, true, nil
}

func (fp *FlowPressureSensor) Monitor(ctx context.Context, interval, duration time.Duration, cb func(*float64)) {
	monitorFloat(ctx, interval, duration, func(ctx context.Context) (float64, error) {
		flow, ok, err := fp.ReadFlow(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, errFieldUnavailable
		}
		return flow, nil
	}, cb)
}

func (fp *FlowPressureSensor) Invoke(ctx context.Context, command string, params map[string]any) (any, error) {
	switch command {
	case "read_flow":
		flow, ok, err := fp.ReadFlow(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			fp.logger.Warn("flow field outside configured frame")
			return nil, nil
		}
		fp.record(fmt.Sprintf("%.2f CFM", flow))
		return flow, nil
	case "read_pressure":
		psi, ok, err := fp.ReadPressure(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		fp.record(fmt.Sprintf("%.2f psi", psi))
		return psi, nil
	case "read_temperature":
		temp, ok, err := fp.ReadTemperature(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		fp.record(fmt.Sprintf("%.2f C", temp))
		return temp, nil
	case "refresh_config":
		return nil, fp.RefreshConfig(ctx)
	}
	return nil, unknownCommand(fp.TypeName(), command)
}

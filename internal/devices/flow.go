package devices

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// m³/h → CFM (cubic feet per minute)
const m3hToCFM = 35.3146667 / 60.0

// Feldlayout im SD6020-Prozessdatenframe
const (
	sd6020TotaliserOffset = 0 // float32, m³
	sd6020FlowOffset      = 4 // int16, 0.01 m³/h
	sd6020TempOffset      = 6 // int16, 0.01 °C
)

const (
	sd6020FlowScale = 0.01
	sd6020TempScale = 0.01
)

// FlowSensor reads an SD6020 compressed-air meter over IO-Link process
// data. Field reads report ok=false when the configured frame is too short
// to carry the field; that is a framing mismatch, not a transport fault.
type FlowSensor struct {
	recordSlot
	pd     *pdinReader
	logger *zap.Logger
}

func NewFlowSensor(d PortDeps) (*FlowSensor, error) {
	d = d.normalize()
	pd, err := newPDINReader(d.Bus, d.Port, d.Logger)
	if err != nil {
		return nil, err
	}
	return &FlowSensor{pd: pd, logger: d.Logger}, nil
}

func (fs *FlowSensor) TypeName() string { return "SD6020" }

// RefreshConfig re-reads the master's process-data framing registers.
func (fs *FlowSensor) RefreshConfig(ctx context.Context) error {
	return fs.pd.RefreshConfig(ctx)
}

// ReadFlow liefert den Durchfluss in CFM.
func (fs *FlowSensor) ReadFlow(ctx context.Context) (float64, bool, error) {
	frame, err := fs.pd.readFrame(ctx)
	if err != nil {
		return 0, false, err
	}
	raw, ok := int16Field(frame, sd6020FlowOffset)
	if !ok {
		return 0, false, nil
	}
	return float64(raw) * sd6020FlowScale * m3hToCFM, true, nil
}

// ReadTemperature liefert die Medientemperatur in °C.
func (fs *FlowSensor) ReadTemperature(ctx context.Context) (float64, bool, error) {
	frame, err := fs.pd.readFrame(ctx)
	if err != nil {
		return 0, false, err
	}
	raw, ok := int16Field(frame, sd6020TempOffset)
	if !ok {
		return 0, false, nil
	}
	return float64(raw) * sd6020TempScale, true, nil
}

// ReadTotaliser liefert den Summenzähler in m³.
func (fs *FlowSensor) ReadTotaliser(ctx context.Context) (float64, bool, error) {
	frame, err := fs.pd.readFrame(ctx)
	if err != nil {
		return 0, false, err
	}
	raw, ok := float32Field(frame, sd6020TotaliserOffset)
	if !ok {
		return 0, false, nil
	}
	return float64(raw), true, nil
}

func (fs *FlowSensor) Monitor(ctx context.Context, interval, duration time.Duration, cb func(*float64)) {
	monitorFloat(ctx, interval, duration, func(ctx context.Context) (float64, error) {
		flow, ok, err := fs.ReadFlow(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, errFieldUnavailable
		}
		return flow, nil
	}, cb)
}

func (fs *FlowSensor) Invoke(ctx context.Context, command string, params map[string]any) (any, error) {
	switch command {
	case "read_flow":
		flow, ok, err := fs.ReadFlow(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			fs.logger.Warn("flow field outside configured frame")
			return nil, nil
		}
		fs.record(fmt.Sprintf("%.2f CFM", flow))
		return flow, nil
	case "read_temperature":
		temp, ok, err := fs.ReadTemperature(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		fs.record(fmt.Sprintf("%.2f C", temp))
		return temp, nil
	case "read_totaliser":
		total, ok, err := fs.ReadTotaliser(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return total, nil
	case "refresh_config":
		return nil, fs.RefreshConfig(ctx)
	}
	return nil, unknownCommand(fs.TypeName(), command)
}

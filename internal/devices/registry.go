package devices

import (
	"sort"

	"go.uber.org/zap"

	"benchlink/internal/calibration"
	"benchlink/internal/gateway"
)

// Attachment says where on the bus a module type lives.
type Attachment string

const (
	AttachPort    Attachment = "port"    // direkt am Master-Port
	AttachChannel Attachment = "channel" // hinter dem Analog-Hub
)

// HubModule is the hub itself. The loader wires it as infrastructure, it
// carries no commands and is not a Device.
const HubModule = "AL2205"

// ParamSpec describes one command parameter for validation and UIs.
type ParamSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

// CommandSpec describes one script-invokable command.
type CommandSpec struct {
	Name   string      `json:"name"`
	Params []ParamSpec `json:"params,omitempty"`
	Doc    string      `json:"doc,omitempty"`
}

// PortDeps is what a port-attached driver is built from.
type PortDeps struct {
	Bus    gateway.RegisterIO
	Port   int
	Logger *zap.Logger
}

func (d PortDeps) normalize() PortDeps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// ChannelDeps is what a hub-attached driver is built from.
type ChannelDeps struct {
	Hub         ChannelReader
	Channel     int
	Key         string // Kanalschlüssel, auch für die Kalibrierung ("X1.3")
	Calibration calibration.Store
	Logger      *zap.Logger
}

func (d ChannelDeps) normalize() ChannelDeps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// Registration binds a module type name to its constructor and command set.
type Registration struct {
	Type       string        `json:"type"`
	Attach     Attachment    `json:"attach"`
	Commands   []CommandSpec `json:"commands"`
	NewPort    func(PortDeps) (Device, error)    `json:"-"`
	NewChannel func(ChannelDeps) (Device, error) `json:"-"`
}

// Die Tabelle ist bewusst zur Compile-Zeit fixiert. Was eine Bank tragen
// kann, ist eine Build-Eigenschaft, keine Laufzeit-Entdeckung.
var registry = map[string]Registration{
	"SY3000": {
		Type:   "SY3000",
		Attach: AttachPort,
		Commands: []CommandSpec{
			{
				Name: "valve_on",
				Params: []ParamSpec{
					{Name: "valve", Type: "string", Required: true},
					{Name: "duration", Type: "number"},
				},
				Doc: "activate one coil, optional auto-off after duration seconds",
			},
			{
				Name: "valve_off",
				Params: []ParamSpec{
					{Name: "valves", Type: "string or list"},
					{Name: "valve", Type: "string"},
				},
				Doc: "deactivate coils with a single write",
			},
			{Name: "all_off", Doc: "clear the whole output word"},
		},
		NewPort: func(d PortDeps) (Device, error) { return NewValveBank(d) },
	},

	"ITV-1050": {
		Type:   "ITV-1050",
		Attach: AttachPort,
		Commands: []CommandSpec{
			{
				Name: "set_pressure",
				Params: []ParamSpec{
					{Name: "psi", Type: "number", Required: true},
					{Name: "wait", Type: "bool"},
					{Name: "tolerance", Type: "number"},
					{Name: "timeout", Type: "number"},
				},
				Doc: "apply a setpoint, optionally waiting for the feedback to settle",
			},
			{Name: "read_feedback", Doc: "read the regulated pressure back"},
		},
		NewPort: func(d PortDeps) (Device, error) { return NewPressureRegulator(d) },
	},

	"SD6020": {
		Type:   "SD6020",
		Attach: AttachPort,
		Commands: []CommandSpec{
			{Name: "read_flow", Doc: "flow in CFM"},
			{Name: "read_temperature", Doc: "medium temperature in °C"},
			{Name: "read_totaliser", Doc: "accumulated volume in m³"},
			{Name: "refresh_config", Doc: "re-read process-data framing from the master"},
		},
		NewPort: func(d PortDeps) (Device, error) { return NewFlowSensor(d) },
	},

	"SD9500": {
		Type:   "SD9500",
		Attach: AttachPort,
		Commands: []CommandSpec{
			{Name: "read_flow", Doc: "flow in CFM"},
			{Name: "read_pressure", Doc: "line pressure in psi"},
			{Name: "read_temperature", Doc: "medium temperature in °C"},
			{Name: "refresh_config", Doc: "re-read process-data framing from the master"},
		},
		NewPort: func(d PortDeps) (Device, error) { return NewFlowPressureSensor(d) },
	},

	"LCM300": {
		Type:   "LCM300",
		Attach: AttachChannel,
		Commands: []CommandSpec{
			{Name: "read_force", Doc: "compression force in lbf and N"},
			{Name: "read_voltage", Doc: "raw bridge voltage"},
		},
		NewChannel: func(d ChannelDeps) (Device, error) { return NewLoadCell(d) },
	},

	"PQ3834": {
		Type:   "PQ3834",
		Attach: AttachChannel,
		Commands: []CommandSpec{
			{Name: "read_pressure", Doc: "loop pressure in psi"},
			{Name: "read_current", Doc: "loop current in mA"},
		},
		NewChannel: func(d ChannelDeps) (Device, error) { return NewPressureSensor(d) },
	},

	"SDAT-MHS-M160": {
		Type:   "SDAT-MHS-M160",
		Attach: AttachChannel,
		Commands: []CommandSpec{
			{Name: "read_position", Doc: "calibrated cylinder position in mm"},
			{Name: "read_raw", Doc: "uncalibrated counts"},
		},
		NewChannel: func(d ChannelDeps) (Device, error) { return NewPositionSensor(d) },
	},

	"UI-Button": {
		Type:   "UI-Button",
		Attach: AttachChannel,
		Commands: []CommandSpec{
			{Name: "read_state", Doc: "switch position: start, hold or stop"},
		},
		NewChannel: func(d ChannelDeps) (Device, error) { return NewButton(d) },
	},
}

// Lookup resolves a module type name.
func Lookup(typeName string) (Registration, bool) {
	reg, ok := registry[typeName]
	return reg, ok
}

// Types lists every registered module type, sorted by name.
func Types() []Registration {
	out := make([]Registration, 0, len(registry))
	for _, reg := range registry {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// CommandsFor returns the command set of one module type.
func CommandsFor(typeName string) ([]CommandSpec, bool) {
	reg, ok := registry[typeName]
	if !ok {
		return nil, false
	}
	return reg.Commands, true
}

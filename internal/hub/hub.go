// Package hub reads the analog input channels of an AL2205 IO-Link hub that
// hangs off one port of the master. The hub multiplexes eight analog devices
// into the process-data block of that port.
package hub

import (
	"context"
	"fmt"

	"benchlink/internal/gateway"
	"benchlink/internal/types"
)

// Wort-Offsets der acht Analogkanäle relativ zum PDIN-Block des Ports.
// Die Lücke zwischen Kanal 0 und 1 ist Hub-Firmware, kein Tippfehler.
var channelOffsets = map[int]uint16{
	0: 1,
	1: 4,
	2: 5,
	3: 6,
	4: 7,
	5: 8,
	6: 9,
	7: 10,
}

type AnalogHub struct {
	bus  gateway.RegisterIO
	port int
	base uint16
}

func New(bus gateway.RegisterIO, port int) (*AnalogHub, error) {
	base, err := gateway.ReadBase(port)
	if err != nil {
		return nil, err
	}
	return &AnalogHub{bus: bus, port: port, base: base}, nil
}

// Port returns the master port the hub is attached to.
func (h *AnalogHub) Port() int {
	return h.port
}

// ReadChannel liest den Rohwert eines Analogkanals (0..7) als ein Register.
func (h *AnalogHub) ReadChannel(ctx context.Context, channel int) (uint16, error) {
	offset, ok := channelOffsets[channel]
	if !ok {
		return 0, fmt.Errorf("%w: analog channel %d outside 0..7", types.ErrConfiguration, channel)
	}
	regs, err := h.bus.ReadRegisters(ctx, h.base+offset, 1)
	if err != nil {
		return 0, err
	}
	return regs[0], nil
}

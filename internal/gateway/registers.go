package gateway

import (
	"fmt"

	"benchlink/internal/types"
)

// Register-Layout des IFM AL1342 IO-Link Masters. Jeder Port belegt einen
// Block von 1000 Holding-Registern; die Tabellen unten sind die dokumentierten
// Anker innerhalb dieses Blocks.
var (
	// Erstes Prozessdaten-Register (PDIN) pro Port
	readBase = map[int]uint16{
		1: 1002, 2: 2002, 3: 3002, 4: 4002,
		5: 5002, 6: 6002, 7: 7002, 8: 8002,
	}

	// Ausgangs-Register (PDOUT) pro Port
	writeBase = map[int]uint16{
		1: 1101, 2: 2101, 3: 3101, 4: 4101,
		5: 5101, 6: 6101, 7: 7101, 8: 8101,
	}

	// Port-Status-Register (PQI) pro Port
	statusBase = map[int]uint16{
		1: 1001, 2: 2001, 3: 3001, 4: 4001,
		5: 5001, 6: 6001, 7: 7001, 8: 8001,
	}
)

// Master-weite Konfigurationsregister.
const (
	// RegPDINLength holds the configured process-data frame length code.
	RegPDINLength uint16 = 8998
	// RegByteSwap holds the byte-order flag for process-data words.
	RegByteSwap uint16 = 8999
)

// PQI status bits (low byte of the port status register).
const (
	PQIOperateBit     uint16 = 0x0001 // port is in IO-Link mode
	PQIDeviceErrorBit uint16 = 0x0002 // no device connected
)

// Frame length code aus Register 8998 → Framelänge in Bytes.
var pdinLengths = map[uint16]int{
	0: 2,
	1: 4,
	2: 8,
	3: 16,
	4: 32,
}

// DefaultPDINLength is assumed when the length register cannot be read or
// reports an unknown code.
const DefaultPDINLength = 16

// ReadBase returns the first process-data input register of a port.
func ReadBase(port int) (uint16, error) {
	addr, ok := readBase[port]
	if !ok {
		return 0, fmt.Errorf("%w: port %d outside 1..8", types.ErrConfiguration, port)
	}
	return addr, nil
}

// WriteBase returns the process-data output register of a port.
func WriteBase(port int) (uint16, error) {
	addr, ok := writeBase[port]
	if !ok {
		return 0, fmt.Errorf("%w: port %d outside 1..8", types.ErrConfiguration, port)
	}
	return addr, nil
}

// StatusRegister returns the PQI status register of a port.
func StatusRegister(port int) (uint16, error) {
	addr, ok := statusBase[port]
	if !ok {
		return 0, fmt.Errorf("%w: port %d outside 1..8", types.ErrConfiguration, port)
	}
	return addr, nil
}

// PDINLength maps a frame length code onto a byte count. Unknown codes
// report !ok so callers can fall back to DefaultPDINLength.
func PDINLength(code uint16) (int, bool) {
	n, ok := pdinLengths[code]
	return n, ok
}

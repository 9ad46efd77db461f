package devices

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"benchlink/internal/gateway"
	"benchlink/internal/types"
)

// für Monitore: Feld liegt außerhalb des konfigurierten Frames
var errFieldUnavailable = errors.New("process-data field unavailable")

// pdinReader bündelt den IO-Link Prozessdatenpfad, den die Durchfluss-
// sensoren teilen: PQI-Prüfung, Framelänge, Byte-Reihenfolge.
type pdinReader struct {
	bus       gateway.RegisterIO
	port      int
	statusReg uint16
	dataReg   uint16
	logger    *zap.Logger

	mu       sync.Mutex
	frameLen int
	swap     bool
}

func newPDINReader(bus gateway.RegisterIO, port int, logger *zap.Logger) (*pdinReader, error) {
	statusReg, err := gateway.StatusRegister(port)
	if err != nil {
		return nil, err
	}
	dataReg, err := gateway.ReadBase(port)
	if err != nil {
		return nil, err
	}
	return &pdinReader{
		bus:       bus,
		port:      port,
		statusReg: statusReg,
		dataReg:   dataReg,
		logger:    logger,
		frameLen:  gateway.DefaultPDINLength,
	}, nil
}

// RefreshConfig liest Framelänge und Byte-Reihenfolge aus den Master-
// Registern neu. Bei einem Lesefehler bleiben die bisherigen Werte stehen.
func (p *pdinReader) RefreshConfig(ctx context.Context) error {
	lenRegs, err := p.bus.ReadRegisters(ctx, gateway.RegPDINLength, 1)
	if err != nil {
		return err
	}
	swapRegs, err := p.bus.ReadRegisters(ctx, gateway.RegByteSwap, 1)
	if err != nil {
		return err
	}

	frameLen, ok := gateway.PDINLength(lenRegs[0])
	if !ok {
		p.logger.Warn("unknown PDIN length code, keeping default",
			zap.Uint16("code", lenRegs[0]),
			zap.Int("port", p.port))
		frameLen = gateway.DefaultPDINLength
	}

	p.mu.Lock()
	p.frameLen = frameLen
	p.swap = swapRegs[0] != 0
	p.mu.Unlock()
	return nil
}

// checkPQI prüft, ob der Port im IO-Link Modus ist und ein Gerät antwortet.
func (p *pdinReader) checkPQI(ctx context.Context) error {
	regs, err := p.bus.ReadRegisters(ctx, p.statusReg, 1)
	if err != nil {
		return err
	}
	status := regs[0]
	if status&gateway.PQIOperateBit == 0 {
		return fmt.Errorf("%w: port %d is not in IO-Link mode (PQI 0x%04X)",
			types.ErrConnectivity, p.port, status)
	}
	if status&gateway.PQIDeviceErrorBit != 0 {
		return fmt.Errorf("%w: no device answering on port %d (PQI 0x%04X)",
			types.ErrConnectivity, p.port, status)
	}
	return nil
}

// readFrame liest den Prozessdatenblock des Ports als Byte-Frame.
func (p *pdinReader) readFrame(ctx context.Context) ([]byte, error) {
	if err := p.checkPQI(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	frameLen, swap := p.frameLen, p.swap
	p.mu.Unlock()

	words := (frameLen + 1) / 2
	regs, err := p.bus.ReadRegisters(ctx, p.dataReg, uint16(words))
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, 2*words)
	for _, word := range regs {
		hi := byte(word >> 8)
		lo := byte(word)
		if swap {
			frame = append(frame, lo, hi)
		} else {
			frame = append(frame, hi, lo)
		}
	}
	return frame[:frameLen], nil
}

// int16Field dekodiert ein Big-Endian int16 Feld aus dem Frame; ok=false
// wenn der Frame das Feld nicht trägt.
func int16Field(frame []byte, offset int) (int16, bool) {
	if offset < 0 || offset+2 > len(frame) {
		return 0, false
	}
	return int16(binary.BigEndian.Uint16(frame[offset : offset+2])), true
}

// float32Field dekodiert ein Big-Endian float32 Feld aus dem Frame.
func float32Field(frame []byte, offset int) (float32, bool) {
	if offset < 0 || offset+4 > len(frame) {
		return 0, false
	}
	return math.Float32frombits(binary.BigEndian.Uint32(frame[offset : offset+4])), true
}

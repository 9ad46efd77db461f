// Package gatewaysim provides an in-process Modbus TCP endpoint backed by a
// plain register map. Tests point a gateway.Client at it instead of at bench
// hardware.
package gatewaysim

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
)

// Modbus Function Codes, soweit der Master sie nutzt
const (
	funcReadHoldingRegisters = 0x03
	funcWriteSingleRegister  = 0x06
)

// Exception Codes
const (
	exceptionIllegalFunction = 0x01
	exceptionDeviceFailure   = 0x04
)

// Write records one register write received over the wire, in order.
type Write struct {
	Addr  uint16
	Value uint16
}

type Sim struct {
	ln net.Listener
	wg sync.WaitGroup

	mu         sync.Mutex
	regs       map[uint16]uint16
	writes     []Write
	failReads  int
	failWrites int
}

// New starts the simulator on a loopback port.
func New() (*Sim, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Sim{
		ln:   ln,
		regs: make(map[uint16]uint16),
	}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Host returns the loopback address the simulator listens on.
func (s *Sim) Host() string {
	return s.ln.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listening port.
func (s *Sim) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Close stops the listener and waits for the connection handlers.
func (s *Sim) Close() {
	s.ln.Close()
	s.wg.Wait()
}

// Set stores a register value.
func (s *Sim) Set(addr, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[addr] = value
}

// Preload stores a batch of register values.
func (s *Sim) Preload(regs map[uint16]uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, value := range regs {
		s.regs[addr] = value
	}
}

// Get reads a register value back out.
func (s *Sim) Get(addr uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[addr]
}

// Writes returns a copy of every write received so far, in arrival order.
func (s *Sim) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.writes))
	copy(out, s.writes)
	return out
}

// FailNextReads arms n read requests to answer with a device-failure
// exception before reads succeed again.
func (s *Sim) FailNextReads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = n
}

// FailNextWrites arms n write requests to answer with a device-failure
// exception. Failed writes are not recorded.
func (s *Sim) FailNextWrites(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = n
}

func (s *Sim) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Sim) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		// MBAP Header: TxID(2) ProtocolID(2) Length(2) UnitID(1)
		header := make([]byte, 7)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		length := binary.BigEndian.Uint16(header[4:6])
		if length < 2 || length > 254 {
			return
		}
		pdu := make([]byte, length-1)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}

		response := s.respond(pdu)
		if err := writeFrame(conn, header, response); err != nil {
			return
		}
	}
}

// respond baut die Antwort-PDU (Function Code + Daten) zum Request.
func (s *Sim) respond(pdu []byte) []byte {
	fc := pdu[0]
	switch fc {
	case funcReadHoldingRegisters:
		if len(pdu) < 5 {
			return exception(fc, exceptionDeviceFailure)
		}
		addr := binary.BigEndian.Uint16(pdu[1:3])
		quantity := binary.BigEndian.Uint16(pdu[3:5])

		s.mu.Lock()
		if s.failReads > 0 {
			s.failReads--
			s.mu.Unlock()
			return exception(fc, exceptionDeviceFailure)
		}
		payload := make([]byte, 2+2*int(quantity))
		payload[0] = fc
		payload[1] = byte(2 * quantity)
		for i := uint16(0); i < quantity; i++ {
			binary.BigEndian.PutUint16(payload[2+2*i:4+2*i], s.regs[addr+i])
		}
		s.mu.Unlock()
		return payload

	case funcWriteSingleRegister:
		if len(pdu) < 5 {
			return exception(fc, exceptionDeviceFailure)
		}
		addr := binary.BigEndian.Uint16(pdu[1:3])
		value := binary.BigEndian.Uint16(pdu[3:5])

		s.mu.Lock()
		if s.failWrites > 0 {
			s.failWrites--
			s.mu.Unlock()
			return exception(fc, exceptionDeviceFailure)
		}
		s.regs[addr] = value
		s.writes = append(s.writes, Write{Addr: addr, Value: value})
		s.mu.Unlock()

		// Echo des Requests ist die reguläre Antwort
		out := make([]byte, 5)
		copy(out, pdu[:5])
		return out

	default:
		return exception(fc, exceptionIllegalFunction)
	}
}

func exception(fc, code byte) []byte {
	return []byte{fc | 0x80, code}
}

// writeFrame sendet die PDU mit dem MBAP-Header des Requests zurück.
func writeFrame(conn net.Conn, requestHeader, pdu []byte) error {
	frame := make([]byte, 7+len(pdu))
	copy(frame[0:2], requestHeader[0:2])
	binary.BigEndian.PutUint16(frame[2:4], 0)
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(pdu)+1))
	frame[6] = requestHeader[6]
	copy(frame[7:], pdu)
	_, err := conn.Write(frame)
	return err
}

package devices

import (
	"context"
	"sync"

	"benchlink/internal/calibration"
)

// fakeBus spielt den IO-Link Master auf Registerebene nach.
type fakeBus struct {
	mu       sync.Mutex
	regs     map[uint16]uint16
	writes   []fakeWrite
	readErr  error
	writeErr error
}

type fakeWrite struct {
	addr  uint16
	value uint16
}

func newFakeBus() *fakeBus {
	return &fakeBus{regs: make(map[uint16]uint16)}
}

func (f *fakeBus) ReadRegisters(_ context.Context, addr uint16, count uint16) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([]uint16, count)
	for i := range out {
		out[i] = f.regs[addr+uint16(i)]
	}
	return out, nil
}

func (f *fakeBus) WriteRegister(_ context.Context, addr uint16, value uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.regs[addr] = value
	f.writes = append(f.writes, fakeWrite{addr: addr, value: value})
	return nil
}

func (f *fakeBus) set(addr, value uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[addr] = value
}

func (f *fakeBus) writeLog() []fakeWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

func (f *fakeBus) lastWrite() (fakeWrite, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return fakeWrite{}, false
	}
	return f.writes[len(f.writes)-1], true
}

func (f *fakeBus) clearWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
}

// fakeHub liefert Kanalwerte ohne Bus dahinter.
type fakeHub struct {
	mu     sync.Mutex
	values map[int]uint16
	err    error
}

func newFakeHub() *fakeHub {
	return &fakeHub{values: make(map[int]uint16)}
}

func (f *fakeHub) ReadChannel(_ context.Context, channel int) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.values[channel], nil
}

func (f *fakeHub) set(channel int, value uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[channel] = value
}

// memStore ist ein Kalibrierspeicher ohne Datei darunter.
type memStore struct {
	mu   sync.Mutex
	recs map[string]calibration.Record
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]calibration.Record)}
}

func (m *memStore) Record(key string) (calibration.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key]
	return rec, ok
}

func (m *memStore) Put(key string, rec calibration.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[key] = rec
	return nil
}

func intPtr(v int) *int { return &v }

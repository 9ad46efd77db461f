package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConnectionMonitor pings the gateway in the background. On the falling
// edge it pauses an active run, on the rising edge it announces the
// recovered link so the operator can resume.
type ConnectionMonitor struct {
	engine   *Engine
	probe    ConnectionProbe
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	healthy  bool
	mu       sync.Mutex
}

func NewConnectionMonitor(engine *Engine, probe ConnectionProbe, interval time.Duration, logger *zap.Logger) *ConnectionMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionMonitor{
		engine:   engine,
		probe:    probe,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		healthy:  true,
	}
}

// Start startet die zyklische Verbindungsüberwachung
func (m *ConnectionMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	m.running = true
	m.wg.Add(1)

	go m.watchLoop()

	m.logger.Info("Connection monitor started", zap.Duration("interval", m.interval))
	return nil
}

// Stop stoppt die Überwachung
func (m *ConnectionMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	close(m.stopChan)
	m.wg.Wait()

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.logger.Info("Connection monitor stopped")
}

// Healthy reports the last probe result.
func (m *ConnectionMonitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

func (m *ConnectionMonitor) watchLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// check probes once and reacts on state edges only.
func (m *ConnectionMonitor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval/2)
	err := m.probe.Ping(ctx)
	cancel()

	m.mu.Lock()
	wasHealthy := m.healthy
	m.healthy = err == nil
	m.mu.Unlock()

	switch {
	case wasHealthy && err != nil:
		m.logger.Warn("gateway unreachable", zap.Error(err))
		m.engine.pauseForConnectionLoss(err)
	case !wasHealthy && err == nil:
		m.engine.noteConnectionRestored()
	}
}

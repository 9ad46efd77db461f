package gateway

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"
)

// RegisterIO is the register-level surface the device drivers talk to.
// *Client implements it against real hardware; tests substitute fakes.
type RegisterIO interface {
	ReadRegisters(ctx context.Context, addr uint16, count uint16) ([]uint16, error)
	WriteRegister(ctx context.Context, addr uint16, value uint16) error
}

// Default-Verhalten der Verbindung, überschreibbar per Config.
const (
	DefaultPort            = 502
	DefaultUnitID          = 1
	DefaultTimeout         = 3 * time.Second
	DefaultConnectAttempts = 4
	DefaultConnectBackoff  = 500 * time.Millisecond
	DefaultReadRetries     = 3
	DefaultRetryDelay      = 150 * time.Millisecond
)

// Register, das Ping als Lebenszeichen liest (PQI Port 1).
const probeRegister uint16 = 1001

type Config struct {
	Address         string
	Port            int
	UnitID          byte
	Timeout         time.Duration
	ConnectAttempts int
	ConnectBackoff  time.Duration
	ReadRetries     int
	RetryDelay      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.UnitID == 0 {
		c.UnitID = DefaultUnitID
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = DefaultConnectAttempts
	}
	if c.ConnectBackoff <= 0 {
		c.ConnectBackoff = DefaultConnectBackoff
	}
	if c.ReadRetries <= 0 {
		c.ReadRetries = DefaultReadRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// Client spricht Modbus TCP mit dem IO-Link Master. Alle Operationen laufen
// seriell über einen Mutex, der TCP-Handler ist nicht thread-safe.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	handler   *modbus.TCPClientHandler
	client    modbus.Client
	connected bool
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Open stellt die Verbindung her, mit linearem Backoff zwischen den
// Versuchen. Bereits verbunden ist kein Fehler.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(ctx)
}

func (c *Client) openLocked(ctx context.Context) error {
	if c.connected {
		return nil
	}

	endpoint := fmt.Sprintf("%s:%d", c.cfg.Address, c.cfg.Port)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.ConnectAttempts; attempt++ {
		handler := modbus.NewTCPClientHandler(endpoint)
		handler.Timeout = c.cfg.Timeout
		handler.SlaveId = c.cfg.UnitID

		err := handler.Connect()
		if err == nil {
			c.handler = handler
			c.client = modbus.NewClient(handler)
			c.connected = true
			c.logger.Info("modbus connected",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt))
			return nil
		}

		lastErr = err
		c.logger.Warn("modbus connect failed",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < c.cfg.ConnectAttempts {
			// Wartezeit wächst linear mit dem Versuchszähler
			if err := sleepCtx(ctx, time.Duration(attempt)*c.cfg.ConnectBackoff); err != nil {
				return err
			}
		}
	}

	return &OpError{Op: "open", Tries: c.cfg.ConnectAttempts, Err: lastErr}
}

// Close schließt die Verbindung
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if !c.connected {
		return nil
	}
	err := c.handler.Close()
	c.handler = nil
	c.client = nil
	c.connected = false
	return err
}

// Connected meldet den aktuellen Verbindungszustand.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ReadRegisters liest count Holding-Register ab addr. Fehlversuche schließen
// die Verbindung und öffnen sie nach kurzer Pause neu; erst nach dem letzten
// Versuch geht der Fehler an den Aufrufer.
func (c *Client) ReadRegisters(ctx context.Context, addr uint16, count uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.openLocked(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		raw, err := c.client.ReadHoldingRegisters(addr, count)
		if err == nil {
			if len(raw) < int(count)*2 {
				err = fmt.Errorf("short response: %d bytes for %d registers", len(raw), count)
			} else {
				return decodeRegisters(raw, count), nil
			}
		}

		lastErr = err
		c.logger.Warn("modbus read failed",
			zap.Uint16("addr", addr),
			zap.Uint16("count", count),
			zap.Int("attempt", attempt),
			zap.Error(err))

		c.closeLocked()
		if attempt >= c.cfg.ReadRetries {
			break
		}
		if err := sleepCtx(ctx, c.cfg.RetryDelay); err != nil {
			return nil, err
		}
		if err := c.openLocked(ctx); err != nil {
			return nil, err
		}
	}

	return nil, &OpError{Op: "read", Addr: addr, Count: count, Tries: c.cfg.ReadRetries, Err: lastErr}
}

// WriteRegister schreibt ein einzelnes Register. Schreibzugriffe werden nie
// wiederholt, ein abgelehnter Befehl könnte trotzdem gewirkt haben.
func (c *Client) WriteRegister(ctx context.Context, addr uint16, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.openLocked(ctx); err != nil {
		return err
	}

	_, err := c.client.WriteSingleRegister(addr, value)
	if err == nil {
		return nil
	}

	c.logger.Error("modbus write rejected",
		zap.Uint16("addr", addr),
		zap.Uint16("value", value),
		zap.Error(err))

	// Protokoll-Exception kam über eine intakte Verbindung, die bleibt
	// offen. Alles andere ist ein Transportfehler.
	var mbErr *modbus.ModbusError
	if !errors.As(err, &mbErr) {
		c.closeLocked()
	}

	return &OpError{Op: "write", Addr: addr, Tries: 1, Err: err}
}

// Prime issues one throwaway read so the master's register pipeline is warm
// before the first real cycle. Always safe to call, never returns an error.
func (c *Client) Prime(ctx context.Context, addr uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.openLocked(ctx); err != nil {
		c.logger.Debug("prime skipped, no connection", zap.Error(err))
		return
	}
	if _, err := c.client.ReadHoldingRegisters(addr, 1); err != nil {
		c.logger.Debug("prime read failed", zap.Uint16("addr", addr), zap.Error(err))
	}
}

// Ping macht genau einen Leseversuch als Verbindungstest. Kein Retry, der
// Verbindungsmonitor braucht ein schnelles Urteil.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.openLocked(ctx); err != nil {
		return err
	}
	if _, err := c.client.ReadHoldingRegisters(probeRegister, 1); err != nil {
		c.closeLocked()
		return &OpError{Op: "read", Addr: probeRegister, Count: 1, Tries: 1, Err: err}
	}
	return nil
}

func decodeRegisters(raw []byte, count uint16) []uint16 {
	regs := make([]uint16, count)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(raw[2*i : 2*i+2])
	}
	return regs
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

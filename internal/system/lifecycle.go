package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"benchlink/internal/api/rest"
	"benchlink/internal/api/websocket"
	"benchlink/internal/calibration"
	"benchlink/internal/config"
	"benchlink/internal/devices"
	"benchlink/internal/engine"
	"benchlink/internal/gateway"
	"benchlink/internal/interfaces"
	"benchlink/internal/logger"
	"benchlink/internal/mqtt"
	"benchlink/internal/script"
	"benchlink/internal/storage"
)

// LifecycleManager verdrahtet alle Teile des Prüfstands und fährt sie in
// der richtigen Reihenfolge hoch und wieder runter.
type LifecycleManager struct {
	config    *config.Config
	logger    *zap.Logger
	calStore  *calibration.FileStore
	gateway   *gateway.Client
	bench     *devices.Bench
	validator *script.Validator
	engine    *engine.Engine
	monitor   *engine.ConnectionMonitor
	wsHub     *websocket.Hub
	publisher *mqtt.Publisher         // nil wenn mqtt.enabled false
	archive   *storage.PostgresClient // nil wenn database.enabled false

	restServer *rest.Server

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    string
	startedAt    time.Time

	listenersMu     sync.RWMutex
	statusListeners []chan SystemStatus

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)

// NewLifecycleManager builds the full bench wiring. No bus traffic happens
// here, the gateway connects during Start.
func NewLifecycleManager(cfg *config.Config, lg *zap.Logger) (*LifecycleManager, error) {
	calStore, err := calibration.OpenFile(cfg.Calibration.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open calibration store: %w", err)
	}

	gw := gateway.NewClient(gateway.Config{
		Address:         cfg.Gateway.Address,
		Port:            cfg.Gateway.Port,
		UnitID:          byte(cfg.Gateway.UnitID),
		Timeout:         cfg.Gateway.Timeout,
		ConnectAttempts: cfg.Gateway.ConnectAttempts,
		ConnectBackoff:  cfg.Gateway.ConnectBackoff,
		ReadRetries:     cfg.Gateway.ReadRetries,
		RetryDelay:      cfg.Gateway.RetryDelay,
	}, lg.Named("gateway"))

	bench, err := devices.Build(cfg, gw, calStore, lg.Named("devices"))
	if err != nil {
		return nil, err
	}

	validator, err := script.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to compile script schema: %w", err)
	}

	eng := engine.New(bench, gw, cfg.RunLog.Dir, cfg.RunLog.Interval, lg.Named("engine"))

	lm := &LifecycleManager{
		config:          cfg,
		logger:          lg,
		calStore:        calStore,
		gateway:         gw,
		bench:           bench,
		validator:       validator,
		engine:          eng,
		monitor:         engine.NewConnectionMonitor(eng, gw, cfg.Monitor.Interval, lg.Named("monitor")),
		wsHub:           websocket.NewHub(lg.Named("ws")),
		currentState:    StateInitializing,
		shutdownChan:    make(chan struct{}),
		statusListeners: make([]chan SystemStatus, 0),
	}

	if cfg.MQTT.Enabled {
		lm.publisher = mqtt.NewPublisher(cfg.MQTT, cfg.Bench.Name, lg.Named("mqtt"))
	}

	return lm, nil
}

// Start brings the bench online: gateway first, then archive and broker,
// then monitor and API surfaces.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting bench runtime",
		zap.String("bench", lm.config.Bench.Name),
		zap.Int("devices", len(lm.bench.Instances())))

	lm.setState(StateInitializing)
	lm.broadcastStatus()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := lm.gateway.Open(ctx); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to reach IO-Link master: %w", err)
	}

	// Die erste Lesung nach dem Verbinden liefert gern Altwerte, deshalb
	// einmal vorwärmen bevor irgendwer echte Daten erwartet.
	if len(lm.config.Ports) > 0 {
		if addr, err := gateway.StatusRegister(lm.config.Ports[0].Port); err == nil {
			lm.gateway.Prime(ctx, addr)
		}
	}

	// Framelänge und Byte-Reihenfolge vom Master übernehmen, solange er
	// erreichbar ist. Fehlschläge lassen die Defaults stehen.
	lm.bench.RefreshProcessData(ctx)

	if lm.config.Database.Enabled {
		archive, err := storage.NewPostgresClient(lm.config.Database)
		if err != nil {
			lm.setError(err)
			return fmt.Errorf("failed to connect run archive: %w", err)
		}
		if err := archive.EnsureSchema(ctx); err != nil {
			archive.Close()
			lm.setError(err)
			return fmt.Errorf("failed to prepare run archive: %w", err)
		}
		lm.archive = archive
		lm.engine.SetRecorder(archive)
		lm.logger.Info("Run archive connected", zap.String("host", lm.config.Database.Host))
	}

	if lm.publisher != nil {
		if err := lm.publisher.Start(); err != nil {
			// Broker ist Komfort, nicht Pflicht
			lm.logger.Warn("MQTT broker unreachable, continuing without", zap.Error(err))
		}
	}

	go lm.wsHub.Run()
	lm.engine.OnLogRow(lm.forwardLogRow)
	events := lm.engine.Broadcaster().Subscribe()
	status := lm.SubscribeStatus()
	go lm.pumpEvents(events, status)

	lm.monitor.Start()

	if err := lm.startRESTServer(); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	lm.stateMu.Lock()
	lm.startedAt = time.Now()
	lm.stateMu.Unlock()

	lm.setState(StateRunning)
	lm.broadcastStatus()

	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("archive", lm.archive != nil),
		zap.Bool("mqtt", lm.publisher != nil && lm.publisher.IsRunning()))

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger.Named("rest"), lm.wsHub)
	return lm.restServer.Start()
}

// forwardLogRow spiegelt jede CSV-Zeile live an GUI und Broker.
func (lm *LifecycleManager) forwardLogRow(row logger.Row) {
	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeLogRow, row))
	if lm.publisher != nil {
		lm.publisher.PublishRow(row)
	}
}

// pumpEvents fans engine events and status changes out to the WebSocket hub
// and the MQTT publisher. Ends when the engine broadcaster closes.
func (lm *LifecycleManager) pumpEvents(events <-chan engine.RunEvent, status chan SystemStatus) {
	defer lm.UnsubscribeStatus(status)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeRunEvent, ev))
			if lm.publisher != nil {
				lm.publisher.PublishEvent(ev)
			}
		case st, ok := <-status:
			if !ok {
				return
			}
			lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, st))
			if lm.publisher != nil {
				lm.publisher.PublishStatus(st)
			}
		}
	}
}

// Done closes once Shutdown has completed, no matter who triggered it.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

// Shutdown gracefully shuts down the system.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		lm.broadcastStatus()

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		lm.broadcastStatus()

		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	// Monitor vor der Engine stoppen, sonst pausiert ein später Ping noch
	// in den Abbruch hinein.
	wg.Add(1)
	go func() {
		defer wg.Done()
		lm.monitor.Stop()
		if err := lm.engine.Stop(); err != nil {
			errChan <- fmt.Errorf("engine stop failed: %w", err)
		}
		// beendet die Pump-Goroutine
		lm.engine.Broadcaster().Close()
	}()

	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	if lm.publisher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.publisher.Stop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var shutdownErr error
	select {
	case <-done:
		lm.logger.Info("Graceful shutdown completed")
		select {
		case err := <-errChan:
			shutdownErr = err
		default:
		}
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		shutdownErr = fmt.Errorf("shutdown timeout exceeded")
	}

	// Bus und Archiv erst schließen, wenn die Engine sicher steht
	if err := lm.gateway.Close(); err != nil && shutdownErr == nil {
		shutdownErr = fmt.Errorf("gateway close failed: %w", err)
	}
	if lm.archive != nil {
		lm.archive.Close()
	}

	return shutdownErr
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if state == lm.currentState {
		return
	}
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setError(err error) {
	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastError = err.Error()
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

func (lm *LifecycleManager) getStatusInternal() SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	return SystemStatus{
		State:     lm.currentState,
		Timestamp: time.Now().Unix(),
		Error:     lm.lastError,
	}
}

func (lm *LifecycleManager) broadcastStatus() {
	status := lm.getStatusInternal()

	lm.listenersMu.RLock()
	defer lm.listenersMu.RUnlock()

	for _, listener := range lm.statusListeners {
		select {
		case listener <- status:
		default:
			// Channel full, skip
		}
	}
}

// SubscribeStatus subscribes to status updates.
func (lm *LifecycleManager) SubscribeStatus() chan SystemStatus {
	ch := make(chan SystemStatus, 10)

	lm.listenersMu.Lock()
	lm.statusListeners = append(lm.statusListeners, ch)
	lm.listenersMu.Unlock()

	return ch
}

// UnsubscribeStatus unsubscribes from status updates.
func (lm *LifecycleManager) UnsubscribeStatus(ch chan SystemStatus) {
	lm.listenersMu.Lock()
	defer lm.listenersMu.Unlock()

	for i, listener := range lm.statusListeners {
		if listener == ch {
			lm.statusListeners = append(lm.statusListeners[:i], lm.statusListeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// GetCurrentStatus returns current system status (Interface implementation).
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	startedAt := lm.startedAt
	lm.stateMu.RUnlock()

	run := lm.engine.Status()

	return interfaces.SystemStatus{
		State:          state.String(),
		Bench:          lm.config.Bench.Name,
		GatewayHealthy: lm.monitor.Healthy(),
		DeviceCount:    len(lm.bench.Instances()),
		RunState:       string(run.State),
		ActiveScript:   run.Script,
		StartedAt:      startedAt,
	}
}

// Config returns the configuration.
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

// Bench returns the wired device bench.
func (lm *LifecycleManager) Bench() *devices.Bench {
	return lm.bench
}

// Engine returns the run engine.
func (lm *LifecycleManager) Engine() *engine.Engine {
	return lm.engine
}

// Validator returns the script validator.
func (lm *LifecycleManager) Validator() *script.Validator {
	return lm.validator
}

// Calibration returns the calibration store.
func (lm *LifecycleManager) Calibration() *calibration.FileStore {
	return lm.calStore
}

// Archive returns the run archive, nil when the database is disabled.
func (lm *LifecycleManager) Archive() *storage.PostgresClient {
	return lm.archive
}

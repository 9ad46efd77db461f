// Package mqtt spiegelt Laufereignisse und Messwertzeilen auf einen
// MQTT-Broker, damit Leitstand und Langzeitarchiv ohne eigene Abfrage
// mitlesen können. Der Publisher ist optional und rein ausgehend.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"benchlink/internal/config"
	"benchlink/internal/engine"
	"benchlink/internal/logger"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Publisher hält die Verbindung zu einem Broker und publiziert unter
// <root_topic>/<bench>/...
type Publisher struct {
	cfg    config.MQTTConfig
	bench  string
	logger *zap.Logger

	mu      sync.RWMutex
	client  pahomqtt.Client
	running bool
}

func NewPublisher(cfg config.MQTTConfig, bench string, lg *zap.Logger) *Publisher {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Publisher{
		cfg:    cfg,
		bench:  bench,
		logger: lg,
	}
}

// BrokerURL returns the full broker address including scheme.
func (p *Publisher) BrokerURL() string {
	if p.cfg.UseTLS {
		return fmt.Sprintf("ssl://%s:%d", p.cfg.Broker, p.cfg.Port)
	}
	return fmt.Sprintf("tcp://%s:%d", p.cfg.Broker, p.cfg.Port)
}

// Topic builds the bench-scoped topic path for a leaf like "events" or "log".
func (p *Publisher) Topic(leaf string) string {
	return fmt.Sprintf("%s/%s/%s", p.cfg.RootTopic, p.bench, leaf)
}

// Start connects to the broker. Already connected is not an error.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.BrokerURL())
	if p.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetClientID(p.cfg.ClientID)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect to %s: timeout", p.BrokerURL())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", p.BrokerURL(), err)
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		client.Disconnect(100)
		return nil
	}
	p.client = client
	p.running = true
	p.mu.Unlock()

	p.logger.Info("MQTT publisher connected",
		zap.String("broker", p.BrokerURL()),
		zap.String("root", p.cfg.RootTopic+"/"+p.bench))
	return nil
}

// Stop disconnects from the broker. Safe to call without a prior Start.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running || p.client == nil {
		p.mu.Unlock()
		return
	}
	client := p.client
	p.client = nil
	p.running = false
	p.mu.Unlock()

	client.Disconnect(500)
	p.logger.Info("MQTT publisher disconnected")
}

func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// PublishEvent mirrors one run event to <root>/<bench>/events (QoS 1).
func (p *Publisher) PublishEvent(ev engine.RunEvent) {
	p.publish("events", ev, 1, false)
}

// PublishRow mirrors one log row to <root>/<bench>/log. QoS 0, eine
// verlorene Zeile ersetzt das nächste Abtastintervall ohnehin.
func (p *Publisher) PublishRow(row logger.Row) {
	p.publish("log", row, 0, false)
}

// PublishStatus mirrors the system status to <root>/<bench>/status,
// retained so late subscribers see the last known state.
func (p *Publisher) PublishStatus(status any) {
	p.publish("status", status, 1, true)
}

func (p *Publisher) publish(leaf string, payload any, qos byte, retained bool) {
	p.mu.RLock()
	running := p.running
	client := p.client
	p.mu.RUnlock()

	if !running || client == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("failed to encode MQTT payload", zap.String("leaf", leaf), zap.Error(err))
		return
	}

	token := client.Publish(p.Topic(leaf), qos, retained, data)
	if qos == 0 {
		return
	}
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Warn("MQTT publish timed out", zap.String("topic", p.Topic(leaf)))
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Warn("MQTT publish failed", zap.String("topic", p.Topic(leaf)), zap.Error(err))
	}
}

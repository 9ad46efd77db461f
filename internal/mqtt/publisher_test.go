package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"benchlink/internal/config"
	"benchlink/internal/engine"
	"benchlink/internal/logger"
)

func testPublisher(useTLS bool) *Publisher {
	return NewPublisher(config.MQTTConfig{
		Broker:    "broker.local",
		Port:      1883,
		ClientID:  "bench-1",
		UseTLS:    useTLS,
		RootTopic: "benchlink",
	}, "leaktest", nil)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://broker.local:1883", testPublisher(false).BrokerURL())
	assert.Equal(t, "ssl://broker.local:1883", testPublisher(true).BrokerURL())
}

func TestTopicTree(t *testing.T) {
	p := testPublisher(false)
	assert.Equal(t, "benchlink/leaktest/events", p.Topic("events"))
	assert.Equal(t, "benchlink/leaktest/log", p.Topic("log"))
	assert.Equal(t, "benchlink/leaktest/status", p.Topic("status"))
}

func TestPublishWithoutConnectionIsNoOp(t *testing.T) {
	p := testPublisher(false)
	assert.False(t, p.IsRunning())

	// Darf nicht blockieren oder panicen, der Broker ist optional.
	p.PublishEvent(engine.RunEvent{Type: engine.EventRunStarted})
	p.PublishRow(logger.Row{Values: []string{"80.0"}})
	p.PublishStatus(map[string]string{"state": "RUNNING"})
	p.Stop()
	assert.False(t, p.IsRunning())
}

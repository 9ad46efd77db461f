package devices

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"benchlink/internal/config"
	"benchlink/internal/gateway"
	"benchlink/internal/types"
)

func benchConfig() *config.Config {
	return &config.Config{
		Ports: []config.PortConfig{
			{Port: 1, Module: "AL2205"},
			{Port: 2, Module: "ITV-1050", Alias: "regulator"},
			{Port: 3, Module: "SY3000", Alias: "valves"},
			{Port: 4, Module: "SD9500"},
		},
		Channels: []config.ChannelConfig{
			{Channel: 0, Module: "LCM300", Alias: "force"},
			{Channel: 3, Module: "SDAT-MHS-M160"},
			{Channel: 5, Module: "UI-Button", Alias: "button"},
		},
	}
}

func TestBuildWiresBench(t *testing.T) {
	bus := newFakeBus()
	b, err := Build(benchConfig(), bus, newMemStore(), nil)
	require.NoError(t, err)
	defer b.Close()

	require.NotNil(t, b.Hub())
	assert.Equal(t,
		[]string{"regulator", "valves", "SD9500_P4", "force", "SDAT-MHS-M160_X1.3", "button"},
		b.Aliases())

	dev, ok := b.Device("valves")
	require.True(t, ok)
	assert.Equal(t, "SY3000", dev.TypeName())

	dev, ok = b.Device("SD9500_P4")
	require.True(t, ok)
	assert.Equal(t, "SD9500", dev.TypeName())

	_, ok = b.Device("AL2205")
	assert.False(t, ok, "the hub is wiring, not a device")
}

func TestBuildHubChannelsReachTheBus(t *testing.T) {
	bus := newFakeBus()
	bus.set(1003, 3000) // Hub auf Port 1, Kanal 0

	b, err := Build(benchConfig(), bus, newMemStore(), nil)
	require.NoError(t, err)
	defer b.Close()

	dev, ok := b.Device("force")
	require.True(t, ok)
	reading, err := dev.Invoke(context.Background(), "read_force", nil)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, reading.(ForceReading).Lbf, 1e-9)
}

func TestRefreshProcessDataAppliesMasterFraming(t *testing.T) {
	bus := newFakeBus()
	bus.set(4001, 0x0001) // SD9500 auf Port 4 im IO-Link Modus
	bus.set(4004, 150)    // Durchfluss-Wort bei Byte-Offset 4

	b, err := Build(benchConfig(), bus, newMemStore(), nil)
	require.NoError(t, err)
	defer b.Close()

	dev, ok := b.Device("SD9500_P4")
	require.True(t, ok)

	// Der 16-Byte Default-Frame deckt das Durchfluss-Feld ab
	flow, err := dev.Invoke(context.Background(), "read_flow", nil)
	require.NoError(t, err)
	assert.InDelta(t, 150*0.1*35.3146667/60, flow.(float64), 1e-6)

	// Master meldet 4-Byte-Frames, das Feld fällt aus dem Fenster
	bus.set(gateway.RegPDINLength, 1)
	b.RefreshProcessData(context.Background())

	flow, err = dev.Invoke(context.Background(), "read_flow", nil)
	require.NoError(t, err)
	assert.Nil(t, flow)
}

func TestBuildRejectsChannelsWithoutHub(t *testing.T) {
	cfg := benchConfig()
	cfg.Ports = cfg.Ports[1:] // AL2205 raus

	_, err := Build(cfg, newFakeBus(), newMemStore(), nil)
	require.ErrorIs(t, err, types.ErrConfiguration)
}

func TestBuildRejectsSecondHub(t *testing.T) {
	cfg := benchConfig()
	cfg.Ports = append(cfg.Ports, config.PortConfig{Port: 5, Module: "AL2205"})

	_, err := Build(cfg, newFakeBus(), newMemStore(), nil)
	require.ErrorIs(t, err, types.ErrConfiguration)
}

func TestBuildRejectsMisattachedModules(t *testing.T) {
	t.Run("channel module on a port", func(t *testing.T) {
		cfg := benchConfig()
		cfg.Ports = append(cfg.Ports, config.PortConfig{Port: 5, Module: "LCM300"})
		_, err := Build(cfg, newFakeBus(), newMemStore(), nil)
		require.ErrorIs(t, err, types.ErrConfiguration)
	})

	t.Run("port module on a channel", func(t *testing.T) {
		cfg := benchConfig()
		cfg.Channels = append(cfg.Channels, config.ChannelConfig{Channel: 7, Module: "SY3000"})
		_, err := Build(cfg, newFakeBus(), newMemStore(), nil)
		require.ErrorIs(t, err, types.ErrConfiguration)
	})
}

func TestBuildRejectsUnknownModule(t *testing.T) {
	cfg := benchConfig()
	cfg.Ports = append(cfg.Ports, config.PortConfig{Port: 6, Module: "Frobnicator-9000"})

	_, err := Build(cfg, newFakeBus(), newMemStore(), nil)
	require.ErrorIs(t, err, types.ErrConfiguration)
}

func TestBuildRejectsDuplicateAlias(t *testing.T) {
	cfg := benchConfig()
	cfg.Channels[0].Alias = "valves"

	_, err := Build(cfg, newFakeBus(), newMemStore(), nil)
	require.ErrorIs(t, err, types.ErrConfiguration)
}

func TestRegistryLookups(t *testing.T) {
	reg, ok := Lookup("SY3000")
	require.True(t, ok)
	assert.Equal(t, AttachPort, reg.Attach)
	assert.NotNil(t, reg.NewPort)

	reg, ok = Lookup("LCM300")
	require.True(t, ok)
	assert.Equal(t, AttachChannel, reg.Attach)
	assert.NotNil(t, reg.NewChannel)

	_, ok = Lookup("AL2205")
	assert.False(t, ok)

	names := make([]string, 0)
	for _, r := range Types() {
		names = append(names, r.Type)
	}
	assert.Equal(t, []string{
		"ITV-1050", "LCM300", "PQ3834", "SD6020", "SD9500",
		"SDAT-MHS-M160", "SY3000", "UI-Button",
	}, names)

	cmds, ok := CommandsFor("ITV-1050")
	require.True(t, ok)
	require.NotEmpty(t, cmds)
	assert.Equal(t, "set_pressure", cmds[0].Name)
}

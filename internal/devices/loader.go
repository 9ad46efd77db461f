package devices

import (
	"context"
	"fmt"
	"io"
	"sort"

	"go.uber.org/zap"

	"benchlink/internal/calibration"
	"benchlink/internal/config"
	"benchlink/internal/gateway"
	"benchlink/internal/hub"
	"benchlink/internal/types"
)

// Instance is one wired device with its bench position.
type Instance struct {
	Alias   string     `json:"alias"`
	Type    string     `json:"type"`
	Attach  Attachment `json:"attach"`
	Port    int        `json:"port"`
	Channel int        `json:"channel"`
	Key     string     `json:"key"` // "X02" bzw. "X1.3"
	Device  Device     `json:"-"`
}

// Bench holds every constructed device, keyed by alias.
type Bench struct {
	logger    *zap.Logger
	hub       *hub.AnalogHub
	instances map[string]*Instance
	order     []string
}

// Build constructs the bench wiring from config: the hub first, then the
// port devices, then the analog channels behind the hub.
func Build(cfg *config.Config, bus gateway.RegisterIO, store calibration.Store, logger *zap.Logger) (*Bench, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bench{
		logger:    logger,
		instances: make(map[string]*Instance),
	}

	built := false
	defer func() {
		if !built {
			b.Close()
		}
	}()

	// Hub suchen, höchstens ein AL2205 pro Bank
	hubPort := 0
	for _, pc := range cfg.Ports {
		if pc.Module != HubModule {
			continue
		}
		if hubPort != 0 {
			return nil, fmt.Errorf("%w: more than one %s configured", types.ErrConfiguration, HubModule)
		}
		hubPort = pc.Port
	}
	if hubPort != 0 {
		h, err := hub.New(bus, hubPort)
		if err != nil {
			return nil, err
		}
		b.hub = h
	}
	if len(cfg.Channels) > 0 && b.hub == nil {
		return nil, fmt.Errorf("%w: channel devices configured but no %s port", types.ErrConfiguration, HubModule)
	}

	for _, pc := range cfg.Ports {
		if pc.Module == HubModule {
			continue
		}
		reg, ok := Lookup(pc.Module)
		if !ok {
			return nil, fmt.Errorf("%w: unknown module %q on port %d", types.ErrConfiguration, pc.Module, pc.Port)
		}
		if reg.Attach != AttachPort {
			return nil, fmt.Errorf("%w: module %q belongs on a hub channel, not on port %d",
				types.ErrConfiguration, pc.Module, pc.Port)
		}

		alias := pc.Alias
		if alias == "" {
			alias = fmt.Sprintf("%s_P%d", pc.Module, pc.Port)
		}
		dev, err := reg.NewPort(PortDeps{Bus: bus, Port: pc.Port, Logger: logger.Named(alias)})
		if err != nil {
			return nil, fmt.Errorf("build %s on port %d: %w", pc.Module, pc.Port, err)
		}
		if err := b.add(&Instance{
			Alias:  alias,
			Type:   pc.Module,
			Attach: AttachPort,
			Port:   pc.Port,
			Key:    fmt.Sprintf("X%02d", pc.Port),
			Device: dev,
		}); err != nil {
			return nil, err
		}
	}

	for _, cc := range cfg.Channels {
		reg, ok := Lookup(cc.Module)
		if !ok {
			return nil, fmt.Errorf("%w: unknown module %q on channel %d", types.ErrConfiguration, cc.Module, cc.Channel)
		}
		if reg.Attach != AttachChannel {
			return nil, fmt.Errorf("%w: module %q belongs on a master port, not on hub channel %d",
				types.ErrConfiguration, cc.Module, cc.Channel)
		}

		key := fmt.Sprintf("X1.%d", cc.Channel)
		alias := cc.Alias
		if alias == "" {
			alias = fmt.Sprintf("%s_%s", cc.Module, key)
		}
		dev, err := reg.NewChannel(ChannelDeps{
			Hub:         b.hub,
			Channel:     cc.Channel,
			Key:         key,
			Calibration: store,
			Logger:      logger.Named(alias),
		})
		if err != nil {
			return nil, fmt.Errorf("build %s on channel %d: %w", cc.Module, cc.Channel, err)
		}
		if err := b.add(&Instance{
			Alias:   alias,
			Type:    cc.Module,
			Attach:  AttachChannel,
			Channel: cc.Channel,
			Key:     key,
			Device:  dev,
		}); err != nil {
			return nil, err
		}
	}

	logger.Info("bench built",
		zap.Int("devices", len(b.order)),
		zap.Bool("hub", b.hub != nil))

	built = true
	return b, nil
}

// NewBench wires a pre-built device set. Tests and embedders use this to
// skip the config path.
func NewBench(devs map[string]Device) *Bench {
	b := &Bench{
		logger:    zap.NewNop(),
		instances: make(map[string]*Instance),
	}
	aliases := make([]string, 0, len(devs))
	for alias := range devs {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		dev := devs[alias]
		b.instances[alias] = &Instance{Alias: alias, Type: dev.TypeName(), Device: dev}
		b.order = append(b.order, alias)
	}
	return b
}

func (b *Bench) add(inst *Instance) error {
	if _, dup := b.instances[inst.Alias]; dup {
		return fmt.Errorf("%w: alias %q assigned twice", types.ErrConfiguration, inst.Alias)
	}
	b.instances[inst.Alias] = inst
	b.order = append(b.order, inst.Alias)
	return nil
}

// Device returns the device behind an alias.
func (b *Bench) Device(alias string) (Device, bool) {
	inst, ok := b.instances[alias]
	if !ok {
		return nil, false
	}
	return inst.Device, true
}

// Instances returns all wired instances in configuration order.
func (b *Bench) Instances() []*Instance {
	out := make([]*Instance, 0, len(b.order))
	for _, alias := range b.order {
		out = append(out, b.instances[alias])
	}
	return out
}

// Aliases returns the device aliases in configuration order.
func (b *Bench) Aliases() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Hub returns the analog hub, nil when none is configured.
func (b *Bench) Hub() *hub.AnalogHub {
	return b.hub
}

// RefreshProcessData liest die Framekonfiguration des Masters für jeden
// Prozessdaten-Sensor nach. Ein Lesefehler lässt die Defaults stehen.
func (b *Bench) RefreshProcessData(ctx context.Context) {
	for _, alias := range b.order {
		refresher, ok := b.instances[alias].Device.(interface {
			RefreshConfig(context.Context) error
		})
		if !ok {
			continue
		}
		if err := refresher.RefreshConfig(ctx); err != nil {
			b.logger.Warn("process-data config read failed, keeping defaults",
				zap.String("alias", alias),
				zap.Error(err))
		}
	}
}

// Close shuts down every device that carries background state. Einzelne
// Fehler werden geloggt, der Rest wird trotzdem geschlossen.
func (b *Bench) Close() error {
	for _, alias := range b.order {
		closer, ok := b.instances[alias].Device.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			b.logger.Error("device close failed",
				zap.String("alias", alias),
				zap.Error(err))
		}
	}
	return nil
}

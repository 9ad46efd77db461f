package devices

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ButtonState is the decoded position of the operator station switch.
type ButtonState string

const (
	ButtonStart   ButtonState = "start"
	ButtonHold    ButtonState = "hold"
	ButtonStop    ButtonState = "stop"
	ButtonUnknown ButtonState = "unknown"
)

// Wortwerte des Tasters; alles andere ist ein Übergangszustand.
const (
	buttonWordStart uint16 = 257
	buttonWordHold  uint16 = 1
	buttonWordStop  uint16 = 0
)

// Button reads the three-position operator switch on one hub channel.
type Button struct {
	recordSlot
	hub     ChannelReader
	channel int
	logger  *zap.Logger
}

func NewButton(d ChannelDeps) (*Button, error) {
	d = d.normalize()
	return &Button{hub: d.Hub, channel: d.Channel, logger: d.Logger}, nil
}

func (b *Button) TypeName() string { return "UI-Button" }

func (b *Button) ReadState(ctx context.Context) (ButtonState, error) {
	raw, err := b.hub.ReadChannel(ctx, b.channel)
	if err != nil {
		return ButtonUnknown, err
	}
	switch raw {
	case buttonWordStart:
		return ButtonStart, nil
	case buttonWordHold:
		return ButtonHold, nil
	case buttonWordStop:
		return ButtonStop, nil
	}
	return ButtonUnknown, nil
}

// Monitor pollt den Taster; cb bekommt nil bei Lesefehlern.
func (b *Button) Monitor(ctx context.Context, interval, duration time.Duration, cb func(*ButtonState)) {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}

	var deadline <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-ticker.C:
			state, err := b.ReadState(ctx)
			if err != nil {
				cb(nil)
				continue
			}
			cb(&state)
		}
	}
}

func (b *Button) Invoke(ctx context.Context, command string, params map[string]any) (any, error) {
	switch command {
	case "read_state":
		state, err := b.ReadState(ctx)
		if err != nil {
			return nil, err
		}
		b.record(string(state))
		return state, nil
	}
	return nil, unknownCommand(b.TypeName(), command)
}

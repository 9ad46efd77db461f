package devices

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"benchlink/internal/gateway"
)

// Kennlinie der ITV-1050: 15..115 psi linear über den vollen Wortbereich.
const (
	itvMinPsi  = 15.0
	itvMaxPsi  = 115.0
	itvRawSpan = 65535.0
)

// Defaults für den Warte-Modus von SetPressureWait.
const (
	DefaultSettleTolerance = 1.0
	DefaultSettleTimeout   = 10 * time.Second
	settlePollInterval     = 250 * time.Millisecond
)

// ErrNotSettled reports that the regulator feedback did not reach the
// setpoint within the wait budget.
var ErrNotSettled = errors.New("regulator did not settle")

type FeedbackReading struct {
	Psi float64 `json:"psi"`
	Raw uint16  `json:"raw"`
}

// PressureRegulator drives an SMC ITV-1050 electro-pneumatic regulator on
// one IO-Link port. The last setpoint is remembered so it can be re-applied
// after the master dropped and restored the connection.
type PressureRegulator struct {
	bus      gateway.RegisterIO
	port     int
	writeReg uint16
	readReg  uint16
	logger   *zap.Logger

	mu       sync.Mutex
	setpoint *float64
}

func NewPressureRegulator(d PortDeps) (*PressureRegulator, error) {
	d = d.normalize()
	writeReg, err := gateway.WriteBase(d.Port)
	if err != nil {
		return nil, err
	}
	readReg, err := gateway.ReadBase(d.Port)
	if err != nil {
		return nil, err
	}
	return &PressureRegulator{
		bus:      d.Bus,
		port:     d.Port,
		writeReg: writeReg,
		readReg:  readReg,
		logger:   d.Logger,
	}, nil
}

func (pr *PressureRegulator) TypeName() string { return "ITV-1050" }

// rawFromPsi klemmt auf die Kennlinie und rechnet linear ins Rohwort um.
func rawFromPsi(psi float64) (uint16, float64) {
	clamped := psi
	if clamped < itvMinPsi {
		clamped = itvMinPsi
	}
	if clamped > itvMaxPsi {
		clamped = itvMaxPsi
	}
	raw := math.Round((clamped - itvMinPsi) / (itvMaxPsi - itvMinPsi) * itvRawSpan)
	return uint16(raw), clamped
}

// psiFromRaw ist die Umkehrung der Kennlinie fürs Feedback.
func psiFromRaw(raw uint16) float64 {
	return itvMinPsi + (float64(raw)/itvRawSpan)*(itvMaxPsi-itvMinPsi)
}

// SetPressure schreibt den Sollwert, feuern und vergessen. Werte außerhalb
// der Kennlinie werden geklemmt und geloggt.
func (pr *PressureRegulator) SetPressure(ctx context.Context, psi float64) error {
	raw, clamped := rawFromPsi(psi)
	if clamped != psi {
		pr.logger.Warn("setpoint clamped to regulator range",
			zap.Float64("requested", psi),
			zap.Float64("applied", clamped))
	}

	if err := pr.bus.WriteRegister(ctx, pr.writeReg, raw); err != nil {
		return err
	}

	pr.mu.Lock()
	pr.setpoint = &clamped
	pr.mu.Unlock()
	return nil
}

// SetPressureWait schreibt den Sollwert und pollt das Feedback, bis es in
// der Toleranz liegt oder das Zeitbudget aufgebraucht ist. Lesefehler
// während des Wartens zählen nicht als Abbruch, der Druck baut sich auch
// ohne Telemetrie weiter auf.
func (pr *PressureRegulator) SetPressureWait(ctx context.Context, psi, tolerance float64, timeout time.Duration) error {
	if tolerance <= 0 {
		tolerance = DefaultSettleTolerance
	}
	if timeout <= 0 {
		timeout = DefaultSettleTimeout
	}

	if err := pr.SetPressure(ctx, psi); err != nil {
		return err
	}
	_, target := rawFromPsi(psi)

	deadline := time.Now().Add(timeout)
	for {
		reading, err := pr.ReadFeedback(ctx)
		if err == nil && math.Abs(reading.Psi-target) <= tolerance {
			return nil
		}

		if time.Now().After(deadline) {
			if err != nil {
				return fmt.Errorf("%w after %s: last feedback read failed: %v", ErrNotSettled, timeout, err)
			}
			return fmt.Errorf("%w after %s: feedback %.2f psi, want %.2f ±%.2f",
				ErrNotSettled, timeout, reading.Psi, target, tolerance)
		}
		if err := sleepCtx(ctx, settlePollInterval); err != nil {
			return err
		}
	}
}

// ReadFeedback liest den Istdruck über die Umkehrung der Kennlinie.
func (pr *PressureRegulator) ReadFeedback(ctx context.Context) (FeedbackReading, error) {
	regs, err := pr.bus.ReadRegisters(ctx, pr.readReg, 1)
	if err != nil {
		return FeedbackReading{}, err
	}
	return FeedbackReading{Psi: psiFromRaw(regs[0]), Raw: regs[0]}, nil
}

// Setpoint returns the last applied setpoint; ok=false before the first set.
func (pr *PressureRegulator) Setpoint() (float64, bool) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.setpoint == nil {
		return 0, false
	}
	return *pr.setpoint, true
}

// Reapply schreibt den letzten Sollwert erneut. Nach einem Reconnect kann
// der Master den Ausgang verloren haben. Ohne Sollwert ein No-op.
func (pr *PressureRegulator) Reapply(ctx context.Context) error {
	pr.mu.Lock()
	sp := pr.setpoint
	pr.mu.Unlock()

	if sp == nil {
		return nil
	}
	return pr.SetPressure(ctx, *sp)
}

// LogValue reports the setpoint as a state value for the run log.
func (pr *PressureRegulator) LogValue() (string, bool) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.setpoint == nil {
		return "", false
	}
	return fmt.Sprintf("%.1f psi", *pr.setpoint), true
}

func (pr *PressureRegulator) Invoke(ctx context.Context, command string, params map[string]any) (any, error) {
	switch command {
	case "set_pressure":
		psi, err := floatParam(params, "psi")
		if err != nil {
			return nil, err
		}
		wait, err := optionalBoolParam(params, "wait", false)
		if err != nil {
			return nil, err
		}
		if !wait {
			return nil, pr.SetPressure(ctx, psi)
		}
		tolerance, err := optionalFloatParam(params, "tolerance", DefaultSettleTolerance)
		if err != nil {
			return nil, err
		}
		seconds, err := optionalFloatParam(params, "timeout", DefaultSettleTimeout.Seconds())
		if err != nil {
			return nil, err
		}
		return nil, pr.SetPressureWait(ctx, psi, tolerance, time.Duration(seconds*float64(time.Second)))

	case "read_feedback":
		return pr.ReadFeedback(ctx)
	}
	return nil, unknownCommand(pr.TypeName(), command)
}

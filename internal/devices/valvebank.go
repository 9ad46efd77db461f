package devices

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"benchlink/internal/gateway"
	"benchlink/internal/types"
)

// Bitmasken der 16 Ventilspulen im Ausgangswort der SY3000-Insel. Die
// Zuordnung folgt der Verdrahtung der Insel, nicht der Zählreihenfolge:
// Station 1-4 liegt im High-Byte, Station 5-8 im Low-Byte.
var valveMasks = map[string]uint16{
	"1.A": 0x0100, "1.B": 0x0200,
	"2.A": 0x0400, "2.B": 0x0800,
	"3.A": 0x1000, "3.B": 0x2000,
	"4.A": 0x4000, "4.B": 0x8000,
	"5.A": 0x0001, "5.B": 0x0002,
	"6.A": 0x0004, "6.B": 0x0008,
	"7.A": 0x0010, "7.B": 0x0020,
	"8.A": 0x0040, "8.B": 0x0080,
}

// pairedValve liefert die Gegenspule derselben Station ("3.A" ↔ "3.B").
func pairedValve(id string) string {
	if strings.HasSuffix(id, ".A") {
		return strings.TrimSuffix(id, ".A") + ".B"
	}
	if strings.HasSuffix(id, ".B") {
		return strings.TrimSuffix(id, ".B") + ".A"
	}
	return ""
}

// valveDeadline is one scheduled auto-off.
type valveDeadline struct {
	at time.Time
	id string
}

type deadlineHeap []valveDeadline

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *deadlineHeap) Push(x any) {
	*h = append(*h, x.(valveDeadline))
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// ValveBank drives an SMC SY3000 manifold behind one output word. All coil
// changes funnel through one mutex and end in a single register write, so
// concurrent script threads never interleave half-built words. Auto-offs
// run over one scheduler goroutine with a deadline heap instead of a timer
// per valve.
type ValveBank struct {
	bus      gateway.RegisterIO
	port     int
	writeReg uint16
	logger   *zap.Logger

	mu        sync.Mutex
	active    map[string]uint16
	deadlines deadlineHeap
	expiry    map[string]time.Time // gültige Deadline je Ventil

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewValveBank(d PortDeps) (*ValveBank, error) {
	d = d.normalize()
	writeReg, err := gateway.WriteBase(d.Port)
	if err != nil {
		return nil, err
	}
	vb := &ValveBank{
		bus:      d.Bus,
		port:     d.Port,
		writeReg: writeReg,
		logger:   d.Logger,
		active:   make(map[string]uint16),
		expiry:   make(map[string]time.Time),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go vb.scheduler()
	return vb, nil
}

func (vb *ValveBank) TypeName() string { return "SY3000" }

// Close stops the auto-off scheduler. Outputs keep their last state.
func (vb *ValveBank) Close() error {
	vb.closeOnce.Do(func() { close(vb.stop) })
	<-vb.done
	return nil
}

// ValveOn activates one coil. The paired coil of the same station is forced
// off first, a double supply would deadlock the spool. duration > 0
// schedules an automatic off, duration 0 latches the coil.
func (vb *ValveBank) ValveOn(ctx context.Context, id string, duration time.Duration) error {
	mask, ok := valveMasks[id]
	if !ok {
		return fmt.Errorf("%w: unknown valve %q", types.ErrConfiguration, id)
	}

	vb.mu.Lock()
	defer vb.mu.Unlock()

	if pair := pairedValve(id); pair != "" {
		if _, on := vb.active[pair]; on {
			delete(vb.active, pair)
			delete(vb.expiry, pair)
			vb.logger.Info("paired valve forced off",
				zap.String("valve", pair),
				zap.String("by", id))
		}
	}

	vb.active[id] = mask
	if duration > 0 {
		at := time.Now().Add(duration)
		vb.expiry[id] = at
		heap.Push(&vb.deadlines, valveDeadline{at: at, id: id})
		vb.kick()
	} else {
		// Dauer-Ein hebt eine frühere Abschaltzeit auf
		delete(vb.expiry, id)
	}

	return vb.writeStateLocked(ctx)
}

// ValveOff deactivates a set of coils with one register write. Coils that
// are already off are logged and skipped.
func (vb *ValveBank) ValveOff(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if _, ok := valveMasks[id]; !ok {
			return fmt.Errorf("%w: unknown valve %q", types.ErrConfiguration, id)
		}
	}

	vb.mu.Lock()
	defer vb.mu.Unlock()

	for _, id := range ids {
		if _, on := vb.active[id]; !on {
			vb.logger.Warn("valve already off", zap.String("valve", id))
			continue
		}
		delete(vb.active, id)
		delete(vb.expiry, id)
	}

	return vb.writeStateLocked(ctx)
}

// AllOff clears every coil and cancels all pending auto-offs.
func (vb *ValveBank) AllOff(ctx context.Context) error {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	vb.active = make(map[string]uint16)
	vb.expiry = make(map[string]time.Time)
	vb.deadlines = vb.deadlines[:0]

	return vb.writeStateLocked(ctx)
}

// Active returns the ids of the active coils, sorted.
func (vb *ValveBank) Active() []string {
	vb.mu.Lock()
	defer vb.mu.Unlock()
	return vb.activeLocked()
}

func (vb *ValveBank) activeLocked() []string {
	ids := make([]string, 0, len(vb.active))
	for id := range vb.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LogValue reports the active set for the run log. Valve state is a state
// value: it repeats every row until it changes, empty set means no cell.
func (vb *ValveBank) LogValue() (string, bool) {
	vb.mu.Lock()
	defer vb.mu.Unlock()
	if len(vb.active) == 0 {
		return "", false
	}
	return strings.Join(vb.activeLocked(), "+"), true
}

// writeStateLocked ORt die aktiven Masken und schreibt das Ausgangswort.
func (vb *ValveBank) writeStateLocked(ctx context.Context) error {
	var word uint16
	for _, mask := range vb.active {
		word |= mask
	}
	return vb.bus.WriteRegister(ctx, vb.writeReg, word)
}

// kick weckt den Scheduler ohne zu blockieren.
func (vb *ValveBank) kick() {
	select {
	case vb.wake <- struct{}{}:
	default:
	}
}

// scheduler wartet auf die jeweils früheste Deadline und räumt abgelaufene
// Ventile ab. Überholte Heap-Einträge (Ventil vorher ausgeschaltet oder neu
// gestellt) fallen beim Aufräumen durch den expiry-Abgleich raus.
func (vb *ValveBank) scheduler() {
	defer close(vb.done)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		wait, armed := vb.nextDeadline()

		if !armed {
			select {
			case <-vb.stop:
				return
			case <-vb.wake:
				continue
			}
		}

		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)

		select {
		case <-vb.stop:
			return
		case <-vb.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
			vb.expireDue()
		}
	}
}

// nextDeadline wirft verworfene Einträge vom Heap und meldet die Wartezeit
// bis zur frühesten gültigen Deadline.
func (vb *ValveBank) nextDeadline() (time.Duration, bool) {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	for vb.deadlines.Len() > 0 {
		next := vb.deadlines[0]
		valid, ok := vb.expiry[next.id]
		if !ok || !valid.Equal(next.at) {
			heap.Pop(&vb.deadlines)
			continue
		}
		return time.Until(next.at), true
	}
	return 0, false
}

// expireDue schaltet alle fälligen Ventile ab, ein Sammelwrite für alle.
func (vb *ValveBank) expireDue() {
	vb.mu.Lock()

	now := time.Now()
	changed := false
	for vb.deadlines.Len() > 0 {
		next := vb.deadlines[0]
		valid, ok := vb.expiry[next.id]
		stale := !ok || !valid.Equal(next.at)
		if !stale && next.at.After(now) {
			break
		}
		heap.Pop(&vb.deadlines)
		if stale {
			continue
		}
		delete(vb.active, next.id)
		delete(vb.expiry, next.id)
		changed = true
		vb.logger.Info("valve timer elapsed", zap.String("valve", next.id))
	}

	var err error
	if changed {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = vb.writeStateLocked(ctx)
		cancel()
	}
	vb.mu.Unlock()

	if err != nil {
		vb.logger.Error("auto-off write failed", zap.Error(err))
	}
}

func (vb *ValveBank) Invoke(ctx context.Context, command string, params map[string]any) (any, error) {
	switch command {
	case "valve_on":
		id, err := stringParam(params, "valve")
		if err != nil {
			return nil, err
		}
		seconds, err := optionalFloatParam(params, "duration", 0)
		if err != nil {
			return nil, err
		}
		if seconds < 0 {
			return nil, fmt.Errorf("%w: valve duration must not be negative", types.ErrConfiguration)
		}
		return nil, vb.ValveOn(ctx, id, time.Duration(seconds*float64(time.Second)))

	case "valve_off":
		ids, err := stringListParam(params, "valves")
		if err != nil {
			id, serr := stringParam(params, "valve")
			if serr != nil {
				return nil, err
			}
			ids = []string{id}
		}
		return nil, vb.ValveOff(ctx, ids...)

	case "all_off":
		return nil, vb.AllOff(ctx)
	}
	return nil, unknownCommand(vb.TypeName(), command)
}

package validation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultDebounce is the pause after the last edit before a check starts.
const DefaultDebounce = 400 * time.Millisecond

// Phase is the validation state of the current input.
type Phase int

const (
	Idle Phase = iota
	Testing
	Valid
	Invalid
)

var phaseNames = [...]string{"idle", "testing", "valid", "invalid"}

func (p Phase) String() string {
	if int(p) >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText accepts the names produced by MarshalText.
func (p *Phase) UnmarshalText(b []byte) error {
	for i, name := range phaseNames {
		if name == string(b) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", string(b))
}

// Terminal reports whether p ends a check for the current input.
func (p Phase) Terminal() bool { return p == Valid || p == Invalid }

// State is a snapshot of a Machine. Result is only set once the phase is
// terminal.
type State struct {
	Phase      Phase   `json:"phase"`
	Input      string  `json:"input"`
	Generation uint64  `json:"generation"`
	Result     *Result `json:"result,omitempty"`
}

type checker interface {
	Check(ctx context.Context, raw string, opts ...CheckOption) Result
}

// Machine owns the validation state of one form. Each Input bumps a
// generation counter; a finished check is applied only if its generation is
// still current, so late results of superseded input are dropped.
type Machine struct {
	checker  checker
	debounce time.Duration
	opts     []CheckOption
	onChange func(State)

	mu      sync.Mutex
	state   State
	seq     uint64
	timer   *time.Timer
	cancel  context.CancelFunc
	changed chan struct{}
	closed  bool
	wg      sync.WaitGroup

	// notifyMu serializes onChange. notified is the seq of the last
	// transition handed to it.
	notifyMu sync.Mutex
	notified uint64
}

// transition is a state change waiting to be handed to onChange.
type transition struct {
	state State
	seq   uint64
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithDebounce overrides DefaultDebounce. Zero means no delay.
func WithDebounce(d time.Duration) MachineOption {
	return func(m *Machine) {
		if d >= 0 {
			m.debounce = d
		}
	}
}

// WithCheckOptions passes opts to every check the machine starts.
func WithCheckOptions(opts ...CheckOption) MachineOption {
	return func(m *Machine) { m.opts = append(m.opts, opts...) }
}

// WithOnChange registers fn to receive transitions in the order they happened.
// A transition overtaken by a newer one before fn could see it is skipped, so
// the last call always carries the current state. Calls are serialized and run
// without the machine's lock held; fn must not block for long or call Input.
func WithOnChange(fn func(State)) MachineOption {
	return func(m *Machine) { m.onChange = fn }
}

// NewMachine returns an Idle machine backed by c.
func NewMachine(c checker, opts ...MachineOption) *Machine {
	m := &Machine{
		checker:  c,
		debounce: DefaultDebounce,
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Input records a new value. Any pending or running check for the previous
// value is canceled and the machine returns to Idle until the debounce
// elapses. Blank input stays Idle.
func (m *Machine) Input(raw string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.stopLocked()
	gen := m.state.Generation + 1
	idle := m.setLocked(State{Phase: Idle, Input: raw, Generation: gen})

	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		if m.debounce == 0 {
			started, ok := m.startLocked(gen, trimmed)
			m.mu.Unlock()
			m.notify(idle)
			if ok {
				m.notify(started)
			}
			return
		}
		m.timer = time.AfterFunc(m.debounce, func() { m.fire(gen, trimmed) })
	}
	m.mu.Unlock()
	m.notify(idle)
}

func (m *Machine) fire(gen uint64, input string) {
	m.mu.Lock()
	tr, ok := m.startLocked(gen, input)
	m.mu.Unlock()
	if ok {
		m.notify(tr)
	}
}

// startLocked moves to Testing and launches the check if gen is current.
func (m *Machine) startLocked(gen uint64, input string) (transition, bool) {
	if m.closed || gen != m.state.Generation {
		return transition{}, false
	}
	m.timer = nil
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	tr := m.setLocked(State{Phase: Testing, Input: m.state.Input, Generation: gen})

	m.wg.Add(1)
	go m.run(ctx, gen, input)
	return tr, true
}

func (m *Machine) run(ctx context.Context, gen uint64, input string) {
	defer m.wg.Done()
	res := m.checker.Check(ctx, input, m.opts...)

	m.mu.Lock()
	if m.closed || gen != m.state.Generation || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.cancel = nil

	next := State{Phase: Valid, Input: m.state.Input, Generation: gen, Result: &res}
	if !res.OK() {
		next.Phase = Invalid
	}
	tr := m.setLocked(next)
	m.mu.Unlock()
	m.notify(tr)
}

// State returns the current snapshot.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CanSubmit reports whether the current input is Valid.
func (m *Machine) CanSubmit() bool {
	return m.State().Phase == Valid
}

// Await blocks until the current input reaches a terminal phase, the input is
// blank, or ctx is done. It returns the latest state either way.
func (m *Machine) Await(ctx context.Context) (State, error) {
	for {
		m.mu.Lock()
		st, ch, closed := m.state, m.changed, m.closed
		m.mu.Unlock()

		if closed || st.Phase.Terminal() || (st.Phase == Idle && strings.TrimSpace(st.Input) == "") {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Close cancels pending work and waits for a running check to return.
// Later calls to Input are ignored.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopLocked()
	if m.state.Phase == Testing {
		m.state.Phase = Idle
	}
	close(m.changed)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Machine) stopLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// setLocked replaces the state and wakes Await callers.
func (m *Machine) setLocked(st State) transition {
	m.state = st
	m.seq++
	if !m.closed {
		close(m.changed)
		m.changed = make(chan struct{})
	}
	return transition{state: st, seq: m.seq}
}

func (m *Machine) notify(tr transition) {
	if m.onChange == nil {
		return
	}
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	if tr.seq <= m.notified {
		return
	}
	m.notified = tr.seq
	m.onChange(tr.state)
}

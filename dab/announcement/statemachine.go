package announcement

import (
	"log"
	"time"
)

// State is one of the six announcement lifecycle states
// (ETSI EN 300 401 clause 8.1.6.3).
type State uint8

const (
	StateIdle      State = iota // playing the normal service
	StateDetected               // FIG 0/19 accepted, about to switch
	StateSwitching              // retune to the announcement requested
	StatePlaying                // announcement audio running
	StateEnding                 // announcement over, preparing restore
	StateRestoring              // retune to the original service requested
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateDetected:
		return "Detected"
	case StateSwitching:
		return "Switching"
	case StatePlaying:
		return "Playing"
	case StateEnding:
		return "Ending"
	case StateRestoring:
		return "Restoring"
	}
	return "Unknown"
}

// Snapshot is a copy of the machine's externally relevant state, used
// by the switch policy and by observers. Current is nil outside an
// announcement.
type Snapshot struct {
	State             State
	OriginalServiceID uint32
	OriginalSubch     uint8
	Current           *ActiveAnnouncement
	StartedAt         time.Time
}

// Machine is the announcement switching state machine. It is not
// synchronized; the Coordinator's lock covers every call. Illegal
// transitions are no-ops and report false. Transition side effects
// (retune commands, history, events) belong to the Coordinator; the
// machine only tracks the lifecycle and its saved context.
type Machine struct {
	state             State
	originalServiceID uint32
	originalSubch     uint8
	current           *ActiveAnnouncement
	startedAt         time.Time

	transitions []State // transitions taken by the last operation
	now         func() time.Time
}

// NewMachine creates a machine in Idle. The clock defaults to
// time.Now, whose readings carry a monotonic component; tests inject
// their own.
func NewMachine(now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{state: StateIdle, now: now}
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	return m.state
}

// Current returns a copy of the announcement being handled, or nil.
func (m *Machine) Current() *ActiveAnnouncement {
	if m.current == nil {
		return nil
	}
	cp := *m.current
	return &cp
}

// OriginalServiceID returns the saved service ID, zero when none.
func (m *Machine) OriginalServiceID() uint32 {
	return m.originalServiceID
}

// OriginalSubchannelID returns the saved subchannel ID.
func (m *Machine) OriginalSubchannelID() uint8 {
	return m.originalSubch
}

// StartedAt returns when the current announcement was begun.
func (m *Machine) StartedAt() time.Time {
	return m.startedAt
}

// Snapshot returns a copy of the machine state for policy evaluation.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		State:             m.state,
		OriginalServiceID: m.originalServiceID,
		OriginalSubch:     m.originalSubch,
		Current:           m.Current(),
		StartedAt:         m.startedAt,
	}
}

// Transitions returns the state transitions taken by the most recent
// mutating call, oldest first, so the Coordinator can emit one event
// per observable hop.
func (m *Machine) Transitions() []State {
	return m.transitions
}

// SetOriginalService records the service to restore after an
// announcement. Only accepted while Idle: during an announcement the
// saved context must survive until the final restore. Service ID zero
// is rejected.
func (m *Machine) SetOriginalService(serviceID uint32, subch uint8) bool {
	if serviceID == 0 || m.state != StateIdle {
		return false
	}
	m.originalServiceID = serviceID
	m.originalSubch = subch
	return true
}

// Begin starts handling an announcement: Idle -> Detected ->
// Switching, saving the record and stamping the start time. From any
// other state it is a no-op (preemption goes through Preempt).
func (m *Machine) Begin(rec ActiveAnnouncement) bool {
	if m.state != StateIdle || !rec.Active() {
		return false
	}
	m.transitions = m.transitions[:0]
	cp := rec
	m.current = &cp
	m.startedAt = m.now()
	m.transition(StateDetected)
	m.transition(StateSwitching)
	return true
}

// Preempt replaces the current announcement with a higher-priority
// one while Switching or Playing, keeping the original-service
// context and restarting the duration clock. The caller decides the
// priority question; the machine only enforces legal states.
func (m *Machine) Preempt(rec ActiveAnnouncement) bool {
	if m.state != StateSwitching && m.state != StatePlaying {
		return false
	}
	if !rec.Active() {
		return false
	}
	m.transitions = m.transitions[:0]
	cp := rec
	m.current = &cp
	m.startedAt = m.now()
	m.transition(StateSwitching)
	return true
}

// ConfirmLocked reports a tuner lock on subch. While Switching it
// advances to Playing if the lock is on the announcement subchannel;
// while Restoring it completes the cycle back to Idle if the lock is
// on the original subchannel. Anything else is ignored.
func (m *Machine) ConfirmLocked(subch uint8) bool {
	m.transitions = m.transitions[:0]
	switch m.state {
	case StateSwitching:
		if m.current == nil || m.current.SubchannelID != subch {
			return false
		}
		m.transition(StatePlaying)
		return true
	case StateRestoring:
		if m.originalSubch != subch {
			return false
		}
		m.clearContext()
		m.transition(StateIdle)
		return true
	}
	return false
}

// End finishes the current announcement: Switching/Playing -> Ending
// -> Restoring. The Ending hop is immediate but still reported via
// Transitions so observers see it.
func (m *Machine) End() bool {
	if m.state != StateSwitching && m.state != StatePlaying {
		return false
	}
	m.transitions = m.transitions[:0]
	m.transition(StateEnding)
	m.transition(StateRestoring)
	return true
}

// Elapsed returns how long the current announcement has run.
func (m *Machine) Elapsed() time.Duration {
	if m.current == nil {
		return 0
	}
	return m.now().Sub(m.startedAt)
}

// TimedOut reports whether the current announcement has exceeded max.
// The check is a deadline comparison against the monotonic clock and
// applies from Switching onward, so a tuner that never confirms still
// gets cut off.
func (m *Machine) TimedOut(max time.Duration) bool {
	if m.state != StateSwitching && m.state != StatePlaying {
		return false
	}
	return m.Elapsed() >= max
}

// Reset forces the machine to Idle, discarding the announcement and
// the original-service context. Used on ensemble change. In Idle it
// is a no-op: a saved original service is kept.
func (m *Machine) Reset() {
	m.transitions = m.transitions[:0]
	if m.state != StateIdle {
		m.clearContext()
		m.originalServiceID = 0
		m.originalSubch = 0
		m.transition(StateIdle)
	}
}

func (m *Machine) clearContext() {
	m.current = nil
	m.startedAt = time.Time{}
}

func (m *Machine) transition(next State) {
	if m.state == next {
		return
	}
	if Debug {
		log.Printf("Announcement: state %s -> %s", m.state, next)
	}
	m.state = next
	m.transitions = append(m.transitions, next)
}

// Debug enables verbose logging of state transitions and decision
// traces across the package.
var Debug bool

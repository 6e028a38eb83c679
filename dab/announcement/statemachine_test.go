package announcement

import (
	"testing"
	"time"
)

// testClock is a controllable monotonic clock.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Unix(1700000000, 0)}
}

func (c *testClock) now() time.Time {
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func TestMachineFullCycle(t *testing.T) {
	clock := newTestClock()
	m := NewMachine(clock.now)

	if !m.SetOriginalService(0x4001, 5) {
		t.Fatal("SetOriginalService rejected")
	}
	rec := activeRec(1, 18, RoadTraffic)
	if !m.Begin(rec) {
		t.Fatal("Begin rejected from Idle")
	}
	if m.State() != StateSwitching {
		t.Fatalf("state after Begin = %s, want Switching", m.State())
	}
	got := m.Transitions()
	if len(got) != 2 || got[0] != StateDetected || got[1] != StateSwitching {
		t.Fatalf("Begin transitions = %v, want [Detected Switching]", got)
	}

	if m.ConfirmLocked(7) {
		t.Error("ConfirmLocked accepted wrong subchannel")
	}
	if !m.ConfirmLocked(18) {
		t.Fatal("ConfirmLocked rejected announcement subchannel")
	}
	if m.State() != StatePlaying {
		t.Fatalf("state after lock = %s, want Playing", m.State())
	}

	clock.advance(42 * time.Second)
	if m.Elapsed() != 42*time.Second {
		t.Errorf("Elapsed = %s, want 42s", m.Elapsed())
	}

	if !m.End() {
		t.Fatal("End rejected from Playing")
	}
	if m.State() != StateRestoring {
		t.Fatalf("state after End = %s, want Restoring", m.State())
	}
	got = m.Transitions()
	if len(got) != 2 || got[0] != StateEnding || got[1] != StateRestoring {
		t.Fatalf("End transitions = %v, want [Ending Restoring]", got)
	}
	if m.OriginalServiceID() != 0x4001 {
		t.Error("original service lost before restore completed")
	}

	if !m.ConfirmLocked(5) {
		t.Fatal("ConfirmLocked rejected original subchannel")
	}
	if m.State() != StateIdle {
		t.Fatalf("state after restore = %s, want Idle", m.State())
	}
	if m.Current() != nil {
		t.Error("announcement context not cleared on return to Idle")
	}
}

func TestMachineIllegalTransitionsAreNoOps(t *testing.T) {
	m := NewMachine(nil)
	rec := activeRec(1, 18, Alarm)

	if m.ConfirmLocked(18) {
		t.Error("ConfirmLocked accepted in Idle")
	}
	if m.End() {
		t.Error("End accepted in Idle")
	}
	if m.Begin(ActiveAnnouncement{ClusterID: 1}) {
		t.Error("Begin accepted an inactive record")
	}
	if m.Preempt(rec) {
		t.Error("Preempt accepted in Idle")
	}

	m.SetOriginalService(0x4001, 5)
	m.Begin(rec)
	if m.Begin(rec) {
		t.Error("Begin accepted outside Idle")
	}
	if m.SetOriginalService(0x5002, 9) {
		t.Error("SetOriginalService accepted during announcement")
	}
	if m.OriginalServiceID() != 0x4001 {
		t.Error("original service overwritten during announcement")
	}
}

func TestMachinePreemptKeepsOriginalContext(t *testing.T) {
	clock := newTestClock()
	m := NewMachine(clock.now)
	m.SetOriginalService(0x4001, 5)
	m.Begin(activeRec(1, 18, RoadTraffic))
	m.ConfirmLocked(18)

	clock.advance(30 * time.Second)
	if !m.Preempt(activeRec(1, 19, Alarm)) {
		t.Fatal("Preempt rejected from Playing")
	}
	if m.State() != StateSwitching {
		t.Fatalf("state after Preempt = %s, want Switching", m.State())
	}
	if m.Current().HighestPriorityType() != Alarm {
		t.Error("current announcement not replaced on preemption")
	}
	if m.OriginalServiceID() != 0x4001 || m.OriginalSubchannelID() != 5 {
		t.Error("original context lost across preemption")
	}
	if m.Elapsed() != 0 {
		t.Errorf("duration clock not restarted on preemption: %s", m.Elapsed())
	}

	m.ConfirmLocked(19)
	m.End()
	m.ConfirmLocked(5)
	if m.State() != StateIdle {
		t.Fatalf("state after restore = %s, want Idle", m.State())
	}
}

func TestMachineTimeout(t *testing.T) {
	clock := newTestClock()
	m := NewMachine(clock.now)
	m.SetOriginalService(0x4001, 5)
	m.Begin(activeRec(1, 18, News))

	// Timeout applies from Switching: a tuner that never confirms
	// must not pin the machine forever.
	clock.advance(301 * time.Second)
	if !m.TimedOut(300 * time.Second) {
		t.Error("TimedOut false from Switching after deadline")
	}

	m.ConfirmLocked(18)
	if !m.TimedOut(300 * time.Second) {
		t.Error("TimedOut false while Playing past deadline")
	}
	if m.TimedOut(400 * time.Second) {
		t.Error("TimedOut true before deadline")
	}

	m.End()
	if m.TimedOut(1 * time.Second) {
		t.Error("TimedOut true outside Switching/Playing")
	}
}

func TestMachineReset(t *testing.T) {
	m := NewMachine(nil)
	m.SetOriginalService(0x4001, 5)
	m.Begin(activeRec(1, 18, Alarm))
	m.ConfirmLocked(18)

	m.Reset()
	if m.State() != StateIdle {
		t.Fatalf("state after Reset = %s, want Idle", m.State())
	}
	if m.Current() != nil || m.OriginalServiceID() != 0 {
		t.Error("Reset did not discard machine context")
	}
}

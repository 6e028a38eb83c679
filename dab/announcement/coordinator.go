package announcement

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Tuner is the outbound control surface to the tuner/audio layer.
// Both calls are fire-and-forget: completion arrives later through
// Coordinator.OnTunerLocked. Implementations are invoked outside the
// Coordinator's lock and may block.
type Tuner interface {
	RetuneToSubchannel(subch uint8)
	RestoreOriginal(serviceID uint32, subch uint8)
}

// ServiceNameResolver maps an announcement subchannel to a service
// label for history and UI. Optional; unresolved subchannels get a
// generic label.
type ServiceNameResolver interface {
	ServiceNameForSubchannel(subch uint8) (string, bool)
}

// EventKind classifies coordinator events.
type EventKind uint8

const (
	EventStateChange EventKind = iota
	EventAnnouncementStarted
	EventAnnouncementPreempted
	EventAnnouncementEnded
	EventSupportChanged
	EventDurationTick
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventStateChange:
		return "state_change"
	case EventAnnouncementStarted:
		return "announcement_started"
	case EventAnnouncementPreempted:
		return "announcement_preempted"
	case EventAnnouncementEnded:
		return "announcement_ended"
	case EventSupportChanged:
		return "support_changed"
	case EventDurationTick:
		return "duration_tick"
	}
	return "unknown"
}

// Event is a UI-observable coordinator notification. Which fields are
// populated depends on Kind.
type Event struct {
	Kind           EventKind
	Time           time.Time
	Old, New       State                // EventStateChange
	Announcement   *ActiveAnnouncement  // started/preempted
	ServiceName    string               // started/preempted
	Entry          *HistoryEntry        // ended
	Supported      bool                 // support_changed
	ElapsedSeconds int                  // duration_tick
}

// EventSink receives coordinator events. Sinks are invoked while the
// Coordinator's lock is held and MUST be non-blocking: no I/O, no
// network, no unbounded work. A sink that needs any of those must
// enqueue and return.
type EventSink interface {
	HandleAnnouncementEvent(Event)
}

// Counters holds the coordinator's error and activity counters.
type Counters struct {
	FIG018Records    uint64
	FIG019Records    uint64
	MalformedRecords uint64
	Switches         uint64
	Preemptions      uint64
	Ignored          uint64
	Timeouts         uint64
}

// Config wires a Coordinator. Tuner is required; everything else is
// optional.
type Config struct {
	Tuner       Tuner
	Preferences *PreferenceStore    // persisted settings, nil for in-memory only
	Resolver    ServiceNameResolver // service labels for history
	Location    LocationMatcher     // EWS receiver location, nil when unset
	HistoryCap  int                 // 0 means DefaultHistoryCap
	Now         func() time.Time    // test clock injection
}

// Coordinator glues the announcement stores, the switch policy and
// the state machine to the FIC feed and the tuner. One mutex protects
// every piece of shared state; tuner commands collected during a
// transition are drained after the lock is released so no external
// call ever runs under it.
type Coordinator struct {
	mu sync.Mutex

	support  *SupportStore
	active   *ActiveStore
	machine  *Machine
	history  *HistoryLog
	prefs    Preferences
	location LocationMatcher

	prefStore *PreferenceStore
	tuner     Tuner
	resolver  ServiceNameResolver
	sinks     []EventSink

	pending   *HistoryEntry // provisional entry for the running announcement
	supported bool          // any service in the ensemble signals support
	counters  Counters
	outbound  []func()
	now       func() time.Time
}

// NewCoordinator creates a Coordinator, loading persisted preferences
// when a store is configured.
func NewCoordinator(cfg Config) *Coordinator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	c := &Coordinator{
		support:   NewSupportStore(),
		active:    NewActiveStore(),
		machine:   NewMachine(now),
		history:   NewHistoryLog(cfg.HistoryCap),
		location:  cfg.Location,
		prefStore: cfg.Preferences,
		tuner:     cfg.Tuner,
		resolver:  cfg.Resolver,
		now:       now,
	}
	prefs, loaded := cfg.Preferences.Load()
	c.prefs = prefs
	if loaded {
		log.Printf("Announcement: loaded preferences (enabled=%v threshold=%d maxDuration=%s)",
			prefs.Enabled, prefs.PriorityThreshold, prefs.MaxDuration)
	}
	return c
}

// AddSink registers an event sink. Sinks run under the coordinator
// lock; see the EventSink contract.
func (c *Coordinator) AddSink(s EventSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, s)
}

// SetLocationMatcher installs or clears (nil) the EWS receiver
// location used to filter location-addressed announcements.
func (c *Coordinator) SetLocationMatcher(m LocationMatcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.location = m
}

// ============================================================================
// FIC feed entry points
// ============================================================================

// OnFIG018 applies an announcement-support record. Malformed records
// (service ID zero) are counted and dropped.
func (c *Coordinator) OnFIG018(rec ServiceSupport) {
	c.mu.Lock()
	c.counters.FIG018Records++
	if rec.ServiceID == 0 {
		c.counters.MalformedRecords++
	} else {
		c.support.Upsert(rec)
	}
	c.refreshSupportedLocked()
	cmds := c.takeOutbound()
	c.mu.Unlock()
	run(cmds)
}

// OnFIG019 applies a batch of announcement-switching records in
// arrival order: refreshes the active store, drives termination for
// the cluster being played, and evaluates the switch policy for
// everything else. The duration timeout is also checked here so a
// dead ticker alone cannot leave the receiver stuck.
func (c *Coordinator) OnFIG019(recs []ActiveAnnouncement) {
	c.mu.Lock()
	for _, rec := range recs {
		c.counters.FIG019Records++
		c.applyFIG019Locked(rec)
	}
	c.checkTimeoutLocked()
	cmds := c.takeOutbound()
	c.mu.Unlock()
	run(cmds)
}

func (c *Coordinator) applyFIG019Locked(rec ActiveAnnouncement) {
	now := c.now()
	rec.LastUpdate = now

	if !rec.Active() {
		c.active.Update(rec)
		cur := c.machine.Current()
		if cur != nil && cur.ClusterID == rec.ClusterID &&
			(c.machine.State() == StateSwitching || c.machine.State() == StatePlaying) {
			c.endLocked("ASw=0")
		}
		// Termination for a cluster we are not playing: nothing to do.
		return
	}

	if rec.SubchannelID < 1 || rec.SubchannelID > 63 {
		c.counters.MalformedRecords++
		return
	}

	rec.FirstSeen = now // Update preserves the first sighting on refresh
	stored := c.active.Update(rec)

	switch Evaluate(stored, c.machine.Snapshot(), c.prefs, c.support, c.location) {
	case DecisionSwitch:
		c.beginLocked(stored)
	case DecisionPreempt:
		c.preemptLocked(stored)
	default:
		c.counters.Ignored++
	}
}

// OnTunerLocked reports a tuner lock on subch, advancing Switching to
// Playing or Restoring to Idle. Locks on unrelated subchannels are
// ignored.
func (c *Coordinator) OnTunerLocked(subch uint8) {
	c.mu.Lock()
	prev := c.machine.State()
	if c.machine.ConfirmLocked(subch) {
		c.emitTransitionsLocked(prev)
	}
	cmds := c.takeOutbound()
	c.mu.Unlock()
	run(cmds)
}

// Tick runs the periodic duration check (call at 1 Hz or faster) and
// reports elapsed playing time to sinks.
func (c *Coordinator) Tick() {
	c.mu.Lock()
	if c.machine.State() == StatePlaying {
		c.emitLocked(Event{
			Kind:           EventDurationTick,
			Time:           c.now(),
			ElapsedSeconds: int(c.machine.Elapsed() / time.Second),
		})
	}
	c.checkTimeoutLocked()
	cmds := c.takeOutbound()
	c.mu.Unlock()
	run(cmds)
}

// ============================================================================
// User actions
// ============================================================================

// SetOriginalService records the service the user chose, the one an
// announcement must restore. Only accepted while Idle.
func (c *Coordinator) SetOriginalService(serviceID uint32, subch uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.SetOriginalService(serviceID, subch)
}

// ReturnNow is the user's manual return from a playing announcement.
// Rejected (false) when manual return is disabled or no announcement
// is playing.
func (c *Coordinator) ReturnNow() bool {
	c.mu.Lock()
	if !c.prefs.AllowManualReturn || c.machine.State() != StatePlaying {
		c.mu.Unlock()
		return false
	}
	c.endLocked("manual return")
	cmds := c.takeOutbound()
	c.mu.Unlock()
	run(cmds)
	return true
}

// ResetAll clears both stores and forces the machine to Idle,
// discarding any announcement in progress. Used on ensemble change or
// receiver reset.
func (c *Coordinator) ResetAll() {
	c.mu.Lock()
	c.support.Clear()
	c.active.Clear()
	c.pending = nil
	prev := c.machine.State()
	c.machine.Reset()
	c.emitTransitionsLocked(prev)
	c.refreshSupportedLocked()
	cmds := c.takeOutbound()
	c.mu.Unlock()
	run(cmds)
}

// RemoveServiceSupport drops the FIG 0/18 record for one service.
func (c *Coordinator) RemoveServiceSupport(serviceID uint32) {
	c.mu.Lock()
	c.support.Remove(serviceID)
	c.refreshSupportedLocked()
	cmds := c.takeOutbound()
	c.mu.Unlock()
	run(cmds)
}

// ============================================================================
// Preferences
// ============================================================================

// SetPreferences replaces the whole preference set (threshold clamped
// into range) and persists it, reporting save success.
func (c *Coordinator) SetPreferences(p Preferences) bool {
	c.mu.Lock()
	p = p.Clone()
	p.Clamp()
	c.prefs = p
	c.mu.Unlock()
	return c.prefStore.Save(p)
}

// SetEnabled flips the master switch.
func (c *Coordinator) SetEnabled(enabled bool) bool {
	return c.mutatePrefs(func(p *Preferences) bool {
		p.Enabled = enabled
		return true
	})
}

// SetPriorityThreshold sets the admission threshold; values outside
// 1..11 are rejected.
func (c *Coordinator) SetPriorityThreshold(threshold int) bool {
	if threshold < 1 || threshold > 11 {
		log.Printf("Announcement: rejecting priority threshold %d (must be 1..11)", threshold)
		return false
	}
	return c.mutatePrefs(func(p *Preferences) bool {
		p.PriorityThreshold = threshold
		return true
	})
}

// SetMaxDuration sets the safety timeout; values outside 30..600
// seconds are rejected.
func (c *Coordinator) SetMaxDuration(d time.Duration) bool {
	sec := int(d / time.Second)
	if sec < minMaxDurationSec || sec > maxMaxDurationSec {
		log.Printf("Announcement: rejecting max duration %s (must be 30s..600s)", d)
		return false
	}
	return c.mutatePrefs(func(p *Preferences) bool {
		p.MaxDuration = d
		return true
	})
}

// SetManualReturnAllowed controls the manual-return button.
func (c *Coordinator) SetManualReturnAllowed(allow bool) bool {
	return c.mutatePrefs(func(p *Preferences) bool {
		p.AllowManualReturn = allow
		return true
	})
}

// SetTypeEnabled enables or disables one announcement type. Invalid
// types are rejected.
func (c *Coordinator) SetTypeEnabled(t Type, enabled bool) bool {
	if !t.Valid() {
		return false
	}
	return c.mutatePrefs(func(p *Preferences) bool {
		p.TypeEnabled[t] = enabled
		return true
	})
}

// SetEnsembleAlarmEnabled mirrors the ensemble Al flag (FIG 0/0).
// In-memory only; not part of the persisted record.
func (c *Coordinator) SetEnsembleAlarmEnabled(enabled bool) {
	c.mu.Lock()
	c.prefs.EnsembleAlarmEnabled = enabled
	c.mu.Unlock()
}

// ResetPreferences restores the defaults and persists them.
func (c *Coordinator) ResetPreferences() bool {
	c.mu.Lock()
	alarm := c.prefs.EnsembleAlarmEnabled
	c.prefs = DefaultPreferences()
	c.prefs.EnsembleAlarmEnabled = alarm
	saved := c.prefs.Clone()
	c.mu.Unlock()
	return c.prefStore.Save(saved)
}

// mutatePrefs applies fn under the lock, clamps, then persists the
// result outside the lock.
func (c *Coordinator) mutatePrefs(fn func(*Preferences) bool) bool {
	c.mu.Lock()
	if !fn(&c.prefs) {
		c.mu.Unlock()
		return false
	}
	c.prefs.Clamp()
	saved := c.prefs.Clone()
	c.mu.Unlock()
	if c.prefStore == nil {
		return true
	}
	return c.prefStore.Save(saved)
}

// ============================================================================
// Observers
// ============================================================================

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.State()
}

// InAnnouncement reports whether an announcement is playing.
func (c *Coordinator) InAnnouncement() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.State() == StatePlaying
}

// CurrentAnnouncement returns a copy of the announcement being
// handled, or nil.
func (c *Coordinator) CurrentAnnouncement() *ActiveAnnouncement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Current()
}

// Elapsed returns how long the current announcement has run.
func (c *Coordinator) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Elapsed()
}

// OriginalServiceID returns the saved service ID, zero when none.
func (c *Coordinator) OriginalServiceID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.OriginalServiceID()
}

// HistorySnapshot returns a copy of the history, oldest first.
func (c *Coordinator) HistorySnapshot() []HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Snapshot()
}

// Preferences returns a copy of the current preferences.
func (c *Coordinator) Preferences() Preferences {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefs.Clone()
}

// AnnouncementSupported reports whether any service in the ensemble
// signals announcement support.
func (c *Coordinator) AnnouncementSupported() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.supported
}

// ActiveAnnouncements returns a copy of the active store contents.
func (c *Coordinator) ActiveAnnouncements() []ActiveAnnouncement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active.Snapshot()
}

// Counters returns a copy of the activity counters.
func (c *Coordinator) Counters() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters
}

// ============================================================================
// Internal transitions (all called with the lock held)
// ============================================================================

func (c *Coordinator) beginLocked(rec ActiveAnnouncement) {
	// Without an original service there is nothing to restore to, and
	// nothing the user is listening to that could be interrupted.
	if c.machine.OriginalServiceID() == 0 {
		c.counters.Ignored++
		if Debug {
			log.Printf("Announcement: no original service set, ignoring cluster %d", rec.ClusterID)
		}
		return
	}
	prev := c.machine.State()
	if !c.machine.Begin(rec) {
		return
	}
	name := c.resolveNameLocked(rec.SubchannelID)
	c.pending = &HistoryEntry{
		Start:       c.machine.StartedAt(),
		Type:        rec.HighestPriorityType(),
		ServiceName: name,
	}
	c.counters.Switches++
	log.Printf("Announcement: switching to %s on subchannel %d (cluster %d)",
		rec.HighestPriorityType(), rec.SubchannelID, rec.ClusterID)
	subch := rec.SubchannelID
	c.outbound = append(c.outbound, func() { c.tuner.RetuneToSubchannel(subch) })
	c.emitTransitionsLocked(prev)
	ann := rec
	c.emitLocked(Event{
		Kind:         EventAnnouncementStarted,
		Time:         c.now(),
		Announcement: &ann,
		ServiceName:  name,
	})
}

func (c *Coordinator) preemptLocked(rec ActiveAnnouncement) {
	prev := c.machine.State()
	c.finalizePendingLocked()
	if !c.machine.Preempt(rec) {
		return
	}
	name := c.resolveNameLocked(rec.SubchannelID)
	c.pending = &HistoryEntry{
		Start:       c.machine.StartedAt(),
		Type:        rec.HighestPriorityType(),
		ServiceName: name,
	}
	c.counters.Preemptions++
	log.Printf("Announcement: %s preempts on subchannel %d (cluster %d)",
		rec.HighestPriorityType(), rec.SubchannelID, rec.ClusterID)
	subch := rec.SubchannelID
	c.outbound = append(c.outbound, func() { c.tuner.RetuneToSubchannel(subch) })
	c.emitTransitionsLocked(prev)
	ann := rec
	c.emitLocked(Event{
		Kind:         EventAnnouncementPreempted,
		Time:         c.now(),
		Announcement: &ann,
		ServiceName:  name,
	})
}

func (c *Coordinator) endLocked(reason string) {
	if c.machine.State() == StateSwitching {
		log.Printf("Announcement: ending from Switching (%s) - tuner never confirmed lock", reason)
	}
	prev := c.machine.State()
	c.finalizePendingLocked()
	if !c.machine.End() {
		return
	}
	sid := c.machine.OriginalServiceID()
	subch := c.machine.OriginalSubchannelID()
	log.Printf("Announcement: returning to service 0x%X on subchannel %d (%s)", sid, subch, reason)
	c.outbound = append(c.outbound, func() { c.tuner.RestoreOriginal(sid, subch) })
	c.emitTransitionsLocked(prev)
}

// finalizePendingLocked closes the provisional history entry for the
// announcement being left and appends it to the log.
func (c *Coordinator) finalizePendingLocked() {
	if c.pending == nil {
		return
	}
	entry := *c.pending
	c.pending = nil
	entry.End = c.now()
	entry.Duration = entry.End.Sub(entry.Start)
	c.history.Append(entry)
	c.emitLocked(Event{
		Kind:  EventAnnouncementEnded,
		Time:  entry.End,
		Entry: &entry,
	})
}

func (c *Coordinator) checkTimeoutLocked() {
	if c.machine.TimedOut(c.prefs.MaxDuration) {
		c.counters.Timeouts++
		c.endLocked("timeout")
	}
}

func (c *Coordinator) refreshSupportedLocked() {
	supported := c.support.AnySupported()
	if supported == c.supported {
		return
	}
	c.supported = supported
	c.emitLocked(Event{Kind: EventSupportChanged, Time: c.now(), Supported: supported})
}

func (c *Coordinator) resolveNameLocked(subch uint8) string {
	if c.resolver != nil {
		if name, ok := c.resolver.ServiceNameForSubchannel(subch); ok && name != "" {
			return name
		}
	}
	return fmt.Sprintf("Announcement SubCh %d", subch)
}

// emitTransitionsLocked reports every state hop of the last machine
// operation as a state-change event.
func (c *Coordinator) emitTransitionsLocked(from State) {
	for _, next := range c.machine.Transitions() {
		c.emitLocked(Event{Kind: EventStateChange, Time: c.now(), Old: from, New: next})
		from = next
	}
}

func (c *Coordinator) emitLocked(ev Event) {
	for _, s := range c.sinks {
		s.HandleAnnouncementEvent(ev)
	}
}

func (c *Coordinator) takeOutbound() []func() {
	cmds := c.outbound
	c.outbound = nil
	return cmds
}

func run(cmds []func()) {
	for _, cmd := range cmds {
		cmd()
	}
}

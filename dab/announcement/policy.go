package announcement

// Decision is the outcome of evaluating an active announcement
// against the receiver state.
type Decision uint8

const (
	// DecisionIgnore leaves the receiver where it is.
	DecisionIgnore Decision = iota
	// DecisionSwitch retunes from the normal service to the
	// announcement subchannel.
	DecisionSwitch
	// DecisionPreempt replaces the currently playing announcement
	// with a strictly higher-priority one, keeping the saved
	// original-service context.
	DecisionPreempt
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case DecisionIgnore:
		return "Ignore"
	case DecisionSwitch:
		return "Switch"
	case DecisionPreempt:
		return "Preempt"
	}
	return "Unknown"
}

// LocationMatcher decides whether an EWS alert location payload
// addresses the receiver. dab/ews.LocationCode implements it.
type LocationMatcher interface {
	MatchesAlert(data [4]byte, nff uint8) bool
}

// Evaluate is the pure switching decision. It inspects its arguments
// and mutates nothing, so identical inputs always yield the identical
// decision. The rules fire in order; the first that applies wins:
//
//  1. Empty ASw flags are a termination, never a switch.
//  2. A record carrying an EWS location payload must address the
//     receiver's location, regardless of any other rule.
//  3. Cluster 0xFF (ensemble-wide alarm) bypasses the user policy:
//     switched to whenever the ensemble Al flag permits it, ignored
//     entirely when it does not (ETSI EN 300 401 8.1.2).
//  4. The master enable, per-type filter and priority threshold gate
//     ordinary clusters.
//  5. The original service must belong to the announcement's cluster
//     when its support record is known.
//  6. Against a running announcement only strictly higher priority
//     preempts; ties go to the incumbent.
func Evaluate(rec ActiveAnnouncement, snap Snapshot, prefs Preferences, support *SupportStore, loc LocationMatcher) Decision {
	if !rec.Active() {
		return DecisionIgnore
	}

	// EWS location gate: only records that carry a payload are
	// filtered; everything else is unaffected. A receiver without a
	// configured location never matches.
	if rec.HasLocation {
		if loc == nil || !loc.MatchesAlert(rec.Location, rec.LocationNFF) {
			return DecisionIgnore
		}
	}

	if rec.ClusterID == ClusterEnsembleAlarm {
		if !prefs.EnsembleAlarmEnabled {
			return DecisionIgnore
		}
		return switchOrPreempt(rec, snap)
	}

	if !prefs.Enabled {
		return DecisionIgnore
	}

	t := rec.HighestPriorityType()
	if !prefs.TypeEnabledFor(t) {
		return DecisionIgnore
	}
	if t.Priority() > prefs.PriorityThreshold {
		return DecisionIgnore
	}

	// The original service must have opted into the cluster. With no
	// support record yet the announcement is given the benefit of the
	// doubt, matching the original receiver behaviour.
	if snap.OriginalServiceID != 0 {
		if sup, ok := support.Get(snap.OriginalServiceID); ok && !sup.InCluster(rec.ClusterID) {
			return DecisionIgnore
		}
	}

	return switchOrPreempt(rec, snap)
}

// switchOrPreempt resolves the final decision once the filters have
// passed: Switch when idle, Preempt only against a strictly
// lower-priority incumbent.
func switchOrPreempt(rec ActiveAnnouncement, snap Snapshot) Decision {
	if snap.Current == nil {
		return DecisionSwitch
	}
	if rec.HighestPriorityType().Priority() < snap.Current.HighestPriorityType().Priority() {
		return DecisionPreempt
	}
	return DecisionIgnore
}

package announcement

import "time"

// ActiveAnnouncement is one FIG 0/19 announcement-switching record.
// An empty ASw flag set encodes the end of the cluster's announcement,
// not an active one.
type ActiveAnnouncement struct {
	ClusterID    uint8 // 0 reserved; 0xFF = ensemble-wide alarm cluster
	Flags        Flags // ASw: currently active types; zero means ended
	SubchannelID uint8 // 1..63 while active
	New          bool
	Region       bool

	FirstSeen  time.Time // when this cluster's announcement was first seen
	LastUpdate time.Time // last FIG 0/19 refresh

	// EWS geographic addressing (ETSI TS 104 090), present only when
	// the record carried a location payload.
	HasLocation bool
	Location    [4]byte
	LocationNFF uint8
}

// ClusterEnsembleAlarm is the cluster ID reserved for ensemble-wide
// alarm announcements (ETSI EN 300 401 clause 8.1.2).
const ClusterEnsembleAlarm uint8 = 0xFF

// Active reports whether the announcement is running (ASw non-zero).
func (a ActiveAnnouncement) Active() bool {
	return a.Flags.Any()
}

// HighestPriorityType returns the highest-priority active type.
func (a ActiveAnnouncement) HighestPriorityType() Type {
	return a.Flags.HighestPriority()
}

// ActiveStore maps cluster IDs to their most recent active
// announcement, fed by FIG 0/19. Like SupportStore it relies on the
// Coordinator's lock for synchronization.
type ActiveStore struct {
	clusters map[uint8]ActiveAnnouncement
}

// NewActiveStore creates an empty active-announcement store.
func NewActiveStore() *ActiveStore {
	return &ActiveStore{clusters: make(map[uint8]ActiveAnnouncement)}
}

// Update applies a FIG 0/19 record. A record with active flags is
// stored, preserving FirstSeen across refreshes of the same cluster.
// A record with empty flags removes the cluster's entry; driving the
// state machine on termination is the Coordinator's job. The stored
// record is returned.
func (as *ActiveStore) Update(rec ActiveAnnouncement) ActiveAnnouncement {
	if !rec.Active() {
		delete(as.clusters, rec.ClusterID)
		return rec
	}
	if prev, ok := as.clusters[rec.ClusterID]; ok {
		rec.FirstSeen = prev.FirstSeen
	}
	as.clusters[rec.ClusterID] = rec
	return rec
}

// Get returns the active announcement for a cluster.
func (as *ActiveStore) Get(clusterID uint8) (ActiveAnnouncement, bool) {
	rec, ok := as.clusters[clusterID]
	return rec, ok
}

// Clear erases all entries.
func (as *ActiveStore) Clear() {
	as.clusters = make(map[uint8]ActiveAnnouncement)
}

// Snapshot returns a copy of all active announcements.
func (as *ActiveStore) Snapshot() []ActiveAnnouncement {
	out := make([]ActiveAnnouncement, 0, len(as.clusters))
	for _, rec := range as.clusters {
		out = append(out, rec)
	}
	return out
}

// Len returns the number of clusters with an active announcement.
func (as *ActiveStore) Len() int {
	return len(as.clusters)
}

package announcement

// ServiceSupport is one FIG 0/18 announcement-support record: which
// announcement types a service supports and which clusters it belongs
// to. A service may support types while belonging to no cluster; it
// then signals capability but never receives announcements.
type ServiceSupport struct {
	ServiceID  uint32 // SId; zero is invalid
	Flags      Flags  // ASu: supported announcement types
	ClusterIDs []uint8
}

// SupportsType reports whether the service supports t.
func (s ServiceSupport) SupportsType(t Type) bool {
	return s.Flags.Supports(t)
}

// InCluster reports whether the service belongs to the given cluster.
func (s ServiceSupport) InCluster(clusterID uint8) bool {
	for _, id := range s.ClusterIDs {
		if id == clusterID {
			return true
		}
	}
	return false
}

// SupportStore maps service IDs to their announcement-support records,
// fed by FIG 0/18. Entries have no TTL; they live until removed or the
// ensemble changes. The store is not synchronized: the Coordinator's
// lock covers all access.
type SupportStore struct {
	services map[uint32]ServiceSupport
}

// NewSupportStore creates an empty support store.
func NewSupportStore() *SupportStore {
	return &SupportStore{services: make(map[uint32]ServiceSupport)}
}

// Upsert stores or replaces the record for its service ID. Records
// with service ID zero are dropped silently. Duplicate cluster IDs
// within the record are collapsed, keeping first occurrence order.
func (ss *SupportStore) Upsert(rec ServiceSupport) {
	if rec.ServiceID == 0 {
		return
	}
	if len(rec.ClusterIDs) > 1 {
		seen := make(map[uint8]bool, len(rec.ClusterIDs))
		deduped := rec.ClusterIDs[:0:0]
		for _, id := range rec.ClusterIDs {
			if !seen[id] {
				seen[id] = true
				deduped = append(deduped, id)
			}
		}
		rec.ClusterIDs = deduped
	}
	ss.services[rec.ServiceID] = rec
}

// Remove deletes the record for a service. Removing an absent service
// is a no-op.
func (ss *SupportStore) Remove(serviceID uint32) {
	delete(ss.services, serviceID)
}

// Clear erases all records.
func (ss *SupportStore) Clear() {
	ss.services = make(map[uint32]ServiceSupport)
}

// Get returns the record for a service.
func (ss *SupportStore) Get(serviceID uint32) (ServiceSupport, bool) {
	rec, ok := ss.services[serviceID]
	return rec, ok
}

// Participates reports whether the service exists and belongs to the
// given cluster.
func (ss *SupportStore) Participates(serviceID uint32, clusterID uint8) bool {
	rec, ok := ss.services[serviceID]
	return ok && rec.InCluster(clusterID)
}

// Supports reports whether the service exists and supports t.
func (ss *SupportStore) Supports(serviceID uint32, t Type) bool {
	rec, ok := ss.services[serviceID]
	return ok && rec.SupportsType(t)
}

// AnySupported reports whether any service in the ensemble currently
// signals announcement support.
func (ss *SupportStore) AnySupported() bool {
	for _, rec := range ss.services {
		if rec.Flags.Any() {
			return true
		}
	}
	return false
}

// Len returns the number of stored records.
func (ss *SupportStore) Len() int {
	return len(ss.services)
}

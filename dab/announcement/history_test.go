package announcement

import (
	"fmt"
	"testing"
	"time"
)

func TestHistoryAppendAndSnapshotOrder(t *testing.T) {
	h := NewHistoryLog(0)
	base := time.Unix(1700000000, 0)
	for i := 0; i < 3; i++ {
		h.Append(HistoryEntry{
			Type:        RoadTraffic,
			ServiceName: fmt.Sprintf("service %d", i),
			Start:       base.Add(time.Duration(i) * time.Minute),
			End:         base.Add(time.Duration(i)*time.Minute + 30*time.Second),
			Duration:    30 * time.Second,
		})
	}

	snap := h.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Len = %d, want 3", len(snap))
	}
	for i, e := range snap {
		if e.ServiceName != fmt.Sprintf("service %d", i) {
			t.Errorf("snapshot[%d] = %q, out of order", i, e.ServiceName)
		}
		if e.ID == "" {
			t.Errorf("snapshot[%d] has no ID assigned", i)
		}
	}

	// Snapshot must be a copy
	snap[0].ServiceName = "mutated"
	if h.Snapshot()[0].ServiceName == "mutated" {
		t.Error("Snapshot returned a reference into the log")
	}
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	h := NewHistoryLog(0)
	base := time.Unix(1700000000, 0)
	const total = DefaultHistoryCap + 37
	for i := 0; i < total; i++ {
		h.Append(HistoryEntry{
			Type: News,
			End:  base.Add(time.Duration(i) * time.Second),
		})
	}

	if h.Len() != DefaultHistoryCap {
		t.Fatalf("Len = %d, want %d", h.Len(), DefaultHistoryCap)
	}
	snap := h.Snapshot()
	// The survivors are the most recent entries, oldest first
	wantFirst := base.Add(time.Duration(total-DefaultHistoryCap) * time.Second)
	if !snap[0].End.Equal(wantFirst) {
		t.Errorf("oldest survivor ends at %s, want %s", snap[0].End, wantFirst)
	}
	wantLast := base.Add(time.Duration(total-1) * time.Second)
	if !snap[len(snap)-1].End.Equal(wantLast) {
		t.Errorf("newest survivor ends at %s, want %s", snap[len(snap)-1].End, wantLast)
	}
	for i := 1; i < len(snap); i++ {
		if snap[i].End.Before(snap[i-1].End) {
			t.Fatal("snapshot not ordered oldest to newest after wraparound")
		}
	}
}

func TestHistoryClear(t *testing.T) {
	h := NewHistoryLog(4)
	for i := 0; i < 6; i++ {
		h.Append(HistoryEntry{Type: Sport})
	}
	if h.Len() != 4 {
		t.Fatalf("Len = %d, want 4", h.Len())
	}
	h.Clear()
	if h.Len() != 0 || len(h.Snapshot()) != 0 {
		t.Error("Clear left entries behind")
	}
}

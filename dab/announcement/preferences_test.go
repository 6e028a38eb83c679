package announcement

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultPreferences(t *testing.T) {
	p := DefaultPreferences()
	if !p.Enabled || !p.AllowManualReturn || !p.EnsembleAlarmEnabled {
		t.Error("defaults must enable switching, manual return and ensemble alarm")
	}
	if p.PriorityThreshold != 11 {
		t.Errorf("default threshold = %d, want 11", p.PriorityThreshold)
	}
	if p.MaxDuration != 300*time.Second {
		t.Errorf("default max duration = %s, want 5m", p.MaxDuration)
	}
	for tt := Type(0); tt <= maxType; tt++ {
		if !p.TypeEnabledFor(tt) {
			t.Errorf("type %s not enabled by default", tt)
		}
	}
}

func TestPreferencesClamp(t *testing.T) {
	p := DefaultPreferences()
	p.PriorityThreshold = 0
	p.Clamp()
	if p.PriorityThreshold != 1 {
		t.Errorf("clamp low gave %d, want 1", p.PriorityThreshold)
	}
	p.PriorityThreshold = 99
	p.Clamp()
	if p.PriorityThreshold != 11 {
		t.Errorf("clamp high gave %d, want 11", p.PriorityThreshold)
	}
}

func TestPreferencesTypeEnabledFor(t *testing.T) {
	p := Preferences{} // nil map: everything defaults to enabled
	if !p.TypeEnabledFor(News) {
		t.Error("absent map should default to enabled")
	}
	if p.TypeEnabledFor(Type(15)) {
		t.Error("invalid type should report disabled")
	}
	p.TypeEnabled = map[Type]bool{News: false}
	if p.TypeEnabledFor(News) {
		t.Error("explicit disable ignored")
	}
	if !p.TypeEnabledFor(Sport) {
		t.Error("absent key should default to enabled")
	}
}

func TestPreferenceStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "announcements.yaml")
	store := NewPreferenceStore(path)

	p := DefaultPreferences()
	p.Enabled = false
	p.PriorityThreshold = 3
	p.MaxDuration = 120 * time.Second
	p.AllowManualReturn = false
	p.TypeEnabled[Financial] = false
	p.TypeEnabled[Sport] = false

	if !store.Save(p) {
		t.Fatal("Save failed")
	}

	loaded, ok := store.Load()
	if !ok {
		t.Fatal("Load did not apply the stored record")
	}
	if loaded.Enabled || loaded.AllowManualReturn {
		t.Error("bool settings did not round trip")
	}
	if loaded.PriorityThreshold != 3 {
		t.Errorf("threshold = %d, want 3", loaded.PriorityThreshold)
	}
	if loaded.MaxDuration != 120*time.Second {
		t.Errorf("max duration = %s, want 2m", loaded.MaxDuration)
	}
	if loaded.TypeEnabledFor(Financial) || loaded.TypeEnabledFor(Sport) {
		t.Error("disabled types did not round trip")
	}
	if !loaded.TypeEnabledFor(Alarm) || !loaded.TypeEnabledFor(News) {
		t.Error("enabled types did not round trip")
	}
	// EnsembleAlarmEnabled is signalling state, never persisted
	if !loaded.EnsembleAlarmEnabled {
		t.Error("ensemble alarm flag should come back at its default")
	}
}

func TestPreferenceStoreLoadClampsAndFallsBack(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		store := NewPreferenceStore(filepath.Join(dir, "absent.yaml"))
		p, ok := store.Load()
		if ok {
			t.Error("Load reported success for a missing file")
		}
		if !p.Enabled || p.PriorityThreshold != 11 {
			t.Error("missing file did not fall back to defaults")
		}
	})

	t.Run("corrupt yaml", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.yaml")
		os.WriteFile(path, []byte("Announcements: [not a mapping"), 0o644)
		p, ok := NewPreferenceStore(path).Load()
		if ok {
			t.Error("Load reported success for corrupt yaml")
		}
		if p.MaxDuration != DefaultMaxDuration {
			t.Error("corrupt file did not fall back to defaults")
		}
	})

	t.Run("out of range values clamp", func(t *testing.T) {
		path := filepath.Join(dir, "ranges.yaml")
		content := "Announcements:\n  minPriority: 42\n  maxDuration: 7\n  futureKey: ignored\n"
		os.WriteFile(path, []byte(content), 0o644)
		p, ok := NewPreferenceStore(path).Load()
		if !ok {
			t.Fatal("Load failed on valid yaml")
		}
		if p.PriorityThreshold != 11 {
			t.Errorf("threshold = %d, want clamp to 11", p.PriorityThreshold)
		}
		if p.MaxDuration != 30*time.Second {
			t.Errorf("max duration = %s, want clamp to 30s", p.MaxDuration)
		}
	})

	t.Run("invalid type numbers ignored", func(t *testing.T) {
		path := filepath.Join(dir, "types.yaml")
		content := "Announcements:\n  enabledTypes: [0, 4, 99, -1]\n"
		os.WriteFile(path, []byte(content), 0o644)
		p, ok := NewPreferenceStore(path).Load()
		if !ok {
			t.Fatal("Load failed on valid yaml")
		}
		if !p.TypeEnabledFor(Alarm) || !p.TypeEnabledFor(News) {
			t.Error("listed types should be enabled")
		}
		if p.TypeEnabledFor(RoadTraffic) {
			t.Error("unlisted types should be disabled when a list is present")
		}
	})
}

func TestPreferenceStoreNilSafe(t *testing.T) {
	var store *PreferenceStore
	p, ok := store.Load()
	if ok || !p.Enabled {
		t.Error("nil store Load should yield defaults and false")
	}
	if store.Save(p) {
		t.Error("nil store Save should report false")
	}
}

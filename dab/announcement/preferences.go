package announcement

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Preferences is the user-configurable announcement switching policy.
type Preferences struct {
	// Enabled is the master switch. When false only ensemble-wide
	// alarm announcements (cluster 0xFF) can still preempt, and only
	// while EnsembleAlarmEnabled is set.
	Enabled bool

	// TypeEnabled holds per-type opt-outs. A type absent from the map
	// counts as enabled.
	TypeEnabled map[Type]bool

	// PriorityThreshold admits only announcements with priority level
	// <= threshold (1 = Alarm only, 11 = everything). Clamped into
	// [1,11] on every mutation.
	PriorityThreshold int

	// AllowManualReturn permits the user to abort an announcement
	// before its ASw goes to zero.
	AllowManualReturn bool

	// MaxDuration is the safety timeout: announcements running longer
	// are force-ended in case ASw never returns to zero.
	MaxDuration time.Duration

	// EnsembleAlarmEnabled mirrors the ensemble Al flag (FIG 0/0).
	// When set, cluster 0xFF alarms bypass all other preferences;
	// when clear they are always ignored (ETSI EN 300 401 8.1.2).
	// Not persisted: the value is signalling, not user choice.
	EnsembleAlarmEnabled bool
}

// DefaultMaxDuration is the default announcement safety timeout.
const DefaultMaxDuration = 300 * time.Second

// Persisted maxDuration bounds (seconds); values outside clamp on load.
const (
	minMaxDurationSec = 30
	maxMaxDurationSec = 600
)

// DefaultPreferences returns the documented defaults: everything
// enabled, threshold 11, manual return allowed, 300 s timeout.
func DefaultPreferences() Preferences {
	p := Preferences{
		Enabled:              true,
		TypeEnabled:          make(map[Type]bool, NumTypes),
		PriorityThreshold:    11,
		AllowManualReturn:    true,
		MaxDuration:          DefaultMaxDuration,
		EnsembleAlarmEnabled: true,
	}
	for t := Type(0); t <= maxType; t++ {
		p.TypeEnabled[t] = true
	}
	return p
}

// Clamp forces PriorityThreshold into [1,11]. Called on every mutation
// path so the invariant holds no matter how the struct was built.
func (p *Preferences) Clamp() {
	if p.PriorityThreshold < 1 {
		p.PriorityThreshold = 1
	}
	if p.PriorityThreshold > 11 {
		p.PriorityThreshold = 11
	}
}

// TypeEnabledFor reports whether t is enabled; absent types default to
// enabled, invalid types to disabled.
func (p Preferences) TypeEnabledFor(t Type) bool {
	if !t.Valid() {
		return false
	}
	if p.TypeEnabled == nil {
		return true
	}
	enabled, ok := p.TypeEnabled[t]
	return !ok || enabled
}

// Clone returns a deep copy.
func (p Preferences) Clone() Preferences {
	out := p
	if p.TypeEnabled != nil {
		out.TypeEnabled = make(map[Type]bool, len(p.TypeEnabled))
		for t, v := range p.TypeEnabled {
			out.TypeEnabled[t] = v
		}
	}
	return out
}

// prefsFile is the on-disk shape: a key/value record under an
// "Announcements" namespace. Unknown keys are ignored by yaml,
// missing keys fall back to defaults.
type prefsFile struct {
	Announcements prefsRecord `yaml:"Announcements"`
}

type prefsRecord struct {
	Enabled           *bool  `yaml:"enabled"`
	MinPriority       *int   `yaml:"minPriority"`
	MaxDuration       *int   `yaml:"maxDuration"` // seconds, 30..600
	AllowManualReturn *bool  `yaml:"allowManualReturn"`
	EnabledTypes      *[]int `yaml:"enabledTypes"` // type numbers 0..10
}

// PreferenceStore persists Preferences to a yaml file. Load never
// fails hard: any problem yields the defaults and false. The store
// holds no state beyond the path; the Coordinator owns the in-memory
// copy and its locking.
type PreferenceStore struct {
	path string
}

// NewPreferenceStore creates a store writing to path.
func NewPreferenceStore(path string) *PreferenceStore {
	return &PreferenceStore{path: path}
}

// Load reads persisted preferences. The bool result reports whether a
// stored record was actually applied; on any failure the returned
// Preferences are the defaults.
func (ps *PreferenceStore) Load() (Preferences, bool) {
	prefs := DefaultPreferences()
	if ps == nil || ps.path == "" {
		return prefs, false
	}

	data, err := os.ReadFile(ps.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Preferences: failed to read %s: %v - using defaults", ps.path, err)
		}
		return prefs, false
	}

	var file prefsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		log.Printf("Preferences: failed to parse %s: %v - using defaults", ps.path, err)
		return prefs, false
	}

	rec := file.Announcements
	if rec.Enabled != nil {
		prefs.Enabled = *rec.Enabled
	}
	if rec.MinPriority != nil {
		prefs.PriorityThreshold = *rec.MinPriority
	}
	if rec.MaxDuration != nil {
		sec := *rec.MaxDuration
		if sec < minMaxDurationSec {
			sec = minMaxDurationSec
		}
		if sec > maxMaxDurationSec {
			sec = maxMaxDurationSec
		}
		prefs.MaxDuration = time.Duration(sec) * time.Second
	}
	if rec.AllowManualReturn != nil {
		prefs.AllowManualReturn = *rec.AllowManualReturn
	}
	if rec.EnabledTypes != nil {
		for t := Type(0); t <= maxType; t++ {
			prefs.TypeEnabled[t] = false
		}
		for _, n := range *rec.EnabledTypes {
			if n < 0 || n >= NumTypes {
				log.Printf("Preferences: ignoring invalid announcement type %d in %s", n, ps.path)
				continue
			}
			prefs.TypeEnabled[Type(n)] = true
		}
	}
	prefs.Clamp()
	return prefs, true
}

// Save writes the preferences, reporting success. The write goes to a
// temp file renamed into place so a crash never leaves a torn record.
func (ps *PreferenceStore) Save(prefs Preferences) bool {
	if ps == nil || ps.path == "" {
		return false
	}

	var enabledTypes []int
	for t := Type(0); t <= maxType; t++ {
		if prefs.TypeEnabledFor(t) {
			enabledTypes = append(enabledTypes, int(t))
		}
	}
	enabled := prefs.Enabled
	minPriority := prefs.PriorityThreshold
	maxDuration := int(prefs.MaxDuration / time.Second)
	allowReturn := prefs.AllowManualReturn
	file := prefsFile{Announcements: prefsRecord{
		Enabled:           &enabled,
		MinPriority:       &minPriority,
		MaxDuration:       &maxDuration,
		AllowManualReturn: &allowReturn,
		EnabledTypes:      &enabledTypes,
	}}

	data, err := yaml.Marshal(&file)
	if err != nil {
		log.Printf("Preferences: failed to encode settings: %v", err)
		return false
	}
	if dir := filepath.Dir(ps.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("Preferences: failed to create %s: %v", dir, err)
			return false
		}
	}
	tmp := fmt.Sprintf("%s.tmp", ps.path)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Printf("Preferences: failed to write %s: %v", tmp, err)
		return false
	}
	if err := os.Rename(tmp, ps.path); err != nil {
		log.Printf("Preferences: failed to replace %s: %v", ps.path, err)
		return false
	}
	return true
}

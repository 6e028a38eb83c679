package ews

import "testing"

// Reference location used throughout: zone 1, L3=9 L4=5 L5=33 L6=18,
// which is "Z1:245852" and "0018-0278-0082".
const (
	refDisplay = "0018-0278-0082"
	refHex     = "Z1:245852"
)

func refCode(t *testing.T) LocationCode {
	t.Helper()
	lc, err := Parse(refDisplay)
	if err != nil {
		t.Fatalf("Parse(%q): %v", refDisplay, err)
	}
	return lc
}

func TestParseDisplayFormat(t *testing.T) {
	lc := refCode(t)
	if !lc.Valid() {
		t.Fatal("parsed location not valid")
	}
	if lc.Zone() != 1 {
		t.Errorf("zone = %d, want 1", lc.Zone())
	}
	l3, l4, l5, l6, ok := lc.HierarchyLevels()
	if !ok || l3 != 9 || l4 != 5 || l5 != 33 || l6 != 18 {
		t.Errorf("levels = %d %d %d %d, want 9 5 33 18", l3, l4, l5, l6)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	bad := []string{
		"",                // empty
		"0018027700082",   // missing dashes
		"001-0278-0082",   // wrong group length
		"0018-027X-0082",  // non digit
		"9999-9999-9999",  // group over 1023
		"1023-1023-1023X", // trailing garbage
		"Z1245852",        // missing colon
		"1:245852",        // missing Z prefix
		"Z1:24585",        // five hex digits
		"Z1:2458520",      // seven hex digits
		"Z1:24585G",       // non hex
		"Z99:245852",      // zone over 41
		"Z-1:245852",      // negative zone
	}
	for _, code := range bad {
		if _, err := Parse(code); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", code)
		}
	}
}

func TestParseEdgeCases(t *testing.T) {
	good := []string{
		"0000-0000-0000",
		"Z0:000000",
		"Z41:FFFFFF",
		"z1:245852", // lowercase prefix and hex
		"Z1:245852",
	}
	for _, code := range good {
		if _, err := Parse(code); err != nil {
			t.Errorf("Parse(%q) failed: %v", code, err)
		}
	}
	// "1023-1023-1023" has zone bits 111111 = 63 > 41
	if _, err := Parse("1023-1023-1023"); err == nil {
		t.Error("zone 63 accepted from display form")
	}
}

func TestFormatRoundTrip(t *testing.T) {
	lc := refCode(t)
	if got := lc.DisplayFormat(); got != refDisplay {
		t.Errorf("DisplayFormat = %q, want %q", got, refDisplay)
	}
	if got := lc.HexFormat(); got != refHex {
		t.Errorf("HexFormat = %q, want %q", got, refHex)
	}

	// Parsing the hex rendering yields the same location
	viaHex, err := Parse(lc.HexFormat())
	if err != nil {
		t.Fatalf("Parse of own hex form failed: %v", err)
	}
	if viaHex != lc {
		t.Errorf("hex round trip mismatch: %+v != %+v", viaHex, lc)
	}

	var unset LocationCode
	if unset.DisplayFormat() != "" || unset.HexFormat() != "" {
		t.Error("unset location renders non-empty strings")
	}
	if unset.Zone() != 0xFF {
		t.Errorf("unset zone = %d, want 0xFF", unset.Zone())
	}
}

func TestChecksumInvolution(t *testing.T) {
	cases := []struct {
		zone  uint8
		loc24 uint32
	}{
		{1, 0x245852},
		{0, 0x000000},
		{41, 0xFFFFFF},
		{5, 0x123456},
	}
	for _, tc := range cases {
		sum := ComputeChecksum(tc.zone, tc.loc24)
		if !ValidateChecksum(tc.zone, tc.loc24, sum) {
			t.Errorf("checksum of zone %d loc %06X does not validate", tc.zone, tc.loc24)
		}
		if ValidateChecksum(tc.zone, tc.loc24, sum+1) {
			t.Errorf("corrupted checksum validated for zone %d loc %06X", tc.zone, tc.loc24)
		}
	}

	// Checksum is deterministic
	if ComputeChecksum(5, 0x123456) != ComputeChecksum(5, 0x123456) {
		t.Error("checksum not stable for identical input")
	}
}

func TestPackExtractAlertRoundTrip(t *testing.T) {
	// L4 is only 4 bits wide on the wire
	data := PackAlert(1, 9, 5, 33, 18)
	zone, l3, l4, l5, l6 := extractAlert(data)
	if zone != 1 || l3 != 9 || l4 != 5 || l5 != 33 || l6 != 18 {
		t.Errorf("extract = %d %d %d %d %d, want 1 9 5 33 18", zone, l3, l4, l5, l6)
	}
}

func TestMatchesAlertNFF(t *testing.T) {
	lc := refCode(t) // zone 1, 9/5/33/18

	tests := []struct {
		name  string
		alert [4]byte
		nff   uint8
		want  bool
	}{
		{"exact at finest", PackAlert(1, 9, 5, 33, 18), 0x8, true},
		{"L6 differs at finest", PackAlert(1, 9, 5, 33, 19), 0x8, false},
		{"L6 differs at district", PackAlert(1, 9, 5, 33, 19), 0xC, true},
		{"L5 differs at district", PackAlert(1, 9, 5, 34, 18), 0xC, false},
		{"L5 differs at province", PackAlert(1, 9, 5, 34, 18), 0xE, true},
		{"L4 differs at province", PackAlert(1, 9, 6, 33, 18), 0xE, false},
		{"L4 differs at region", PackAlert(1, 9, 6, 33, 18), 0xF, true},
		{"L3 differs at region", PackAlert(1, 10, 5, 33, 18), 0xF, false},
		{"zone mismatch always fails", PackAlert(2, 9, 5, 33, 18), 0xF, false},
		{"invalid NFF never matches", PackAlert(1, 9, 5, 33, 18), 0x0, false},
		{"invalid NFF 0x7", PackAlert(1, 9, 5, 33, 18), 0x7, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := lc.MatchesAlert(tc.alert, tc.nff); got != tc.want {
				t.Errorf("MatchesAlert(%v, %#X) = %v, want %v", tc.alert, tc.nff, got, tc.want)
			}
		})
	}
}

func TestMatchesAlertNFFMonotonicity(t *testing.T) {
	lc := refCode(t)
	alert := PackAlert(1, 9, 5, 33, 18)
	// A match at the finest level must hold at every coarser level
	if !lc.MatchesAlert(alert, 0x8) {
		t.Fatal("exact alert does not match at 0x8")
	}
	for _, nff := range []uint8{0xC, 0xE, 0xF} {
		if !lc.MatchesAlert(alert, nff) {
			t.Errorf("finest-level match fails at coarser NFF %#X", nff)
		}
	}
}

func TestMatchesAlertRequiresReceiverLocation(t *testing.T) {
	var unset LocationCode
	if unset.MatchesAlert(PackAlert(1, 9, 5, 33, 18), 0xF) {
		t.Error("unset receiver location matched an alert")
	}
}

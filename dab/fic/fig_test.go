package fic

import (
	"testing"

	"github.com/sekz/welle.io/dab/announcement"
)

// fig wraps a type-0 FIG body (extension byte included) in a FIG
// header.
func fig(figType byte, body ...byte) []byte {
	out := []byte{figType<<5 | byte(len(body))}
	return append(out, body...)
}

// fib pads FIG data to a 30-octet FIB payload with the 0xFF end
// marker.
func fib(figs ...[]byte) []byte {
	payload := make([]byte, 0, 30)
	for _, f := range figs {
		payload = append(payload, f...)
	}
	for len(payload) < 30 {
		payload = append(payload, 0xFF)
	}
	return payload
}

func TestParseFIG018ShortForm(t *testing.T) {
	// Service 0x4001 supports Alarm+RoadTraffic in clusters 1 and 2
	body := []byte{
		0x12, // FIG 0 header: short SIds, extension 18
		0x40, 0x01, // SId
		0x00, 0x03, // ASu: Alarm | RoadTraffic
		0x02,       // Rfa + 2 clusters
		0x01, 0x02, // cluster ids
	}
	res := ParseFIGs(fib(fig(0, body...)))

	if res.Dropped != 0 {
		t.Fatalf("Dropped = %d, want 0", res.Dropped)
	}
	if len(res.Support) != 1 {
		t.Fatalf("Support records = %d, want 1", len(res.Support))
	}
	rec := res.Support[0]
	if rec.ServiceID != 0x4001 {
		t.Errorf("service id = %#X, want 0x4001", rec.ServiceID)
	}
	if !rec.SupportsType(announcement.Alarm) || !rec.SupportsType(announcement.RoadTraffic) {
		t.Error("ASu flags not decoded")
	}
	if rec.SupportsType(announcement.News) {
		t.Error("ASu decoded a type that was not set")
	}
	if !rec.InCluster(1) || !rec.InCluster(2) || rec.InCluster(3) {
		t.Errorf("cluster list = %v, want [1 2]", rec.ClusterIDs)
	}
}

func TestParseFIG018LongForm(t *testing.T) {
	body := []byte{
		0x32, // FIG 0 header: long SIds (P/D set), extension 18
		0xE1, 0xC2, 0x40, 0x01, // 32-bit SId
		0x80, 0x00, // ASu with a reserved bit set
		0x00, // no clusters
	}
	res := ParseFIGs(fib(fig(0, body...)))

	if len(res.Support) != 1 {
		t.Fatalf("Support records = %d, want 1", len(res.Support))
	}
	rec := res.Support[0]
	if rec.ServiceID != 0xE1C24001 {
		t.Errorf("service id = %#X, want 0xE1C24001", rec.ServiceID)
	}
	if len(rec.ClusterIDs) != 0 {
		t.Errorf("cluster list = %v, want empty", rec.ClusterIDs)
	}
	// Reserved bits survive the wire round trip
	if rec.Flags.Wire() != 0x8000 {
		t.Errorf("ASu wire value = %04X, want 8000", rec.Flags.Wire())
	}
	if rec.Flags.Any() {
		t.Error("reserved-only ASu reported Any")
	}
}

func TestParseFIG019Active(t *testing.T) {
	body := []byte{
		0x13, // FIG 0 header, extension 19
		0x01,       // cluster
		0x00, 0x02, // ASw: RoadTraffic
		0x80 | 18, // New flag, subchannel 18
	}
	res := ParseFIGs(fib(fig(0, body...)))

	if res.Dropped != 0 {
		t.Fatalf("Dropped = %d, want 0", res.Dropped)
	}
	if len(res.Switching) != 1 {
		t.Fatalf("Switching records = %d, want 1", len(res.Switching))
	}
	rec := res.Switching[0]
	if rec.ClusterID != 1 || rec.SubchannelID != 18 {
		t.Errorf("cluster/subch = %d/%d, want 1/18", rec.ClusterID, rec.SubchannelID)
	}
	if !rec.New || rec.Region || rec.HasLocation {
		t.Error("flag bits decoded wrong")
	}
	if rec.HighestPriorityType() != announcement.RoadTraffic {
		t.Errorf("type = %s, want Road Traffic", rec.HighestPriorityType())
	}
}

func TestParseFIG019Termination(t *testing.T) {
	body := []byte{
		0x13,
		0x01,       // cluster
		0x00, 0x00, // ASw = 0x0000: announcement ended
		0x00, // no flags, subchannel 0
	}
	res := ParseFIGs(fib(fig(0, body...)))

	if res.Dropped != 0 || len(res.Switching) != 1 {
		t.Fatalf("Dropped=%d records=%d, want 0/1", res.Dropped, len(res.Switching))
	}
	if res.Switching[0].Active() {
		t.Error("termination record decoded as active")
	}
}

func TestParseFIG019EWSLocation(t *testing.T) {
	body := []byte{
		0x13,
		0xFF,       // ensemble alarm cluster
		0x00, 0x01, // ASw: Alarm
		0x40 | 30, // Region flag, subchannel 30
		0x07,      // Rfa + region id
		0x04, 0x95, 0x85, 0x20, // location: zone 1, L3=9 L4=5 L5=33 L6=18
		0xE0, // NFF 0xE
	}
	res := ParseFIGs(fib(fig(0, body...)))

	if res.Dropped != 0 || len(res.Switching) != 1 {
		t.Fatalf("Dropped=%d records=%d, want 0/1", res.Dropped, len(res.Switching))
	}
	rec := res.Switching[0]
	if !rec.Region || !rec.HasLocation {
		t.Fatal("EWS payload not flagged")
	}
	if rec.Location != [4]byte{0x04, 0x95, 0x85, 0x20} {
		t.Errorf("location = %v", rec.Location)
	}
	if rec.LocationNFF != 0xE {
		t.Errorf("NFF = %#X, want 0xE", rec.LocationNFF)
	}
}

func TestParseDropsMalformedRecords(t *testing.T) {
	tests := []struct {
		name        string
		body        []byte
		wantDropped int
		wantRecords int
	}{
		{
			name: "service id zero",
			body:        []byte{0x12, 0x00, 0x00, 0x00, 0x01, 0x00},
			wantDropped: 1,
		},
		{
			name:        "truncated cluster list",
			body:        []byte{0x12, 0x40, 0x01, 0x00, 0x01, 0x05, 0x01},
			wantDropped: 1,
		},
		{
			name:        "active record with subchannel zero",
			body:        []byte{0x13, 0x01, 0x00, 0x01, 0x00},
			wantDropped: 1,
		},
		{
			name:        "reserved cluster zero",
			body:        []byte{0x13, 0x00, 0x00, 0x01, 0x12},
			wantDropped: 1,
		},
		{
			name:        "region flag without payload",
			body:        []byte{0x13, 0x01, 0x00, 0x01, 0x40 | 18},
			wantDropped: 1,
		},
		{
			name: "good record survives a bad neighbour",
			body: []byte{0x13,
				0x00, 0x00, 0x01, 0x12, // cluster 0: dropped
				0x02, 0x00, 0x01, 0x14, // cluster 2 subch 20: kept
			},
			wantDropped: 1,
			wantRecords: 1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := ParseFIGs(fib(fig(0, tc.body...)))
			if res.Dropped != tc.wantDropped {
				t.Errorf("Dropped = %d, want %d", res.Dropped, tc.wantDropped)
			}
			if got := len(res.Support) + len(res.Switching); got != tc.wantRecords {
				t.Errorf("records = %d, want %d", got, tc.wantRecords)
			}
		})
	}
}

func TestParseSkipsOtherFIGs(t *testing.T) {
	// A FIG 1 (labels) and a FIG 0/1 (subchannel org) around a 0/19
	label := fig(1, 0x00, 'R', 'a', 'd', 'i', 'o')
	subchOrg := fig(0, 0x01, 0x12, 0x34)
	ann := fig(0, 0x13, 0x01, 0x00, 0x01, 0x12)
	res := ParseFIGs(fib(label, subchOrg, ann))

	if len(res.Switching) != 1 || res.Switching[0].SubchannelID != 18 {
		t.Fatalf("announcement FIG not found among other FIGs: %+v", res)
	}
	if len(res.Support) != 0 {
		t.Error("non-18 extension decoded as support")
	}
}

func TestCheckFIBRoundTrip(t *testing.T) {
	payload := fib(fig(0, 0x13, 0x01, 0x00, 0x01, 0x12))
	full := AppendCRC(payload)
	if len(full) != FIBSize {
		t.Fatalf("FIB size = %d, want %d", len(full), FIBSize)
	}

	got, err := CheckFIB(full)
	if err != nil {
		t.Fatalf("CheckFIB rejected a valid FIB: %v", err)
	}
	if len(got) != 30 {
		t.Fatalf("payload size = %d, want 30", len(got))
	}

	full[3] ^= 0x01
	if _, err := CheckFIB(full); err == nil {
		t.Error("CheckFIB accepted a corrupted FIB")
	}

	if _, err := CheckFIB(full[:10]); err == nil {
		t.Error("CheckFIB accepted a short buffer")
	}
}

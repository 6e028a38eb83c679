// Package fic decodes the Fast Information Channel structures the
// announcement subsystem consumes: FIB integrity, FIG headers, and
// the FIG 0/18 (announcement support) and FIG 0/19 (announcement
// switching) record bodies of ETSI EN 300 401 clauses 6.3.4/6.3.5,
// with the ETSI TS 104 090 EWS location extension.
package fic

import (
	"encoding/binary"

	"github.com/sekz/welle.io/dab/announcement"
)

// Result collects the announcement records found in one FIB payload.
// Dropped counts malformed records that were skipped; well-formed
// records around them are still returned.
type Result struct {
	Support   []announcement.ServiceSupport
	Switching []announcement.ActiveAnnouncement
	Dropped   int
}

// ParseFIGs walks the FIG headers in a FIB payload (30 octets, CRC
// already verified) and decodes every FIG 0/18 and 0/19 it finds.
// Other FIG types and extensions are skipped, as is everything after
// the 0xFF end marker. Parsing never fails as a whole: malformed
// records are counted in Dropped.
func ParseFIGs(payload []byte) Result {
	var res Result
	for len(payload) >= 1 {
		header := payload[0]
		if header == 0xFF {
			break // end marker / padding
		}
		figType := header >> 5
		figLen := int(header & 0x1F)
		if figLen == 0 || 1+figLen > len(payload) {
			res.Dropped++
			break
		}
		body := payload[1 : 1+figLen]
		payload = payload[1+figLen:]

		if figType != 0 || len(body) < 1 {
			continue
		}
		// FIG type 0 header: C/N, OE, P/D flags and 5-bit extension.
		longSIds := body[0]&0x20 != 0
		ext := body[0] & 0x1F
		body = body[1:]

		switch ext {
		case 18:
			sup, dropped := parseFIG018(body, longSIds)
			res.Support = append(res.Support, sup...)
			res.Dropped += dropped
		case 19:
			sw, dropped := parseFIG019(body)
			res.Switching = append(res.Switching, sw...)
			res.Dropped += dropped
		}
	}
	return res
}

// parseFIG018 decodes announcement-support records:
//
//	SId            16 or 32 bits (P/D flag in the FIG 0 header)
//	ASu flags      16 bits, big-endian
//	Rfa(5), n(3)   cluster count
//	n x cluster id 8 bits each
//
// Records with SId zero are dropped; a truncated trailing record
// drops the remainder of the body.
func parseFIG018(body []byte, longSIds bool) ([]announcement.ServiceSupport, int) {
	var recs []announcement.ServiceSupport
	dropped := 0
	sidLen := 2
	if longSIds {
		sidLen = 4
	}
	for len(body) > 0 {
		if len(body) < sidLen+3 {
			dropped++
			break
		}
		var sid uint32
		if longSIds {
			sid = binary.BigEndian.Uint32(body)
		} else {
			sid = uint32(binary.BigEndian.Uint16(body))
		}
		asu := binary.BigEndian.Uint16(body[sidLen:])
		n := int(body[sidLen+2] & 0x07)
		body = body[sidLen+3:]
		if len(body) < n {
			dropped++
			break
		}
		clusters := make([]uint8, n)
		copy(clusters, body[:n])
		body = body[n:]

		if sid == 0 {
			dropped++
			continue
		}
		recs = append(recs, announcement.ServiceSupport{
			ServiceID:  sid,
			Flags:      announcement.FlagsFromWire(asu),
			ClusterIDs: clusters,
		})
	}
	return recs, dropped
}

// parseFIG019 decodes announcement-switching records:
//
//	Cluster id     8 bits (0 is reserved; 0xFF = ensemble alarm)
//	ASw flags      16 bits, big-endian; zero ends the announcement
//	New(1), Region(1), SubChId(6)
//	if Region: Rfa(2), RegionId(6),
//	           location payload 32 bits, NFF(4) + Rfa(4)
//
// The location payload and NFF follow ETSI TS 104 090. An active
// record whose subchannel is outside 1..63, or addressed to the
// reserved cluster 0, is dropped.
func parseFIG019(body []byte) ([]announcement.ActiveAnnouncement, int) {
	var recs []announcement.ActiveAnnouncement
	dropped := 0
	for len(body) > 0 {
		if len(body) < 4 {
			dropped++
			break
		}
		rec := announcement.ActiveAnnouncement{
			ClusterID:    body[0],
			Flags:        announcement.FlagsFromWire(binary.BigEndian.Uint16(body[1:])),
			New:          body[3]&0x80 != 0,
			Region:       body[3]&0x40 != 0,
			SubchannelID: body[3] & 0x3F,
		}
		body = body[4:]
		if rec.Region {
			if len(body) < 6 {
				dropped++
				break
			}
			copy(rec.Location[:], body[1:5])
			rec.LocationNFF = body[5] >> 4
			rec.HasLocation = true
			body = body[6:]
		}

		if rec.ClusterID == 0 {
			dropped++
			continue
		}
		if rec.Flags.Any() && (rec.SubchannelID < 1 || rec.SubchannelID > 63) {
			dropped++
			continue
		}
		recs = append(recs, rec)
	}
	return recs, dropped
}

package main

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/sekz/welle.io/dab/announcement"
)

// DemodLink is the bidirectional UDP control channel to the external
// DAB demodulator process. Outbound it carries tune commands (it
// implements announcement.Tuner); inbound it carries demod status
// lines: tuner lock confirmations, the currently selected service and
// its label, the ensemble Al flag, and ensemble change notices.
//
// Status lines are key=value, one datagram per line:
//
//	locked subch=18
//	service sid=0x4001 subch=5 label=Thai PBS Radio
//	ensemble alarm=1
//	reset
type DemodLink struct {
	conn        *net.UDPConn
	controlAddr *net.UDPAddr
	coordinator *announcement.Coordinator

	mu       sync.RWMutex
	labels   map[uint8]string // subchannel -> service label
	running  bool
	commands uint64
}

// NewDemodLink binds a local UDP socket and resolves the demod
// control address. The coordinator is attached later because the
// coordinator itself needs the link as its Tuner.
func NewDemodLink(controlAddr string) (*DemodLink, error) {
	addr, err := net.ResolveUDPAddr("udp", controlAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve demod control address: %w", err)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("failed to bind demod control socket: %w", err)
	}
	return &DemodLink{
		conn:        conn,
		controlAddr: addr,
		labels:      make(map[uint8]string),
	}, nil
}

// SetCoordinator attaches the announcement coordinator that consumes
// inbound status messages.
func (d *DemodLink) SetCoordinator(c *announcement.Coordinator) {
	d.coordinator = c
}

// RetuneToSubchannel asks the demod to tune the audio decoder to an
// announcement subchannel. Fire-and-forget; the lock confirmation
// comes back as a status line or as RTP arrival.
func (d *DemodLink) RetuneToSubchannel(subch uint8) {
	d.send(fmt.Sprintf("tune subch=%d", subch))
}

// RestoreOriginal asks the demod to return to the original service.
func (d *DemodLink) RestoreOriginal(serviceID uint32, subch uint8) {
	d.send(fmt.Sprintf("tune sid=0x%X subch=%d", serviceID, subch))
}

func (d *DemodLink) send(cmd string) {
	d.mu.Lock()
	d.commands++
	d.mu.Unlock()
	if _, err := d.conn.WriteToUDP([]byte(cmd), d.controlAddr); err != nil {
		log.Printf("Demod: failed to send command %q: %v", cmd, err)
		return
	}
	if DebugMode {
		log.Printf("DEBUG: Demod command sent: %s", cmd)
	}
}

// ServiceNameForSubchannel implements announcement.ServiceNameResolver
// from the labels the demod has reported.
func (d *DemodLink) ServiceNameForSubchannel(subch uint8) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.labels[subch]
	return name, ok
}

// Start runs the status receive loop until Close.
func (d *DemodLink) Start() {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
	go d.receiveLoop()
	log.Printf("Demod: control link up, commands to %s", d.controlAddr)
}

// Close stops the receive loop and releases the socket.
func (d *DemodLink) Close() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	d.conn.Close()
}

func (d *DemodLink) receiveLoop() {
	buffer := make([]byte, 512)
	for {
		n, _, err := d.conn.ReadFromUDP(buffer)
		if err != nil {
			d.mu.RLock()
			running := d.running
			d.mu.RUnlock()
			if !running {
				return
			}
			log.Printf("Demod: error reading status: %v", err)
			continue
		}
		for _, line := range strings.Split(string(buffer[:n]), "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				d.handleStatus(line)
			}
		}
	}
}

func (d *DemodLink) handleStatus(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 || d.coordinator == nil {
		return
	}
	kv := parseKeyValues(fields[1:])

	switch fields[0] {
	case "locked":
		subch, ok := parseUint8(kv["subch"])
		if !ok {
			log.Printf("Demod: malformed locked status: %q", line)
			return
		}
		d.coordinator.OnTunerLocked(subch)

	case "service":
		sid, err := strconv.ParseUint(strings.TrimPrefix(kv["sid"], "0x"), 16, 32)
		subch, ok := parseUint8(kv["subch"])
		if err != nil || !ok {
			log.Printf("Demod: malformed service status: %q", line)
			return
		}
		if label := kv["label"]; label != "" {
			d.mu.Lock()
			d.labels[subch] = label
			d.mu.Unlock()
		}
		d.coordinator.SetOriginalService(uint32(sid), subch)

	case "ensemble":
		d.coordinator.SetEnsembleAlarmEnabled(kv["alarm"] == "1")

	case "reset":
		log.Printf("Demod: ensemble changed, resetting announcement state")
		d.mu.Lock()
		d.labels = make(map[uint8]string)
		d.mu.Unlock()
		d.coordinator.ResetAll()

	default:
		if DebugMode {
			log.Printf("DEBUG: Demod status ignored: %q", line)
		}
	}
}

// parseKeyValues splits "k=v" fields; a label value may contain
// spaces, so everything after "label=" is joined back together.
func parseKeyValues(fields []string) map[string]string {
	kv := make(map[string]string, len(fields))
	for i, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		if k == "label" {
			kv[k] = strings.Join(append([]string{v}, fields[i+1:]...), " ")
			break
		}
		kv[k] = v
	}
	return kv
}

func parseUint8(s string) (uint8, bool) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, false
	}
	return uint8(n), true
}

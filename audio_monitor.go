package main

import (
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/sekz/welle.io/dab/announcement"
)

// AudioMonitor watches the RTP audio stream from the demodulator.
// The demod stamps each stream's SSRC with the subchannel it decodes,
// so the first packet on a new SSRC doubles as a tuner-lock
// confirmation; the monitor also tracks a coarse PCM peak level for
// the status API. The audio itself goes straight to the audio output
// stage - this is observation only.
type AudioMonitor struct {
	conn        *net.UDPConn
	coordinator *announcement.Coordinator

	mu         sync.RWMutex
	running    bool
	currentSSR uint32
	lastPacket time.Time
	peakLevel  int16
	packets    uint64
}

// NewAudioMonitor binds the RTP listen socket.
func NewAudioMonitor(listenAddr string, coordinator *announcement.Coordinator) (*AudioMonitor, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve audio listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind audio socket: %w", err)
	}
	return &AudioMonitor{conn: conn, coordinator: coordinator}, nil
}

// Start runs the receive loop until Close.
func (am *AudioMonitor) Start() {
	am.mu.Lock()
	am.running = true
	am.mu.Unlock()
	go am.receiveLoop()
	log.Printf("Audio: monitoring RTP on %s", am.conn.LocalAddr())
}

// Close stops the receive loop and releases the socket.
func (am *AudioMonitor) Close() {
	am.mu.Lock()
	am.running = false
	am.mu.Unlock()
	am.conn.Close()
}

// Status returns the current subchannel SSRC, last packet time and
// peak level.
func (am *AudioMonitor) Status() (ssrc uint32, last time.Time, peak int16) {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.currentSSR, am.lastPacket, am.peakLevel
}

func (am *AudioMonitor) receiveLoop() {
	buffer := make([]byte, 4096)
	for {
		n, _, err := am.conn.ReadFromUDP(buffer)
		if err != nil {
			am.mu.RLock()
			running := am.running
			am.mu.RUnlock()
			if !running {
				return
			}
			log.Printf("Audio: error reading RTP packet: %v", err)
			continue
		}
		if n < 12 {
			// Too small to be valid RTP
			continue
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(buffer[:n]); err != nil {
			if DebugMode {
				log.Printf("DEBUG: Audio dropping malformed RTP packet: %v", err)
			}
			continue
		}

		am.handlePacket(packet)
	}
}

func (am *AudioMonitor) handlePacket(packet *rtp.Packet) {
	am.mu.Lock()
	am.packets++
	am.lastPacket = time.Now()
	changed := packet.SSRC != am.currentSSR
	am.currentSSR = packet.SSRC
	am.peakLevel = pcmPeak(packet.Payload)
	am.mu.Unlock()

	// A new SSRC means the demod started decoding a different
	// subchannel: treat it as the lock confirmation. The coordinator
	// ignores locks it is not waiting for.
	if changed && packet.SSRC > 0 && packet.SSRC <= 63 {
		if DebugMode {
			log.Printf("DEBUG: Audio stream switched to subchannel %d", packet.SSRC)
		}
		am.coordinator.OnTunerLocked(uint8(packet.SSRC))
	}
}

// pcmPeak returns the peak absolute sample of a 16-bit big-endian PCM
// payload.
func pcmPeak(payload []byte) int16 {
	var peak int16
	for i := 0; i+1 < len(payload); i += 2 {
		s := int16(binary.BigEndian.Uint16(payload[i:]))
		if s == -32768 {
			return 32767
		}
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

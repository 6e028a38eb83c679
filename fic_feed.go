package main

import (
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/sekz/welle.io/dab/announcement"
	"github.com/sekz/welle.io/dab/fic"
)

// FICFeed receives Fast Information Blocks from the demodulator over
// UDP, verifies them, decodes the announcement FIGs and feeds the
// coordinator. Each datagram carries one or more whole 32-octet FIBs.
type FICFeed struct {
	conn        *net.UDPConn
	coordinator *announcement.Coordinator
	metrics     *PrometheusMetrics
	capture     *FICCapture

	mu      sync.RWMutex
	running bool
}

// NewFICFeed binds the FIB listen socket. metrics and capture may be
// nil.
func NewFICFeed(listenAddr string, coordinator *announcement.Coordinator, metrics *PrometheusMetrics, capture *FICCapture) (*FICFeed, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve FIC listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind FIC socket: %w", err)
	}
	return &FICFeed{
		conn:        conn,
		coordinator: coordinator,
		metrics:     metrics,
		capture:     capture,
	}, nil
}

// Start runs the receive loop until Close.
func (f *FICFeed) Start() {
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	go f.receiveLoop()
	log.Printf("FIC: listening for FIBs on %s", f.conn.LocalAddr())
}

// Close stops the receive loop and releases the socket.
func (f *FICFeed) Close() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	f.conn.Close()
}

func (f *FICFeed) receiveLoop() {
	buffer := make([]byte, 2048)
	for {
		n, _, err := f.conn.ReadFromUDP(buffer)
		if err != nil {
			f.mu.RLock()
			running := f.running
			f.mu.RUnlock()
			if !running {
				return
			}
			log.Printf("FIC: error reading datagram: %v", err)
			continue
		}
		f.handleDatagram(buffer[:n])
	}
}

// handleDatagram splits a datagram into FIBs and processes each one.
// A datagram that is not a whole number of FIBs has its trailing
// fragment dropped; everything before it is still processed.
func (f *FICFeed) handleDatagram(data []byte) {
	if len(data)%fic.FIBSize != 0 {
		if DebugMode {
			log.Printf("DEBUG: FIC datagram of %d bytes is not a whole number of FIBs", len(data))
		}
	}
	for len(data) >= fic.FIBSize {
		f.handleFIB(data[:fic.FIBSize])
		data = data[fic.FIBSize:]
	}
}

func (f *FICFeed) handleFIB(fib []byte) {
	if f.metrics != nil {
		f.metrics.fibsTotal.Inc()
	}
	if f.capture != nil {
		f.capture.WriteFrame(fib)
	}

	payload, err := fic.CheckFIB(fib)
	if err != nil {
		if f.metrics != nil {
			f.metrics.fibCRCErrors.Inc()
		}
		if DebugMode {
			log.Printf("DEBUG: FIC dropping FIB: %v", err)
		}
		return
	}

	res := fic.ParseFIGs(payload)
	if f.metrics != nil {
		f.metrics.figRecordsTotal.WithLabelValues("0/18").Add(float64(len(res.Support)))
		f.metrics.figRecordsTotal.WithLabelValues("0/19").Add(float64(len(res.Switching)))
		f.metrics.malformedRecordsTotal.Add(float64(res.Dropped))
	}

	for _, sup := range res.Support {
		f.coordinator.OnFIG018(sup)
	}
	if len(res.Switching) > 0 {
		f.coordinator.OnFIG019(res.Switching)
	}
}

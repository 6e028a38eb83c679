package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sekz/welle.io/dab/announcement"
	"github.com/sekz/welle.io/dab/ews"
)

// DebugMode enables verbose logging across the daemon
var DebugMode bool

// currentLocation holds the receiver's EWS location for the HTTP API
var currentLocation = &locationHolder{}

type locationHolder struct {
	mu sync.RWMutex
	lc ews.LocationCode
}

func (h *locationHolder) get() ews.LocationCode {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lc
}

func (h *locationHolder) set(lc ews.LocationCode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lc = lc
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("welle.io-go %s\n", Version)
		return
	}

	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	DebugMode = *debug || config.Logging.Debug
	announcement.Debug = DebugMode

	log.Printf("welle.io-go %s starting", Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Prometheus metrics
	var metrics *PrometheusMetrics
	if config.Prometheus.Enabled {
		metrics = NewPrometheusMetrics()
	}

	// Control link to the external demodulator
	demod, err := NewDemodLink(config.Demod.ControlAddr)
	if err != nil {
		log.Fatalf("Failed to set up demod link: %v", err)
	}
	defer demod.Close()

	// Announcement coordinator
	coordConfig := announcement.Config{
		Tuner:       demod,
		Preferences: announcement.NewPreferenceStore(config.Announcements.PreferencesPath),
		Resolver:    demod,
		HistoryCap:  config.Announcements.HistorySize,
	}
	if code := config.Receiver.LocationCode; code != "" {
		lc, err := ews.Parse(code)
		if err != nil {
			log.Fatalf("Invalid receiver location %q: %v", code, err)
		}
		currentLocation.set(lc)
		coordConfig.Location = lc
		log.Printf("EWS: receiver location %s (%s)", lc.DisplayFormat(), lc.HexFormat())
	}
	coordinator := announcement.NewCoordinator(coordConfig)
	demod.SetCoordinator(coordinator)

	if metrics != nil {
		coordinator.AddSink(metrics)
		metrics.StartUpdater(ctx, coordinator)
	}

	// MQTT event publishing
	if config.MQTT.Enabled {
		publisher, err := NewMQTTPublisher(&config.MQTT, metrics)
		if err != nil {
			log.Printf("MQTT: disabled: %v", err)
		} else {
			defer publisher.Close()
			coordinator.AddSink(publisher)
			publisher.StartPublisher(ctx)
		}
	}

	// WebSocket event feed + HTTP API
	ws := NewWSServer()
	ws.Start()
	defer ws.Close()
	coordinator.AddSink(ws)

	// Raw FIB capture
	var capture *FICCapture
	if config.Capture.Enabled {
		capture, err = NewFICCapture(config.Capture.Path)
		if err != nil {
			log.Printf("FIC: capture disabled: %v", err)
		} else {
			defer capture.Close()
		}
	}

	// FIC ingest from the demodulator
	feed, err := NewFICFeed(config.Demod.FICAddr, coordinator, metrics, capture)
	if err != nil {
		log.Fatalf("Failed to set up FIC feed: %v", err)
	}
	feed.Start()
	defer feed.Close()

	// RTP audio monitor (lock confirmations + level)
	audio, err := NewAudioMonitor(config.Demod.AudioAddr, coordinator)
	if err != nil {
		log.Fatalf("Failed to set up audio monitor: %v", err)
	}
	audio.Start()
	defer audio.Close()

	demod.Start()

	api := NewAPIServer(config, coordinator, audio, ws)
	api.Start()
	defer api.Close()

	StartVersionChecker(ctx)

	// Periodic announcement duration tick
	go func() {
		ticker := time.NewTicker(time.Duration(config.Announcements.TickInterval) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				coordinator.Tick()
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %s, shutting down", sig)
}

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the daemon configuration
type Config struct {
	Demod         DemodConfig         `yaml:"demod"`
	Receiver      ReceiverConfig      `yaml:"receiver"`
	Announcements AnnouncementsConfig `yaml:"announcements"`
	Server        ServerConfig        `yaml:"server"`
	Prometheus    PrometheusConfig    `yaml:"prometheus"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Capture       CaptureConfig       `yaml:"capture"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// DemodConfig describes the external DAB demodulator process: where
// its control socket listens, and where it delivers FIC and audio
type DemodConfig struct {
	ControlAddr string `yaml:"control_addr"` // UDP address for tune commands (e.g. 127.0.0.1:9930)
	FICAddr     string `yaml:"fic_addr"`     // UDP address we listen on for FIB frames
	AudioAddr   string `yaml:"audio_addr"`   // UDP address we listen on for RTP audio
}

// ReceiverConfig contains receiver identity and EWS location settings
type ReceiverConfig struct {
	LocationCode string `yaml:"location_code"` // EWS location, "1255-4467-1352" or "Z1:91BB82" (empty = unset)
}

// AnnouncementsConfig contains announcement subsystem settings
type AnnouncementsConfig struct {
	PreferencesPath string `yaml:"preferences_path"` // persisted user preferences file
	HistorySize     int    `yaml:"history_size"`     // history entries kept in memory (default 500)
	TickInterval    int    `yaml:"tick_interval"`    // duration check interval in ms (default 1000, max 1000)
}

// ServerConfig contains the HTTP/WebSocket listener settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PrometheusConfig contains metrics settings
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // metrics endpoint path (default /metrics)
}

// MQTTConfig contains MQTT broker settings for announcement events
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. tcp://localhost:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"` // default dab/announcement
}

// CaptureConfig controls raw FIB capture for off-air debugging
type CaptureConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // capture file path (.zst appended if missing)
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// LoadConfig reads and validates the configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults
	if config.Demod.ControlAddr == "" {
		config.Demod.ControlAddr = "127.0.0.1:9930"
	}
	if config.Demod.FICAddr == "" {
		config.Demod.FICAddr = "127.0.0.1:9931"
	}
	if config.Demod.AudioAddr == "" {
		config.Demod.AudioAddr = "127.0.0.1:9932"
	}
	if config.Announcements.PreferencesPath == "" {
		config.Announcements.PreferencesPath = "announcements.yaml"
	}
	if config.Announcements.TickInterval <= 0 || config.Announcements.TickInterval > 1000 {
		config.Announcements.TickInterval = 1000
	}
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8073
	}
	if config.Prometheus.Path == "" {
		config.Prometheus.Path = "/metrics"
	}
	if config.MQTT.TopicPrefix == "" {
		config.MQTT.TopicPrefix = "dab/announcement"
	}

	return &config, nil
}

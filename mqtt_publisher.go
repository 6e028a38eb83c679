package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/sekz/welle.io/dab/announcement"
)

// MQTTPublisher forwards announcement lifecycle events and periodic
// subsystem stats to an MQTT broker. The coordinator sink only
// enqueues; a single goroutine does the actual publishing so the
// non-blocking sink contract holds.
type MQTTPublisher struct {
	client  mqtt.Client
	config  *MQTTConfig
	metrics *PrometheusMetrics
	events  chan announcement.Event
	dropped uint64
}

// AnnouncementEventPayload is the JSON shape of a lifecycle event
type AnnouncementEventPayload struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Timestamp   int64  `json:"timestamp"`
	State       string `json:"state,omitempty"`
	Type        string `json:"type,omitempty"`
	ClusterID   uint8  `json:"cluster_id,omitempty"`
	Subchannel  uint8  `json:"subchannel,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	DurationSec int    `json:"duration_seconds,omitempty"`
	Supported   *bool  `json:"supported,omitempty"`
}

// StatsPayload is the JSON shape of the periodic stats message
type StatsPayload struct {
	Timestamp int64              `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// generateClientID creates a random client ID for the MQTT connection
func generateClientID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "wellego_" + hex.EncodeToString(bytes)
}

// NewMQTTPublisher connects to the broker and returns a publisher
func NewMQTTPublisher(config *MQTTConfig, metrics *PrometheusMetrics) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(generateClientID())

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("MQTT: Connected to broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT: Connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	log.Printf("MQTT: Successfully connected to broker: %s", config.Broker)

	return &MQTTPublisher{
		client:  client,
		config:  config,
		metrics: metrics,
		events:  make(chan announcement.Event, 256),
	}, nil
}

// HandleAnnouncementEvent implements announcement.EventSink: enqueue
// and return. Events are dropped rather than ever blocking the
// coordinator lock.
func (mp *MQTTPublisher) HandleAnnouncementEvent(ev announcement.Event) {
	select {
	case mp.events <- ev:
	default:
		mp.dropped++
	}
}

// StartPublisher starts the event and stats publishing goroutines
func (mp *MQTTPublisher) StartPublisher(ctx context.Context) {
	go mp.eventLoop(ctx)
	go mp.statsLoop(ctx)
}

func (mp *MQTTPublisher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-mp.events:
			mp.publishEvent(ev)
		}
	}
}

func (mp *MQTTPublisher) publishEvent(ev announcement.Event) {
	payload := AnnouncementEventPayload{
		ID:        uuid.NewString(),
		Kind:      ev.Kind.String(),
		Timestamp: ev.Time.Unix(),
	}
	switch ev.Kind {
	case announcement.EventStateChange:
		payload.State = ev.New.String()
	case announcement.EventAnnouncementStarted, announcement.EventAnnouncementPreempted:
		payload.Type = ev.Announcement.HighestPriorityType().String()
		payload.ClusterID = ev.Announcement.ClusterID
		payload.Subchannel = ev.Announcement.SubchannelID
		payload.ServiceName = ev.ServiceName
	case announcement.EventAnnouncementEnded:
		payload.Type = ev.Entry.Type.String()
		payload.ServiceName = ev.Entry.ServiceName
		payload.DurationSec = int(ev.Entry.Duration / time.Second)
	case announcement.EventSupportChanged:
		supported := ev.Supported
		payload.Supported = &supported
	case announcement.EventDurationTick:
		payload.DurationSec = ev.ElapsedSeconds
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("MQTT: failed to encode event: %v", err)
		return
	}
	topic := fmt.Sprintf("%s/%s", mp.config.TopicPrefix, ev.Kind)
	if token := mp.client.Publish(topic, 0, false, data); token.Wait() && token.Error() != nil {
		log.Printf("MQTT: failed to publish to %s: %v", topic, token.Error())
	}
}

// statsLoop publishes subsystem gauges every 30 seconds
func (mp *MQTTPublisher) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mp.publishStats()
		}
	}
}

func (mp *MQTTPublisher) publishStats() {
	if mp.metrics == nil {
		return
	}
	stats := StatsPayload{
		Timestamp: time.Now().Unix(),
		Metrics: map[string]float64{
			"state":           gaugeValue(mp.metrics.machineState),
			"active_clusters": gaugeValue(mp.metrics.activeClusters),
			"history_entries": gaugeValue(mp.metrics.historySize),
			"elapsed_seconds": gaugeValue(mp.metrics.elapsedSeconds),
			"supported":       gaugeValue(mp.metrics.supported),
			"cpu_percent":     gaugeValue(mp.metrics.cpuPercent),
			"memory_percent":  gaugeValue(mp.metrics.memPercent),
		},
	}
	data, err := json.Marshal(stats)
	if err != nil {
		log.Printf("MQTT: failed to encode stats: %v", err)
		return
	}
	topic := fmt.Sprintf("%s/stats", mp.config.TopicPrefix)
	if token := mp.client.Publish(topic, 0, false, data); token.Wait() && token.Error() != nil {
		log.Printf("MQTT: failed to publish stats: %v", token.Error())
	}
}

// gaugeValue extracts the current value of a gauge via the client
// model
func gaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil || m.Gauge == nil {
		return 0
	}
	return m.Gauge.GetValue()
}

// Close disconnects from the broker
func (mp *MQTTPublisher) Close() {
	mp.client.Disconnect(250)
}

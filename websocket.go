package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sekz/welle.io/dab/announcement"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSServer pushes announcement events to connected UI clients. Like
// the MQTT publisher it is an enqueue-only coordinator sink; a
// broadcast goroutine fans events out to the sockets.
type WSServer struct {
	mu      sync.Mutex
	clients map[*wsClient]bool
	events  chan announcement.Event
	done    chan struct{}
	dropped uint64
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSEventMessage is the JSON frame sent to UI clients
type WSEventMessage struct {
	Kind        string `json:"kind"`
	Timestamp   int64  `json:"timestamp"`
	OldState    string `json:"old_state,omitempty"`
	NewState    string `json:"new_state,omitempty"`
	Type        string `json:"type,omitempty"`
	ClusterID   uint8  `json:"cluster_id,omitempty"`
	Subchannel  uint8  `json:"subchannel,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	DurationSec int    `json:"duration_seconds,omitempty"`
	Supported   *bool  `json:"supported,omitempty"`
}

// NewWSServer creates the WebSocket hub
func NewWSServer() *WSServer {
	return &WSServer{
		clients: make(map[*wsClient]bool),
		events:  make(chan announcement.Event, 256),
		done:    make(chan struct{}),
	}
}

// HandleAnnouncementEvent implements announcement.EventSink: enqueue
// and return, dropping when the buffer is full.
func (ws *WSServer) HandleAnnouncementEvent(ev announcement.Event) {
	select {
	case ws.events <- ev:
	default:
		ws.dropped++
	}
}

// Start runs the broadcast loop
func (ws *WSServer) Start() {
	go ws.broadcastLoop()
}

// Close stops the broadcast loop and disconnects all clients
func (ws *WSServer) Close() {
	close(ws.done)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for client := range ws.clients {
		close(client.send)
		client.conn.Close()
	}
	ws.clients = make(map[*wsClient]bool)
}

func (ws *WSServer) broadcastLoop() {
	for {
		select {
		case <-ws.done:
			return
		case ev := <-ws.events:
			data, err := json.Marshal(eventMessage(ev))
			if err != nil {
				log.Printf("WebSocket: failed to encode event: %v", err)
				continue
			}
			ws.broadcast(data)
		}
	}
}

func eventMessage(ev announcement.Event) WSEventMessage {
	msg := WSEventMessage{
		Kind:      ev.Kind.String(),
		Timestamp: ev.Time.Unix(),
	}
	switch ev.Kind {
	case announcement.EventStateChange:
		msg.OldState = ev.Old.String()
		msg.NewState = ev.New.String()
	case announcement.EventAnnouncementStarted, announcement.EventAnnouncementPreempted:
		msg.Type = ev.Announcement.HighestPriorityType().String()
		msg.ClusterID = ev.Announcement.ClusterID
		msg.Subchannel = ev.Announcement.SubchannelID
		msg.ServiceName = ev.ServiceName
	case announcement.EventAnnouncementEnded:
		msg.Type = ev.Entry.Type.String()
		msg.ServiceName = ev.Entry.ServiceName
		msg.DurationSec = int(ev.Entry.Duration / time.Second)
	case announcement.EventSupportChanged:
		supported := ev.Supported
		msg.Supported = &supported
	case announcement.EventDurationTick:
		msg.DurationSec = ev.ElapsedSeconds
	}
	return msg
}

func (ws *WSServer) broadcast(data []byte) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for client := range ws.clients {
		select {
		case client.send <- data:
		default:
			// Slow client - drop it rather than stall the others
			close(client.send)
			client.conn.Close()
			delete(ws.clients, client)
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket event stream
func (ws *WSServer) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket: upgrade failed: %v", err)
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, 64)}

	ws.mu.Lock()
	ws.clients[client] = true
	count := len(ws.clients)
	ws.mu.Unlock()
	log.Printf("WebSocket: client connected (%d active)", count)

	go ws.writeLoop(client)
	go ws.readLoop(client)
}

func (ws *WSServer) writeLoop(client *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-client.send:
			if !ok {
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				ws.remove(client)
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				ws.remove(client)
				return
			}
		}
	}
}

// readLoop drains client messages; the stream is one-way but reads
// are needed to process control frames and notice disconnects
func (ws *WSServer) readLoop(client *wsClient) {
	client.conn.SetReadLimit(512)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			ws.remove(client)
			return
		}
	}
}

func (ws *WSServer) remove(client *wsClient) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.clients[client] {
		delete(ws.clients, client)
		client.conn.Close()
	}
}

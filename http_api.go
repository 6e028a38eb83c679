package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sekz/welle.io/dab/announcement"
	"github.com/sekz/welle.io/dab/ews"
)

// APIServer exposes the announcement subsystem over HTTP: a status
// and history surface for UIs, preference mutation, the manual
// return button, the receiver location, and the WebSocket event feed.
type APIServer struct {
	config      *Config
	coordinator *announcement.Coordinator
	audio       *AudioMonitor
	ws          *WSServer
	server      *http.Server
}

// NewAPIServer wires the HTTP mux
func NewAPIServer(config *Config, coordinator *announcement.Coordinator, audio *AudioMonitor, ws *WSServer) *APIServer {
	api := &APIServer{
		config:      config,
		coordinator: coordinator,
		audio:       audio,
		ws:          ws,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ws.HandleWS)
	mux.HandleFunc("/api/status", api.handleStatus)
	mux.HandleFunc("/api/history", api.handleHistory)
	mux.HandleFunc("/api/preferences", api.handlePreferences)
	mux.HandleFunc("/api/return", api.handleReturn)
	mux.HandleFunc("/api/location", api.handleLocation)
	if config.Prometheus.Enabled {
		mux.Handle(config.Prometheus.Path, promhttp.Handler())
	}

	api.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return api
}

// Start runs the HTTP server in the background
func (api *APIServer) Start() {
	go func() {
		log.Printf("Server: listening on %s", api.server.Addr)
		if err := api.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Server: %v", err)
		}
	}()
}

// Close shuts the HTTP server down
func (api *APIServer) Close() {
	api.server.Close()
}

// StatusResponse is the /api/status JSON shape
type StatusResponse struct {
	Version           string              `json:"version"`
	State             string              `json:"state"`
	InAnnouncement    bool                `json:"in_announcement"`
	ElapsedSeconds    int                 `json:"elapsed_seconds"`
	Supported         bool                `json:"supported"`
	OriginalServiceID uint32              `json:"original_service_id"`
	Current           *CurrentInfo        `json:"current,omitempty"`
	Active            []ActiveClusterInfo `json:"active_clusters"`
	Audio             AudioInfo           `json:"audio"`
}

// CurrentInfo describes the announcement being handled
type CurrentInfo struct {
	Type       string `json:"type"`
	Priority   int    `json:"priority"`
	ClusterID  uint8  `json:"cluster_id"`
	Subchannel uint8  `json:"subchannel"`
}

// ActiveClusterInfo describes one entry of the active store
type ActiveClusterInfo struct {
	ClusterID  uint8  `json:"cluster_id"`
	Type       string `json:"type"`
	Subchannel uint8  `json:"subchannel"`
	EWS        bool   `json:"ews"`
}

// AudioInfo describes the monitored RTP stream
type AudioInfo struct {
	Subchannel uint32 `json:"subchannel"`
	PeakLevel  int16  `json:"peak_level"`
	LastPacket int64  `json:"last_packet"`
}

func (api *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:           Version,
		State:             api.coordinator.State().String(),
		InAnnouncement:    api.coordinator.InAnnouncement(),
		ElapsedSeconds:    int(api.coordinator.Elapsed() / time.Second),
		Supported:         api.coordinator.AnnouncementSupported(),
		OriginalServiceID: api.coordinator.OriginalServiceID(),
		Active:            []ActiveClusterInfo{},
	}
	if cur := api.coordinator.CurrentAnnouncement(); cur != nil {
		t := cur.HighestPriorityType()
		resp.Current = &CurrentInfo{
			Type:       t.String(),
			Priority:   t.Priority(),
			ClusterID:  cur.ClusterID,
			Subchannel: cur.SubchannelID,
		}
	}
	for _, rec := range api.coordinator.ActiveAnnouncements() {
		resp.Active = append(resp.Active, ActiveClusterInfo{
			ClusterID:  rec.ClusterID,
			Type:       rec.HighestPriorityType().String(),
			Subchannel: rec.SubchannelID,
			EWS:        rec.HasLocation,
		})
	}
	if api.audio != nil {
		ssrc, last, peak := api.audio.Status()
		resp.Audio = AudioInfo{Subchannel: ssrc, PeakLevel: peak}
		if !last.IsZero() {
			resp.Audio.LastPacket = last.Unix()
		}
	}
	writeJSON(w, resp)
}

// HistoryEntryInfo is one /api/history element
type HistoryEntryInfo struct {
	ID          string `json:"id"`
	Start       int64  `json:"start"`
	End         int64  `json:"end"`
	Type        string `json:"type"`
	ServiceName string `json:"service_name"`
	DurationSec int    `json:"duration_seconds"`
}

func (api *APIServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries := api.coordinator.HistorySnapshot()
	out := make([]HistoryEntryInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntryInfo{
			ID:          e.ID,
			Start:       e.Start.Unix(),
			End:         e.End.Unix(),
			Type:        e.Type.String(),
			ServiceName: e.ServiceName,
			DurationSec: int(e.Duration / time.Second),
		})
	}
	writeJSON(w, out)
}

// PreferencesBody is the GET response and POST request shape of
// /api/preferences. Pointer fields on POST mean "leave unchanged".
type PreferencesBody struct {
	Enabled           *bool  `json:"enabled,omitempty"`
	MinPriority       *int   `json:"min_priority,omitempty"`
	MaxDurationSec    *int   `json:"max_duration_seconds,omitempty"`
	AllowManualReturn *bool  `json:"allow_manual_return,omitempty"`
	EnabledTypes      *[]int `json:"enabled_types,omitempty"`
	Reset             bool   `json:"reset,omitempty"`
}

func (api *APIServer) handlePreferences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		prefs := api.coordinator.Preferences()
		enabled := prefs.Enabled
		minPriority := prefs.PriorityThreshold
		maxDuration := int(prefs.MaxDuration / time.Second)
		allowReturn := prefs.AllowManualReturn
		var types []int
		for t := announcement.Type(0); int(t) < announcement.NumTypes; t++ {
			if prefs.TypeEnabledFor(t) {
				types = append(types, int(t))
			}
		}
		writeJSON(w, PreferencesBody{
			Enabled:           &enabled,
			MinPriority:       &minPriority,
			MaxDurationSec:    &maxDuration,
			AllowManualReturn: &allowReturn,
			EnabledTypes:      &types,
		})

	case http.MethodPost:
		var body PreferencesBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if body.Reset {
			api.coordinator.ResetPreferences()
			w.WriteHeader(http.StatusNoContent)
			return
		}
		ok := true
		if body.Enabled != nil {
			ok = api.coordinator.SetEnabled(*body.Enabled) && ok
		}
		if body.MinPriority != nil {
			ok = api.coordinator.SetPriorityThreshold(*body.MinPriority) && ok
		}
		if body.MaxDurationSec != nil {
			ok = api.coordinator.SetMaxDuration(time.Duration(*body.MaxDurationSec)*time.Second) && ok
		}
		if body.AllowManualReturn != nil {
			ok = api.coordinator.SetManualReturnAllowed(*body.AllowManualReturn) && ok
		}
		if body.EnabledTypes != nil {
			enabled := make(map[announcement.Type]bool, len(*body.EnabledTypes))
			for _, n := range *body.EnabledTypes {
				if n >= 0 && n < announcement.NumTypes {
					enabled[announcement.Type(n)] = true
				}
			}
			for t := announcement.Type(0); int(t) < announcement.NumTypes; t++ {
				ok = api.coordinator.SetTypeEnabled(t, enabled[t]) && ok
			}
		}
		if !ok {
			http.Error(w, "one or more preference values rejected", http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (api *APIServer) handleReturn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !api.coordinator.ReturnNow() {
		http.Error(w, "manual return not possible", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LocationBody is the /api/location request/response shape
type LocationBody struct {
	Code  string `json:"code"`            // display or hex form; response uses display
	Hex   string `json:"hex,omitempty"`   // response only
	Clear bool   `json:"clear,omitempty"` // POST: unset the location
}

func (api *APIServer) handleLocation(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		lc := currentLocation.get()
		writeJSON(w, LocationBody{Code: lc.DisplayFormat(), Hex: lc.HexFormat()})

	case http.MethodPost:
		var body LocationBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if body.Clear {
			currentLocation.set(ews.LocationCode{})
			api.coordinator.SetLocationMatcher(nil)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		lc, err := ews.Parse(body.Code)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		currentLocation.set(lc)
		api.coordinator.SetLocationMatcher(lc)
		log.Printf("EWS: receiver location set to %s (%s)", lc.DisplayFormat(), lc.HexFormat())
		writeJSON(w, LocationBody{Code: lc.DisplayFormat(), Hex: lc.HexFormat()})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Server: failed to encode response: %v", err)
	}
}

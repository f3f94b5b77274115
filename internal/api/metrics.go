package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Bridge        *BridgeMetrics  `json:"bridge,omitempty"`
	Matrix        MatrixMetrics   `json:"matrix"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// BridgeMetrics contains MQTT bridge counters.
type BridgeMetrics struct {
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
	RequestsServed   uint64 `json:"requests_served"`
	EventsPublished  uint64 `json:"events_published"`
	StatesPublished  uint64 `json:"states_published"`
}

// MatrixMetrics contains controller and Telnet session statistics.
type MatrixMetrics struct {
	ID              string `json:"id"`
	HTTPConnected   bool   `json:"http_connected"`
	Telnet          string `json:"telnet"`
	CommandsSent    uint64 `json:"telnet_commands_sent"`
	CommandTimeouts uint64 `json:"telnet_command_timeouts"`
	PushMessages    uint64 `json:"telnet_push_messages"`
	Reconnects      uint64 `json:"telnet_reconnects"`
	EventsEmitted   uint64 `json:"events_emitted"`
	EventsDropped   uint64 `json:"events_dropped"`
}

// DatabaseMetrics contains database connection pool statistics and the
// audit journal's schema version.
type DatabaseMetrics struct {
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
	SchemaVersion   string `json:"schema_version,omitempty"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Connected: s.mqtt.IsConnected(),
		}
	}

	if s.bridge != nil {
		b := s.bridge.GetMetrics()
		metrics.Bridge = &BridgeMetrics{
			CommandsReceived: b.CommandsReceived,
			CommandsFailed:   b.CommandsFailed,
			RequestsServed:   b.RequestsServed,
			EventsPublished:  b.EventsPublished,
			StatesPublished:  b.StatesPublished,
		}
	}

	st := s.matrix.Status()
	telnet := "disabled"
	if st.TelnetEnabled {
		telnet = st.TelnetState.String()
	}
	metrics.Matrix = MatrixMetrics{
		ID:              st.ID,
		HTTPConnected:   st.HTTPConnected,
		Telnet:          telnet,
		CommandsSent:    st.Telnet.CommandsSent,
		CommandTimeouts: st.Telnet.CommandTimeouts,
		PushMessages:    st.Telnet.PushMessages,
		Reconnects:      st.Telnet.ReconnectsTotal,
		EventsEmitted:   st.EventsEmitted,
		EventsDropped:   st.EventsDropped,
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
		version, err := s.db.SchemaVersion(r.Context())
		if err != nil {
			s.logger.Warn("reading schema version", "error", err)
		}
		metrics.Database.SchemaVersion = version
	}

	writeJSON(w, http.StatusOK, metrics)
}

package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Transport metrics
	ActionsSentTotal    int64
	ActionTimeoutsTotal int64
	ReconnectsTotal     int64

	// Event metrics
	EventsReceivedTotal  int64
	EventsProcessedTotal int64
	EventsDroppedTotal   int64

	// Engine metrics
	SnapshotsBroadcastTotal int64
	StoreErrorsTotal        int64

	// WebSocket metrics
	WebSocketConnectionsTotal    int64
	WebSocketDisconnectionsTotal int64
	WebSocketMessagesTotal       int64
	WebSocketErrorsTotal         int64
	activeConnections            int64

	// HTTP metrics
	httpRequestsTotal map[string]map[int]int64 // endpoint -> status -> count

	// Timing
	startTime time.Time
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			httpRequestsTotal: make(map[string]map[int]int64),
			startTime:         time.Now(),
		}
	})
	return instance
}

// RecordActionSent increments the outbound action counter
func (m *Metrics) RecordActionSent() {
	m.mu.Lock()
	m.ActionsSentTotal++
	m.mu.Unlock()
}

// RecordActionTimeout increments the action timeout counter
func (m *Metrics) RecordActionTimeout() {
	m.mu.Lock()
	m.ActionTimeoutsTotal++
	m.mu.Unlock()
}

// RecordReconnect increments the reconnect attempt counter
func (m *Metrics) RecordReconnect() {
	m.mu.Lock()
	m.ReconnectsTotal++
	m.mu.Unlock()
}

// RecordEventReceived increments the events received counter
func (m *Metrics) RecordEventReceived() {
	m.mu.Lock()
	m.EventsReceivedTotal++
	m.mu.Unlock()
}

// RecordEventProcessed increments the events processed counter
func (m *Metrics) RecordEventProcessed() {
	m.mu.Lock()
	m.EventsProcessedTotal++
	m.mu.Unlock()
}

// RecordEventDropped increments the dropped event counter
func (m *Metrics) RecordEventDropped() {
	m.mu.Lock()
	m.EventsDroppedTotal++
	m.mu.Unlock()
}

// RecordSnapshotBroadcast increments the snapshot broadcast counter
func (m *Metrics) RecordSnapshotBroadcast() {
	m.mu.Lock()
	m.SnapshotsBroadcastTotal++
	m.mu.Unlock()
}

// RecordStoreError increments the durable store error counter
func (m *Metrics) RecordStoreError() {
	m.mu.Lock()
	m.StoreErrorsTotal++
	m.mu.Unlock()
}

// RecordWebSocketConnect increments connection counters
func (m *Metrics) RecordWebSocketConnect() {
	m.mu.Lock()
	m.WebSocketConnectionsTotal++
	m.activeConnections++
	m.mu.Unlock()
}

// RecordWebSocketDisconnect increments disconnection counter
func (m *Metrics) RecordWebSocketDisconnect() {
	m.mu.Lock()
	m.WebSocketDisconnectionsTotal++
	m.activeConnections--
	m.mu.Unlock()
}

// RecordWebSocketMessage increments message counter
func (m *Metrics) RecordWebSocketMessage() {
	m.mu.Lock()
	m.WebSocketMessagesTotal++
	m.mu.Unlock()
}

// RecordWebSocketError increments WebSocket error counter
func (m *Metrics) RecordWebSocketError() {
	m.mu.Lock()
	m.WebSocketErrorsTotal++
	m.mu.Unlock()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpRequestsTotal[endpoint] == nil {
		m.httpRequestsTotal[endpoint] = make(map[int]int64)
	}
	m.httpRequestsTotal[endpoint][statusCode]++
}

// GetActiveConnections returns current WebSocket connections
func (m *Metrics) GetActiveConnections() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeConnections
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		// Helper to write metric
		write := func(name string, value interface{}, labels ...string) {
			labelStr := ""
			if len(labels) > 0 {
				labelStr = "{"
				for i := 0; i < len(labels); i += 2 {
					if i > 0 {
						labelStr += ","
					}
					labelStr += labels[i] + "=\"" + labels[i+1] + "\""
				}
				labelStr += "}"
			}

			switch v := value.(type) {
			case int:
				w.Write([]byte(name + labelStr + " " + strconv.Itoa(v) + "\n"))
			case int64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatInt(v, 10) + "\n"))
			case float64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatFloat(v, 'f', 6, 64) + "\n"))
			}
		}

		// System metrics
		write("callwatch_uptime_seconds", time.Since(m.startTime).Seconds())

		// Transport metrics
		write("callwatch_actions_sent_total", m.ActionsSentTotal)
		write("callwatch_action_timeouts_total", m.ActionTimeoutsTotal)
		write("callwatch_reconnects_total", m.ReconnectsTotal)

		// Event metrics
		write("callwatch_events_received_total", m.EventsReceivedTotal)
		write("callwatch_events_processed_total", m.EventsProcessedTotal)
		write("callwatch_events_dropped_total", m.EventsDroppedTotal)

		// Calculate events per second
		uptimeSeconds := time.Since(m.startTime).Seconds()
		if uptimeSeconds > 0 {
			write("callwatch_events_per_second", float64(m.EventsReceivedTotal)/uptimeSeconds)
		}

		// Engine metrics
		write("callwatch_snapshots_broadcast_total", m.SnapshotsBroadcastTotal)
		write("callwatch_store_errors_total", m.StoreErrorsTotal)

		// WebSocket metrics
		write("callwatch_websocket_connections_total", m.WebSocketConnectionsTotal)
		write("callwatch_websocket_disconnections_total", m.WebSocketDisconnectionsTotal)
		write("callwatch_websocket_active_connections", m.activeConnections)
		write("callwatch_websocket_messages_total", m.WebSocketMessagesTotal)
		write("callwatch_websocket_errors_total", m.WebSocketErrorsTotal)

		// HTTP metrics
		for endpoint, statusCodes := range m.httpRequestsTotal {
			for status, count := range statusCodes {
				write("callwatch_http_requests_total", count, "endpoint", endpoint, "status", strconv.Itoa(status))
			}
		}
	}
}

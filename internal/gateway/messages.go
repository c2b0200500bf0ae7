package gateway

import "tradedash/internal/pipeline"

// Message types exchanged with UI clients.
const (
	// client → server
	msgSwitchSymbol   = "SWITCH_SYMBOL"
	msgSwitchInterval = "SWITCH_INTERVAL"
	msgToggle         = "TOGGLE"
	msgPing           = "PING"

	// server → client
	msgSnapshot = "snapshot"
	msgAck      = "ack"
	msgError    = "error"
	msgPong     = "pong"
	msgStats    = "stats"
)

// controlMsg is any client → server message.
type controlMsg struct {
	Type      string `json:"type"`
	ReqID     string `json:"req_id,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
	Interval  string `json:"interval,omitempty"`
	Indicator string `json:"indicator,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
	Ping      int64  `json:"ping,omitempty"`
}

// replyMsg acknowledges or rejects a control message.
type replyMsg struct {
	Type     string `json:"type"`
	ReqID    string `json:"req_id,omitempty"`
	Message  string `json:"message,omitempty"`
	Ping     int64  `json:"ping,omitempty"`
	ServerTS int64  `json:"server_ts,omitempty"`
}

// snapshotMsg is sent once when a client connects.
type snapshotMsg struct {
	Type     string             `json:"type"`
	Seq      int64              `json:"seq"`
	Snapshot *pipeline.Snapshot `json:"snapshot"`
}

type statsMsg struct {
	Type       string  `json:"type"`
	Clients    int     `json:"clients"`
	Seq        int64   `json:"seq"`
	UptimeSec  int64   `json:"uptime_sec"`
	LatencyP50 float64 `json:"latency_p50_ms"`
	LatencyP95 float64 `json:"latency_p95_ms"`
	LatencyP99 float64 `json:"latency_p99_ms"`
}

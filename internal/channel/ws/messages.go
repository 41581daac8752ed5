package ws

import "encoding/json"

// ProtocolVersion tracks the wire revision expected by clients.
const ProtocolVersion = 1

const (
	typeState     = "state"
	typeHeartbeat = "heartbeat"
	typeInput     = "input"
)

// stateMessage carries one full authoritative snapshot.
type stateMessage struct {
	Ver        int             `json:"ver"`
	Type       string          `json:"type"`
	Doc        json.RawMessage `json:"doc"`
	ServerTime int64           `json:"serverTime"`
}

// clientMessage captures an inbound websocket message from an observer.
type clientMessage struct {
	Ver    int             `json:"ver,omitempty"`
	Type   string          `json:"type"`
	Input  map[string]bool `json:"input,omitempty"`
	SentAt int64           `json:"sentAt,omitempty"`
}

// heartbeatMessage acknowledges a client heartbeat with timing data.
type heartbeatMessage struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
	RTTMillis  int64  `json:"rtt"`
}

package model

import "time"

type ConnStatus string

const (
	StatusDisconnected ConnStatus = "disconnected"
	StatusConnecting   ConnStatus = "connecting"
	StatusConnected    ConnStatus = "connected"
	StatusErrored      ConnStatus = "errored"
)

// ConnectionState describes one feed connection. ConnectionID is set only
// while Status is StatusConnected; it is cleared on any transition out.
type ConnectionState struct {
	Status       ConnStatus `json:"status"`
	ConnectionID string     `json:"connection_id,omitempty"`
	Error        string     `json:"error,omitempty"`
	LastUpdate   time.Time  `json:"last_update"`
}

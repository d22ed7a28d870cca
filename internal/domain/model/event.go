package model

type EventKind string

const (
	// Named events on the wire.
	EventConnected EventKind = "connected"
	EventPrices    EventKind = "prices"
	EventHeartbeat EventKind = "heartbeat"
	EventError     EventKind = "error"

	// EventFault is synthesized by a transport when the underlying
	// connection breaks; it never appears as a named wire event.
	EventFault EventKind = "fault"
)

// StreamEvent is one decoded message from a feed transport. Which fields
// are populated depends on Kind.
type StreamEvent struct {
	Kind         EventKind
	ConnectionID string       // connected
	CachedPrices []PriceQuote // connected: optional replay of recent quotes
	Prices       []PriceQuote // prices
	Connected    *bool        // prices: advisory flag, informational only
	Message      string       // error, fault
}

package transport

import (
	"encoding/json"

	"pricestream/internal/domain/model"
)

type connectedPayload struct {
	ConnectionID string             `json:"connection_id"`
	CachedPrices []model.PriceQuote `json:"cached_prices"`
}

type pricesPayload struct {
	Prices    []model.PriceQuote `json:"prices"`
	Connected *bool              `json:"connected"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type subscribeRequest struct {
	AssetIDs []int64 `json:"asset_ids"`
}

// decodeEvent maps a named wire event to a StreamEvent. Unknown names and
// malformed payloads are dropped (ok=false); per the protocol they must not
// affect connection state.
func decodeEvent(name string, data []byte) (model.StreamEvent, bool) {
	switch name {
	case "connected":
		var p connectedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return model.StreamEvent{}, false
		}
		return model.StreamEvent{
			Kind:         model.EventConnected,
			ConnectionID: p.ConnectionID,
			CachedPrices: p.CachedPrices,
		}, true

	case "prices":
		var p pricesPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return model.StreamEvent{}, false
		}
		return model.StreamEvent{
			Kind:      model.EventPrices,
			Prices:    p.Prices,
			Connected: p.Connected,
		}, true

	case "heartbeat":
		return model.StreamEvent{Kind: model.EventHeartbeat}, true

	case "error":
		var p errorPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return model.StreamEvent{}, false
		}
		return model.StreamEvent{Kind: model.EventError, Message: p.Message}, true
	}

	return model.StreamEvent{}, false
}

package gateway

import (
	"encoding/json"
	"time"
)

// GameEvent is the shape pushed to spectator WebSocket clients: the outbox
// envelope flattened to what a viewer needs.
type GameEvent struct {
	ID        string          `json:"id"`
	GameID    string          `json:"game_id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

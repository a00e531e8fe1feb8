package turn

import (
	"github.com/google/uuid"
	"github.com/mcdev12/sketchparty/go/internal/models"
)

// CreateTurnRequest represents a request to create a new turn
type CreateTurnRequest struct {
	ID             uuid.UUID         `json:"id"`
	GameID         uuid.UUID         `json:"game_id"`
	TurnNumber     int               `json:"turn_number"`
	Type           models.TurnType   `json:"type"`
	Status         models.TurnStatus `json:"status"`
	PlayerID       *uuid.UUID        `json:"player_id"`
	PreviousTurnID *uuid.UUID        `json:"previous_turn_id"`
}

// SubmitRequest represents the content a player submits for a pending turn.
// Exactly one of Text/ImageURL is set, matching the turn's type.
type SubmitRequest struct {
	PlayerID uuid.UUID `json:"player_id"`
	Text     *string   `json:"text,omitempty"`
	ImageURL *string   `json:"image_url,omitempty"`
}

// Kind returns the content kind carried by the request.
func (r SubmitRequest) Kind() models.TurnType {
	if r.ImageURL != nil {
		return models.TurnTypeDrawing
	}
	return models.TurnTypeWriting
}

// PlayerTurnCount pairs a player with a completed-turn tally, used by the
// season offering order.
type PlayerTurnCount struct {
	PlayerID uuid.UUID `json:"player_id"`
	Count    int       `json:"count"`
}

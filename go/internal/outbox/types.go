package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/sketchparty/go/internal/models"
)

// Event types emitted by the coordinator. The notification layer consumes
// these; delivery is best-effort and never rolls back game state.
const (
	EventTurnOffered                   = "TurnOffered"
	EventTurnWarning                   = "TurnWarning"
	EventTurnSubmittedAck              = "TurnSubmittedAck"
	EventTurnSkipped                   = "TurnSkipped"
	EventGameCompleted                 = "GameCompleted"
	EventSeasonCompleted               = "SeasonCompleted"
	EventContentFlagged                = "ContentFlagged"
	EventGameDeletedInitialTurnTimeout = "GameDeletedInitialTurnTimeout"
	EventTurnClaimed                   = "TurnClaimed"
	EventGameTerminated                = "GameTerminated"
	EventSeasonOpened                  = "SeasonOpened"
	EventSeasonStarted                 = "SeasonStarted"
	EventSeasonTerminated              = "SeasonTerminated"
)

// Event is one undelivered (or delivered) outbox row. AggregateID is the game
// or season the event concerns and keys consumer ordering.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	AggregateID uuid.UUID       `json:"aggregate_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	SentAt      *time.Time      `json:"sent_at,omitempty"`
}

// Intent payloads.

type TurnOfferedPayload struct {
	PlayerID uuid.UUID `json:"player_id"`
	TurnID   uuid.UUID `json:"turn_id"`
	GameID   uuid.UUID `json:"game_id"`
	Deadline time.Time `json:"deadline"`
}

type TurnWarningPayload struct {
	PlayerID    uuid.UUID     `json:"player_id"`
	TurnID      uuid.UUID     `json:"turn_id"`
	GameID      uuid.UUID     `json:"game_id"`
	Remaining   time.Duration `json:"remaining_ms"`
	IsClaimWarn bool          `json:"is_claim_warning"`
}

type TurnSubmittedAckPayload struct {
	PlayerID uuid.UUID `json:"player_id"`
	TurnID   uuid.UUID `json:"turn_id"`
	GameID   uuid.UUID `json:"game_id"`
}

type TurnSkippedPayload struct {
	PlayerID *uuid.UUID `json:"player_id,omitempty"`
	TurnID   uuid.UUID  `json:"turn_id"`
	GameID   uuid.UUID  `json:"game_id"`
}

type GameCompletedPayload struct {
	Game   models.Game `json:"game"`
	Reason string      `json:"reason"`
}

type SeasonCompletedPayload struct {
	Season models.Season `json:"season"`
}

type ContentFlaggedPayload struct {
	Turn      models.Turn `json:"turn"`
	FlaggerID uuid.UUID   `json:"flagger_id"`
}

type GameDeletedPayload struct {
	PlayerID uuid.UUID `json:"player_id"`
	GameID   uuid.UUID `json:"game_id"`
}

type TurnClaimedPayload struct {
	PlayerID uuid.UUID `json:"player_id"`
	TurnID   uuid.UUID `json:"turn_id"`
	GameID   uuid.UUID `json:"game_id"`
	Deadline time.Time `json:"deadline"`
}

type GameTerminatedPayload struct {
	Game models.Game `json:"game"`
}

type SeasonOpenedPayload struct {
	Season   models.Season `json:"season"`
	ClosesAt time.Time     `json:"closes_at"`
}

type SeasonStartedPayload struct {
	Season    models.Season `json:"season"`
	GameCount int           `json:"game_count"`
}

type SeasonTerminatedPayload struct {
	Season models.Season `json:"season"`
}

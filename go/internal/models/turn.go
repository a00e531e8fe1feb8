package models

import (
	"time"

	"github.com/google/uuid"
)

// TurnType defines the content kind of a turn.
type TurnType string

const (
	TurnTypeWriting TurnType = "WRITING"
	TurnTypeDrawing TurnType = "DRAWING"
)

// TurnStatus defines the status of a turn.
type TurnStatus string

const (
	TurnStatusAvailable TurnStatus = "AVAILABLE"
	TurnStatusOffered   TurnStatus = "OFFERED"
	TurnStatusPending   TurnStatus = "PENDING"
	TurnStatusCompleted TurnStatus = "COMPLETED"
	TurnStatusSkipped   TurnStatus = "SKIPPED"
	TurnStatusFlagged   TurnStatus = "FLAGGED"
)

// Terminal reports whether the status admits no further transitions.
// FLAGGED is terminal pending admin resolution.
func (s TurnStatus) Terminal() bool {
	switch s {
	case TurnStatusCompleted, TurnStatusSkipped, TurnStatusFlagged:
		return true
	}
	return false
}

// Head reports whether a turn in this status is the game's head turn. A game
// has at most one turn in a head status at a time.
func (s TurnStatus) Head() bool {
	switch s {
	case TurnStatusAvailable, TurnStatusOffered, TurnStatusPending:
		return true
	}
	return false
}

// Turn is one link of a game's alternating writing/drawing chain.
type Turn struct {
	ID             uuid.UUID  `json:"id"`
	GameID         uuid.UUID  `json:"game_id"`
	TurnNumber     int        `json:"turn_number"`
	Type           TurnType   `json:"type"`
	Status         TurnStatus `json:"status"`
	PlayerID       *uuid.UUID `json:"player_id,omitempty"`
	TextContent    *string    `json:"text_content,omitempty"`
	ImageURL       *string    `json:"image_url,omitempty"`
	PreviousTurnID *uuid.UUID `json:"previous_turn_id,omitempty"`
	OfferedAt      *time.Time `json:"offered_at,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	SkippedAt      *time.Time `json:"skipped_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// PatternStrings renders a turn pattern for persistence.
func PatternStrings(pattern []TurnType) []string {
	out := make([]string, len(pattern))
	for i, t := range pattern {
		out[i] = string(t)
	}
	return out
}

// PatternFromStrings parses a persisted turn pattern.
func PatternFromStrings(ss []string) []TurnType {
	out := make([]TurnType, len(ss))
	for i, s := range ss {
		out[i] = TurnType(s)
	}
	return out
}

// ValidPattern reports whether a turn pattern is non-empty and contains only
// known turn types.
func ValidPattern(pattern []TurnType) bool {
	if len(pattern) == 0 {
		return false
	}
	for _, t := range pattern {
		if t != TurnTypeWriting && t != TurnTypeDrawing {
			return false
		}
	}
	return true
}

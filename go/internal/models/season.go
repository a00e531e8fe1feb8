package models

import (
	"time"

	"github.com/google/uuid"
)

// SeasonStatus defines the status of a season.
type SeasonStatus string

const (
	SeasonStatusSetup      SeasonStatus = "SETUP"
	SeasonStatusOpen       SeasonStatus = "OPEN"
	SeasonStatusActive     SeasonStatus = "ACTIVE"
	SeasonStatusCompleted  SeasonStatus = "COMPLETED"
	SeasonStatusTerminated SeasonStatus = "TERMINATED"
)

// SeasonConfig holds the shared rules for a season cohort. Durations are
// persisted as milliseconds and parsed/rendered with the duration package.
type SeasonConfig struct {
	ID             uuid.UUID     `json:"id"`
	MinPlayers     int           `json:"min_players"`
	MaxPlayers     int           `json:"max_players"`
	OpenDuration   time.Duration `json:"open_duration"`
	TurnPattern    []TurnType    `json:"turn_pattern"`
	ClaimTimeout   time.Duration `json:"claim_timeout"`
	WritingTimeout time.Duration `json:"writing_timeout"`
	DrawingTimeout time.Duration `json:"drawing_timeout"`
	ClaimWarning   time.Duration `json:"claim_warning,omitempty"`
	WritingWarning time.Duration `json:"writing_warning,omitempty"`
	DrawingWarning time.Duration `json:"drawing_warning,omitempty"`
}

// SubmissionTimeout returns the submission timeout for the given turn type.
func (c *SeasonConfig) SubmissionTimeout(t TurnType) time.Duration {
	if t == TurnTypeDrawing {
		return c.DrawingTimeout
	}
	return c.WritingTimeout
}

// SubmissionWarning returns the warning offset for the given turn type.
// Zero means no warning is scheduled.
func (c *SeasonConfig) SubmissionWarning(t TurnType) time.Duration {
	if t == TurnTypeDrawing {
		return c.DrawingWarning
	}
	return c.WritingWarning
}

// Season is a player cohort playing a set of games under one config.
type Season struct {
	ID          uuid.UUID    `json:"id"`
	Status      SeasonStatus `json:"status"`
	CreatorID   uuid.UUID    `json:"creator_id"`
	ConfigID    uuid.UUID    `json:"config_id"`
	GuildID     *string      `json:"guild_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// SeasonMember is a row of the season membership set.
type SeasonMember struct {
	PlayerID uuid.UUID `json:"player_id"`
	SeasonID uuid.UUID `json:"season_id"`
	JoinedAt time.Time `json:"joined_at"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// GameStatus defines the status of a game.
type GameStatus string

const (
	GameStatusSetup      GameStatus = "SETUP"
	GameStatusPending    GameStatus = "PENDING"
	GameStatusActive     GameStatus = "ACTIVE"
	GameStatusCompleted  GameStatus = "COMPLETED"
	GameStatusTerminated GameStatus = "TERMINATED"
	GameStatusPaused     GameStatus = "PAUSED"
)

// GameConfig holds the rules for an on-demand game. ReturnCount of zero means
// a player may take unlimited turns; ReturnCooldown is the number of turns by
// other players required between a player's repeat appearances.
type GameConfig struct {
	ID             uuid.UUID     `json:"id"`
	TurnPattern    []TurnType    `json:"turn_pattern"`
	MinTurns       int           `json:"min_turns"`
	MaxTurns       *int          `json:"max_turns,omitempty"`
	StaleTimeout   time.Duration `json:"stale_timeout"`
	ReturnCount    int           `json:"return_count"`
	ReturnCooldown int           `json:"return_cooldown"`
	ClaimTimeout   time.Duration `json:"claim_timeout"`
	WritingTimeout time.Duration `json:"writing_timeout"`
	DrawingTimeout time.Duration `json:"drawing_timeout"`
	ClaimWarning   time.Duration `json:"claim_warning,omitempty"`
	WritingWarning time.Duration `json:"writing_warning,omitempty"`
	DrawingWarning time.Duration `json:"drawing_warning,omitempty"`
}

// SubmissionTimeout returns the submission timeout for the given turn type.
func (c *GameConfig) SubmissionTimeout(t TurnType) time.Duration {
	if t == TurnTypeDrawing {
		return c.DrawingTimeout
	}
	return c.WritingTimeout
}

// SubmissionWarning returns the warning offset for the given turn type.
// Zero means no warning is scheduled.
func (c *GameConfig) SubmissionWarning(t TurnType) time.Duration {
	if t == TurnTypeDrawing {
		return c.DrawingWarning
	}
	return c.WritingWarning
}

// Game is a chain of alternating writing and drawing turns. A game belongs
// either to a season (SeasonID set) or is on-demand (CreatorID/GuildID/ConfigID
// set); the two shapes never mix.
type Game struct {
	ID             uuid.UUID  `json:"id"`
	Status         GameStatus `json:"status"`
	SeasonID       *uuid.UUID `json:"season_id,omitempty"`
	CreatorID      *uuid.UUID `json:"creator_id,omitempty"`
	GuildID        *string    `json:"guild_id,omitempty"`
	ConfigID       *uuid.UUID `json:"config_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// OnDemand reports whether the game is an on-demand game rather than a season game.
func (g *Game) OnDemand() bool {
	return g.SeasonID == nil
}

package game

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/sketchparty/go/internal/models"
)

// CreateOnDemandGameRequest creates an on-demand game together with its
// per-game config. Duration fields arrive already parsed from their compact
// string form.
type CreateOnDemandGameRequest struct {
	CreatorID      uuid.UUID         `json:"creator_id"`
	GuildID        string            `json:"guild_id"`
	TurnPattern    []models.TurnType `json:"turn_pattern"`
	MinTurns       int               `json:"min_turns"`
	MaxTurns       *int              `json:"max_turns,omitempty"`
	StaleTimeout   time.Duration     `json:"stale_timeout"`
	ReturnCount    int               `json:"return_count"`
	ReturnCooldown int               `json:"return_cooldown"`
	ClaimTimeout   time.Duration     `json:"claim_timeout"`
	WritingTimeout time.Duration     `json:"writing_timeout"`
	DrawingTimeout time.Duration     `json:"drawing_timeout"`
	ClaimWarning   time.Duration     `json:"claim_warning,omitempty"`
	WritingWarning time.Duration     `json:"writing_warning,omitempty"`
	DrawingWarning time.Duration     `json:"drawing_warning,omitempty"`
}

package season

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/sketchparty/go/internal/models"
)

// CreateSeasonRequest creates a season in SETUP together with its config.
// Duration fields arrive already parsed from their compact string form.
type CreateSeasonRequest struct {
	CreatorID      uuid.UUID         `json:"creator_id"`
	GuildID        *string           `json:"guild_id,omitempty"`
	MinPlayers     int               `json:"min_players"`
	MaxPlayers     int               `json:"max_players"`
	OpenDuration   time.Duration     `json:"open_duration"`
	TurnPattern    []models.TurnType `json:"turn_pattern"`
	ClaimTimeout   time.Duration     `json:"claim_timeout"`
	WritingTimeout time.Duration     `json:"writing_timeout"`
	DrawingTimeout time.Duration     `json:"drawing_timeout"`
	ClaimWarning   time.Duration     `json:"claim_warning,omitempty"`
	WritingWarning time.Duration     `json:"writing_warning,omitempty"`
	DrawingWarning time.Duration     `json:"drawing_warning,omitempty"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Player is a registered participant, keyed by the chat platform user ID.
type Player struct {
	ID             uuid.UUID  `json:"id"`
	ExternalUserID string     `json:"external_user_id"`
	DisplayName    string     `json:"display_name"`
	BannedAt       *time.Time `json:"banned_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Banned reports whether the player is currently banned.
func (p *Player) Banned() bool {
	return p.BannedAt != nil
}

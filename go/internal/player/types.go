package player

// UpsertPlayerRequest registers a player by chat-platform identity, or
// refreshes the display name of an existing registration.
type UpsertPlayerRequest struct {
	ExternalUserID string `json:"external_user_id"`
	DisplayName    string `json:"display_name"`
}

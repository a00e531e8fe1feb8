package player

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sketchparty/go/internal/models"
)

// PlayerRepository defines what the player app layer needs from the repository
type PlayerRepository interface {
	UpsertPlayer(ctx context.Context, req UpsertPlayerRequest) (*models.Player, error)
	GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error)
	GetPlayerByExternalID(ctx context.Context, externalUserID string) (*models.Player, error)
	ListPlayers(ctx context.Context, ids []uuid.UUID) ([]models.Player, error)
	SetBanned(ctx context.Context, id uuid.UUID, bannedAt sql.NullTime) (*models.Player, error)
}

// App handles player registry logic.
type App struct {
	repo  PlayerRepository
	clock clockwork.Clock
}

// NewApp creates a new player App
func NewApp(repo PlayerRepository, clock clockwork.Clock) *App {
	return &App{repo: repo, clock: clock}
}

// UpsertPlayer registers a player or refreshes an existing registration's
// display name. Registration is keyed by the chat-platform user ID.
func (a *App) UpsertPlayer(ctx context.Context, req UpsertPlayerRequest) (*models.Player, error) {
	if strings.TrimSpace(req.ExternalUserID) == "" {
		return nil, fmt.Errorf("%w: external user id is required", models.ErrValidation)
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		return nil, fmt.Errorf("%w: display name is required", models.ErrValidation)
	}

	p, err := a.repo.UpsertPlayer(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("player_id", p.ID.String()).
		Str("external_user_id", p.ExternalUserID).
		Msg("upserted player")
	return p, nil
}

// GetPlayer retrieves a player by ID.
func (a *App) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	return a.repo.GetPlayer(ctx, id)
}

// GetPlayerByExternalID retrieves a player by chat-platform user ID.
func (a *App) GetPlayerByExternalID(ctx context.Context, externalUserID string) (*models.Player, error) {
	return a.repo.GetPlayerByExternalID(ctx, externalUserID)
}

// ListPlayers resolves a set of player IDs.
func (a *App) ListPlayers(ctx context.Context, ids []uuid.UUID) ([]models.Player, error) {
	return a.repo.ListPlayers(ctx, ids)
}

// BanPlayer bans a player. Banned players cannot create games or receive
// offers; idempotent on an already-banned player.
func (a *App) BanPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	p, err := a.repo.SetBanned(ctx, id, sql.NullTime{Time: a.clock.Now(), Valid: true})
	if err != nil {
		return nil, err
	}
	log.Warn().Str("player_id", p.ID.String()).Msg("player banned")
	return p, nil
}

// UnbanPlayer lifts a ban. Idempotent on a player who isn't banned.
func (a *App) UnbanPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	p, err := a.repo.SetBanned(ctx, id, sql.NullTime{})
	if err != nil {
		return nil, err
	}
	log.Info().Str("player_id", p.ID.String()).Msg("player unbanned")
	return p, nil
}

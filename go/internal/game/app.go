package game

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sketchparty/go/internal/models"
)

// GameRepository defines what the game app layer needs from the repository
type GameRepository interface {
	CreateOnDemandGame(ctx context.Context, req CreateOnDemandGameRequest, at time.Time) (*models.Game, *models.GameConfig, error)
	CreateSeasonGame(ctx context.Context, seasonID uuid.UUID, at time.Time) (*models.Game, error)
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	GetGameConfig(ctx context.Context, id uuid.UUID) (*models.GameConfig, error)
	ListGamesBySeason(ctx context.Context, seasonID uuid.UUID) ([]models.Game, error)
	ListActiveOnDemandByGuild(ctx context.Context, guildID string) ([]models.Game, error)
	ListActiveOnDemand(ctx context.Context) ([]models.Game, error)
	CountUnfinishedBySeason(ctx context.Context, seasonID uuid.UUID) (int, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.GameStatus, completedAt *time.Time) (*models.Game, error)
	TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteGame(ctx context.Context, id uuid.UUID) error
}

// App handles game lifecycle logic.
type App struct {
	repo  GameRepository
	clock clockwork.Clock
}

// NewApp creates a new game App
func NewApp(repo GameRepository, clock clockwork.Clock) *App {
	return &App{repo: repo, clock: clock}
}

// CreateOnDemandGame validates the config and creates an ACTIVE on-demand
// game. The creator's initial pending turn is the coordinator's concern.
func (a *App) CreateOnDemandGame(ctx context.Context, req CreateOnDemandGameRequest) (*models.Game, *models.GameConfig, error) {
	if err := validateConfig(req); err != nil {
		return nil, nil, err
	}

	g, cfg, err := a.repo.CreateOnDemandGame(ctx, req, a.clock.Now())
	if err != nil {
		return nil, nil, err
	}
	log.Info().
		Str("game_id", g.ID.String()).
		Str("creator_id", req.CreatorID.String()).
		Str("guild_id", req.GuildID).
		Int("min_turns", cfg.MinTurns).
		Msg("created on-demand game")
	return g, cfg, nil
}

// CreateSeasonGame creates one ACTIVE game of a season's cohort.
func (a *App) CreateSeasonGame(ctx context.Context, seasonID uuid.UUID) (*models.Game, error) {
	g, err := a.repo.CreateSeasonGame(ctx, seasonID, a.clock.Now())
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("game_id", g.ID.String()).
		Str("season_id", seasonID.String()).
		Msg("created season game")
	return g, nil
}

// CompleteGame transitions ACTIVE -> COMPLETED. Idempotent at the coordinator
// level: completing an already-completed game surfaces as ErrStaleState.
func (a *App) CompleteGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	now := a.clock.Now()
	g, err := a.repo.TransitionStatus(ctx, id, models.GameStatusActive, models.GameStatusCompleted, &now)
	if err != nil {
		return nil, err
	}
	log.Info().Str("game_id", g.ID.String()).Msg("game completed")
	return g, nil
}

// PauseGame transitions ACTIVE -> PAUSED, freezing offers until an admin
// resolves the flagged content.
func (a *App) PauseGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	g, err := a.repo.TransitionStatus(ctx, id, models.GameStatusActive, models.GameStatusPaused, nil)
	if err != nil {
		return nil, err
	}
	log.Warn().Str("game_id", g.ID.String()).Msg("game paused")
	return g, nil
}

// ResumeGame transitions PAUSED -> ACTIVE.
func (a *App) ResumeGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	g, err := a.repo.TransitionStatus(ctx, id, models.GameStatusPaused, models.GameStatusActive, nil)
	if err != nil {
		return nil, err
	}
	log.Info().Str("game_id", g.ID.String()).Msg("game resumed")
	return g, nil
}

// TerminateGame force-ends a game from any live status.
func (a *App) TerminateGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	current, err := a.repo.GetGame(ctx, id)
	if err != nil {
		return nil, err
	}
	switch current.Status {
	case models.GameStatusCompleted, models.GameStatusTerminated:
		return nil, fmt.Errorf("%w: game already %s", models.ErrPrecondition, current.Status)
	}

	g, err := a.repo.TransitionStatus(ctx, id, current.Status, models.GameStatusTerminated, nil)
	if err != nil {
		return nil, err
	}
	log.Warn().Str("game_id", g.ID.String()).Msg("game terminated")
	return g, nil
}

// TouchActivity records player activity for staleness tracking.
func (a *App) TouchActivity(ctx context.Context, id uuid.UUID) error {
	return a.repo.TouchActivity(ctx, id, a.clock.Now())
}

// GetGame retrieves a game by ID.
func (a *App) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	return a.repo.GetGame(ctx, id)
}

// GetGameConfig retrieves a game config by ID.
func (a *App) GetGameConfig(ctx context.Context, id uuid.UUID) (*models.GameConfig, error) {
	return a.repo.GetGameConfig(ctx, id)
}

// ListGamesBySeason returns all of a season's games.
func (a *App) ListGamesBySeason(ctx context.Context, seasonID uuid.UUID) ([]models.Game, error) {
	return a.repo.ListGamesBySeason(ctx, seasonID)
}

// ListActiveOnDemandByGuild returns a guild's joinable on-demand games,
// oldest activity first.
func (a *App) ListActiveOnDemandByGuild(ctx context.Context, guildID string) ([]models.Game, error) {
	return a.repo.ListActiveOnDemandByGuild(ctx, guildID)
}

// ListActiveOnDemand returns every ACTIVE on-demand game, for the stale sweep.
func (a *App) ListActiveOnDemand(ctx context.Context) ([]models.Game, error) {
	return a.repo.ListActiveOnDemand(ctx)
}

// CountUnfinishedBySeason counts a season's games still in play.
func (a *App) CountUnfinishedBySeason(ctx context.Context, seasonID uuid.UUID) (int, error) {
	return a.repo.CountUnfinishedBySeason(ctx, seasonID)
}

// DeleteGame removes a game row after its turns are gone.
func (a *App) DeleteGame(ctx context.Context, id uuid.UUID) error {
	if err := a.repo.DeleteGame(ctx, id); err != nil {
		return err
	}
	log.Info().Str("game_id", id.String()).Msg("deleted game")
	return nil
}

func validateConfig(req CreateOnDemandGameRequest) error {
	if req.GuildID == "" {
		return fmt.Errorf("%w: guild id is required", models.ErrValidation)
	}
	if !models.ValidPattern(req.TurnPattern) {
		return fmt.Errorf("%w: turn pattern must be a non-empty mix of WRITING and DRAWING", models.ErrValidation)
	}
	if req.MinTurns < 1 {
		return fmt.Errorf("%w: min turns must be at least 1", models.ErrValidation)
	}
	if req.MaxTurns != nil && *req.MaxTurns < req.MinTurns {
		return fmt.Errorf("%w: max turns must be >= min turns", models.ErrValidation)
	}
	if req.StaleTimeout <= 0 {
		return fmt.Errorf("%w: stale timeout must be positive", models.ErrValidation)
	}
	if req.ReturnCount < 0 || req.ReturnCooldown < 0 {
		return fmt.Errorf("%w: return policy values cannot be negative", models.ErrValidation)
	}
	if req.ClaimTimeout <= 0 || req.WritingTimeout <= 0 || req.DrawingTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", models.ErrValidation)
	}
	if req.ClaimWarning < 0 || req.WritingWarning < 0 || req.DrawingWarning < 0 {
		return fmt.Errorf("%w: warning offsets cannot be negative", models.ErrValidation)
	}
	return nil
}

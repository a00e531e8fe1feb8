package season

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sketchparty/go/internal/models"
)

// SeasonRepository defines what the season app layer needs from the repository
type SeasonRepository interface {
	CreateSeason(ctx context.Context, req CreateSeasonRequest) (*models.Season, *models.SeasonConfig, error)
	GetSeason(ctx context.Context, id uuid.UUID) (*models.Season, error)
	GetSeasonConfig(ctx context.Context, id uuid.UUID) (*models.SeasonConfig, error)
	ListSeasonsByGuild(ctx context.Context, guildID string) ([]models.Season, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.SeasonStatus, completedAt *time.Time) (*models.Season, error)
	AddMember(ctx context.Context, seasonID, playerID uuid.UUID, at time.Time) (bool, error)
	ListMembers(ctx context.Context, seasonID uuid.UUID) ([]models.SeasonMember, error)
	CountMembers(ctx context.Context, seasonID uuid.UUID) (int, error)
}

// App handles season lifecycle logic. The undersized flag lets dev
// deployments start a season below the configured minimum.
type App struct {
	repo            SeasonRepository
	clock           clockwork.Clock
	allowUndersized bool
}

// NewApp creates a new season App
func NewApp(repo SeasonRepository, clock clockwork.Clock, allowUndersized bool) *App {
	return &App{repo: repo, clock: clock, allowUndersized: allowUndersized}
}

// CreateSeason validates the config and creates a season in SETUP. The
// creator is enrolled as the first member.
func (a *App) CreateSeason(ctx context.Context, req CreateSeasonRequest) (*models.Season, error) {
	if err := validateConfig(req); err != nil {
		return nil, err
	}

	s, cfg, err := a.repo.CreateSeason(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := a.repo.AddMember(ctx, s.ID, req.CreatorID, a.clock.Now()); err != nil {
		return nil, err
	}

	log.Info().
		Str("season_id", s.ID.String()).
		Str("creator_id", req.CreatorID.String()).
		Int("min_players", cfg.MinPlayers).
		Int("max_players", cfg.MaxPlayers).
		Msg("created season")
	return s, nil
}

// OpenSeason transitions SETUP -> OPEN for joining.
func (a *App) OpenSeason(ctx context.Context, id uuid.UUID) (*models.Season, error) {
	s, err := a.repo.TransitionStatus(ctx, id, models.SeasonStatusSetup, models.SeasonStatusOpen, nil)
	if err != nil {
		return nil, err
	}
	log.Info().Str("season_id", s.ID.String()).Msg("season open for joining")
	return s, nil
}

// JoinSeason enrolls a player in an OPEN season, enforcing the member cap.
// Joining twice is a no-op.
func (a *App) JoinSeason(ctx context.Context, seasonID, playerID uuid.UUID) (*models.Season, error) {
	s, err := a.repo.GetSeason(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	if s.Status != models.SeasonStatusOpen {
		return nil, fmt.Errorf("%w: season is %s, not open for joining", models.ErrPrecondition, s.Status)
	}

	cfg, err := a.repo.GetSeasonConfig(ctx, s.ConfigID)
	if err != nil {
		return nil, err
	}
	count, err := a.repo.CountMembers(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	if count >= cfg.MaxPlayers {
		return nil, fmt.Errorf("%w: season is full (%d players)", models.ErrPrecondition, cfg.MaxPlayers)
	}

	added, err := a.repo.AddMember(ctx, seasonID, playerID, a.clock.Now())
	if err != nil {
		return nil, err
	}
	if added {
		log.Info().
			Str("season_id", seasonID.String()).
			Str("player_id", playerID.String()).
			Msg("player joined season")
	}
	return s, nil
}

// StartSeason transitions OPEN -> ACTIVE. Requires the configured minimum
// membership unless undersized starts are allowed.
func (a *App) StartSeason(ctx context.Context, id uuid.UUID) (*models.Season, error) {
	s, err := a.repo.GetSeason(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != models.SeasonStatusOpen {
		return nil, fmt.Errorf("%w: season is %s, not open", models.ErrPrecondition, s.Status)
	}

	cfg, err := a.repo.GetSeasonConfig(ctx, s.ConfigID)
	if err != nil {
		return nil, err
	}
	count, err := a.repo.CountMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	if count < cfg.MinPlayers && !a.allowUndersized {
		return nil, fmt.Errorf("%w: season has %d of %d required players", models.ErrPrecondition, count, cfg.MinPlayers)
	}

	started, err := a.repo.TransitionStatus(ctx, id, models.SeasonStatusOpen, models.SeasonStatusActive, nil)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("season_id", started.ID.String()).
		Int("players", count).
		Msg("season started")
	return started, nil
}

// CompleteSeason transitions ACTIVE -> COMPLETED once every season game is done.
func (a *App) CompleteSeason(ctx context.Context, id uuid.UUID) (*models.Season, error) {
	now := a.clock.Now()
	s, err := a.repo.TransitionStatus(ctx, id, models.SeasonStatusActive, models.SeasonStatusCompleted, &now)
	if err != nil {
		return nil, err
	}
	log.Info().Str("season_id", s.ID.String()).Msg("season completed")
	return s, nil
}

// TerminateSeason force-ends a season from any non-terminal status.
func (a *App) TerminateSeason(ctx context.Context, id uuid.UUID) (*models.Season, error) {
	current, err := a.repo.GetSeason(ctx, id)
	if err != nil {
		return nil, err
	}
	switch current.Status {
	case models.SeasonStatusCompleted, models.SeasonStatusTerminated:
		return nil, fmt.Errorf("%w: season already %s", models.ErrPrecondition, current.Status)
	}

	now := a.clock.Now()
	s, err := a.repo.TransitionStatus(ctx, id, current.Status, models.SeasonStatusTerminated, &now)
	if err != nil {
		return nil, err
	}
	log.Warn().Str("season_id", s.ID.String()).Msg("season terminated")
	return s, nil
}

// GetSeason retrieves a season by ID.
func (a *App) GetSeason(ctx context.Context, id uuid.UUID) (*models.Season, error) {
	return a.repo.GetSeason(ctx, id)
}

// GetSeasonConfig retrieves a season config by ID.
func (a *App) GetSeasonConfig(ctx context.Context, id uuid.UUID) (*models.SeasonConfig, error) {
	return a.repo.GetSeasonConfig(ctx, id)
}

// ListSeasonsByGuild returns a guild's seasons, newest first.
func (a *App) ListSeasonsByGuild(ctx context.Context, guildID string) ([]models.Season, error) {
	return a.repo.ListSeasonsByGuild(ctx, guildID)
}

// ListMembers returns a season's members in join order.
func (a *App) ListMembers(ctx context.Context, seasonID uuid.UUID) ([]models.SeasonMember, error) {
	return a.repo.ListMembers(ctx, seasonID)
}

func validateConfig(req CreateSeasonRequest) error {
	if req.MinPlayers < 2 {
		return fmt.Errorf("%w: min players must be at least 2", models.ErrValidation)
	}
	if req.MaxPlayers < req.MinPlayers {
		return fmt.Errorf("%w: max players must be >= min players", models.ErrValidation)
	}
	if !models.ValidPattern(req.TurnPattern) {
		return fmt.Errorf("%w: turn pattern must be a non-empty mix of WRITING and DRAWING", models.ErrValidation)
	}
	if req.OpenDuration <= 0 {
		return fmt.Errorf("%w: open duration must be positive", models.ErrValidation)
	}
	if req.ClaimTimeout <= 0 || req.WritingTimeout <= 0 || req.DrawingTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", models.ErrValidation)
	}
	if req.ClaimWarning < 0 || req.WritingWarning < 0 || req.DrawingWarning < 0 {
		return fmt.Errorf("%w: warning offsets cannot be negative", models.ErrValidation)
	}
	return nil
}

package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sketchparty/go/internal/jobs"
	"github.com/mcdev12/sketchparty/go/internal/models"
	"github.com/mcdev12/sketchparty/go/internal/outbox"
	"github.com/mcdev12/sketchparty/go/internal/season"
)

// CreateSeason creates a season in SETUP. The creator is enrolled as its
// first member by the season app.
func (c *Coordinator) CreateSeason(ctx context.Context, req season.CreateSeasonRequest) (*models.Season, error) {
	creator, err := c.players.GetPlayer(ctx, req.CreatorID)
	if err != nil {
		return nil, err
	}
	if creator.Banned() {
		return nil, fmt.Errorf("%w: banned players cannot create seasons", models.ErrPrecondition)
	}
	return c.seasons.CreateSeason(ctx, req)
}

// OpenSeason opens enrollment and arms the open-window deadline. The season
// stays OPEN if the deadline cannot be armed; enrollment still works and the
// season can be started manually.
func (c *Coordinator) OpenSeason(ctx context.Context, seasonID uuid.UUID) (*models.Season, error) {
	s, err := c.seasons.OpenSeason(ctx, seasonID)
	if err != nil {
		return nil, err
	}

	cfg, err := c.seasons.GetSeasonConfig(ctx, s.ConfigID)
	if err != nil {
		return nil, err
	}

	fireAt := c.clock.Now().Add(cfg.OpenDuration)
	err = c.scheduler.Schedule(ctx, jobs.SeasonOpenTimeoutJobID(seasonID), fireAt,
		models.JobTypeSeasonOpenTimeout, jobs.SeasonPayload{SeasonID: seasonID})
	if err != nil && !errors.Is(err, jobs.ErrJobExists) {
		log.Error().Err(err).Str("season_id", seasonID.String()).Msg("failed to arm season open deadline")
		return s, fmt.Errorf("%w: season open deadline not armed: %v", models.ErrScheduler, err)
	}

	c.emit(ctx, "SeasonOpened", func() error {
		return c.intents.EmitSeasonOpened(ctx, outbox.SeasonOpenedPayload{Season: *s, ClosesAt: fireAt})
	})

	log.Info().
		Str("season_id", seasonID.String()).
		Time("closes_at", fireAt).
		Msg("season open for enrollment")
	return s, nil
}

// JoinSeason enrolls a player during the OPEN window.
func (c *Coordinator) JoinSeason(ctx context.Context, seasonID, playerID uuid.UUID) (*models.Season, error) {
	p, err := c.players.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if p.Banned() {
		return nil, fmt.Errorf("%w: banned players cannot join seasons", models.ErrPrecondition)
	}
	return c.seasons.JoinSeason(ctx, seasonID, playerID)
}

// StartSeason activates the season, creates one game per member, and offers
// the first turn of each. Game creation failures after the transition are
// logged and surfaced; already-created games stay and keep running.
func (c *Coordinator) StartSeason(ctx context.Context, seasonID uuid.UUID) (*models.Season, error) {
	s, err := c.seasons.StartSeason(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	c.scheduler.Cancel(ctx, jobs.SeasonOpenTimeoutJobID(seasonID))

	members, err := c.seasons.ListMembers(ctx, seasonID)
	if err != nil {
		return nil, err
	}

	for range members {
		g, err := c.games.CreateSeasonGame(ctx, seasonID)
		if err != nil {
			return nil, fmt.Errorf("failed to create season game: %w", err)
		}
		if err := c.OfferNextTurn(ctx, g); err != nil {
			log.Error().Err(err).
				Str("game_id", g.ID.String()).
				Str("season_id", seasonID.String()).
				Msg("failed to offer first turn of season game")
		}
	}

	c.emit(ctx, "SeasonStarted", func() error {
		return c.intents.EmitSeasonStarted(ctx, outbox.SeasonStartedPayload{Season: *s, GameCount: len(members)})
	})

	log.Info().
		Str("season_id", seasonID.String()).
		Int("games", len(members)).
		Msg("season started")
	return s, nil
}

// TerminateSeason force-ends the season and all of its unfinished games.
func (c *Coordinator) TerminateSeason(ctx context.Context, seasonID uuid.UUID) error {
	s, err := c.seasons.TerminateSeason(ctx, seasonID)
	if err != nil {
		return err
	}
	c.scheduler.Cancel(ctx, jobs.SeasonOpenTimeoutJobID(seasonID))

	games, err := c.games.ListGamesBySeason(ctx, seasonID)
	if err != nil {
		return err
	}
	for _, g := range games {
		if err := c.TerminateGame(ctx, g.ID); err != nil {
			if errors.Is(err, models.ErrPrecondition) {
				// Already finished; nothing to end.
				continue
			}
			return err
		}
	}

	c.emit(ctx, "SeasonTerminated", func() error {
		return c.intents.EmitSeasonTerminated(ctx, outbox.SeasonTerminatedPayload{Season: *s})
	})

	log.Warn().Str("season_id", seasonID.String()).Msg("season terminated")
	return nil
}

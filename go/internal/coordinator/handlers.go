package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sketchparty/go/internal/jobs"
	"github.com/mcdev12/sketchparty/go/internal/models"
	"github.com/mcdev12/sketchparty/go/internal/outbox"
)

// SweepInterval is the cadence of the stale-game sweep.
const SweepInterval = 5 * time.Minute

// RegisterHandlers wires the coordinator's job handlers into the scheduler.
// Jobs are delivered at least once, so every handler re-reads its aggregate
// and no-ops when the state already moved on.
func (c *Coordinator) RegisterHandlers(s *jobs.Scheduler) {
	s.RegisterHandler(models.JobTypeTurnWarning, c.handleTurnWarning)
	s.RegisterHandler(models.JobTypeTurnClaimTimeout, c.handleTurnClaimTimeout)
	s.RegisterHandler(models.JobTypeTurnSubmissionWarning, c.handleTurnSubmissionWarning)
	s.RegisterHandler(models.JobTypeTurnTimeout, c.handleTurnTimeout)
	s.RegisterHandler(models.JobTypeSeasonOpenTimeout, c.handleSeasonOpenTimeout)
	s.RegisterHandler(models.JobTypeStaleGameSweep, c.handleStaleGameSweep)
}

// handleTurnWarning nudges a player whose offer is about to expire.
func (c *Coordinator) handleTurnWarning(ctx context.Context, payload json.RawMessage) error {
	var p jobs.TurnPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("bad turn warning payload: %w", err)
	}

	t, err := c.turns.GetTurn(ctx, p.TurnID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	if t.Status != models.TurnStatusOffered || t.PlayerID == nil || t.OfferedAt == nil {
		return nil
	}

	g, err := c.games.GetGame(ctx, t.GameID)
	if err != nil {
		return err
	}
	cfg, err := c.timingFor(ctx, g, t.Type)
	if err != nil {
		return err
	}

	remaining := t.OfferedAt.Add(cfg.ClaimTimeout).Sub(c.clock.Now())
	if remaining <= 0 {
		return nil
	}
	c.emit(ctx, "TurnWarning", func() error {
		return c.intents.EmitTurnWarning(ctx, outbox.TurnWarningPayload{
			PlayerID:    *t.PlayerID,
			TurnID:      t.ID,
			GameID:      t.GameID,
			Remaining:   remaining,
			IsClaimWarn: true,
		})
	})
	return nil
}

// handleTurnClaimTimeout expires an unclaimed offer. Season games re-offer to
// the next member; an on-demand offer just returns to the pool.
func (c *Coordinator) handleTurnClaimTimeout(ctx context.Context, payload json.RawMessage) error {
	var p jobs.TurnPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("bad claim timeout payload: %w", err)
	}

	t, err := c.turns.GetTurn(ctx, p.TurnID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	if t.Status != models.TurnStatusOffered {
		return nil
	}

	if err := c.DismissOffer(ctx, t.ID); err != nil {
		if errors.Is(err, models.ErrPrecondition) {
			// The player claimed or the offer moved in the meantime.
			return nil
		}
		return err
	}
	return nil
}

// handleTurnSubmissionWarning nudges a player whose submission deadline is
// near.
func (c *Coordinator) handleTurnSubmissionWarning(ctx context.Context, payload json.RawMessage) error {
	var p jobs.TurnPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("bad submission warning payload: %w", err)
	}

	t, err := c.turns.GetTurn(ctx, p.TurnID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	if t.Status != models.TurnStatusPending || t.PlayerID == nil {
		return nil
	}

	g, err := c.games.GetGame(ctx, t.GameID)
	if err != nil {
		return err
	}
	cfg, err := c.timingFor(ctx, g, t.Type)
	if err != nil {
		return err
	}

	// The initial on-demand turn is created PENDING, so its deadline is
	// anchored at creation rather than at a claim.
	anchor := t.CreatedAt
	if t.ClaimedAt != nil {
		anchor = *t.ClaimedAt
	}
	remaining := anchor.Add(cfg.SubmissionTimeout).Sub(c.clock.Now())
	if remaining <= 0 {
		return nil
	}
	c.emit(ctx, "TurnWarning", func() error {
		return c.intents.EmitTurnWarning(ctx, outbox.TurnWarningPayload{
			PlayerID:    *t.PlayerID,
			TurnID:      t.ID,
			GameID:      t.GameID,
			Remaining:   remaining,
			IsClaimWarn: false,
		})
	})
	return nil
}

// handleTurnTimeout skips a turn whose submission deadline passed. An
// OFFERED turn here means a claim never committed after its deadline was
// armed; the recovery is a dismiss.
func (c *Coordinator) handleTurnTimeout(ctx context.Context, payload json.RawMessage) error {
	var p jobs.TurnPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("bad turn timeout payload: %w", err)
	}

	t, err := c.turns.GetTurn(ctx, p.TurnID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	switch t.Status {
	case models.TurnStatusPending:
		if err := c.SkipTurn(ctx, t.ID); err != nil {
			if errors.Is(err, models.ErrPrecondition) {
				// The player submitted in the window between read and skip.
				return nil
			}
			return err
		}
		return nil
	case models.TurnStatusOffered:
		// A crash between arming the submission deadline and committing the
		// claim leaves the turn OFFERED with this job as its only enforcer.
		// Dismissing returns the turn to the pool.
		if err := c.DismissOffer(ctx, t.ID); err != nil && !errors.Is(err, models.ErrPrecondition) {
			return err
		}
		return nil
	default:
		return nil
	}
}

// handleSeasonOpenTimeout closes enrollment: a quorate season starts, an
// underfilled one is terminated.
func (c *Coordinator) handleSeasonOpenTimeout(ctx context.Context, payload json.RawMessage) error {
	var p jobs.SeasonPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("bad season open timeout payload: %w", err)
	}

	s, err := c.seasons.GetSeason(ctx, p.SeasonID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	if s.Status != models.SeasonStatusOpen {
		return nil
	}

	cfg, err := c.seasons.GetSeasonConfig(ctx, s.ConfigID)
	if err != nil {
		return err
	}
	members, err := c.seasons.ListMembers(ctx, p.SeasonID)
	if err != nil {
		return err
	}

	if len(members) >= cfg.MinPlayers {
		_, err = c.StartSeason(ctx, p.SeasonID)
	} else {
		log.Warn().
			Str("season_id", p.SeasonID.String()).
			Int("members", len(members)).
			Int("min_players", cfg.MinPlayers).
			Msg("season underfilled at close, terminating")
		err = c.TerminateSeason(ctx, p.SeasonID)
	}
	if err != nil && errors.Is(err, models.ErrStaleState) {
		// Someone started or terminated it concurrently.
		return nil
	}
	return err
}

// handleStaleGameSweep completes on-demand games nobody is playing anymore
// and arms the next sweep.
func (c *Coordinator) handleStaleGameSweep(ctx context.Context, payload json.RawMessage) error {
	var p jobs.SweepPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("bad sweep payload: %w", err)
	}

	if err := c.RunStaleSweep(ctx); err != nil {
		log.Error().Err(err).Msg("stale game sweep failed")
	}
	return c.ScheduleNextSweep(ctx)
}

// RunStaleSweep evaluates every ACTIVE on-demand game and completes the ones
// that crossed their stale threshold with enough turns banked.
func (c *Coordinator) RunStaleSweep(ctx context.Context) error {
	games, err := c.games.ListActiveOnDemand(ctx)
	if err != nil {
		return err
	}

	swept := 0
	for i := range games {
		g := &games[i]
		res, err := c.evaluateGame(ctx, g)
		if err != nil {
			log.Error().Err(err).Str("game_id", g.ID.String()).Msg("failed to evaluate game in sweep")
			continue
		}
		if !res.Complete {
			continue
		}
		if err := c.CompleteGame(ctx, g.ID, res.Reason); err != nil {
			log.Error().Err(err).Str("game_id", g.ID.String()).Msg("failed to complete stale game")
			continue
		}
		swept++
	}

	if swept > 0 {
		log.Info().Int("completed", swept).Msg("stale game sweep completed games")
	}
	return nil
}

// ScheduleNextSweep arms the next periodic sweep. Sweeps are idempotent, so a
// duplicate arm across restarts is harmless and ignored.
func (c *Coordinator) ScheduleNextSweep(ctx context.Context) error {
	fireAt := c.clock.Now().Add(SweepInterval)
	err := c.scheduler.Schedule(ctx, jobs.StaleGameSweepJobID(fireAt), fireAt,
		models.JobTypeStaleGameSweep, jobs.SweepPayload{ScheduledFor: fireAt})
	if err != nil && !errors.Is(err, jobs.ErrJobExists) {
		return fmt.Errorf("failed to schedule stale game sweep: %w", err)
	}
	return nil
}

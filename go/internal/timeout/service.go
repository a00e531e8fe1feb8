// Package timeout translates turn lifecycle events into durable warning and
// timeout jobs. Scheduling happens here; the coordinator owns what a fired
// timeout does, which is where season and on-demand games diverge.
package timeout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sketchparty/go/internal/jobs"
	"github.com/mcdev12/sketchparty/go/internal/models"
)

// Config is the per-turn timing window, derived from the season or game
// config for the turn's type. Zero warning offsets mean no warning.
type Config struct {
	ClaimTimeout      time.Duration
	ClaimWarning      time.Duration
	SubmissionTimeout time.Duration
	SubmissionWarning time.Duration
}

// FromSeason derives the timing window for a turn type from a season config.
func FromSeason(cfg *models.SeasonConfig, t models.TurnType) Config {
	return Config{
		ClaimTimeout:      cfg.ClaimTimeout,
		ClaimWarning:      cfg.ClaimWarning,
		SubmissionTimeout: cfg.SubmissionTimeout(t),
		SubmissionWarning: cfg.SubmissionWarning(t),
	}
}

// FromGame derives the timing window for a turn type from a game config.
func FromGame(cfg *models.GameConfig, t models.TurnType) Config {
	return Config{
		ClaimTimeout:      cfg.ClaimTimeout,
		ClaimWarning:      cfg.ClaimWarning,
		SubmissionTimeout: cfg.SubmissionTimeout(t),
		SubmissionWarning: cfg.SubmissionWarning(t),
	}
}

// Scheduler is the slice of the job scheduler the timeout service uses.
type Scheduler interface {
	Schedule(ctx context.Context, jobID string, fireAt time.Time, jobType models.JobType, payload any) error
	Cancel(ctx context.Context, jobID string) bool
	CancelTurnJobs(ctx context.Context, turnID uuid.UUID)
}

// Service arms and disarms the enforcement jobs around a turn's deadlines.
type Service struct {
	scheduler Scheduler
	clock     clockwork.Clock
}

func NewService(scheduler Scheduler, clock clockwork.Clock) *Service {
	return &Service{scheduler: scheduler, clock: clock}
}

// OnOffer arms the claim-timeout job and, when configured, the claim warning.
// A failure to arm the timeout is fatal to the caller: an offered turn must
// always have an enforcer. A failed warning is logged and dropped.
func (s *Service) OnOffer(ctx context.Context, turn *models.Turn, cfg Config) error {
	now := s.clock.Now()
	payload := jobs.TurnPayload{TurnID: turn.ID, GameID: turn.GameID, PlayerID: turn.PlayerID}

	err := s.scheduler.Schedule(ctx,
		jobs.TurnClaimTimeoutJobID(turn.ID),
		now.Add(cfg.ClaimTimeout),
		models.JobTypeTurnClaimTimeout,
		payload)
	if err != nil {
		return fmt.Errorf("%w: claim timeout for turn %s: %v", models.ErrScheduler, turn.ID, err)
	}

	if warnAt, ok := warningTime(now, cfg.ClaimWarning, cfg.ClaimTimeout); ok {
		s.scheduleWarning(ctx, jobs.TurnWarningJobID(turn.ID), warnAt, models.JobTypeTurnWarning, payload)
	}
	return nil
}

// OnClaim swaps the claim jobs for submission jobs. The claimed turn's
// submission timeout is the enforcer; its absence is fatal.
func (s *Service) OnClaim(ctx context.Context, turn *models.Turn, cfg Config) error {
	s.scheduler.Cancel(ctx, jobs.TurnWarningJobID(turn.ID))
	s.scheduler.Cancel(ctx, jobs.TurnClaimTimeoutJobID(turn.ID))

	now := s.clock.Now()
	payload := jobs.TurnPayload{TurnID: turn.ID, GameID: turn.GameID, PlayerID: turn.PlayerID}

	err := s.scheduler.Schedule(ctx,
		jobs.TurnTimeoutJobID(turn.ID),
		now.Add(cfg.SubmissionTimeout),
		models.JobTypeTurnTimeout,
		payload)
	if err != nil {
		return fmt.Errorf("%w: submission timeout for turn %s: %v", models.ErrScheduler, turn.ID, err)
	}

	if warnAt, ok := warningTime(now, cfg.SubmissionWarning, cfg.SubmissionTimeout); ok {
		s.scheduleWarning(ctx, jobs.TurnSubmissionWarningJobID(turn.ID), warnAt, models.JobTypeTurnSubmissionWarning, payload)
	}
	return nil
}

// OnExit cancels every job for a turn leaving OFFERED or PENDING, whatever
// the destination state.
func (s *Service) OnExit(ctx context.Context, turnID uuid.UUID) {
	s.scheduler.CancelTurnJobs(ctx, turnID)
}

// scheduleWarning arms a warning job best-effort.
func (s *Service) scheduleWarning(ctx context.Context, jobID string, fireAt time.Time, jobType models.JobType, payload jobs.TurnPayload) {
	if err := s.scheduler.Schedule(ctx, jobID, fireAt, jobType, payload); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("failed to schedule warning job, continuing without")
	}
}

// warningTime computes the warning fire time. A warning fires only when the
// offset is set and lands strictly before the timeout.
func warningTime(now time.Time, warning, timeout time.Duration) (time.Time, bool) {
	if warning <= 0 || warning >= timeout {
		return time.Time{}, false
	}
	return now.Add(warning), true
}

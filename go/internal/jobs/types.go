package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/sketchparty/go/internal/models"
)

// Store is what the scheduler needs from durable job storage. All writes are
// conditional on the job's current status so a job reaches a terminal state
// exactly once.
type Store interface {
	// Insert records a new SCHEDULED job. It fails with ErrJobExists if a
	// job with the same ID is still in a non-terminal state.
	Insert(ctx context.Context, job models.ScheduledJob) error
	// Get returns the job by ID.
	Get(ctx context.Context, jobID string) (*models.ScheduledJob, error)
	// MarkExecuted transitions SCHEDULED -> EXECUTED. Returns false if the
	// job was not in SCHEDULED.
	MarkExecuted(ctx context.Context, jobID string, at time.Time) (bool, error)
	// MarkFailed transitions SCHEDULED -> FAILED with a reason.
	MarkFailed(ctx context.Context, jobID string, reason string) (bool, error)
	// MarkCancelled transitions SCHEDULED -> CANCELLED.
	MarkCancelled(ctx context.Context, jobID string) (bool, error)
	// ListScheduled returns every job still in SCHEDULED.
	ListScheduled(ctx context.Context) ([]models.ScheduledJob, error)
	// ListScheduledForGame returns SCHEDULED jobs whose payload references
	// the game.
	ListScheduledForGame(ctx context.Context, gameID uuid.UUID) ([]models.ScheduledJob, error)
}

// Handler executes a due job. Jobs are delivered at least once, so handlers
// must re-read their aggregate and no-op when it is not in the expected state.
type Handler func(ctx context.Context, payload json.RawMessage) error

// MissedPolicy controls what happens to jobs whose fire time passed while the
// process was down.
type MissedPolicy string

const (
	// MissedPolicyMarkFailed marks overdue jobs FAILED on startup.
	MissedPolicyMarkFailed MissedPolicy = "mark-failed"
	// MissedPolicyExecuteImmediately runs overdue jobs as soon as the
	// scheduler starts.
	MissedPolicyExecuteImmediately MissedPolicy = "execute-immediately"
)

// MissedReason is the failure reason recorded under MissedPolicyMarkFailed.
const MissedReason = "missed execution due to downtime"

var (
	// ErrJobExists is returned when scheduling over a non-terminal job ID.
	ErrJobExists = errors.New("job already scheduled")
	// ErrFireAtNotFuture is returned when fireAt is not strictly in the future.
	ErrFireAtNotFuture = errors.New("fireAt must be in the future")
	// ErrNoHandler is returned at dispatch when no handler is registered
	// for the job type.
	ErrNoHandler = errors.New("no handler registered for job type")
)

// TurnPayload is the payload carried by every turn-scoped job. GameID is
// present so CancelJobsForGame can find the job; PlayerID is set on
// claim-timeout jobs to record who held the offer.
type TurnPayload struct {
	TurnID   uuid.UUID  `json:"turn_id"`
	GameID   uuid.UUID  `json:"game_id"`
	PlayerID *uuid.UUID `json:"player_id,omitempty"`
}

// SeasonPayload is the payload for season-scoped jobs.
type SeasonPayload struct {
	SeasonID uuid.UUID `json:"season_id"`
}

// SweepPayload is the payload for the periodic stale-game sweep.
type SweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// Deterministic job IDs. Callers rebuild these from the domain key to cancel
// without having stored anything.

func TurnWarningJobID(turnID uuid.UUID) string {
	return fmt.Sprintf("turn-warning-%s", turnID)
}

func TurnClaimTimeoutJobID(turnID uuid.UUID) string {
	return fmt.Sprintf("turn-claim-timeout-%s", turnID)
}

func TurnSubmissionWarningJobID(turnID uuid.UUID) string {
	return fmt.Sprintf("turn-submission-warning-%s", turnID)
}

func TurnTimeoutJobID(turnID uuid.UUID) string {
	return fmt.Sprintf("turn-timeout-%s", turnID)
}

func SeasonOpenTimeoutJobID(seasonID uuid.UUID) string {
	return fmt.Sprintf("season-open-timeout-%s", seasonID)
}

func StaleGameSweepJobID(fireAt time.Time) string {
	return fmt.Sprintf("stale-game-sweep-%d", fireAt.Unix())
}

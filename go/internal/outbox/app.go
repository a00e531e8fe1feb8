package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventStore defines what the emitter needs from the repository
type EventStore interface {
	Insert(ctx context.Context, aggregateID uuid.UUID, eventType string, payload json.RawMessage) error
}

// App turns coordinator intents into outbox rows. Rows are relayed to the
// message bus by the Worker; a failed insert surfaces to the caller because
// intents recorded nowhere are intents lost.
type App struct {
	store EventStore
}

// NewApp creates a new outbox App
func NewApp(store EventStore) *App {
	return &App{store: store}
}

// Emit records one intent against its aggregate.
func (a *App) Emit(ctx context.Context, aggregateID uuid.UUID, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	if err := a.store.Insert(ctx, aggregateID, eventType, raw); err != nil {
		return err
	}
	log.Debug().
		Str("aggregate_id", aggregateID.String()).
		Str("event_type", eventType).
		Msg("outbox event inserted")
	return nil
}

func (a *App) EmitTurnOffered(ctx context.Context, p TurnOfferedPayload) error {
	return a.Emit(ctx, p.GameID, EventTurnOffered, p)
}

func (a *App) EmitTurnWarning(ctx context.Context, p TurnWarningPayload) error {
	return a.Emit(ctx, p.GameID, EventTurnWarning, p)
}

func (a *App) EmitTurnSubmittedAck(ctx context.Context, p TurnSubmittedAckPayload) error {
	return a.Emit(ctx, p.GameID, EventTurnSubmittedAck, p)
}

func (a *App) EmitTurnSkipped(ctx context.Context, p TurnSkippedPayload) error {
	return a.Emit(ctx, p.GameID, EventTurnSkipped, p)
}

func (a *App) EmitGameCompleted(ctx context.Context, p GameCompletedPayload) error {
	return a.Emit(ctx, p.Game.ID, EventGameCompleted, p)
}

func (a *App) EmitSeasonCompleted(ctx context.Context, p SeasonCompletedPayload) error {
	return a.Emit(ctx, p.Season.ID, EventSeasonCompleted, p)
}

func (a *App) EmitContentFlagged(ctx context.Context, p ContentFlaggedPayload) error {
	return a.Emit(ctx, p.Turn.GameID, EventContentFlagged, p)
}

func (a *App) EmitGameDeleted(ctx context.Context, p GameDeletedPayload) error {
	return a.Emit(ctx, p.GameID, EventGameDeletedInitialTurnTimeout, p)
}

func (a *App) EmitTurnClaimed(ctx context.Context, p TurnClaimedPayload) error {
	return a.Emit(ctx, p.GameID, EventTurnClaimed, p)
}

func (a *App) EmitGameTerminated(ctx context.Context, p GameTerminatedPayload) error {
	return a.Emit(ctx, p.Game.ID, EventGameTerminated, p)
}

func (a *App) EmitSeasonOpened(ctx context.Context, p SeasonOpenedPayload) error {
	return a.Emit(ctx, p.Season.ID, EventSeasonOpened, p)
}

func (a *App) EmitSeasonStarted(ctx context.Context, p SeasonStartedPayload) error {
	return a.Emit(ctx, p.Season.ID, EventSeasonStarted, p)
}

func (a *App) EmitSeasonTerminated(ctx context.Context, p SeasonTerminatedPayload) error {
	return a.Emit(ctx, p.Season.ID, EventSeasonTerminated, p)
}

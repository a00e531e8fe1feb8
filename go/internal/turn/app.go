package turn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sketchparty/go/internal/models"
)

// TurnRepository defines what the turn app layer needs from the turn repository
type TurnRepository interface {
	CreateTurn(ctx context.Context, req CreateTurnRequest) (*models.Turn, error)
	GetTurn(ctx context.Context, id uuid.UUID) (*models.Turn, error)
	GetHeadTurn(ctx context.Context, gameID uuid.UUID) (*models.Turn, error)
	ListTurnsByGame(ctx context.Context, gameID uuid.UUID) ([]models.Turn, error)
	ListTerminalTurns(ctx context.Context, gameID uuid.UUID) ([]models.Turn, error)
	HasPendingTurn(ctx context.Context, playerID uuid.UUID) (bool, error)
	CompletedCountsBySeason(ctx context.Context, seasonID uuid.UUID) ([]PlayerTurnCount, error)
	DeleteTurnsByGame(ctx context.Context, gameID uuid.UUID) error

	Offer(ctx context.Context, id, playerID uuid.UUID, at time.Time) (*models.Turn, error)
	Claim(ctx context.Context, id, playerID uuid.UUID, at time.Time) (*models.Turn, error)
	Dismiss(ctx context.Context, id uuid.UUID) (*models.Turn, error)
	Submit(ctx context.Context, id, playerID uuid.UUID, text, imageURL *string, at time.Time) (*models.Turn, error)
	Skip(ctx context.Context, id uuid.UUID, at time.Time) (*models.Turn, error)
	Flag(ctx context.Context, id uuid.UUID) (*models.Turn, error)
}

// App is the turn state machine. Each operation checks preconditions against
// a fresh read, then applies a conditional update; a concurrent transition
// surfaces as ErrStaleState from the losing writer.
type App struct {
	repo  TurnRepository
	clock clockwork.Clock
}

// NewApp creates a new turn App
func NewApp(repo TurnRepository, clock clockwork.Clock) *App {
	return &App{repo: repo, clock: clock}
}

// CreateTurn creates a turn in AVAILABLE, or directly in PENDING for the
// creator's first turn of an on-demand game.
func (a *App) CreateTurn(ctx context.Context, req CreateTurnRequest) (*models.Turn, error) {
	switch req.Status {
	case models.TurnStatusAvailable:
		if req.PlayerID != nil {
			return nil, fmt.Errorf("%w: available turn cannot carry a player", models.ErrValidation)
		}
	case models.TurnStatusPending:
		if req.PlayerID == nil {
			return nil, fmt.Errorf("%w: pending turn requires a player", models.ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: turns are created AVAILABLE or PENDING, not %s", models.ErrValidation, req.Status)
	}
	if req.TurnNumber < 1 {
		return nil, fmt.Errorf("%w: turn number must be >= 1", models.ErrValidation)
	}
	if req.TurnNumber == 1 && req.PreviousTurnID != nil {
		return nil, fmt.Errorf("%w: turn 1 cannot have a previous turn", models.ErrValidation)
	}
	if req.TurnNumber > 1 && req.PreviousTurnID == nil {
		return nil, fmt.Errorf("%w: turn %d requires a previous turn", models.ErrValidation, req.TurnNumber)
	}

	t, err := a.repo.CreateTurn(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn: %w", err)
	}

	log.Debug().
		Str("turn_id", t.ID.String()).
		Str("game_id", t.GameID.String()).
		Int("turn_number", t.TurnNumber).
		Str("type", string(t.Type)).
		Msg("created turn")
	return t, nil
}

// Offer transitions AVAILABLE -> OFFERED for the given player.
func (a *App) Offer(ctx context.Context, turnID, playerID uuid.UUID) (*models.Turn, error) {
	current, err := a.repo.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.TurnStatusAvailable {
		return nil, fmt.Errorf("%w: cannot offer turn in %s", models.ErrPrecondition, current.Status)
	}

	t, err := a.repo.Offer(ctx, turnID, playerID, a.clock.Now())
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("turn_id", t.ID.String()).
		Str("player_id", playerID.String()).
		Msg("turn offered")
	return t, nil
}

// Claim transitions OFFERED -> PENDING. Only the offered player may claim.
func (a *App) Claim(ctx context.Context, turnID, playerID uuid.UUID) (*models.Turn, error) {
	current, err := a.repo.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.TurnStatusOffered {
		return nil, fmt.Errorf("%w: cannot claim turn in %s", models.ErrPrecondition, current.Status)
	}
	if current.PlayerID == nil || *current.PlayerID != playerID {
		return nil, fmt.Errorf("%w: turn is not offered to this player", models.ErrPrecondition)
	}

	t, err := a.repo.Claim(ctx, turnID, playerID, a.clock.Now())
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("turn_id", t.ID.String()).
		Str("player_id", playerID.String()).
		Msg("turn claimed")
	return t, nil
}

// Dismiss transitions OFFERED -> AVAILABLE, clearing the player and offer time.
func (a *App) Dismiss(ctx context.Context, turnID uuid.UUID) (*models.Turn, error) {
	current, err := a.repo.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.TurnStatusOffered {
		return nil, fmt.Errorf("%w: cannot dismiss turn in %s", models.ErrPrecondition, current.Status)
	}

	t, err := a.repo.Dismiss(ctx, turnID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("turn_id", t.ID.String()).Msg("turn offer dismissed")
	return t, nil
}

// Submit transitions PENDING -> COMPLETED, recording the content. The content
// kind must match the turn type and must be non-empty.
func (a *App) Submit(ctx context.Context, turnID uuid.UUID, req SubmitRequest) (*models.Turn, error) {
	if err := validateContent(req); err != nil {
		return nil, err
	}

	current, err := a.repo.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.TurnStatusPending {
		return nil, fmt.Errorf("%w: cannot submit turn in %s", models.ErrPrecondition, current.Status)
	}
	if current.PlayerID == nil || *current.PlayerID != req.PlayerID {
		return nil, fmt.Errorf("%w: turn is not assigned to this player", models.ErrPrecondition)
	}
	if req.Kind() != current.Type {
		return nil, fmt.Errorf("%w: %s content submitted for a %s turn", models.ErrValidation, req.Kind(), current.Type)
	}

	t, err := a.repo.Submit(ctx, turnID, req.PlayerID, req.Text, req.ImageURL, a.clock.Now())
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("turn_id", t.ID.String()).
		Str("player_id", req.PlayerID.String()).
		Int("turn_number", t.TurnNumber).
		Msg("turn submitted")
	return t, nil
}

// Skip transitions PENDING -> SKIPPED. Skipped turns carry no content.
func (a *App) Skip(ctx context.Context, turnID uuid.UUID) (*models.Turn, error) {
	current, err := a.repo.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.TurnStatusPending {
		return nil, fmt.Errorf("%w: cannot skip turn in %s", models.ErrPrecondition, current.Status)
	}

	t, err := a.repo.Skip(ctx, turnID, a.clock.Now())
	if err != nil {
		return nil, err
	}
	log.Info().Str("turn_id", t.ID.String()).Int("turn_number", t.TurnNumber).Msg("turn skipped")
	return t, nil
}

// Flag transitions COMPLETED -> FLAGGED. Resolution is an admin concern.
func (a *App) Flag(ctx context.Context, turnID uuid.UUID) (*models.Turn, error) {
	current, err := a.repo.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.TurnStatusCompleted {
		return nil, fmt.Errorf("%w: cannot flag turn in %s", models.ErrPrecondition, current.Status)
	}

	t, err := a.repo.Flag(ctx, turnID)
	if err != nil {
		return nil, err
	}
	log.Warn().Str("turn_id", t.ID.String()).Msg("turn flagged")
	return t, nil
}

// GetTurn retrieves a turn by ID.
func (a *App) GetTurn(ctx context.Context, id uuid.UUID) (*models.Turn, error) {
	return a.repo.GetTurn(ctx, id)
}

// GetHeadTurn returns the game's current head turn, if any.
func (a *App) GetHeadTurn(ctx context.Context, gameID uuid.UUID) (*models.Turn, error) {
	return a.repo.GetHeadTurn(ctx, gameID)
}

// ListTurnsByGame returns all turns of a game in chain order.
func (a *App) ListTurnsByGame(ctx context.Context, gameID uuid.UUID) ([]models.Turn, error) {
	return a.repo.ListTurnsByGame(ctx, gameID)
}

// ListTerminalTurns returns a game's COMPLETED and SKIPPED turns in chain order.
func (a *App) ListTerminalTurns(ctx context.Context, gameID uuid.UUID) ([]models.Turn, error) {
	return a.repo.ListTerminalTurns(ctx, gameID)
}

// HasPendingTurn reports whether the player holds a PENDING turn anywhere.
func (a *App) HasPendingTurn(ctx context.Context, playerID uuid.UUID) (bool, error) {
	return a.repo.HasPendingTurn(ctx, playerID)
}

// CompletedCountsBySeason tallies completed turns per player for a season.
func (a *App) CompletedCountsBySeason(ctx context.Context, seasonID uuid.UUID) ([]PlayerTurnCount, error) {
	return a.repo.CompletedCountsBySeason(ctx, seasonID)
}

// DeleteTurnsByGame removes all turns of a game (cascading on-demand deletion).
func (a *App) DeleteTurnsByGame(ctx context.Context, gameID uuid.UUID) error {
	return a.repo.DeleteTurnsByGame(ctx, gameID)
}

func validateContent(req SubmitRequest) error {
	if req.Text == nil && req.ImageURL == nil {
		return fmt.Errorf("%w: submission requires content", models.ErrValidation)
	}
	if req.Text != nil && req.ImageURL != nil {
		return fmt.Errorf("%w: submission must carry exactly one content kind", models.ErrValidation)
	}
	if req.Text != nil && *req.Text == "" {
		return fmt.Errorf("%w: text content must be non-empty", models.ErrValidation)
	}
	if req.ImageURL != nil && *req.ImageURL == "" {
		return fmt.Errorf("%w: image URL must be non-empty", models.ErrValidation)
	}
	return nil
}

package turn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mcdev12/sketchparty/go/internal/models"
	"github.com/mcdev12/sketchparty/go/internal/sqlutil"
)

// Repository is the Postgres turn store. Every transition is a single
// conditional UPDATE on the current status, so of two racing writers exactly
// one sees its row and the other gets zero rows back.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const turnColumns = `id, game_id, turn_number, type, status, player_id, text_content, image_url,
previous_turn_id, offered_at, claimed_at, completed_at, skipped_at, created_at, updated_at`

const createTurnQuery = `
INSERT INTO turn (id, game_id, turn_number, type, status, player_id, previous_turn_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
RETURNING ` + turnColumns

func (r *Repository) CreateTurn(ctx context.Context, req CreateTurnRequest) (*models.Turn, error) {
	row := r.db.QueryRowContext(ctx, createTurnQuery,
		req.ID,
		req.GameID,
		req.TurnNumber,
		string(req.Type),
		string(req.Status),
		sqlutil.ToNullUUID(req.PlayerID),
		sqlutil.ToNullUUID(req.PreviousTurnID),
	)
	t, err := scanTurn(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			// Lost the race to create the game's head turn (or this turn number).
			return nil, models.ErrStaleState
		}
		return nil, fmt.Errorf("failed to create turn: %w", err)
	}
	return t, nil
}

func (r *Repository) GetTurn(ctx context.Context, id uuid.UUID) (*models.Turn, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+turnColumns+` FROM turn WHERE id = $1`, id)
	t, err := scanTurn(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("turn %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get turn: %w", err)
	}
	return t, nil
}

// GetHeadTurn returns the game's unique non-terminal turn, or ErrNotFound if
// the game currently has none.
func (r *Repository) GetHeadTurn(ctx context.Context, gameID uuid.UUID) (*models.Turn, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+turnColumns+` FROM turn
		 WHERE game_id = $1 AND status IN ('AVAILABLE', 'OFFERED', 'PENDING')`, gameID)
	t, err := scanTurn(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("head turn for game %s: %w", gameID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get head turn: %w", err)
	}
	return t, nil
}

func (r *Repository) ListTurnsByGame(ctx context.Context, gameID uuid.UUID) ([]models.Turn, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM turn WHERE game_id = $1 ORDER BY turn_number`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns by game: %w", err)
	}
	defer rows.Close()
	return collectTurns(rows)
}

// ListTerminalTurns returns the game's COMPLETED and SKIPPED turns in chain order.
func (r *Repository) ListTerminalTurns(ctx context.Context, gameID uuid.UUID) ([]models.Turn, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM turn
		 WHERE game_id = $1 AND status IN ('COMPLETED', 'SKIPPED')
		 ORDER BY turn_number`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list terminal turns: %w", err)
	}
	defer rows.Close()
	return collectTurns(rows)
}

// HasPendingTurn reports whether the player currently holds a PENDING turn in
// any game.
func (r *Repository) HasPendingTurn(ctx context.Context, playerID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM turn WHERE player_id = $1 AND status = 'PENDING')`,
		playerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending turn: %w", err)
	}
	return exists, nil
}

// CompletedCountsBySeason tallies completed turns per player across a
// season's games, for the offering order.
func (r *Repository) CompletedCountsBySeason(ctx context.Context, seasonID uuid.UUID) ([]PlayerTurnCount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT t.player_id, COUNT(*) FROM turn t
		 JOIN game g ON g.id = t.game_id
		 WHERE g.season_id = $1 AND t.status = 'COMPLETED' AND t.player_id IS NOT NULL
		 GROUP BY t.player_id`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to count completed turns by season: %w", err)
	}
	defer rows.Close()

	var counts []PlayerTurnCount
	for rows.Next() {
		var c PlayerTurnCount
		if err := rows.Scan(&c.PlayerID, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan turn count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turn counts: %w", err)
	}
	return counts, nil
}

// DeleteTurnsByGame removes every turn of a game. Only used by the cascading
// deletion of an on-demand game whose initial turn timed out.
func (r *Repository) DeleteTurnsByGame(ctx context.Context, gameID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM turn WHERE game_id = $1`, gameID); err != nil {
		return fmt.Errorf("failed to delete turns by game: %w", err)
	}
	return nil
}

// Conditional transitions. Each returns the updated turn or ErrStaleState
// when the WHERE clause matched no row.

func (r *Repository) Offer(ctx context.Context, id, playerID uuid.UUID, at time.Time) (*models.Turn, error) {
	return r.transition(ctx,
		`UPDATE turn SET status = 'OFFERED', player_id = $2, offered_at = $3, updated_at = now()
		 WHERE id = $1 AND status = 'AVAILABLE'
		 RETURNING `+turnColumns,
		id, playerID, at)
}

func (r *Repository) Claim(ctx context.Context, id, playerID uuid.UUID, at time.Time) (*models.Turn, error) {
	return r.transition(ctx,
		`UPDATE turn SET status = 'PENDING', claimed_at = $3, updated_at = now()
		 WHERE id = $1 AND status = 'OFFERED' AND player_id = $2
		 RETURNING `+turnColumns,
		id, playerID, at)
}

func (r *Repository) Dismiss(ctx context.Context, id uuid.UUID) (*models.Turn, error) {
	return r.transition(ctx,
		`UPDATE turn SET status = 'AVAILABLE', player_id = NULL, offered_at = NULL, updated_at = now()
		 WHERE id = $1 AND status = 'OFFERED'
		 RETURNING `+turnColumns,
		id)
}

func (r *Repository) Submit(ctx context.Context, id, playerID uuid.UUID, text, imageURL *string, at time.Time) (*models.Turn, error) {
	return r.transition(ctx,
		`UPDATE turn SET status = 'COMPLETED', text_content = $3, image_url = $4, completed_at = $5, updated_at = now()
		 WHERE id = $1 AND status = 'PENDING' AND player_id = $2
		 RETURNING `+turnColumns,
		id, playerID, sqlutil.ToSqlString(text), sqlutil.ToSqlString(imageURL), at)
}

func (r *Repository) Skip(ctx context.Context, id uuid.UUID, at time.Time) (*models.Turn, error) {
	return r.transition(ctx,
		`UPDATE turn SET status = 'SKIPPED', skipped_at = $2, updated_at = now()
		 WHERE id = $1 AND status = 'PENDING'
		 RETURNING `+turnColumns,
		id, at)
}

func (r *Repository) Flag(ctx context.Context, id uuid.UUID) (*models.Turn, error) {
	return r.transition(ctx,
		`UPDATE turn SET status = 'FLAGGED', updated_at = now()
		 WHERE id = $1 AND status = 'COMPLETED'
		 RETURNING `+turnColumns,
		id)
}

func (r *Repository) transition(ctx context.Context, query string, args ...any) (*models.Turn, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	t, err := scanTurn(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrStaleState
		}
		return nil, fmt.Errorf("failed to transition turn: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(row rowScanner) (*models.Turn, error) {
	var (
		t           models.Turn
		turnType    string
		status      string
		playerID    uuid.NullUUID
		textContent sql.NullString
		imageURL    sql.NullString
		previousID  uuid.NullUUID
		offeredAt   sql.NullTime
		claimedAt   sql.NullTime
		completedAt sql.NullTime
		skippedAt   sql.NullTime
	)
	if err := row.Scan(
		&t.ID, &t.GameID, &t.TurnNumber, &turnType, &status, &playerID,
		&textContent, &imageURL, &previousID, &offeredAt, &claimedAt,
		&completedAt, &skippedAt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	t.Type = models.TurnType(turnType)
	t.Status = models.TurnStatus(status)
	t.PlayerID = sqlutil.FromNullUUID(playerID)
	t.TextContent = sqlutil.FromSqlStringPtr(textContent)
	t.ImageURL = sqlutil.FromSqlStringPtr(imageURL)
	t.PreviousTurnID = sqlutil.FromNullUUID(previousID)
	t.OfferedAt = sqlutil.FromSqlTime(offeredAt)
	t.ClaimedAt = sqlutil.FromSqlTime(claimedAt)
	t.CompletedAt = sqlutil.FromSqlTime(completedAt)
	t.SkippedAt = sqlutil.FromSqlTime(skippedAt)
	return &t, nil
}

func collectTurns(rows *sql.Rows) ([]models.Turn, error) {
	var turns []models.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turns: %w", err)
	}
	return turns, nil
}

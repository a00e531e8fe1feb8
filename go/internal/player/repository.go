package player

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mcdev12/sketchparty/go/internal/models"
	"github.com/mcdev12/sketchparty/go/internal/sqlutil"
)

// Repository is the Postgres player store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const playerColumns = `id, external_user_id, display_name, banned_at, created_at, updated_at`

const upsertPlayerQuery = `
INSERT INTO player (id, external_user_id, display_name, created_at, updated_at)
VALUES ($1, $2, $3, now(), now())
ON CONFLICT (external_user_id) DO UPDATE
SET display_name = EXCLUDED.display_name, updated_at = now()
RETURNING ` + playerColumns

// UpsertPlayer inserts a player keyed by the external user ID, or refreshes the
// display name of the existing row.
func (r *Repository) UpsertPlayer(ctx context.Context, req UpsertPlayerRequest) (*models.Player, error) {
	row := r.db.QueryRowContext(ctx, upsertPlayerQuery, uuid.New(), req.ExternalUserID, req.DisplayName)
	p, err := scanPlayer(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert player: %w", err)
	}
	return p, nil
}

// GetPlayer retrieves a player by ID.
func (r *Repository) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM player WHERE id = $1`, id)
	p, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("player %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return p, nil
}

// GetPlayerByExternalID retrieves a player by chat-platform user ID.
func (r *Repository) GetPlayerByExternalID(ctx context.Context, externalUserID string) (*models.Player, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM player WHERE external_user_id = $1`, externalUserID)
	p, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("player %s: %w", externalUserID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get player by external id: %w", err)
	}
	return p, nil
}

// ListPlayers retrieves players by ID, for resolving candidate sets in bulk.
func (r *Repository) ListPlayers(ctx context.Context, ids []uuid.UUID) ([]models.Player, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM player WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate players: %w", err)
	}
	return players, nil
}

// SetBanned sets or clears the ban timestamp.
func (r *Repository) SetBanned(ctx context.Context, id uuid.UUID, bannedAt sql.NullTime) (*models.Player, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE player SET banned_at = $2, updated_at = now() WHERE id = $1 RETURNING `+playerColumns,
		id, bannedAt)
	p, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("player %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update player ban: %w", err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row rowScanner) (*models.Player, error) {
	var (
		p        models.Player
		bannedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.ExternalUserID, &p.DisplayName, &bannedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.BannedAt = sqlutil.FromSqlTime(bannedAt)
	return &p, nil
}

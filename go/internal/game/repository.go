package game

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

// Repository is the Postgres game store. Status transitions are conditional
// UPDATEs keyed on the expected current status.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const gameColumns = `id, status, season_id, creator_id, guild_id, config_id,
created_at, updated_at, last_activity_at, completed_at`

const configColumns = `id, turn_pattern, min_turns, max_turns, stale_timeout_ms,
return_count, return_cooldown,
claim_timeout_ms, writing_timeout_ms, drawing_timeout_ms,
claim_warning_ms, writing_warning_ms, drawing_warning_ms`

const createConfigQuery = `
INSERT INTO game_config (id, turn_pattern, min_turns, max_turns, stale_timeout_ms,
	return_count, return_cooldown,
	claim_timeout_ms, writing_timeout_ms, drawing_timeout_ms,
	claim_warning_ms, writing_warning_ms, drawing_warning_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING ` + configColumns

const createOnDemandGameQuery = `
INSERT INTO game (id, status, creator_id, guild_id, config_id, created_at, updated_at, last_activity_at)
VALUES ($1, $2, $3, $4, $5, now(), now(), $6)
RETURNING ` + gameColumns

// CreateOnDemandGame inserts the config and the game row in one transaction.
// The game starts ACTIVE.
func (r *Repository) CreateOnDemandGame(ctx context.Context, req CreateOnDemandGameRequest, at time.Time) (*models.Game, *models.GameConfig, error) {
	var (
		g   *models.Game
		cfg *models.GameConfig
	)
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, createConfigQuery,
			uuid.New(),
			pq.Array(models.PatternStrings(req.TurnPattern)),
			req.MinTurns,
			sqlutil.ToSqlInt32(req.MaxTurns),
			sqlutil.ToSqlMillis(req.StaleTimeout),
			req.ReturnCount,
			req.ReturnCooldown,
			sqlutil.ToSqlMillis(req.ClaimTimeout),
			sqlutil.ToSqlMillis(req.WritingTimeout),
			sqlutil.ToSqlMillis(req.DrawingTimeout),
			sqlutil.ToSqlMillis(req.ClaimWarning),
			sqlutil.ToSqlMillis(req.WritingWarning),
			sqlutil.ToSqlMillis(req.DrawingWarning),
		)
		var err error
		cfg, err = scanConfig(row)
		if err != nil {
			return fmt.Errorf("failed to create game config: %w", err)
		}

		row = tx.QueryRowContext(ctx, createOnDemandGameQuery,
			uuid.New(), string(models.GameStatusActive), req.CreatorID, req.GuildID, cfg.ID, at)
		g, err = scanGame(row)
		if err != nil {
			return fmt.Errorf("failed to create game: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return g, cfg, nil
}

const createSeasonGameQuery = `
INSERT INTO game (id, status, season_id, created_at, updated_at, last_activity_at)
VALUES ($1, $2, $3, now(), now(), $4)
RETURNING ` + gameColumns

// CreateSeasonGame inserts an ACTIVE game belonging to a season.
func (r *Repository) CreateSeasonGame(ctx context.Context, seasonID uuid.UUID, at time.Time) (*models.Game, error) {
	row := r.db.QueryRowContext(ctx, createSeasonGameQuery,
		uuid.New(), string(models.GameStatusActive), seasonID, at)
	g, err := scanGame(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create season game: %w", err)
	}
	return g, nil
}

// GetGame retrieves a game by ID.
func (r *Repository) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM game WHERE id = $1`, id)
	g, err := scanGame(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("game %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return g, nil
}

// GetGameConfig retrieves a game config by ID.
func (r *Repository) GetGameConfig(ctx context.Context, id uuid.UUID) (*models.GameConfig, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+configColumns+` FROM game_config WHERE id = $1`, id)
	cfg, err := scanConfig(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("game config %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get game config: %w", err)
	}
	return cfg, nil
}

// ListGamesBySeason returns all of a season's games.
func (r *Repository) ListGamesBySeason(ctx context.Context, seasonID uuid.UUID) ([]models.Game, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+gameColumns+` FROM game WHERE season_id = $1 ORDER BY created_at`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list games by season: %w", err)
	}
	defer rows.Close()
	return collectGames(rows)
}

// ListActiveOnDemandByGuild returns a guild's ACTIVE on-demand games ordered
// by oldest activity first, the order join candidates are tried in.
func (r *Repository) ListActiveOnDemandByGuild(ctx context.Context, guildID string) ([]models.Game, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+gameColumns+` FROM game
		 WHERE guild_id = $1 AND season_id IS NULL AND status = 'ACTIVE'
		 ORDER BY last_activity_at, id`, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list on-demand games: %w", err)
	}
	defer rows.Close()
	return collectGames(rows)
}

// ListActiveOnDemand returns every ACTIVE on-demand game, for the stale sweep.
func (r *Repository) ListActiveOnDemand(ctx context.Context) ([]models.Game, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+gameColumns+` FROM game
		 WHERE season_id IS NULL AND status = 'ACTIVE'
		 ORDER BY last_activity_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active on-demand games: %w", err)
	}
	defer rows.Close()
	return collectGames(rows)
}

// CountUnfinishedBySeason counts the season's games that are not yet
// COMPLETED or TERMINATED.
func (r *Repository) CountUnfinishedBySeason(ctx context.Context, seasonID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM game
		 WHERE season_id = $1 AND status NOT IN ('COMPLETED', 'TERMINATED')`,
		seasonID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unfinished season games: %w", err)
	}
	return n, nil
}

// TransitionStatus moves a game from one status to another, or returns
// ErrStaleState if the game is no longer in the expected status.
func (r *Repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.GameStatus, completedAt *time.Time) (*models.Game, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE game SET status = $3, completed_at = $4, updated_at = now()
		 WHERE id = $1 AND status = $2
		 RETURNING `+gameColumns,
		id, string(from), string(to), sqlutil.ToSqlTime(completedAt))
	g, err := scanGame(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrStaleState
		}
		return nil, fmt.Errorf("failed to transition game: %w", err)
	}
	return g, nil
}

// TouchActivity records player activity for staleness tracking.
func (r *Repository) TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE game SET last_activity_at = $2, updated_at = now() WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("failed to touch game activity: %w", err)
	}
	return nil
}

// DeleteGame removes a game row. Turns are deleted first by the caller; the
// config row cascades.
func (r *Repository) DeleteGame(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM game WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete game: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (*models.Game, error) {
	var (
		g           models.Game
		status      string
		seasonID    uuid.NullUUID
		creatorID   uuid.NullUUID
		guildID     sql.NullString
		configID    uuid.NullUUID
		completedAt sql.NullTime
	)
	if err := row.Scan(&g.ID, &status, &seasonID, &creatorID, &guildID, &configID,
		&g.CreatedAt, &g.UpdatedAt, &g.LastActivityAt, &completedAt); err != nil {
		return nil, err
	}
	g.Status = models.GameStatus(status)
	g.SeasonID = sqlutil.FromNullUUID(seasonID)
	g.CreatorID = sqlutil.FromNullUUID(creatorID)
	g.GuildID = sqlutil.FromSqlStringPtr(guildID)
	g.ConfigID = sqlutil.FromNullUUID(configID)
	g.CompletedAt = sqlutil.FromSqlTime(completedAt)
	return &g, nil
}

func scanConfig(row rowScanner) (*models.GameConfig, error) {
	var (
		cfg      models.GameConfig
		pattern  pq.StringArray
		maxTurns sql.NullInt32
		staleMs, claimMs, writingMs, drawingMs    int64
		claimWarnMs, writingWarnMs, drawingWarnMs int64
	)
	if err := row.Scan(&cfg.ID, &pattern, &cfg.MinTurns, &maxTurns, &staleMs,
		&cfg.ReturnCount, &cfg.ReturnCooldown,
		&claimMs, &writingMs, &drawingMs,
		&claimWarnMs, &writingWarnMs, &drawingWarnMs); err != nil {
		return nil, err
	}
	cfg.TurnPattern = models.PatternFromStrings(pattern)
	cfg.MaxTurns = sqlutil.FromSqlInt32(maxTurns)
	cfg.StaleTimeout = sqlutil.FromSqlMillis(staleMs)
	cfg.ClaimTimeout = sqlutil.FromSqlMillis(claimMs)
	cfg.WritingTimeout = sqlutil.FromSqlMillis(writingMs)
	cfg.DrawingTimeout = sqlutil.FromSqlMillis(drawingMs)
	cfg.ClaimWarning = sqlutil.FromSqlMillis(claimWarnMs)
	cfg.WritingWarning = sqlutil.FromSqlMillis(writingWarnMs)
	cfg.DrawingWarning = sqlutil.FromSqlMillis(drawingWarnMs)
	return &cfg, nil
}

func collectGames(rows *sql.Rows) ([]models.Game, error) {
	var games []models.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		games = append(games, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate games: %w", err)
	}
	return games, nil
}

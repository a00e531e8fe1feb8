package season

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

// Repository is the Postgres season store. Status transitions are conditional
// UPDATEs keyed on the expected current status.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const seasonColumns = `id, status, creator_id, config_id, guild_id, created_at, updated_at, completed_at`

const configColumns = `id, min_players, max_players, open_duration_ms, turn_pattern,
claim_timeout_ms, writing_timeout_ms, drawing_timeout_ms,
claim_warning_ms, writing_warning_ms, drawing_warning_ms`

const createConfigQuery = `
INSERT INTO season_config (id, min_players, max_players, open_duration_ms, turn_pattern,
	claim_timeout_ms, writing_timeout_ms, drawing_timeout_ms,
	claim_warning_ms, writing_warning_ms, drawing_warning_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + configColumns

const createSeasonQuery = `
INSERT INTO season (id, status, creator_id, config_id, guild_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
RETURNING ` + seasonColumns

// CreateSeason inserts the config and the season row in one transaction.
func (r *Repository) CreateSeason(ctx context.Context, req CreateSeasonRequest) (*models.Season, *models.SeasonConfig, error) {
	var (
		season *models.Season
		cfg    *models.SeasonConfig
	)
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, createConfigQuery,
			uuid.New(), req.MinPlayers, req.MaxPlayers,
			sqlutil.ToSqlMillis(req.OpenDuration),
			pq.Array(models.PatternStrings(req.TurnPattern)),
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
			return fmt.Errorf("failed to create season config: %w", err)
		}

		row = tx.QueryRowContext(ctx, createSeasonQuery,
			uuid.New(), string(models.SeasonStatusSetup), req.CreatorID, cfg.ID,
			sqlutil.ToSqlString(req.GuildID))
		season, err = scanSeason(row)
		if err != nil {
			return fmt.Errorf("failed to create season: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return season, cfg, nil
}

// GetSeason retrieves a season by ID.
func (r *Repository) GetSeason(ctx context.Context, id uuid.UUID) (*models.Season, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+seasonColumns+` FROM season WHERE id = $1`, id)
	s, err := scanSeason(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("season %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get season: %w", err)
	}
	return s, nil
}

// GetSeasonConfig retrieves a season config by ID.
func (r *Repository) GetSeasonConfig(ctx context.Context, id uuid.UUID) (*models.SeasonConfig, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+configColumns+` FROM season_config WHERE id = $1`, id)
	cfg, err := scanConfig(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("season config %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get season config: %w", err)
	}
	return cfg, nil
}

// ListSeasonsByGuild returns a guild's seasons, newest first.
func (r *Repository) ListSeasonsByGuild(ctx context.Context, guildID string) ([]models.Season, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+seasonColumns+` FROM season WHERE guild_id = $1 ORDER BY created_at DESC`, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list seasons by guild: %w", err)
	}
	defer rows.Close()

	var seasons []models.Season
	for rows.Next() {
		s, err := scanSeason(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan season: %w", err)
		}
		seasons = append(seasons, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate seasons: %w", err)
	}
	return seasons, nil
}

// TransitionStatus moves a season from one status to another, or returns
// ErrStaleState if the season is no longer in the expected status.
func (r *Repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.SeasonStatus, completedAt *time.Time) (*models.Season, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE season SET status = $3, completed_at = $4, updated_at = now()
		 WHERE id = $1 AND status = $2
		 RETURNING `+seasonColumns,
		id, string(from), string(to), sqlutil.ToSqlTime(completedAt))
	s, err := scanSeason(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrStaleState
		}
		return nil, fmt.Errorf("failed to transition season: %w", err)
	}
	return s, nil
}

// AddMember adds a player to a season. Returns false when the player was
// already a member.
func (r *Repository) AddMember(ctx context.Context, seasonID, playerID uuid.UUID, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO season_member (season_id, player_id, joined_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (season_id, player_id) DO NOTHING`,
		seasonID, playerID, at)
	if err != nil {
		return false, fmt.Errorf("failed to add season member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// ListMembers returns a season's members ordered by join time, player ID as
// tiebreaker. The order is the offering tiebreak order.
func (r *Repository) ListMembers(ctx context.Context, seasonID uuid.UUID) ([]models.SeasonMember, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT season_id, player_id, joined_at FROM season_member
		 WHERE season_id = $1 ORDER BY joined_at, player_id`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list season members: %w", err)
	}
	defer rows.Close()

	var members []models.SeasonMember
	for rows.Next() {
		var m models.SeasonMember
		if err := rows.Scan(&m.SeasonID, &m.PlayerID, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan season member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate season members: %w", err)
	}
	return members, nil
}

// CountMembers returns the season's member count.
func (r *Repository) CountMembers(ctx context.Context, seasonID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM season_member WHERE season_id = $1`, seasonID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count season members: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeason(row rowScanner) (*models.Season, error) {
	var (
		s           models.Season
		status      string
		guildID     sql.NullString
		completedAt sql.NullTime
	)
	if err := row.Scan(&s.ID, &status, &s.CreatorID, &s.ConfigID, &guildID,
		&s.CreatedAt, &s.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	s.Status = models.SeasonStatus(status)
	s.GuildID = sqlutil.FromSqlStringPtr(guildID)
	s.CompletedAt = sqlutil.FromSqlTime(completedAt)
	return &s, nil
}

func scanConfig(row rowScanner) (*models.SeasonConfig, error) {
	var (
		cfg     models.SeasonConfig
		pattern pq.StringArray
		openMs, claimMs, writingMs, drawingMs     int64
		claimWarnMs, writingWarnMs, drawingWarnMs int64
	)
	if err := row.Scan(&cfg.ID, &cfg.MinPlayers, &cfg.MaxPlayers, &openMs, &pattern,
		&claimMs, &writingMs, &drawingMs,
		&claimWarnMs, &writingWarnMs, &drawingWarnMs); err != nil {
		return nil, err
	}
	cfg.OpenDuration = sqlutil.FromSqlMillis(openMs)
	cfg.TurnPattern = models.PatternFromStrings(pattern)
	cfg.ClaimTimeout = sqlutil.FromSqlMillis(claimMs)
	cfg.WritingTimeout = sqlutil.FromSqlMillis(writingMs)
	cfg.DrawingTimeout = sqlutil.FromSqlMillis(drawingMs)
	cfg.ClaimWarning = sqlutil.FromSqlMillis(claimWarnMs)
	cfg.WritingWarning = sqlutil.FromSqlMillis(writingWarnMs)
	cfg.DrawingWarning = sqlutil.FromSqlMillis(drawingWarnMs)
	return &cfg, nil
}

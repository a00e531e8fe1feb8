package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/sketchparty/go/internal/dbconfig"
)

// Schema statements, applied in order. Everything is idempotent so the tool
// can run on every deploy.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS player (
		id UUID PRIMARY KEY,
		external_user_id TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		banned_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS season_config (
		id UUID PRIMARY KEY,
		min_players INT NOT NULL,
		max_players INT NOT NULL,
		open_duration_ms BIGINT NOT NULL,
		turn_pattern TEXT[] NOT NULL,
		claim_timeout_ms BIGINT NOT NULL,
		writing_timeout_ms BIGINT NOT NULL,
		drawing_timeout_ms BIGINT NOT NULL,
		claim_warning_ms BIGINT NOT NULL DEFAULT 0,
		writing_warning_ms BIGINT NOT NULL DEFAULT 0,
		drawing_warning_ms BIGINT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS season (
		id UUID PRIMARY KEY,
		status TEXT NOT NULL,
		creator_id UUID NOT NULL REFERENCES player(id),
		config_id UUID NOT NULL REFERENCES season_config(id),
		guild_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS season_member (
		season_id UUID NOT NULL REFERENCES season(id) ON DELETE CASCADE,
		player_id UUID NOT NULL REFERENCES player(id),
		joined_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (season_id, player_id)
	)`,

	`CREATE TABLE IF NOT EXISTS game_config (
		id UUID PRIMARY KEY,
		turn_pattern TEXT[] NOT NULL,
		min_turns INT NOT NULL,
		max_turns INT,
		stale_timeout_ms BIGINT NOT NULL,
		return_count INT NOT NULL,
		return_cooldown INT NOT NULL,
		claim_timeout_ms BIGINT NOT NULL,
		writing_timeout_ms BIGINT NOT NULL,
		drawing_timeout_ms BIGINT NOT NULL,
		claim_warning_ms BIGINT NOT NULL DEFAULT 0,
		writing_warning_ms BIGINT NOT NULL DEFAULT 0,
		drawing_warning_ms BIGINT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS game (
		id UUID PRIMARY KEY,
		status TEXT NOT NULL,
		season_id UUID REFERENCES season(id),
		creator_id UUID REFERENCES player(id),
		guild_id TEXT,
		config_id UUID REFERENCES game_config(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_activity_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS game_guild_status ON game (guild_id, status)`,
	`CREATE INDEX IF NOT EXISTS game_season ON game (season_id)`,

	`CREATE TABLE IF NOT EXISTS turn (
		id UUID PRIMARY KEY,
		game_id UUID NOT NULL REFERENCES game(id) ON DELETE CASCADE,
		turn_number INT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		player_id UUID REFERENCES player(id),
		text_content TEXT,
		image_url TEXT,
		previous_turn_id UUID,
		offered_at TIMESTAMPTZ,
		claimed_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		skipped_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (game_id, turn_number)
	)`,

	// One head turn per game, enforced at the storage layer.
	`CREATE UNIQUE INDEX IF NOT EXISTS turn_one_head_per_game ON turn (game_id)
		WHERE status IN ('AVAILABLE', 'OFFERED', 'PENDING')`,
	`CREATE INDEX IF NOT EXISTS turn_player_pending ON turn (player_id)
		WHERE status = 'PENDING'`,

	`CREATE TABLE IF NOT EXISTS scheduled_job (
		job_id TEXT PRIMARY KEY,
		fire_at TIMESTAMPTZ NOT NULL,
		job_type TEXT NOT NULL,
		payload JSONB,
		status TEXT NOT NULL,
		executed_at TIMESTAMPTZ,
		failure_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS scheduled_job_due ON scheduled_job (fire_at)
		WHERE status = 'SCHEDULED'`,
	`CREATE INDEX IF NOT EXISTS scheduled_job_game ON scheduled_job ((payload->>'game_id'))
		WHERE status = 'SCHEDULED'`,

	`CREATE TABLE IF NOT EXISTS outbox_event (
		id UUID PRIMARY KEY,
		aggregate_id UUID NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		sent_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS outbox_event_unsent ON outbox_event (created_at)
		WHERE sent_at IS NULL`,
}

func main() {
	ctx := context.Background()

	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	for i, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			fmt.Fprintf(os.Stderr, "statement %d failed: %v\n", i+1, err)
			os.Exit(1)
		}
	}

	fmt.Printf("applied %d schema statements to %s\n", len(statements), cfg.Database)
}

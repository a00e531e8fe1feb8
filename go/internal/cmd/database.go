package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sketchparty/go/internal/dbconfig"
)

func setupDatabase() (*sql.DB, error) {
	cfg := dbconfig.NewConfigFromEnv()

	database, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database connection: %w", err)
	}
	if err := database.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to database")
	return database, nil
}

// newOutboxListener builds the LISTEN/NOTIFY listener that wakes the outbox
// relay on insert. A listener failure downgrades the relay to pure polling.
func newOutboxListener() *pq.Listener {
	cfg := dbconfig.NewConfigFromEnv()
	listener := pq.NewListener(cfg.DSN(), 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Warn().Err(err).Int("event", int(ev)).Msg("outbox listener event")
			}
		})
	return listener
}

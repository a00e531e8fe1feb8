package main

import (
	"database/sql"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/sketchparty/go/internal/coordinator"
	"github.com/mcdev12/sketchparty/go/internal/game"
	"github.com/mcdev12/sketchparty/go/internal/jobs"
	"github.com/mcdev12/sketchparty/go/internal/offering"
	"github.com/mcdev12/sketchparty/go/internal/outbox"
	"github.com/mcdev12/sketchparty/go/internal/player"
	"github.com/mcdev12/sketchparty/go/internal/season"
	"github.com/mcdev12/sketchparty/go/internal/timeout"
	"github.com/mcdev12/sketchparty/go/internal/turn"
)

// Services holds the wired application graph.
type Services struct {
	Turns       *turn.App
	Games       *game.App
	Seasons     *season.App
	Players     *player.App
	Scheduler   *jobs.Scheduler
	OutboxRepo  *outbox.Repository
	Coordinator *coordinator.Coordinator
}

func setupServices(database *sql.DB, cfg *AppConfig) *Services {
	// Repository layer → app layer → coordinator.
	clock := clockwork.NewRealClock()

	turns := turn.NewApp(turn.NewRepository(database), clock)
	games := game.NewApp(game.NewRepository(database), clock)
	seasons := season.NewApp(season.NewRepository(database), clock, cfg.Season.AllowUndersized)
	players := player.NewApp(player.NewRepository(database), clock)

	scheduler := jobs.NewScheduler(jobs.NewRepository(database), clock, cfg.missedPolicy())
	offeringSvc := offering.NewService(turns, seasons, players)
	timeouts := timeout.NewService(scheduler, clock)

	outboxRepo := outbox.NewRepository(database)
	intents := outbox.NewApp(outboxRepo)

	co := coordinator.New(turns, games, seasons, players, offeringSvc, timeouts, scheduler, intents, clock)
	co.RegisterHandlers(scheduler)

	return &Services{
		Turns:       turns,
		Games:       games,
		Seasons:     seasons,
		Players:     players,
		Scheduler:   scheduler,
		OutboxRepo:  outboxRepo,
		Coordinator: co,
	}
}

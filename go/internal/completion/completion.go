// Package completion holds the pure predicates deciding when a game or a
// season is finished. Callers load the inputs; nothing here touches storage.
package completion

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/sketchparty/go/internal/models"
)

// Reason explains a positive game-completion verdict.
type Reason string

const (
	ReasonAllMembersPlayed Reason = "all season members played"
	ReasonMaxTurnsReached  Reason = "max turns reached"
	ReasonStale            Reason = "stale past min turns"
)

// Result is a game-completion verdict.
type Result struct {
	Complete bool
	Reason   Reason
}

// IsGameComplete decides whether a game is finished. For season games,
// memberIDs is the season cohort; for on-demand games, cfg is the game's
// config and memberIDs is ignored.
func IsGameComplete(game *models.Game, cfg *models.GameConfig, memberIDs []uuid.UUID, terminalTurns []models.Turn, now time.Time) Result {
	if game.OnDemand() {
		return onDemandComplete(game, cfg, terminalTurns, now)
	}
	return seasonGameComplete(memberIDs, terminalTurns)
}

// seasonGameComplete: every season member holds at least one terminal turn in
// this game.
func seasonGameComplete(memberIDs []uuid.UUID, terminalTurns []models.Turn) Result {
	if len(memberIDs) == 0 {
		return Result{}
	}
	played := make(map[uuid.UUID]bool, len(terminalTurns))
	for _, t := range terminalTurns {
		if t.PlayerID != nil {
			played[*t.PlayerID] = true
		}
	}
	for _, id := range memberIDs {
		if !played[id] {
			return Result{}
		}
	}
	return Result{Complete: true, Reason: ReasonAllMembersPlayed}
}

// onDemandComplete: the turn cap is reached, or the minimum is met and the
// game has gone stale.
func onDemandComplete(game *models.Game, cfg *models.GameConfig, terminalTurns []models.Turn, now time.Time) Result {
	count := len(terminalTurns)
	if cfg.MaxTurns != nil && count >= *cfg.MaxTurns {
		return Result{Complete: true, Reason: ReasonMaxTurnsReached}
	}
	if count >= cfg.MinTurns && now.Sub(game.LastActivityAt) >= cfg.StaleTimeout {
		return Result{Complete: true, Reason: ReasonStale}
	}
	return Result{}
}

// IsSeasonComplete reports whether every non-terminated game of the season is
// COMPLETED. A season with no games yet is never complete.
func IsSeasonComplete(games []models.Game) bool {
	if len(games) == 0 {
		return false
	}
	for _, g := range games {
		if g.Status == models.GameStatusTerminated {
			continue
		}
		if g.Status != models.GameStatusCompleted {
			return false
		}
	}
	return true
}

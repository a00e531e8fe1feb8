// Package coordinator orchestrates the game lifecycle: it binds the turn
// state machine, the offering and timeout policies, the completion
// predicates, the durable scheduler, and the outbox into the operations the
// command layer and the scheduler callbacks invoke.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sketchparty/go/internal/completion"
	"github.com/mcdev12/sketchparty/go/internal/game"
	"github.com/mcdev12/sketchparty/go/internal/models"
	"github.com/mcdev12/sketchparty/go/internal/outbox"
	"github.com/mcdev12/sketchparty/go/internal/season"
	"github.com/mcdev12/sketchparty/go/internal/timeout"
	"github.com/mcdev12/sketchparty/go/internal/turn"
)

// TurnService is the slice of the turn app the coordinator drives.
type TurnService interface {
	CreateTurn(ctx context.Context, req turn.CreateTurnRequest) (*models.Turn, error)
	GetTurn(ctx context.Context, id uuid.UUID) (*models.Turn, error)
	GetHeadTurn(ctx context.Context, gameID uuid.UUID) (*models.Turn, error)
	ListTurnsByGame(ctx context.Context, gameID uuid.UUID) ([]models.Turn, error)
	ListTerminalTurns(ctx context.Context, gameID uuid.UUID) ([]models.Turn, error)
	DeleteTurnsByGame(ctx context.Context, gameID uuid.UUID) error
	Offer(ctx context.Context, turnID, playerID uuid.UUID) (*models.Turn, error)
	Claim(ctx context.Context, turnID, playerID uuid.UUID) (*models.Turn, error)
	Dismiss(ctx context.Context, turnID uuid.UUID) (*models.Turn, error)
	Submit(ctx context.Context, turnID uuid.UUID, req turn.SubmitRequest) (*models.Turn, error)
	Skip(ctx context.Context, turnID uuid.UUID) (*models.Turn, error)
	Flag(ctx context.Context, turnID uuid.UUID) (*models.Turn, error)
}

// GameService is the slice of the game app the coordinator drives.
type GameService interface {
	CreateOnDemandGame(ctx context.Context, req game.CreateOnDemandGameRequest) (*models.Game, *models.GameConfig, error)
	CreateSeasonGame(ctx context.Context, seasonID uuid.UUID) (*models.Game, error)
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	GetGameConfig(ctx context.Context, id uuid.UUID) (*models.GameConfig, error)
	ListGamesBySeason(ctx context.Context, seasonID uuid.UUID) ([]models.Game, error)
	ListActiveOnDemandByGuild(ctx context.Context, guildID string) ([]models.Game, error)
	ListActiveOnDemand(ctx context.Context) ([]models.Game, error)
	CompleteGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	PauseGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	TerminateGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	TouchActivity(ctx context.Context, id uuid.UUID) error
	DeleteGame(ctx context.Context, id uuid.UUID) error
}

// SeasonService is the slice of the season app the coordinator drives.
type SeasonService interface {
	CreateSeason(ctx context.Context, req season.CreateSeasonRequest) (*models.Season, error)
	GetSeason(ctx context.Context, id uuid.UUID) (*models.Season, error)
	GetSeasonConfig(ctx context.Context, id uuid.UUID) (*models.SeasonConfig, error)
	OpenSeason(ctx context.Context, id uuid.UUID) (*models.Season, error)
	JoinSeason(ctx context.Context, seasonID, playerID uuid.UUID) (*models.Season, error)
	StartSeason(ctx context.Context, id uuid.UUID) (*models.Season, error)
	CompleteSeason(ctx context.Context, id uuid.UUID) (*models.Season, error)
	TerminateSeason(ctx context.Context, id uuid.UUID) (*models.Season, error)
	ListMembers(ctx context.Context, seasonID uuid.UUID) ([]models.SeasonMember, error)
}

// PlayerService is the slice of the player app the coordinator drives.
type PlayerService interface {
	GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error)
}

// OfferingService selects head turns and candidates.
type OfferingService interface {
	FindOrCreateHead(ctx context.Context, g *models.Game, pattern []models.TurnType) (*models.Turn, error)
	SelectSeasonCandidate(ctx context.Context, g *models.Game, avoid *uuid.UUID) (*uuid.UUID, error)
	CheckReturnPolicy(ctx context.Context, gameID, playerID uuid.UUID, cfg *models.GameConfig) error
}

// TimeoutService arms and disarms turn deadline jobs.
type TimeoutService interface {
	OnOffer(ctx context.Context, t *models.Turn, cfg timeout.Config) error
	OnClaim(ctx context.Context, t *models.Turn, cfg timeout.Config) error
	OnExit(ctx context.Context, turnID uuid.UUID)
}

// JobScheduler is the slice of the durable scheduler the coordinator uses
// directly (turn jobs go through the timeout service).
type JobScheduler interface {
	Schedule(ctx context.Context, jobID string, fireAt time.Time, jobType models.JobType, payload any) error
	Cancel(ctx context.Context, jobID string) bool
	CancelJobsForGame(ctx context.Context, gameID uuid.UUID) error
}

// IntentEmitter records notification intents in the outbox.
type IntentEmitter interface {
	EmitTurnOffered(ctx context.Context, p outbox.TurnOfferedPayload) error
	EmitTurnWarning(ctx context.Context, p outbox.TurnWarningPayload) error
	EmitTurnSubmittedAck(ctx context.Context, p outbox.TurnSubmittedAckPayload) error
	EmitTurnSkipped(ctx context.Context, p outbox.TurnSkippedPayload) error
	EmitGameCompleted(ctx context.Context, p outbox.GameCompletedPayload) error
	EmitSeasonCompleted(ctx context.Context, p outbox.SeasonCompletedPayload) error
	EmitContentFlagged(ctx context.Context, p outbox.ContentFlaggedPayload) error
	EmitGameDeleted(ctx context.Context, p outbox.GameDeletedPayload) error
	EmitTurnClaimed(ctx context.Context, p outbox.TurnClaimedPayload) error
	EmitGameTerminated(ctx context.Context, p outbox.GameTerminatedPayload) error
	EmitSeasonOpened(ctx context.Context, p outbox.SeasonOpenedPayload) error
	EmitSeasonStarted(ctx context.Context, p outbox.SeasonStartedPayload) error
	EmitSeasonTerminated(ctx context.Context, p outbox.SeasonTerminatedPayload) error
}

// Coordinator binds the services. All methods are safe for concurrent use;
// races on the same turn resolve through the state machine's conditional
// updates.
type Coordinator struct {
	turns     TurnService
	games     GameService
	seasons   SeasonService
	players   PlayerService
	offering  OfferingService
	timeouts  TimeoutService
	scheduler JobScheduler
	intents   IntentEmitter
	clock     clockwork.Clock
}

func New(
	turns TurnService,
	games GameService,
	seasons SeasonService,
	players PlayerService,
	offeringSvc OfferingService,
	timeouts TimeoutService,
	scheduler JobScheduler,
	intents IntentEmitter,
	clock clockwork.Clock,
) *Coordinator {
	return &Coordinator{
		turns:     turns,
		games:     games,
		seasons:   seasons,
		players:   players,
		offering:  offeringSvc,
		timeouts:  timeouts,
		scheduler: scheduler,
		intents:   intents,
		clock:     clock,
	}
}

// CreateOnDemandGame creates an on-demand game with turn 1 directly PENDING
// for the creator, and arms the creator's submission deadline. A banned
// creator is refused.
func (c *Coordinator) CreateOnDemandGame(ctx context.Context, req game.CreateOnDemandGameRequest) (*models.Game, error) {
	creator, err := c.players.GetPlayer(ctx, req.CreatorID)
	if err != nil {
		return nil, err
	}
	if creator.Banned() {
		return nil, fmt.Errorf("%w: banned players cannot create games", models.ErrPrecondition)
	}

	g, cfg, err := c.games.CreateOnDemandGame(ctx, req)
	if err != nil {
		return nil, err
	}

	creatorID := req.CreatorID
	first, err := c.turns.CreateTurn(ctx, turn.CreateTurnRequest{
		ID:         uuid.New(),
		GameID:     g.ID,
		TurnNumber: 1,
		Type:       cfg.TurnPattern[0],
		Status:     models.TurnStatusPending,
		PlayerID:   &creatorID,
	})
	if err != nil {
		_ = c.games.DeleteGame(ctx, g.ID)
		return nil, err
	}

	// The pending turn needs its enforcer; without it the game cannot exist.
	if err := c.timeouts.OnClaim(ctx, first, timeout.FromGame(cfg, first.Type)); err != nil {
		_ = c.turns.DeleteTurnsByGame(ctx, g.ID)
		_ = c.games.DeleteGame(ctx, g.ID)
		return nil, err
	}

	log.Info().
		Str("game_id", g.ID.String()).
		Str("creator_id", req.CreatorID.String()).
		Msg("on-demand game started")
	return g, nil
}

// JoinOnDemandGame claims the best AVAILABLE turn across the guild's
// on-demand games for the player. Games closest to their stale expiry are
// tried first so near-death games get rescued.
func (c *Coordinator) JoinOnDemandGame(ctx context.Context, playerID uuid.UUID, guildID string) (*models.Turn, error) {
	p, err := c.players.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if p.Banned() {
		return nil, fmt.Errorf("%w: banned players cannot join games", models.ErrPrecondition)
	}

	candidates, err := c.joinCandidates(ctx, guildID)
	if err != nil {
		return nil, err
	}

	for _, cand := range candidates {
		head, err := c.turns.GetHeadTurn(ctx, cand.game.ID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if head.Status != models.TurnStatusAvailable {
			continue
		}
		if err := c.offering.CheckReturnPolicy(ctx, cand.game.ID, playerID, cand.cfg); err != nil {
			if errors.Is(err, models.ErrPrecondition) {
				continue
			}
			return nil, err
		}

		claimed, err := c.claimAvailableTurn(ctx, head, playerID, cand.cfg)
		if err != nil {
			if errors.Is(err, models.ErrStaleState) {
				// Someone else got this turn; try the next game.
				continue
			}
			return nil, err
		}

		if err := c.games.TouchActivity(ctx, cand.game.ID); err != nil {
			log.Warn().Err(err).Str("game_id", cand.game.ID.String()).Msg("failed to touch game activity")
		}
		return claimed, nil
	}

	return nil, fmt.Errorf("%w: no joinable game right now", models.ErrPrecondition)
}

type joinCandidate struct {
	game   models.Game
	cfg    *models.GameConfig
	expiry time.Time
}

// joinCandidates lists the guild's ACTIVE on-demand games ordered by stale
// expiry ascending, created-at as tiebreak.
func (c *Coordinator) joinCandidates(ctx context.Context, guildID string) ([]joinCandidate, error) {
	games, err := c.games.ListActiveOnDemandByGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}

	candidates := make([]joinCandidate, 0, len(games))
	for _, g := range games {
		if g.ConfigID == nil {
			continue
		}
		cfg, err := c.games.GetGameConfig(ctx, *g.ConfigID)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, joinCandidate{
			game:   g,
			cfg:    cfg,
			expiry: g.LastActivityAt.Add(cfg.StaleTimeout),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].expiry.Equal(candidates[j].expiry) {
			return candidates[i].expiry.Before(candidates[j].expiry)
		}
		if !candidates[i].game.CreatedAt.Equal(candidates[j].game.CreatedAt) {
			return candidates[i].game.CreatedAt.Before(candidates[j].game.CreatedAt)
		}
		return candidates[i].game.ID.String() < candidates[j].game.ID.String()
	})
	return candidates, nil
}

// claimAvailableTurn moves an AVAILABLE turn straight into the player's
// hands: offer and claim back to back. The submission deadline is armed
// before either transition commits, so the turn is never OFFERED without a
// live job: a process death mid-way leaves an armed timeout that no-ops on
// an AVAILABLE turn or dismisses a stranded offer.
func (c *Coordinator) claimAvailableTurn(ctx context.Context, head *models.Turn, playerID uuid.UUID, cfg *models.GameConfig) (*models.Turn, error) {
	armed := *head
	armed.PlayerID = &playerID
	if err := c.timeouts.OnClaim(ctx, &armed, timeout.FromGame(cfg, head.Type)); err != nil {
		return nil, err
	}

	if _, err := c.turns.Offer(ctx, head.ID, playerID); err != nil {
		c.timeouts.OnExit(ctx, head.ID)
		return nil, err
	}

	claimed, err := c.turns.Claim(ctx, head.ID, playerID)
	if err != nil {
		c.timeouts.OnExit(ctx, head.ID)
		if _, dismissErr := c.turns.Dismiss(ctx, head.ID); dismissErr != nil {
			log.Error().Err(dismissErr).Str("turn_id", head.ID.String()).Msg("failed to revert offer after claim failure")
		}
		return nil, err
	}
	return claimed, nil
}

// ClaimTurn accepts an offer: the turn moves into the player's hands and the
// submission deadline replaces the claim deadline.
func (c *Coordinator) ClaimTurn(ctx context.Context, turnID, playerID uuid.UUID) (*models.Turn, error) {
	t, err := c.turns.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.TurnStatusOffered || t.PlayerID == nil || *t.PlayerID != playerID {
		return nil, fmt.Errorf("%w: turn is not offered to this player", models.ErrPrecondition)
	}

	g, err := c.games.GetGame(ctx, t.GameID)
	if err != nil {
		return nil, err
	}
	cfg, err := c.timingFor(ctx, g, t.Type)
	if err != nil {
		return nil, err
	}

	// Arm the submission deadline first: if the claim below never commits,
	// the armed timeout finds the turn still OFFERED and dismisses it.
	if err := c.timeouts.OnClaim(ctx, t, cfg); err != nil {
		return nil, err
	}
	claimed, err := c.turns.Claim(ctx, turnID, playerID)
	if err != nil {
		c.timeouts.OnExit(ctx, turnID)
		return nil, c.mapRetriedStale(ctx, err, turnID, "claim")
	}

	c.emit(ctx, "TurnClaimed", func() error {
		return c.intents.EmitTurnClaimed(ctx, outbox.TurnClaimedPayload{
			PlayerID: playerID,
			TurnID:   turnID,
			GameID:   g.ID,
			Deadline: c.clock.Now().Add(cfg.SubmissionTimeout),
		})
	})
	return claimed, nil
}

// SubmitTurn applies a player's submission, then either completes the game
// or lines up the next turn.
func (c *Coordinator) SubmitTurn(ctx context.Context, turnID uuid.UUID, req turn.SubmitRequest) (*models.Turn, error) {
	submitted, err := c.turns.Submit(ctx, turnID, req)
	if err != nil {
		return nil, c.mapRetriedStale(ctx, err, turnID, "submit")
	}

	c.timeouts.OnExit(ctx, turnID)

	g, err := c.games.GetGame(ctx, submitted.GameID)
	if err != nil {
		return nil, err
	}
	if err := c.games.TouchActivity(ctx, g.ID); err != nil {
		log.Warn().Err(err).Str("game_id", g.ID.String()).Msg("failed to touch game activity")
	}

	c.emit(ctx, "TurnSubmittedAck", func() error {
		return c.intents.EmitTurnSubmittedAck(ctx, outbox.TurnSubmittedAckPayload{
			PlayerID: req.PlayerID, TurnID: turnID, GameID: g.ID,
		})
	})

	if err := c.advanceGame(ctx, g); err != nil {
		return nil, err
	}
	return submitted, nil
}

// SkipTurn terminally skips a PENDING turn. In an on-demand game a skipped
// initial turn deletes the whole game: nobody ever contributed, so no orphan
// should linger in the guild index.
func (c *Coordinator) SkipTurn(ctx context.Context, turnID uuid.UUID) error {
	t, err := c.turns.GetTurn(ctx, turnID)
	if err != nil {
		return err
	}
	g, err := c.games.GetGame(ctx, t.GameID)
	if err != nil {
		return err
	}

	skipped, err := c.turns.Skip(ctx, turnID)
	if err != nil {
		return c.mapRetriedStale(ctx, err, turnID, "skip")
	}

	c.timeouts.OnExit(ctx, turnID)

	// The delete cascade hangs off the won PENDING->SKIPPED transition: a
	// submit that committed first makes the skip stale and the game survives.
	if g.OnDemand() && skipped.TurnNumber == 1 {
		return c.deleteInitialTurnGame(ctx, skipped, g)
	}

	if err := c.games.TouchActivity(ctx, g.ID); err != nil {
		log.Warn().Err(err).Str("game_id", g.ID.String()).Msg("failed to touch game activity")
	}

	c.emit(ctx, "TurnSkipped", func() error {
		return c.intents.EmitTurnSkipped(ctx, outbox.TurnSkippedPayload{
			PlayerID: skipped.PlayerID, TurnID: turnID, GameID: g.ID,
		})
	})

	return c.advanceGame(ctx, g)
}

// deleteInitialTurnGame cascades the deletion of an on-demand game whose
// first turn was never played. Callers reach here only after the skip
// transition won, so no committed submission can be destroyed.
func (c *Coordinator) deleteInitialTurnGame(ctx context.Context, t *models.Turn, g *models.Game) error {
	if err := c.scheduler.CancelJobsForGame(ctx, g.ID); err != nil {
		log.Error().Err(err).Str("game_id", g.ID.String()).Msg("failed to cancel jobs for deleted game")
	}
	if err := c.turns.DeleteTurnsByGame(ctx, g.ID); err != nil {
		return err
	}
	if err := c.games.DeleteGame(ctx, g.ID); err != nil {
		return err
	}

	if t.PlayerID != nil {
		c.emit(ctx, "GameDeletedInitialTurnTimeout", func() error {
			return c.intents.EmitGameDeleted(ctx, outbox.GameDeletedPayload{
				PlayerID: *t.PlayerID, GameID: g.ID,
			})
		})
	}
	log.Info().Str("game_id", g.ID.String()).Msg("deleted game after unplayed initial turn")
	return nil
}

// FlagTurn flags a completed turn's content and pauses the game until an
// admin resolves it.
func (c *Coordinator) FlagTurn(ctx context.Context, turnID, flaggerID uuid.UUID) error {
	flagged, err := c.turns.Flag(ctx, turnID)
	if err != nil {
		return c.mapRetriedStale(ctx, err, turnID, "flag")
	}

	if _, err := c.games.PauseGame(ctx, flagged.GameID); err != nil && !errors.Is(err, models.ErrStaleState) {
		return err
	}

	c.emit(ctx, "ContentFlagged", func() error {
		return c.intents.EmitContentFlagged(ctx, outbox.ContentFlaggedPayload{
			Turn: *flagged, FlaggerID: flaggerID,
		})
	})
	return nil
}

// DismissOffer returns an OFFERED turn to the pool and re-offers it. This is
// the season claim-timeout action and is also exposed for an explicit
// decline.
func (c *Coordinator) DismissOffer(ctx context.Context, turnID uuid.UUID) error {
	// Capture the holder before dismissal clears it; the re-offer avoids them.
	prior, err := c.turns.GetTurn(ctx, turnID)
	if err != nil {
		return err
	}
	var lapsed *uuid.UUID
	if prior.Status == models.TurnStatusOffered {
		lapsed = prior.PlayerID
	}

	dismissed, err := c.turns.Dismiss(ctx, turnID)
	if err != nil {
		return c.mapRetriedStale(ctx, err, turnID, "dismiss")
	}

	c.timeouts.OnExit(ctx, turnID)

	g, err := c.games.GetGame(ctx, dismissed.GameID)
	if err != nil {
		return err
	}
	return c.offerNext(ctx, g, lapsed)
}

// CompleteGame is the idempotent completion wrapper: it transitions the game
// if still eligible and no-ops when someone else already completed it.
func (c *Coordinator) CompleteGame(ctx context.Context, gameID uuid.UUID, reason completion.Reason) error {
	completed, err := c.games.CompleteGame(ctx, gameID)
	if err != nil {
		if errors.Is(err, models.ErrStaleState) {
			current, getErr := c.games.GetGame(ctx, gameID)
			if getErr == nil && current.Status == models.GameStatusCompleted {
				return nil
			}
		}
		return err
	}

	if err := c.scheduler.CancelJobsForGame(ctx, gameID); err != nil {
		log.Error().Err(err).Str("game_id", gameID.String()).Msg("failed to cancel jobs for completed game")
	}

	c.emit(ctx, "GameCompleted", func() error {
		return c.intents.EmitGameCompleted(ctx, outbox.GameCompletedPayload{
			Game: *completed, Reason: string(reason),
		})
	})

	if completed.SeasonID != nil {
		return c.maybeCompleteSeason(ctx, *completed.SeasonID)
	}
	return nil
}

// TerminateGame force-ends a game and clears its jobs.
func (c *Coordinator) TerminateGame(ctx context.Context, gameID uuid.UUID) error {
	terminated, err := c.games.TerminateGame(ctx, gameID)
	if err != nil {
		return err
	}
	if err := c.scheduler.CancelJobsForGame(ctx, gameID); err != nil {
		log.Error().Err(err).Str("game_id", gameID.String()).Msg("failed to cancel jobs for terminated game")
	}

	c.emit(ctx, "GameTerminated", func() error {
		return c.intents.EmitGameTerminated(ctx, outbox.GameTerminatedPayload{Game: *terminated})
	})
	return nil
}

// OfferNextTurn finds or creates the game's head turn and, for season games,
// offers it to the selected member. On-demand head turns stay AVAILABLE
// until a player joins.
func (c *Coordinator) OfferNextTurn(ctx context.Context, g *models.Game) error {
	return c.offerNext(ctx, g, nil)
}

// offerNext is OfferNextTurn with an optional player to avoid, used when the
// previous holder let an offer lapse.
func (c *Coordinator) offerNext(ctx context.Context, g *models.Game, avoid *uuid.UUID) error {
	if g.Status != models.GameStatusActive {
		return fmt.Errorf("%w: game is %s", models.ErrPrecondition, g.Status)
	}

	pattern, err := c.patternFor(ctx, g)
	if err != nil {
		return err
	}
	head, err := c.offering.FindOrCreateHead(ctx, g, pattern)
	if err != nil {
		if errors.Is(err, models.ErrStaleState) {
			// A concurrent operation created the head; it owns the offer.
			return nil
		}
		return err
	}

	if g.OnDemand() || head.Status != models.TurnStatusAvailable {
		return nil
	}

	candidate, err := c.offering.SelectSeasonCandidate(ctx, g, avoid)
	if err != nil {
		return err
	}
	if candidate == nil {
		log.Info().Str("game_id", g.ID.String()).Msg("no eligible member to offer turn, leaving available")
		return nil
	}
	return c.offerTo(ctx, g, head, *candidate)
}

// offerTo offers a head turn to a specific season member. The claim deadline
// is armed before the offer commits: a job firing on a still-AVAILABLE turn
// no-ops, and an offer that loses its race cancels the jobs again, so an
// OFFERED turn always has a live enforcer even across a crash.
func (c *Coordinator) offerTo(ctx context.Context, g *models.Game, head *models.Turn, playerID uuid.UUID) error {
	cfg, err := c.timingFor(ctx, g, head.Type)
	if err != nil {
		return err
	}

	armed := *head
	armed.PlayerID = &playerID
	if err := c.timeouts.OnOffer(ctx, &armed, cfg); err != nil {
		return err
	}

	offered, err := c.turns.Offer(ctx, head.ID, playerID)
	if err != nil {
		c.timeouts.OnExit(ctx, head.ID)
		if errors.Is(err, models.ErrStaleState) {
			return nil
		}
		return err
	}

	c.emit(ctx, "TurnOffered", func() error {
		return c.intents.EmitTurnOffered(ctx, outbox.TurnOfferedPayload{
			PlayerID: playerID,
			TurnID:   offered.ID,
			GameID:   g.ID,
			Deadline: c.clock.Now().Add(cfg.ClaimTimeout),
		})
	})
	return nil
}

// advanceGame decides what happens after a terminal turn transition:
// completion or the next offer.
func (c *Coordinator) advanceGame(ctx context.Context, g *models.Game) error {
	res, err := c.evaluateGame(ctx, g)
	if err != nil {
		return err
	}
	if res.Complete {
		return c.CompleteGame(ctx, g.ID, res.Reason)
	}
	return c.OfferNextTurn(ctx, g)
}

// evaluateGame loads the completion inputs and runs the predicate.
func (c *Coordinator) evaluateGame(ctx context.Context, g *models.Game) (completion.Result, error) {
	terminal, err := c.turns.ListTerminalTurns(ctx, g.ID)
	if err != nil {
		return completion.Result{}, err
	}

	if g.OnDemand() {
		cfg, err := c.games.GetGameConfig(ctx, *g.ConfigID)
		if err != nil {
			return completion.Result{}, err
		}
		return completion.IsGameComplete(g, cfg, nil, terminal, c.clock.Now()), nil
	}

	members, err := c.seasons.ListMembers(ctx, *g.SeasonID)
	if err != nil {
		return completion.Result{}, err
	}
	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.PlayerID
	}
	return completion.IsGameComplete(g, nil, ids, terminal, c.clock.Now()), nil
}

// maybeCompleteSeason completes the season once its last game finishes.
func (c *Coordinator) maybeCompleteSeason(ctx context.Context, seasonID uuid.UUID) error {
	games, err := c.games.ListGamesBySeason(ctx, seasonID)
	if err != nil {
		return err
	}
	if !completion.IsSeasonComplete(games) {
		return nil
	}

	s, err := c.seasons.CompleteSeason(ctx, seasonID)
	if err != nil {
		if errors.Is(err, models.ErrStaleState) {
			// Another completion beat us to it.
			return nil
		}
		return err
	}

	c.emit(ctx, "SeasonCompleted", func() error {
		return c.intents.EmitSeasonCompleted(ctx, outbox.SeasonCompletedPayload{Season: *s})
	})
	return nil
}

// patternFor resolves the turn pattern from the game's own or its season's
// config.
func (c *Coordinator) patternFor(ctx context.Context, g *models.Game) ([]models.TurnType, error) {
	if g.OnDemand() {
		cfg, err := c.games.GetGameConfig(ctx, *g.ConfigID)
		if err != nil {
			return nil, err
		}
		return cfg.TurnPattern, nil
	}
	s, err := c.seasons.GetSeason(ctx, *g.SeasonID)
	if err != nil {
		return nil, err
	}
	cfg, err := c.seasons.GetSeasonConfig(ctx, s.ConfigID)
	if err != nil {
		return nil, err
	}
	return cfg.TurnPattern, nil
}

// timingFor resolves the deadline window for a turn type from the game's own
// or its season's config.
func (c *Coordinator) timingFor(ctx context.Context, g *models.Game, t models.TurnType) (timeout.Config, error) {
	if g.OnDemand() {
		cfg, err := c.games.GetGameConfig(ctx, *g.ConfigID)
		if err != nil {
			return timeout.Config{}, err
		}
		return timeout.FromGame(cfg, t), nil
	}
	s, err := c.seasons.GetSeason(ctx, *g.SeasonID)
	if err != nil {
		return timeout.Config{}, err
	}
	cfg, err := c.seasons.GetSeasonConfig(ctx, s.ConfigID)
	if err != nil {
		return timeout.Config{}, err
	}
	return timeout.FromSeason(cfg, t), nil
}

// mapRetriedStale implements the race policy for user-facing operations: a
// stale conditional update is retried by the caller exactly once through the
// app layer's fresh read; if it comes back stale again we surface a
// precondition failure rather than an internal race.
func (c *Coordinator) mapRetriedStale(ctx context.Context, err error, turnID uuid.UUID, op string) error {
	if !errors.Is(err, models.ErrStaleState) {
		return err
	}
	current, getErr := c.turns.GetTurn(ctx, turnID)
	if getErr != nil {
		return getErr
	}
	return fmt.Errorf("%w: turn moved to %s during %s", models.ErrPrecondition, current.Status, op)
}

// emit records an intent; a failure is logged and never fails the operation
// that produced it.
func (c *Coordinator) emit(ctx context.Context, eventType string, fn func() error) {
	if err := fn(); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to record intent")
	}
}

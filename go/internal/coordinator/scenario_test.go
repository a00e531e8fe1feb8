package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/sketchparty/go/internal/game"
	"github.com/mcdev12/sketchparty/go/internal/jobs"
	"github.com/mcdev12/sketchparty/go/internal/models"
	"github.com/mcdev12/sketchparty/go/internal/offering"
	"github.com/mcdev12/sketchparty/go/internal/outbox"
	"github.com/mcdev12/sketchparty/go/internal/season"
	"github.com/mcdev12/sketchparty/go/internal/timeout"
	"github.com/mcdev12/sketchparty/go/internal/turn"
)

func onDemandReq(creator uuid.UUID) game.CreateOnDemandGameRequest {
	return game.CreateOnDemandGameRequest{
		CreatorID:      creator,
		GuildID:        "guild-1",
		TurnPattern:    []models.TurnType{models.TurnTypeWriting, models.TurnTypeDrawing},
		MinTurns:       1,
		StaleTimeout:   time.Hour,
		ClaimTimeout:   10 * time.Minute,
		WritingTimeout: time.Hour,
		DrawingTimeout: time.Hour,
	}
}

func seasonReq(creator uuid.UUID) season.CreateSeasonRequest {
	guild := "guild-1"
	return season.CreateSeasonRequest{
		CreatorID:      creator,
		GuildID:        &guild,
		MinPlayers:     2,
		MaxPlayers:     10,
		OpenDuration:   time.Hour,
		TurnPattern:    []models.TurnType{models.TurnTypeWriting},
		ClaimTimeout:   10 * time.Minute,
		WritingTimeout: time.Hour,
		DrawingTimeout: time.Hour,
	}
}

func submitText(t *testing.T, e *env, turnID, playerID uuid.UUID, text string) {
	t.Helper()
	_, err := e.co.SubmitTurn(context.Background(), turnID, turn.SubmitRequest{
		PlayerID: playerID,
		Text:     &text,
	})
	require.NoError(t, err)
}

func submitImage(t *testing.T, e *env, turnID, playerID uuid.UUID, url string) {
	t.Helper()
	_, err := e.co.SubmitTurn(context.Background(), turnID, turn.SubmitRequest{
		PlayerID: playerID,
		ImageURL: &url,
	})
	require.NoError(t, err)
}

// requireOneHead asserts the one-head-turn invariant for a game.
func requireOneHead(t *testing.T, e *env, gameID uuid.UUID) models.Turn {
	t.Helper()
	all, err := e.turns.ListTurnsByGame(context.Background(), gameID)
	require.NoError(t, err)
	var heads []models.Turn
	for _, tt := range all {
		if tt.Status.Head() {
			heads = append(heads, tt)
		}
	}
	require.Len(t, heads, 1, "expected exactly one head turn")
	return heads[0]
}

func TestOnDemandGameTwoPlayersThreeTurns(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.newPlayer(t, "alice")
	bob := e.newPlayer(t, "bob")

	req := onDemandReq(alice)
	maxTurns := 3
	req.MaxTurns = &maxTurns
	req.MinTurns = 3
	g, err := e.co.CreateOnDemandGame(ctx, req)
	require.NoError(t, err)

	// Turn 1 is directly the creator's, with a submission deadline armed.
	head := requireOneHead(t, e, g.ID)
	assert.Equal(t, 1, head.TurnNumber)
	assert.Equal(t, models.TurnTypeWriting, head.Type)
	assert.Equal(t, models.TurnStatusPending, head.Status)
	require.NotNil(t, head.PlayerID)
	assert.Equal(t, alice, *head.PlayerID)
	assert.True(t, e.jobStore.scheduled(jobs.TurnTimeoutJobID(head.ID)))

	submitText(t, e, head.ID, alice, "A cat in a hat")

	// Turn 2 waits for a joiner.
	head = requireOneHead(t, e, g.ID)
	assert.Equal(t, 2, head.TurnNumber)
	assert.Equal(t, models.TurnTypeDrawing, head.Type)
	assert.Equal(t, models.TurnStatusAvailable, head.Status)

	claimed, err := e.co.JoinOnDemandGame(ctx, bob, "guild-1")
	require.NoError(t, err)
	assert.Equal(t, head.ID, claimed.ID)
	assert.Equal(t, models.TurnStatusPending, claimed.Status)
	assert.True(t, e.jobStore.scheduled(jobs.TurnTimeoutJobID(claimed.ID)))

	submitImage(t, e, claimed.ID, bob, "https://cdn.example/u.png")

	// returnCount=0 lets the creator come straight back for turn 3.
	claimed, err = e.co.JoinOnDemandGame(ctx, alice, "guild-1")
	require.NoError(t, err)
	assert.Equal(t, 3, claimed.TurnNumber)
	assert.Equal(t, models.TurnTypeWriting, claimed.Type)

	submitText(t, e, claimed.ID, alice, "admiring crowd")

	got, err := e.games.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusCompleted, got.Status)

	completions := e.emitted.ofType(outbox.EventGameCompleted)
	require.Len(t, completions, 1)

	// Final chain content, in turn order.
	all, err := e.turns.ListTurnsByGame(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "A cat in a hat", *all[0].TextContent)
	assert.Equal(t, "https://cdn.example/u.png", *all[1].ImageURL)
	assert.Equal(t, "admiring crowd", *all[2].TextContent)

	// No live jobs remain for the finished game.
	left, err := e.jobStore.ListScheduledForGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSeasonClaimTimeoutDismissesAndReoffers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p1 := e.newPlayer(t, "p1")
	p2 := e.newPlayer(t, "p2")
	p3 := e.newPlayer(t, "p3")

	s, err := e.co.CreateSeason(ctx, seasonReq(p1))
	require.NoError(t, err)
	_, err = e.co.OpenSeason(ctx, s.ID)
	require.NoError(t, err)
	e.clock.Advance(time.Minute)
	_, err = e.co.JoinSeason(ctx, s.ID, p2)
	require.NoError(t, err)
	e.clock.Advance(time.Minute)
	_, err = e.co.JoinSeason(ctx, s.ID, p3)
	require.NoError(t, err)

	_, err = e.co.StartSeason(ctx, s.ID)
	require.NoError(t, err)

	games, err := e.games.ListGamesBySeason(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, games, 3)

	// Every fresh game offers to the first member by join order.
	g := games[0]
	head := requireOneHead(t, e, g.ID)
	require.Equal(t, models.TurnStatusOffered, head.Status)
	require.NotNil(t, head.PlayerID)
	assert.Equal(t, p1, *head.PlayerID)
	assert.True(t, e.jobStore.scheduled(jobs.TurnClaimTimeoutJobID(head.ID)))

	// The claim window lapses; the offer moves to the next member.
	e.fire(t, jobs.TurnClaimTimeoutJobID(head.ID))

	head = requireOneHead(t, e, g.ID)
	assert.Equal(t, models.TurnStatusOffered, head.Status)
	require.NotNil(t, head.PlayerID)
	assert.Equal(t, p2, *head.PlayerID)
	assert.True(t, e.jobStore.scheduled(jobs.TurnClaimTimeoutJobID(head.ID)))

	offers := e.emitted.ofType(outbox.EventTurnOffered)
	var forGame []recordedEvent
	for _, ev := range offers {
		if ev.Payload.(outbox.TurnOfferedPayload).GameID == g.ID {
			forGame = append(forGame, ev)
		}
	}
	require.Len(t, forGame, 2)
	assert.Equal(t, p2, forGame[1].Payload.(outbox.TurnOfferedPayload).PlayerID)
}

func TestOnDemandInitialTurnTimeoutDeletesGame(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.newPlayer(t, "alice")

	g, err := e.co.CreateOnDemandGame(ctx, onDemandReq(alice))
	require.NoError(t, err)
	head := requireOneHead(t, e, g.ID)

	e.fire(t, jobs.TurnTimeoutJobID(head.ID))

	_, err = e.games.GetGame(ctx, g.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	all, err := e.turns.ListTurnsByGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, all, "no orphan turn remains")

	left, err := e.jobStore.ListScheduledForGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, left)

	deleted := e.emitted.ofType(outbox.EventGameDeletedInitialTurnTimeout)
	require.Len(t, deleted, 1)
	assert.Equal(t, alice, deleted[0].Payload.(outbox.GameDeletedPayload).PlayerID)
}

func TestSubmitThenStaleTimeoutRedeliveryIsNoop(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.newPlayer(t, "alice")

	req := onDemandReq(alice)
	req.MinTurns = 5
	g, err := e.co.CreateOnDemandGame(ctx, req)
	require.NoError(t, err)
	head := requireOneHead(t, e, g.ID)
	timeoutJob := jobs.TurnTimeoutJobID(head.ID)

	submitText(t, e, head.ID, alice, "first line")

	// The timeout arrives late; the turn already completed.
	err = e.redeliver(t, timeoutJob)
	require.NoError(t, err)

	got, err := e.turns.GetTurn(ctx, head.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TurnStatusCompleted, got.Status)
	assert.Empty(t, e.emitted.ofType(outbox.EventTurnSkipped))
	// The game survived; turn 2 is the head.
	assert.Equal(t, 2, requireOneHead(t, e, g.ID).TurnNumber)
}

func TestTimeoutThenSubmitLosesWithPrecondition(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.newPlayer(t, "alice")
	bob := e.newPlayer(t, "bob")

	req := onDemandReq(alice)
	req.MinTurns = 5
	g, err := e.co.CreateOnDemandGame(ctx, req)
	require.NoError(t, err)
	first := requireOneHead(t, e, g.ID)
	submitText(t, e, first.ID, alice, "first line")

	claimed, err := e.co.JoinOnDemandGame(ctx, bob, "guild-1")
	require.NoError(t, err)

	// Bob's deadline fires; turn 2 is not the initial turn, so it skips.
	e.fire(t, jobs.TurnTimeoutJobID(claimed.ID))

	got, err := e.turns.GetTurn(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TurnStatusSkipped, got.Status)
	require.Len(t, e.emitted.ofType(outbox.EventTurnSkipped), 1)

	// The late submit loses cleanly.
	text := "too late"
	_, err = e.co.SubmitTurn(ctx, claimed.ID, turn.SubmitRequest{PlayerID: bob, Text: &text})
	assert.ErrorIs(t, err, models.ErrPrecondition)

	// No double terminal disposition and the chain moved on.
	assert.Len(t, e.emitted.ofType(outbox.EventTurnSkipped), 1)
	assert.Equal(t, 3, requireOneHead(t, e, g.ID).TurnNumber)
}

func TestReturnCooldownBlocksUntilOthersPlay(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.newPlayer(t, "alice")
	bob := e.newPlayer(t, "bob")
	carol := e.newPlayer(t, "carol")

	req := onDemandReq(alice)
	req.TurnPattern = []models.TurnType{models.TurnTypeWriting}
	req.MinTurns = 10
	req.ReturnCount = 1
	req.ReturnCooldown = 2
	g, err := e.co.CreateOnDemandGame(ctx, req)
	require.NoError(t, err)

	head := requireOneHead(t, e, g.ID)
	submitText(t, e, head.ID, alice, "one")

	// Alice met returnCount and no other player has gone since.
	_, err = e.co.JoinOnDemandGame(ctx, alice, "guild-1")
	assert.ErrorIs(t, err, models.ErrPrecondition)

	claimed, err := e.co.JoinOnDemandGame(ctx, bob, "guild-1")
	require.NoError(t, err)
	submitText(t, e, claimed.ID, bob, "two")

	// One intervening turn is still short of the cooldown of two.
	_, err = e.co.JoinOnDemandGame(ctx, alice, "guild-1")
	assert.ErrorIs(t, err, models.ErrPrecondition)

	claimed, err = e.co.JoinOnDemandGame(ctx, carol, "guild-1")
	require.NoError(t, err)
	submitText(t, e, claimed.ID, carol, "three")

	claimed, err = e.co.JoinOnDemandGame(ctx, alice, "guild-1")
	require.NoError(t, err)
	assert.Equal(t, 4, claimed.TurnNumber)
}

func TestSeasonCompletesWhenLastGameCompletes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p1 := e.newPlayer(t, "p1")
	p2 := e.newPlayer(t, "p2")

	s, err := e.co.CreateSeason(ctx, seasonReq(p1))
	require.NoError(t, err)
	_, err = e.co.OpenSeason(ctx, s.ID)
	require.NoError(t, err)
	e.clock.Advance(time.Minute)
	_, err = e.co.JoinSeason(ctx, s.ID, p2)
	require.NoError(t, err)
	_, err = e.co.StartSeason(ctx, s.ID)
	require.NoError(t, err)

	games, err := e.games.ListGamesBySeason(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, games, 2)

	playThrough := func(gameID uuid.UUID) {
		for {
			head := requireOneHead(t, e, gameID)
			require.Equal(t, models.TurnStatusOffered, head.Status)
			holder := *head.PlayerID
			_, err := e.co.ClaimTurn(ctx, head.ID, holder)
			require.NoError(t, err)
			submitText(t, e, head.ID, holder, "line")

			got, err := e.games.GetGame(ctx, gameID)
			require.NoError(t, err)
			if got.Status == models.GameStatusCompleted {
				return
			}
		}
	}

	playThrough(games[0].ID)

	got, err := e.seasons.GetSeason(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SeasonStatusActive, got.Status, "season stays active until the last game")
	assert.Empty(t, e.emitted.ofType(outbox.EventSeasonCompleted))

	playThrough(games[1].ID)

	got, err = e.seasons.GetSeason(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SeasonStatusCompleted, got.Status)
	require.Len(t, e.emitted.ofType(outbox.EventSeasonCompleted), 1)
	assert.Len(t, e.emitted.ofType(outbox.EventGameCompleted), 2)
}

func TestSeasonOpenTimeoutStartsQuorateSeason(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p1 := e.newPlayer(t, "p1")
	p2 := e.newPlayer(t, "p2")

	s, err := e.co.CreateSeason(ctx, seasonReq(p1))
	require.NoError(t, err)
	_, err = e.co.OpenSeason(ctx, s.ID)
	require.NoError(t, err)
	_, err = e.co.JoinSeason(ctx, s.ID, p2)
	require.NoError(t, err)

	e.fire(t, jobs.SeasonOpenTimeoutJobID(s.ID))

	got, err := e.seasons.GetSeason(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SeasonStatusActive, got.Status)
	games, err := e.games.ListGamesBySeason(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, games, 2)
}

func TestSeasonOpenTimeoutTerminatesUnderfilledSeason(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p1 := e.newPlayer(t, "p1")

	s, err := e.co.CreateSeason(ctx, seasonReq(p1))
	require.NoError(t, err)
	_, err = e.co.OpenSeason(ctx, s.ID)
	require.NoError(t, err)

	e.fire(t, jobs.SeasonOpenTimeoutJobID(s.ID))

	got, err := e.seasons.GetSeason(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SeasonStatusTerminated, got.Status)
	games, err := e.games.ListGamesBySeason(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, games)
}

func TestClaimWarningEmitsWithRemainingTime(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p1 := e.newPlayer(t, "p1")
	p2 := e.newPlayer(t, "p2")

	req := seasonReq(p1)
	req.ClaimWarning = 4 * time.Minute
	s, err := e.co.CreateSeason(ctx, req)
	require.NoError(t, err)
	_, err = e.co.OpenSeason(ctx, s.ID)
	require.NoError(t, err)
	_, err = e.co.JoinSeason(ctx, s.ID, p2)
	require.NoError(t, err)
	_, err = e.co.StartSeason(ctx, s.ID)
	require.NoError(t, err)

	games, err := e.games.ListGamesBySeason(ctx, s.ID)
	require.NoError(t, err)
	head := requireOneHead(t, e, games[0].ID)

	e.fire(t, jobs.TurnWarningJobID(head.ID))

	warnings := e.emitted.ofType(outbox.EventTurnWarning)
	require.Len(t, warnings, 1)
	p := warnings[0].Payload.(outbox.TurnWarningPayload)
	assert.True(t, p.IsClaimWarn)
	assert.Equal(t, head.ID, p.TurnID)
	assert.Equal(t, 6*time.Minute, p.Remaining)

	// A claimed turn silences a late-delivered claim warning.
	_, err = e.co.ClaimTurn(ctx, head.ID, *head.PlayerID)
	require.NoError(t, err)
	require.NoError(t, e.redeliver(t, jobs.TurnWarningJobID(head.ID)))
	assert.Len(t, e.emitted.ofType(outbox.EventTurnWarning), 1)
}

func TestFlagPausesGameAndEmits(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.newPlayer(t, "alice")
	moderator := e.newPlayer(t, "mod")

	req := onDemandReq(alice)
	req.MinTurns = 5
	g, err := e.co.CreateOnDemandGame(ctx, req)
	require.NoError(t, err)
	head := requireOneHead(t, e, g.ID)
	submitText(t, e, head.ID, alice, "questionable content")

	require.NoError(t, e.co.FlagTurn(ctx, head.ID, moderator))

	gotTurn, err := e.turns.GetTurn(ctx, head.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TurnStatusFlagged, gotTurn.Status)
	gotGame, err := e.games.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusPaused, gotGame.Status)

	flagged := e.emitted.ofType(outbox.EventContentFlagged)
	require.Len(t, flagged, 1)
	assert.Equal(t, moderator, flagged[0].Payload.(outbox.ContentFlaggedPayload).FlaggerID)
}

func TestStaleSweepCompletesIdleGame(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.newPlayer(t, "alice")

	g, err := e.co.CreateOnDemandGame(ctx, onDemandReq(alice))
	require.NoError(t, err)
	head := requireOneHead(t, e, g.ID)
	submitText(t, e, head.ID, alice, "only line")

	// minTurns met but nobody joins; the game goes quiet past staleTimeout.
	e.clock.Advance(2 * time.Hour)

	require.NoError(t, e.co.ScheduleNextSweep(ctx))
	sweepID := jobs.StaleGameSweepJobID(e.clock.Now().Add(SweepInterval))
	e.fire(t, sweepID)

	got, err := e.games.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusCompleted, got.Status)
	require.Len(t, e.emitted.ofType(outbox.EventGameCompleted), 1)

	// The sweep re-armed itself.
	next := jobs.StaleGameSweepJobID(e.clock.Now().Add(SweepInterval))
	assert.True(t, e.jobStore.scheduled(next))
}

func TestBannedPlayerRefusedEverywhere(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.newPlayer(t, "alice")
	_, err := e.players.BanPlayer(ctx, alice)
	require.NoError(t, err)

	_, err = e.co.CreateOnDemandGame(ctx, onDemandReq(alice))
	assert.ErrorIs(t, err, models.ErrPrecondition)
	_, err = e.co.JoinOnDemandGame(ctx, alice, "guild-1")
	assert.ErrorIs(t, err, models.ErrPrecondition)
	_, err = e.co.CreateSeason(ctx, seasonReq(alice))
	assert.ErrorIs(t, err, models.ErrPrecondition)
}

func TestClaimByWrongPlayerRefused(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p1 := e.newPlayer(t, "p1")
	p2 := e.newPlayer(t, "p2")
	intruder := e.newPlayer(t, "intruder")

	s, err := e.co.CreateSeason(ctx, seasonReq(p1))
	require.NoError(t, err)
	_, err = e.co.OpenSeason(ctx, s.ID)
	require.NoError(t, err)
	_, err = e.co.JoinSeason(ctx, s.ID, p2)
	require.NoError(t, err)
	_, err = e.co.StartSeason(ctx, s.ID)
	require.NoError(t, err)

	games, err := e.games.ListGamesBySeason(ctx, s.ID)
	require.NoError(t, err)
	head := requireOneHead(t, e, games[0].ID)

	_, err = e.co.ClaimTurn(ctx, head.ID, intruder)
	assert.ErrorIs(t, err, models.ErrPrecondition)
}

func TestTerminateSeasonEndsGamesAndJobs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p1 := e.newPlayer(t, "p1")
	p2 := e.newPlayer(t, "p2")

	s, err := e.co.CreateSeason(ctx, seasonReq(p1))
	require.NoError(t, err)
	_, err = e.co.OpenSeason(ctx, s.ID)
	require.NoError(t, err)
	_, err = e.co.JoinSeason(ctx, s.ID, p2)
	require.NoError(t, err)
	_, err = e.co.StartSeason(ctx, s.ID)
	require.NoError(t, err)

	require.NoError(t, e.co.TerminateSeason(ctx, s.ID))

	got, err := e.seasons.GetSeason(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SeasonStatusTerminated, got.Status)

	games, err := e.games.ListGamesBySeason(ctx, s.ID)
	require.NoError(t, err)
	for _, g := range games {
		assert.Equal(t, models.GameStatusTerminated, g.Status)
		left, err := e.jobStore.ListScheduledForGame(ctx, g.ID)
		require.NoError(t, err)
		assert.Empty(t, left)
	}
}

func TestJoinPrefersGameNearestStaleExpiry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.newPlayer(t, "alice")
	bob := e.newPlayer(t, "bob")
	carol := e.newPlayer(t, "carol")

	// Two open games; the older one is closer to its stale expiry.
	reqA := onDemandReq(alice)
	reqA.MinTurns = 5
	gOld, err := e.co.CreateOnDemandGame(ctx, reqA)
	require.NoError(t, err)
	headOld := requireOneHead(t, e, gOld.ID)
	submitText(t, e, headOld.ID, alice, "old game line")

	e.clock.Advance(30 * time.Minute)

	reqB := onDemandReq(bob)
	reqB.MinTurns = 5
	gNew, err := e.co.CreateOnDemandGame(ctx, reqB)
	require.NoError(t, err)
	headNew := requireOneHead(t, e, gNew.ID)
	submitText(t, e, headNew.ID, bob, "new game line")

	claimed, err := e.co.JoinOnDemandGame(ctx, carol, "guild-1")
	require.NoError(t, err)
	assert.Equal(t, gOld.ID, claimed.GameID)
}

func TestDismissedClaimTimeoutRedeliveryIsNoop(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p1 := e.newPlayer(t, "p1")
	p2 := e.newPlayer(t, "p2")

	s, err := e.co.CreateSeason(ctx, seasonReq(p1))
	require.NoError(t, err)
	_, err = e.co.OpenSeason(ctx, s.ID)
	require.NoError(t, err)
	_, err = e.co.JoinSeason(ctx, s.ID, p2)
	require.NoError(t, err)
	_, err = e.co.StartSeason(ctx, s.ID)
	require.NoError(t, err)

	games, err := e.games.ListGamesBySeason(ctx, s.ID)
	require.NoError(t, err)
	head := requireOneHead(t, e, games[0].ID)
	jobID := jobs.TurnClaimTimeoutJobID(head.ID)

	// The holder claims; a duplicate delivery of the old claim timeout must
	// not dismiss the pending turn.
	_, err = e.co.ClaimTurn(ctx, head.ID, *head.PlayerID)
	require.NoError(t, err)
	require.NoError(t, e.redeliver(t, jobID))

	got, err := e.turns.GetTurn(ctx, head.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TurnStatusPending, got.Status)
}

func TestSubmitTurnEmitsAckAndTouchesActivity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.newPlayer(t, "alice")

	req := onDemandReq(alice)
	req.MinTurns = 5
	g, err := e.co.CreateOnDemandGame(ctx, req)
	require.NoError(t, err)
	head := requireOneHead(t, e, g.ID)

	e.clock.Advance(15 * time.Minute)
	submitText(t, e, head.ID, alice, "line")

	acks := e.emitted.ofType(outbox.EventTurnSubmittedAck)
	require.Len(t, acks, 1)
	assert.Equal(t, alice, acks[0].Payload.(outbox.TurnSubmittedAckPayload).PlayerID)

	got, err := e.games.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, e.clock.Now(), got.LastActivityAt)
}

func TestNoJoinableGameForSecondPendingPlayer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.newPlayer(t, "alice")
	bob := e.newPlayer(t, "bob")

	// Alice holds the only head turn; nothing is AVAILABLE for Bob.
	_, err := e.co.CreateOnDemandGame(ctx, onDemandReq(alice))
	require.NoError(t, err)

	_, err = e.co.JoinOnDemandGame(ctx, bob, "guild-1")
	assert.ErrorIs(t, err, models.ErrPrecondition)
}

// submitBeforeSkipTurns wraps the turn service so a submission lands right
// before the skip's conditional update: the narrowest interleaving of a
// player submitting against a firing deadline.
type submitBeforeSkipTurns struct {
	*turn.App
	playerID  uuid.UUID
	submitErr error
	done      bool
}

func (s *submitBeforeSkipTurns) Skip(ctx context.Context, turnID uuid.UUID) (*models.Turn, error) {
	if !s.done {
		s.done = true
		text := "just in time"
		_, s.submitErr = s.App.Submit(ctx, turnID, turn.SubmitRequest{PlayerID: s.playerID, Text: &text})
	}
	return s.App.Skip(ctx, turnID)
}

func TestSubmitRacingInitialTurnSkipKeepsGame(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.newPlayer(t, "alice")

	g, err := e.co.CreateOnDemandGame(ctx, onDemandReq(alice))
	require.NoError(t, err)
	head := requireOneHead(t, e, g.ID)

	wrapped := &submitBeforeSkipTurns{App: e.turns, playerID: alice}
	co := New(wrapped, e.games, e.seasons, e.players,
		offering.NewService(e.turns, e.seasons, e.players),
		timeout.NewService(e.sched, e.clock), e.sched, e.emitted, e.clock)

	// The skip loses the first-transition-wins race to the submit; the
	// deletion cascade must not run over the committed content.
	err = co.SkipTurn(ctx, head.ID)
	require.NoError(t, wrapped.submitErr)
	assert.ErrorIs(t, err, models.ErrPrecondition)

	got, err := e.games.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusActive, got.Status)

	gotTurn, err := e.turns.GetTurn(ctx, head.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TurnStatusCompleted, gotTurn.Status)
	require.NotNil(t, gotTurn.TextContent)
	assert.Equal(t, "just in time", *gotTurn.TextContent)
	assert.Empty(t, e.emitted.ofType(outbox.EventGameDeletedInitialTurnTimeout))
}

func TestSubmissionTimeoutOnOfferedTurnDismisses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p1 := e.newPlayer(t, "p1")
	p2 := e.newPlayer(t, "p2")

	s, err := e.co.CreateSeason(ctx, seasonReq(p1))
	require.NoError(t, err)
	_, err = e.co.OpenSeason(ctx, s.ID)
	require.NoError(t, err)
	e.clock.Advance(time.Minute)
	_, err = e.co.JoinSeason(ctx, s.ID, p2)
	require.NoError(t, err)
	_, err = e.co.StartSeason(ctx, s.ID)
	require.NoError(t, err)

	games, err := e.games.ListGamesBySeason(ctx, s.ID)
	require.NoError(t, err)
	g := games[0]
	head := requireOneHead(t, e, g.ID)
	require.Equal(t, models.TurnStatusOffered, head.Status)
	holder := *head.PlayerID

	// Recreate the state a crash mid-claim leaves behind: the claim jobs
	// already swapped for the submission timeout, the claim never committed.
	e.sched.Cancel(ctx, jobs.TurnWarningJobID(head.ID))
	e.sched.Cancel(ctx, jobs.TurnClaimTimeoutJobID(head.ID))
	require.NoError(t, e.sched.Schedule(ctx, jobs.TurnTimeoutJobID(head.ID),
		e.clock.Now().Add(time.Hour), models.JobTypeTurnTimeout,
		jobs.TurnPayload{TurnID: head.ID, GameID: g.ID, PlayerID: head.PlayerID}))

	e.fire(t, jobs.TurnTimeoutJobID(head.ID))

	// The stranded offer was dismissed and moved on with a fresh enforcer.
	head = requireOneHead(t, e, g.ID)
	assert.Equal(t, models.TurnStatusOffered, head.Status)
	require.NotNil(t, head.PlayerID)
	assert.NotEqual(t, holder, *head.PlayerID)
	assert.True(t, e.jobStore.scheduled(jobs.TurnClaimTimeoutJobID(head.ID)))
}

// Package offering decides who plays next. It finds or creates a game's head
// turn, picks the season candidate in a deterministic order, and enforces the
// on-demand return policy.
package offering

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sketchparty/go/internal/models"
	"github.com/mcdev12/sketchparty/go/internal/turn"
)

// TurnStore defines what the offering service needs from the turn layer.
type TurnStore interface {
	GetHeadTurn(ctx context.Context, gameID uuid.UUID) (*models.Turn, error)
	ListTerminalTurns(ctx context.Context, gameID uuid.UUID) ([]models.Turn, error)
	CreateTurn(ctx context.Context, req turn.CreateTurnRequest) (*models.Turn, error)
	HasPendingTurn(ctx context.Context, playerID uuid.UUID) (bool, error)
	CompletedCountsBySeason(ctx context.Context, seasonID uuid.UUID) ([]turn.PlayerTurnCount, error)
}

// MembershipStore defines what the offering service needs from the season layer.
type MembershipStore interface {
	ListMembers(ctx context.Context, seasonID uuid.UUID) ([]models.SeasonMember, error)
}

// PlayerStore defines what the offering service needs from the player layer.
type PlayerStore interface {
	ListPlayers(ctx context.Context, ids []uuid.UUID) ([]models.Player, error)
}

// Service selects turns and players. It never transitions turns itself beyond
// creating a fresh AVAILABLE head; the coordinator applies offers.
type Service struct {
	turns   TurnStore
	members MembershipStore
	players PlayerStore
}

func NewService(turns TurnStore, members MembershipStore, players PlayerStore) *Service {
	return &Service{turns: turns, members: members, players: players}
}

// FindOrCreateHead returns the game's head turn, creating the next link of
// the chain if every prior turn is terminal. A concurrent creator loses with
// ErrStaleState from the head-turn unique index.
func (s *Service) FindOrCreateHead(ctx context.Context, game *models.Game, pattern []models.TurnType) (*models.Turn, error) {
	head, err := s.turns.GetHeadTurn(ctx, game.ID)
	if err == nil {
		return head, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	terminal, err := s.turns.ListTerminalTurns(ctx, game.ID)
	if err != nil {
		return nil, err
	}
	if len(pattern) == 0 {
		return nil, fmt.Errorf("%w: game has an empty turn pattern", models.ErrValidation)
	}

	turnNumber := 1
	var previousTurnID *uuid.UUID
	if len(terminal) > 0 {
		last := terminal[len(terminal)-1]
		turnNumber = last.TurnNumber + 1
		previousTurnID = &last.ID
	}

	created, err := s.turns.CreateTurn(ctx, turn.CreateTurnRequest{
		ID:             uuid.New(),
		GameID:         game.ID,
		TurnNumber:     turnNumber,
		Type:           pattern[(turnNumber-1)%len(pattern)],
		Status:         models.TurnStatusAvailable,
		PreviousTurnID: previousTurnID,
	})
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("game_id", game.ID.String()).
		Int("turn_number", created.TurnNumber).
		Str("type", string(created.Type)).
		Msg("created head turn")
	return created, nil
}

// SelectSeasonCandidate picks the player to offer a season game's head turn
// to. Eligible members are ordered by completed turns in the season, then
// join time, then player ID. The previous turn's player and avoid (the one
// whose offer just lapsed, if any) are passed over unless nobody else is
// eligible. Returns nil when no member is eligible.
func (s *Service) SelectSeasonCandidate(ctx context.Context, game *models.Game, avoid *uuid.UUID) (*uuid.UUID, error) {
	if game.SeasonID == nil {
		return nil, fmt.Errorf("%w: candidate selection applies to season games", models.ErrValidation)
	}

	members, err := s.members.ListMembers(ctx, *game.SeasonID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.PlayerID
	}
	players, err := s.players.ListPlayers(ctx, ids)
	if err != nil {
		return nil, err
	}
	banned := make(map[uuid.UUID]bool, len(players))
	for i := range players {
		if players[i].Banned() {
			banned[players[i].ID] = true
		}
	}

	counts, err := s.turns.CompletedCountsBySeason(ctx, *game.SeasonID)
	if err != nil {
		return nil, err
	}
	completed := make(map[uuid.UUID]int, len(counts))
	for _, c := range counts {
		completed[c.PlayerID] = c.Count
	}

	prevPlayer, err := s.previousPlayer(ctx, game.ID)
	if err != nil {
		return nil, err
	}

	ordered := append([]models.SeasonMember(nil), members...)
	sort.SliceStable(ordered, func(i, j int) bool {
		ci, cj := completed[ordered[i].PlayerID], completed[ordered[j].PlayerID]
		if ci != cj {
			return ci < cj
		}
		if !ordered[i].JoinedAt.Equal(ordered[j].JoinedAt) {
			return ordered[i].JoinedAt.Before(ordered[j].JoinedAt)
		}
		return ordered[i].PlayerID.String() < ordered[j].PlayerID.String()
	})

	var fallback *uuid.UUID
	for _, m := range ordered {
		id := m.PlayerID
		if banned[id] {
			continue
		}
		pending, err := s.turns.HasPendingTurn(ctx, id)
		if err != nil {
			return nil, err
		}
		if pending {
			continue
		}
		if (prevPlayer != nil && id == *prevPlayer) || (avoid != nil && id == *avoid) {
			if fallback == nil {
				p := id
				fallback = &p
			}
			continue
		}
		p := id
		return &p, nil
	}
	// Only the avoided players remain eligible.
	return fallback, nil
}

// CheckReturnPolicy enforces the on-demand return rules for a player wanting
// an AVAILABLE turn. Returns ErrPrecondition when the player must wait.
func (s *Service) CheckReturnPolicy(ctx context.Context, gameID, playerID uuid.UUID, cfg *models.GameConfig) error {
	if cfg.ReturnCount == 0 {
		return nil
	}

	terminal, err := s.turns.ListTerminalTurns(ctx, gameID)
	if err != nil {
		return err
	}

	taken := 0
	lastIdx := -1
	for i, t := range terminal {
		if t.PlayerID != nil && *t.PlayerID == playerID {
			taken++
			lastIdx = i
		}
	}
	if taken < cfg.ReturnCount {
		return nil
	}
	// Cooldown of zero disables the wait entirely.
	if cfg.ReturnCooldown == 0 {
		return nil
	}

	others := 0
	for _, t := range terminal[lastIdx+1:] {
		if t.PlayerID == nil || *t.PlayerID != playerID {
			others++
		}
	}
	if others < cfg.ReturnCooldown {
		return fmt.Errorf("%w: %d more turns by other players required before returning",
			models.ErrPrecondition, cfg.ReturnCooldown-others)
	}
	return nil
}

// previousPlayer returns the player of the game's latest terminal turn.
func (s *Service) previousPlayer(ctx context.Context, gameID uuid.UUID) (*uuid.UUID, error) {
	terminal, err := s.turns.ListTerminalTurns(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if len(terminal) == 0 {
		return nil, nil
	}
	return terminal[len(terminal)-1].PlayerID, nil
}

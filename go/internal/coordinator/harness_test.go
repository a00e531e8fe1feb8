package coordinator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/sketchparty/go/internal/game"
	"github.com/mcdev12/sketchparty/go/internal/jobs"
	"github.com/mcdev12/sketchparty/go/internal/models"
	"github.com/mcdev12/sketchparty/go/internal/offering"
	"github.com/mcdev12/sketchparty/go/internal/outbox"
	"github.com/mcdev12/sketchparty/go/internal/player"
	"github.com/mcdev12/sketchparty/go/internal/season"
	"github.com/mcdev12/sketchparty/go/internal/timeout"
	"github.com/mcdev12/sketchparty/go/internal/turn"
)

// memDB backs the in-memory repositories. One lock covers everything; the
// scenarios are single-goroutine and the per-table fakes elsewhere cover
// concurrency.
type memDB struct {
	mu            sync.Mutex
	turns         map[uuid.UUID]models.Turn
	games         map[uuid.UUID]models.Game
	gameConfigs   map[uuid.UUID]models.GameConfig
	seasons       map[uuid.UUID]models.Season
	seasonConfigs map[uuid.UUID]models.SeasonConfig
	members       map[uuid.UUID][]models.SeasonMember
	players       map[uuid.UUID]models.Player
}

func newMemDB() *memDB {
	return &memDB{
		turns:         make(map[uuid.UUID]models.Turn),
		games:         make(map[uuid.UUID]models.Game),
		gameConfigs:   make(map[uuid.UUID]models.GameConfig),
		seasons:       make(map[uuid.UUID]models.Season),
		seasonConfigs: make(map[uuid.UUID]models.SeasonConfig),
		members:       make(map[uuid.UUID][]models.SeasonMember),
		players:       make(map[uuid.UUID]models.Player),
	}
}

// memTurnRepo implements turn.TurnRepository, including the head-turn unique
// index and the (game, turnNumber) uniqueness of the Postgres schema.
type memTurnRepo struct{ db *memDB }

func (r *memTurnRepo) CreateTurn(_ context.Context, req turn.CreateTurnRequest) (*models.Turn, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, t := range r.db.turns {
		if t.GameID != req.GameID {
			continue
		}
		if t.Status.Head() || t.TurnNumber == req.TurnNumber {
			return nil, models.ErrStaleState
		}
	}
	t := models.Turn{
		ID:             req.ID,
		GameID:         req.GameID,
		TurnNumber:     req.TurnNumber,
		Type:           req.Type,
		Status:         req.Status,
		PlayerID:       req.PlayerID,
		PreviousTurnID: req.PreviousTurnID,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	r.db.turns[t.ID] = t
	return &t, nil
}

func (r *memTurnRepo) GetTurn(_ context.Context, id uuid.UUID) (*models.Turn, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.turns[id]
	if !ok {
		return nil, fmt.Errorf("turn %s: %w", id, models.ErrNotFound)
	}
	return &t, nil
}

func (r *memTurnRepo) GetHeadTurn(_ context.Context, gameID uuid.UUID) (*models.Turn, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, t := range r.db.turns {
		if t.GameID == gameID && t.Status.Head() {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("head turn for game %s: %w", gameID, models.ErrNotFound)
}

func (r *memTurnRepo) ListTurnsByGame(_ context.Context, gameID uuid.UUID) ([]models.Turn, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Turn
	for _, t := range r.db.turns {
		if t.GameID == gameID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TurnNumber < out[j].TurnNumber })
	return out, nil
}

func (r *memTurnRepo) ListTerminalTurns(_ context.Context, gameID uuid.UUID) ([]models.Turn, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Turn
	for _, t := range r.db.turns {
		if t.GameID == gameID &&
			(t.Status == models.TurnStatusCompleted || t.Status == models.TurnStatusSkipped) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TurnNumber < out[j].TurnNumber })
	return out, nil
}

func (r *memTurnRepo) HasPendingTurn(_ context.Context, playerID uuid.UUID) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, t := range r.db.turns {
		if t.Status == models.TurnStatusPending && t.PlayerID != nil && *t.PlayerID == playerID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memTurnRepo) CompletedCountsBySeason(_ context.Context, seasonID uuid.UUID) ([]turn.PlayerTurnCount, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	counts := make(map[uuid.UUID]int)
	for _, t := range r.db.turns {
		if t.Status != models.TurnStatusCompleted || t.PlayerID == nil {
			continue
		}
		g, ok := r.db.games[t.GameID]
		if !ok || g.SeasonID == nil || *g.SeasonID != seasonID {
			continue
		}
		counts[*t.PlayerID]++
	}
	var out []turn.PlayerTurnCount
	for id, n := range counts {
		out = append(out, turn.PlayerTurnCount{PlayerID: id, Count: n})
	}
	return out, nil
}

func (r *memTurnRepo) DeleteTurnsByGame(_ context.Context, gameID uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, t := range r.db.turns {
		if t.GameID == gameID {
			delete(r.db.turns, id)
		}
	}
	return nil
}

func (r *memTurnRepo) mutate(id uuid.UUID, cond func(models.Turn) bool, change func(*models.Turn)) (*models.Turn, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.turns[id]
	if !ok || !cond(t) {
		return nil, models.ErrStaleState
	}
	change(&t)
	t.UpdatedAt = time.Now()
	r.db.turns[id] = t
	return &t, nil
}

func (r *memTurnRepo) Offer(_ context.Context, id, playerID uuid.UUID, at time.Time) (*models.Turn, error) {
	return r.mutate(id,
		func(t models.Turn) bool { return t.Status == models.TurnStatusAvailable },
		func(t *models.Turn) {
			t.Status = models.TurnStatusOffered
			t.PlayerID = &playerID
			t.OfferedAt = &at
		})
}

func (r *memTurnRepo) Claim(_ context.Context, id, playerID uuid.UUID, at time.Time) (*models.Turn, error) {
	return r.mutate(id,
		func(t models.Turn) bool {
			return t.Status == models.TurnStatusOffered && t.PlayerID != nil && *t.PlayerID == playerID
		},
		func(t *models.Turn) {
			t.Status = models.TurnStatusPending
			t.ClaimedAt = &at
		})
}

func (r *memTurnRepo) Dismiss(_ context.Context, id uuid.UUID) (*models.Turn, error) {
	return r.mutate(id,
		func(t models.Turn) bool { return t.Status == models.TurnStatusOffered },
		func(t *models.Turn) {
			t.Status = models.TurnStatusAvailable
			t.PlayerID = nil
			t.OfferedAt = nil
		})
}

func (r *memTurnRepo) Submit(_ context.Context, id, playerID uuid.UUID, text, imageURL *string, at time.Time) (*models.Turn, error) {
	return r.mutate(id,
		func(t models.Turn) bool {
			return t.Status == models.TurnStatusPending && t.PlayerID != nil && *t.PlayerID == playerID
		},
		func(t *models.Turn) {
			t.Status = models.TurnStatusCompleted
			t.TextContent = text
			t.ImageURL = imageURL
			t.CompletedAt = &at
		})
}

func (r *memTurnRepo) Skip(_ context.Context, id uuid.UUID, at time.Time) (*models.Turn, error) {
	return r.mutate(id,
		func(t models.Turn) bool { return t.Status == models.TurnStatusPending },
		func(t *models.Turn) {
			t.Status = models.TurnStatusSkipped
			t.SkippedAt = &at
		})
}

func (r *memTurnRepo) Flag(_ context.Context, id uuid.UUID) (*models.Turn, error) {
	return r.mutate(id,
		func(t models.Turn) bool { return t.Status == models.TurnStatusCompleted },
		func(t *models.Turn) { t.Status = models.TurnStatusFlagged })
}

// memGameRepo implements game.GameRepository.
type memGameRepo struct{ db *memDB }

func (r *memGameRepo) CreateOnDemandGame(_ context.Context, req game.CreateOnDemandGameRequest, at time.Time) (*models.Game, *models.GameConfig, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cfg := models.GameConfig{
		ID:             uuid.New(),
		TurnPattern:    req.TurnPattern,
		MinTurns:       req.MinTurns,
		MaxTurns:       req.MaxTurns,
		StaleTimeout:   req.StaleTimeout,
		ReturnCount:    req.ReturnCount,
		ReturnCooldown: req.ReturnCooldown,
		ClaimTimeout:   req.ClaimTimeout,
		WritingTimeout: req.WritingTimeout,
		DrawingTimeout: req.DrawingTimeout,
		ClaimWarning:   req.ClaimWarning,
		WritingWarning: req.WritingWarning,
		DrawingWarning: req.DrawingWarning,
	}
	g := models.Game{
		ID:             uuid.New(),
		Status:         models.GameStatusActive,
		CreatorID:      &req.CreatorID,
		GuildID:        &req.GuildID,
		ConfigID:       &cfg.ID,
		CreatedAt:      at,
		LastActivityAt: at,
	}
	r.db.gameConfigs[cfg.ID] = cfg
	r.db.games[g.ID] = g
	return &g, &cfg, nil
}

func (r *memGameRepo) CreateSeasonGame(_ context.Context, seasonID uuid.UUID, at time.Time) (*models.Game, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	g := models.Game{
		ID:             uuid.New(),
		Status:         models.GameStatusActive,
		SeasonID:       &seasonID,
		CreatedAt:      at,
		LastActivityAt: at,
	}
	r.db.games[g.ID] = g
	return &g, nil
}

func (r *memGameRepo) GetGame(_ context.Context, id uuid.UUID) (*models.Game, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	g, ok := r.db.games[id]
	if !ok {
		return nil, fmt.Errorf("game %s: %w", id, models.ErrNotFound)
	}
	return &g, nil
}

func (r *memGameRepo) GetGameConfig(_ context.Context, id uuid.UUID) (*models.GameConfig, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cfg, ok := r.db.gameConfigs[id]
	if !ok {
		return nil, fmt.Errorf("game config %s: %w", id, models.ErrNotFound)
	}
	return &cfg, nil
}

func (r *memGameRepo) ListGamesBySeason(_ context.Context, seasonID uuid.UUID) ([]models.Game, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Game
	for _, g := range r.db.games {
		if g.SeasonID != nil && *g.SeasonID == seasonID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *memGameRepo) ListActiveOnDemandByGuild(_ context.Context, guildID string) ([]models.Game, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Game
	for _, g := range r.db.games {
		if g.SeasonID == nil && g.Status == models.GameStatusActive &&
			g.GuildID != nil && *g.GuildID == guildID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.Before(out[j].LastActivityAt) })
	return out, nil
}

func (r *memGameRepo) ListActiveOnDemand(_ context.Context) ([]models.Game, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Game
	for _, g := range r.db.games {
		if g.SeasonID == nil && g.Status == models.GameStatusActive {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *memGameRepo) CountUnfinishedBySeason(_ context.Context, seasonID uuid.UUID) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, g := range r.db.games {
		if g.SeasonID != nil && *g.SeasonID == seasonID &&
			g.Status != models.GameStatusCompleted && g.Status != models.GameStatusTerminated {
			n++
		}
	}
	return n, nil
}

func (r *memGameRepo) TransitionStatus(_ context.Context, id uuid.UUID, from, to models.GameStatus, completedAt *time.Time) (*models.Game, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	g, ok := r.db.games[id]
	if !ok || g.Status != from {
		return nil, models.ErrStaleState
	}
	g.Status = to
	g.CompletedAt = completedAt
	g.UpdatedAt = time.Now()
	r.db.games[id] = g
	return &g, nil
}

func (r *memGameRepo) TouchActivity(_ context.Context, id uuid.UUID, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	g, ok := r.db.games[id]
	if !ok {
		return fmt.Errorf("game %s: %w", id, models.ErrNotFound)
	}
	g.LastActivityAt = at
	r.db.games[id] = g
	return nil
}

func (r *memGameRepo) DeleteGame(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.games, id)
	return nil
}

// memSeasonRepo implements season.SeasonRepository.
type memSeasonRepo struct{ db *memDB }

func (r *memSeasonRepo) CreateSeason(_ context.Context, req season.CreateSeasonRequest) (*models.Season, *models.SeasonConfig, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cfg := models.SeasonConfig{
		ID:             uuid.New(),
		MinPlayers:     req.MinPlayers,
		MaxPlayers:     req.MaxPlayers,
		OpenDuration:   req.OpenDuration,
		TurnPattern:    req.TurnPattern,
		ClaimTimeout:   req.ClaimTimeout,
		WritingTimeout: req.WritingTimeout,
		DrawingTimeout: req.DrawingTimeout,
		ClaimWarning:   req.ClaimWarning,
		WritingWarning: req.WritingWarning,
		DrawingWarning: req.DrawingWarning,
	}
	s := models.Season{
		ID:        uuid.New(),
		Status:    models.SeasonStatusSetup,
		CreatorID: req.CreatorID,
		ConfigID:  cfg.ID,
		GuildID:   req.GuildID,
		CreatedAt: time.Now(),
	}
	r.db.seasonConfigs[cfg.ID] = cfg
	r.db.seasons[s.ID] = s
	return &s, &cfg, nil
}

func (r *memSeasonRepo) GetSeason(_ context.Context, id uuid.UUID) (*models.Season, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.seasons[id]
	if !ok {
		return nil, fmt.Errorf("season %s: %w", id, models.ErrNotFound)
	}
	return &s, nil
}

func (r *memSeasonRepo) GetSeasonConfig(_ context.Context, id uuid.UUID) (*models.SeasonConfig, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cfg, ok := r.db.seasonConfigs[id]
	if !ok {
		return nil, fmt.Errorf("season config %s: %w", id, models.ErrNotFound)
	}
	return &cfg, nil
}

func (r *memSeasonRepo) ListSeasonsByGuild(_ context.Context, guildID string) ([]models.Season, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Season
	for _, s := range r.db.seasons {
		if s.GuildID != nil && *s.GuildID == guildID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memSeasonRepo) TransitionStatus(_ context.Context, id uuid.UUID, from, to models.SeasonStatus, completedAt *time.Time) (*models.Season, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.seasons[id]
	if !ok || s.Status != from {
		return nil, models.ErrStaleState
	}
	s.Status = to
	s.CompletedAt = completedAt
	s.UpdatedAt = time.Now()
	r.db.seasons[id] = s
	return &s, nil
}

func (r *memSeasonRepo) AddMember(_ context.Context, seasonID, playerID uuid.UUID, at time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, m := range r.db.members[seasonID] {
		if m.PlayerID == playerID {
			return false, nil
		}
	}
	r.db.members[seasonID] = append(r.db.members[seasonID], models.SeasonMember{
		PlayerID: playerID, SeasonID: seasonID, JoinedAt: at,
	})
	return true, nil
}

func (r *memSeasonRepo) ListMembers(_ context.Context, seasonID uuid.UUID) ([]models.SeasonMember, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]models.SeasonMember, len(r.db.members[seasonID]))
	copy(out, r.db.members[seasonID])
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].PlayerID.String() < out[j].PlayerID.String()
	})
	return out, nil
}

func (r *memSeasonRepo) CountMembers(_ context.Context, seasonID uuid.UUID) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.db.members[seasonID]), nil
}

// memPlayerRepo implements player.PlayerRepository.
type memPlayerRepo struct{ db *memDB }

func (r *memPlayerRepo) UpsertPlayer(_ context.Context, req player.UpsertPlayerRequest) (*models.Player, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, p := range r.db.players {
		if p.ExternalUserID == req.ExternalUserID {
			p.DisplayName = req.DisplayName
			r.db.players[id] = p
			return &p, nil
		}
	}
	p := models.Player{
		ID:             uuid.New(),
		ExternalUserID: req.ExternalUserID,
		DisplayName:    req.DisplayName,
		CreatedAt:      time.Now(),
	}
	r.db.players[p.ID] = p
	return &p, nil
}

func (r *memPlayerRepo) GetPlayer(_ context.Context, id uuid.UUID) (*models.Player, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.players[id]
	if !ok {
		return nil, fmt.Errorf("player %s: %w", id, models.ErrNotFound)
	}
	return &p, nil
}

func (r *memPlayerRepo) GetPlayerByExternalID(_ context.Context, externalUserID string) (*models.Player, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, p := range r.db.players {
		if p.ExternalUserID == externalUserID {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("player %s: %w", externalUserID, models.ErrNotFound)
}

func (r *memPlayerRepo) ListPlayers(_ context.Context, ids []uuid.UUID) ([]models.Player, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Player
	for _, id := range ids {
		if p, ok := r.db.players[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memPlayerRepo) SetBanned(_ context.Context, id uuid.UUID, bannedAt sql.NullTime) (*models.Player, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.players[id]
	if !ok {
		return nil, fmt.Errorf("player %s: %w", id, models.ErrNotFound)
	}
	if bannedAt.Valid {
		t := bannedAt.Time
		p.BannedAt = &t
	} else {
		p.BannedAt = nil
	}
	r.db.players[id] = p
	return &p, nil
}

// memJobStore implements jobs.Store.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]models.ScheduledJob
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]models.ScheduledJob)}
}

func (m *memJobStore) Insert(_ context.Context, job models.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.jobs[job.JobID]; ok && !existing.Status.Terminal() {
		return jobs.ErrJobExists
	}
	job.Status = models.JobStatusScheduled
	m.jobs[job.JobID] = job
	return nil
}

func (m *memJobStore) Get(_ context.Context, jobID string) (*models.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	return &job, nil
}

func (m *memJobStore) mark(jobID string, status models.JobStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != models.JobStatusScheduled {
		return false
	}
	job.Status = status
	m.jobs[jobID] = job
	return true
}

func (m *memJobStore) MarkExecuted(_ context.Context, jobID string, _ time.Time) (bool, error) {
	return m.mark(jobID, models.JobStatusExecuted), nil
}

func (m *memJobStore) MarkFailed(_ context.Context, jobID string, _ string) (bool, error) {
	return m.mark(jobID, models.JobStatusFailed), nil
}

func (m *memJobStore) MarkCancelled(_ context.Context, jobID string) (bool, error) {
	return m.mark(jobID, models.JobStatusCancelled), nil
}

func (m *memJobStore) ListScheduled(_ context.Context) ([]models.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ScheduledJob
	for _, job := range m.jobs {
		if job.Status == models.JobStatusScheduled {
			out = append(out, job)
		}
	}
	return out, nil
}

func (m *memJobStore) ListScheduledForGame(_ context.Context, gameID uuid.UUID) ([]models.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ScheduledJob
	for _, job := range m.jobs {
		if job.Status != models.JobStatusScheduled {
			continue
		}
		var p jobs.TurnPayload
		if err := json.Unmarshal(job.Payload, &p); err == nil && p.GameID == gameID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (m *memJobStore) scheduled(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	return ok && job.Status == models.JobStatusScheduled
}

// recordingEmitter implements IntentEmitter and records every intent.
type recordingEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Type    string
	Payload any
}

func (e *recordingEmitter) record(eventType string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, recordedEvent{Type: eventType, Payload: payload})
	return nil
}

func (e *recordingEmitter) EmitTurnOffered(_ context.Context, p outbox.TurnOfferedPayload) error {
	return e.record(outbox.EventTurnOffered, p)
}

func (e *recordingEmitter) EmitTurnWarning(_ context.Context, p outbox.TurnWarningPayload) error {
	return e.record(outbox.EventTurnWarning, p)
}

func (e *recordingEmitter) EmitTurnSubmittedAck(_ context.Context, p outbox.TurnSubmittedAckPayload) error {
	return e.record(outbox.EventTurnSubmittedAck, p)
}

func (e *recordingEmitter) EmitTurnSkipped(_ context.Context, p outbox.TurnSkippedPayload) error {
	return e.record(outbox.EventTurnSkipped, p)
}

func (e *recordingEmitter) EmitGameCompleted(_ context.Context, p outbox.GameCompletedPayload) error {
	return e.record(outbox.EventGameCompleted, p)
}

func (e *recordingEmitter) EmitSeasonCompleted(_ context.Context, p outbox.SeasonCompletedPayload) error {
	return e.record(outbox.EventSeasonCompleted, p)
}

func (e *recordingEmitter) EmitContentFlagged(_ context.Context, p outbox.ContentFlaggedPayload) error {
	return e.record(outbox.EventContentFlagged, p)
}

func (e *recordingEmitter) EmitGameDeleted(_ context.Context, p outbox.GameDeletedPayload) error {
	return e.record(outbox.EventGameDeletedInitialTurnTimeout, p)
}

func (e *recordingEmitter) EmitTurnClaimed(_ context.Context, p outbox.TurnClaimedPayload) error {
	return e.record(outbox.EventTurnClaimed, p)
}

func (e *recordingEmitter) EmitGameTerminated(_ context.Context, p outbox.GameTerminatedPayload) error {
	return e.record(outbox.EventGameTerminated, p)
}

func (e *recordingEmitter) EmitSeasonOpened(_ context.Context, p outbox.SeasonOpenedPayload) error {
	return e.record(outbox.EventSeasonOpened, p)
}

func (e *recordingEmitter) EmitSeasonStarted(_ context.Context, p outbox.SeasonStartedPayload) error {
	return e.record(outbox.EventSeasonStarted, p)
}

func (e *recordingEmitter) EmitSeasonTerminated(_ context.Context, p outbox.SeasonTerminatedPayload) error {
	return e.record(outbox.EventSeasonTerminated, p)
}

func (e *recordingEmitter) ofType(eventType string) []recordedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []recordedEvent
	for _, ev := range e.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// env wires real apps over the in-memory repositories, the real scheduler
// over an in-memory job store, and the coordinator on top.
type env struct {
	clock    *clockwork.FakeClock
	db       *memDB
	jobStore *memJobStore
	sched    *jobs.Scheduler
	turns    *turn.App
	games    *game.App
	seasons  *season.App
	players  *player.App
	co       *Coordinator
	emitted  *recordingEmitter
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := clockwork.NewFakeClock()
	db := newMemDB()
	jobStore := newMemJobStore()
	sched := jobs.NewScheduler(jobStore, clock, jobs.MissedPolicyMarkFailed)

	turns := turn.NewApp(&memTurnRepo{db: db}, clock)
	games := game.NewApp(&memGameRepo{db: db}, clock)
	seasons := season.NewApp(&memSeasonRepo{db: db}, clock, false)
	players := player.NewApp(&memPlayerRepo{db: db}, clock)
	offeringSvc := offering.NewService(turns, seasons, players)
	timeouts := timeout.NewService(sched, clock)
	emitted := &recordingEmitter{}

	co := New(turns, games, seasons, players, offeringSvc, timeouts, sched, emitted, clock)
	co.RegisterHandlers(sched)

	return &env{
		clock:    clock,
		db:       db,
		jobStore: jobStore,
		sched:    sched,
		turns:    turns,
		games:    games,
		seasons:  seasons,
		players:  players,
		co:       co,
		emitted:  emitted,
	}
}

// newPlayer registers a player.
func (e *env) newPlayer(t *testing.T, name string) uuid.UUID {
	t.Helper()
	p, err := e.players.UpsertPlayer(context.Background(), player.UpsertPlayerRequest{
		ExternalUserID: "ext-" + name,
		DisplayName:    name,
	})
	require.NoError(t, err)
	return p.ID
}

// fire advances the clock to a scheduled job's fire time and runs its
// handler as the scheduler would, marking it executed unless the handler
// re-armed the same job ID.
func (e *env) fire(t *testing.T, jobID string) {
	t.Helper()
	job, err := e.jobStore.Get(context.Background(), jobID)
	require.NoError(t, err)
	if job.FireAt.After(e.clock.Now()) {
		e.clock.Advance(job.FireAt.Sub(e.clock.Now()))
	}
	require.NoError(t, e.dispatch(t, job))
	if after, err := e.jobStore.Get(context.Background(), jobID); err == nil && after.FireAt.Equal(job.FireAt) {
		_, err = e.jobStore.MarkExecuted(context.Background(), jobID, e.clock.Now())
		require.NoError(t, err)
	}
}

// redeliver runs a job's handler without marking it executed, simulating an
// at-least-once duplicate delivery.
func (e *env) redeliver(t *testing.T, jobID string) error {
	t.Helper()
	job, err := e.jobStore.Get(context.Background(), jobID)
	require.NoError(t, err)
	return e.dispatch(t, job)
}

func (e *env) dispatch(t *testing.T, job *models.ScheduledJob) error {
	t.Helper()
	switch job.JobType {
	case models.JobTypeTurnWarning:
		return e.co.handleTurnWarning(context.Background(), job.Payload)
	case models.JobTypeTurnClaimTimeout:
		return e.co.handleTurnClaimTimeout(context.Background(), job.Payload)
	case models.JobTypeTurnSubmissionWarning:
		return e.co.handleTurnSubmissionWarning(context.Background(), job.Payload)
	case models.JobTypeTurnTimeout:
		return e.co.handleTurnTimeout(context.Background(), job.Payload)
	case models.JobTypeSeasonOpenTimeout:
		return e.co.handleSeasonOpenTimeout(context.Background(), job.Payload)
	case models.JobTypeStaleGameSweep:
		return e.co.handleStaleGameSweep(context.Background(), job.Payload)
	}
	t.Fatalf("no handler for job type %s", job.JobType)
	return nil
}
